// Package target validates relay targets and guards against internal network access.
package target

import (
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"pdf-relay-go/internal/model"
)

// Validate parses a caller-supplied URL into a ResolvedTarget.
// It performs no network I/O.
func Validate(raw string) (*model.ResolvedTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, model.NewError(model.KindInvalidURL, "Missing ?url=", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, model.NewError(model.KindInvalidURL, "Invalid URL", err)
	}
	return FromURL(u)
}

// FromURL validates an already parsed URL. It is used for redirect targets too.
// The returned target holds a copy of u with a normalized host.
func FromURL(u *url.URL) (*model.ResolvedTarget, error) {
	if u.Scheme == "" {
		return nil, model.NewError(model.KindInvalidURL, "Invalid URL", nil)
	}

	var scheme model.Scheme
	switch strings.ToLower(u.Scheme) {
	case "http":
		scheme = model.SchemeHTTP
	case "https":
		scheme = model.SchemeHTTPS
	default:
		return nil, model.NewError(model.KindUnsupportedScheme, "Only http/https allowed", nil)
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return nil, model.NewError(model.KindInvalidURL, "Invalid URL", nil)
	}

	nu := *u
	nu.Scheme = string(scheme)
	nu.Host = joinHost(host, u.Port())

	return &model.ResolvedTarget{
		Scheme: scheme,
		Host:   host,
		URL:    &nu,
	}, nil
}

// normalizeHost lowercases host, drops a trailing dot, canonicalizes IP
// literals (including legacy IPv4 forms such as 0x7f.1 or 2130706433) and
// maps internationalized names to their ASCII form.
func normalizeHost(host string) string {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	if h == "" {
		return ""
	}
	if addr, err := netip.ParseAddr(h); err == nil {
		return addr.String()
	}
	if addr, ok := parseLegacyIPv4(h); ok {
		return addr.String()
	}
	if ascii, err := idna.Lookup.ToASCII(h); err == nil && ascii != "" {
		return ascii
	}
	return h
}

func joinHost(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// parseLegacyIPv4 parses the IPv4 host forms browsers accept: one to four
// dot-separated parts, each decimal, octal (leading 0) or hex (0x prefix),
// with the last part filling the remaining bytes.
func parseLegacyIPv4(host string) (netip.Addr, bool) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return netip.Addr{}, false
	}

	nums := make([]uint64, 0, len(parts))
	for _, p := range parts {
		n, ok := parseIPv4Number(p)
		if !ok {
			return netip.Addr{}, false
		}
		nums = append(nums, n)
	}

	for _, n := range nums[:len(nums)-1] {
		if n > 255 {
			return netip.Addr{}, false
		}
	}
	last := nums[len(nums)-1]
	if last >= 1<<(8*(5-len(nums))) {
		return netip.Addr{}, false
	}

	v := last
	for i, n := range nums[:len(nums)-1] {
		v += n << (8 * (3 - i))
	}
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), true
}

func parseIPv4Number(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	base := 10
	switch {
	case len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X"):
		s = s[2:]
		base = 16
		if s == "" {
			return 0, true
		}
	case len(s) >= 2 && s[0] == '0':
		s = s[1:]
		base = 8
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil || n > 0xFFFFFFFF {
		return 0, false
	}
	return n, true
}
