package target

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"

	"pdf-relay-go/internal/config"
	"pdf-relay-go/internal/model"
)

// blockedPrefixes are the private, link-local and "this network" ranges.
// Loopback and the unspecified addresses are checked separately.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Guard decides whether a host may be contacted.
// It inspects literal hosts only; DNS names other than localhost pass, unless
// DialControl is installed on the dialer to check the address actually used.
type Guard struct {
	enabled bool
}

// NewGuard creates a Guard from the relay configuration.
func NewGuard(cfg *config.Config) *Guard {
	return &Guard{enabled: cfg.Relay.InternalBlockEnabled()}
}

// Enabled reports whether the guard blocks anything at all.
func (g *Guard) Enabled() bool {
	return g.enabled
}

// IsBlocked reports whether host must not be contacted.
func (g *Guard) IsBlocked(host string) bool {
	return g.enabled && IsInternalHost(host)
}

// Check returns a KindBlockedHost error when t points at an internal host.
func (g *Guard) Check(t *model.ResolvedTarget) error {
	if !g.IsBlocked(t.Host) {
		return nil
	}
	if isLocalhostName(cleanHost(t.Host)) {
		return model.NewError(model.KindBlockedHost, "Blocked localhost", nil)
	}
	return model.NewError(model.KindBlockedHost, "Blocked internal IP host", nil)
}

// DialControl is a net.Dialer Control hook. It runs after name resolution,
// so it sees the address the connection is really made to.
func (g *Guard) DialControl(_, address string, _ syscall.RawConn) error {
	if !g.enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return model.NewError(model.KindBlockedHost, "Blocked internal IP host",
			fmt.Errorf("unparseable dial address %q", address))
	}
	if IsInternalAddr(addr) {
		return model.NewError(model.KindBlockedHost, "Blocked internal IP host",
			fmt.Errorf("dial %s", addr))
	}
	return nil
}

// IsInternalHost reports whether host is localhost or an internal IP literal.
// Brackets, case and a trailing dot are ignored.
func IsInternalHost(host string) bool {
	h := cleanHost(host)
	if h == "" {
		return false
	}
	if isLocalhostName(h) {
		return true
	}
	if addr, err := netip.ParseAddr(h); err == nil {
		return IsInternalAddr(addr)
	}
	if addr, ok := parseLegacyIPv4(h); ok {
		return IsInternalAddr(addr)
	}
	return false
}

// IsInternalAddr reports whether addr is loopback, unspecified, private or
// link-local. IPv4-mapped IPv6 addresses are judged by their IPv4 part.
func IsInternalAddr(addr netip.Addr) bool {
	addr = addr.WithZone("")
	if addr.Is4In6() {
		return IsInternalAddr(addr.Unmap())
	}
	if addr.IsLoopback() || addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func cleanHost(host string) string {
	h := strings.TrimSpace(host)
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(strings.ToLower(h), ".")
}

func isLocalhostName(h string) bool {
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}
