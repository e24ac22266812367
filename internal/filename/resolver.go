// Package filename derives safe download names for relayed files.
package filename

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
)

const (
	// MaxLength is the maximum filename length in characters.
	MaxLength = 160
	// Fallback is used when no other source yields a usable name.
	Fallback = "download.pdf"

	pdfExt = ".pdf"
)

var (
	reserved = strings.NewReplacer(
		"/", "_", `\`, "_", "?", "_", "%", "_", "*", "_",
		":", "_", "|", "_", `"`, "_", "<", "_", ">", "_",
	)
	whitespace = regexp.MustCompile(`[\s\p{Z}\x{FEFF}]+`)

	extendedParam = regexp.MustCompile(`(?i)filename\*\s*=\s*([^';]*)'([^']*)'([^;]+)`)
	quotedParam   = regexp.MustCompile(`(?i)filename\s*=\s*"([^"]+)"`)
	plainParam    = regexp.MustCompile(`(?i)filename\s*=\s*([^;]+)`)
)

// Sanitize makes name safe to use as a download filename.
// Sanitize(Sanitize(s)) == Sanitize(s) for every s.
func Sanitize(name string) string {
	s := reserved.Replace(name)
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '_'
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	s = truncate(s, MaxLength)
	return strings.TrimSpace(s)
}

// FromContentDisposition extracts the raw filename from a Content-Disposition
// header. The RFC 5987 filename* form wins over filename. A filename* value
// that cannot be decoded is returned as is. Returns "" when absent.
func FromContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	if m := extendedParam.FindStringSubmatch(header); m != nil {
		if v := decodeExtended(m[1], strings.TrimSpace(m[3])); v != "" {
			return v
		}
	}
	if m := quotedParam.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	if m := plainParam.FindStringSubmatch(header); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func decodeExtended(charset, value string) string {
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}

	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		if !utf8.ValidString(decoded) {
			return value
		}
		return decoded
	}

	enc, err := ianaindex.IANA.Encoding(strings.TrimSpace(charset))
	if err != nil || enc == nil {
		if utf8.ValidString(decoded) {
			return decoded
		}
		return value
	}
	out, err := enc.NewDecoder().String(decoded)
	if err != nil {
		return value
	}
	return out
}

// FromURL returns the last non-empty path segment of u, percent-decoded,
// with ".pdf" appended when it has no extension. Returns "" for an empty path.
func FromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	segs := strings.Split(u.EscapedPath(), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		if seg == "" {
			continue
		}
		if dec, err := url.PathUnescape(seg); err == nil {
			seg = dec
		}
		if !strings.Contains(seg, ".") {
			seg += pdfExt
		}
		return seg
	}
	return ""
}

// Resolve picks the display filename: the override, then the
// Content-Disposition name, then the URL path, then Fallback.
// The first candidate that is non-empty after sanitizing wins.
func Resolve(disposition string, u *url.URL, override string) string {
	candidates := []func() string{
		func() string { return override },
		func() string { return FromContentDisposition(disposition) },
		func() string { return FromURL(u) },
	}
	for _, c := range candidates {
		if name := Sanitize(c()); name != "" {
			return name
		}
	}
	return Fallback
}

// ResolveForDownload is Resolve with the ".pdf" suffix enforced.
func ResolveForDownload(disposition string, u *url.URL, override string) string {
	return EnsurePDF(Resolve(disposition, u, override))
}

// EnsurePDF appends ".pdf" unless name already ends with it (case-insensitive).
// The base is shortened when needed so the result stays within MaxLength.
func EnsurePDF(name string) string {
	if strings.HasSuffix(strings.ToLower(name), pdfExt) {
		return name
	}
	base := strings.TrimSpace(truncate(name, MaxLength-len(pdfExt)))
	return base + pdfExt
}

// ContentDisposition builds an attachment header value for name, which must
// already be sanitized. Non-ASCII names also get an RFC 5987 filename*.
func ContentDisposition(name string) string {
	v := `attachment; filename="` + name + `"`
	if !isASCII(name) {
		v += "; filename*=UTF-8''" + encodeExtended(name)
	}
	return v
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

const upperhex = "0123456789ABCDEF"

// encodeExtended percent-encodes everything outside the RFC 5987 attr-char set.
func encodeExtended(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
