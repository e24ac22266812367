package filename

import (
	"net/url"
	"strings"
	"testing"
	"unicode/utf8"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"reserved chars", `a/b\c?d%e*f:g|h"i<j>k.pdf`, "a_b_c_d_e_f_g_h_i_j_k.pdf"},
		{"whitespace runs", "annual \t report\n\n2024.pdf", "annual report 2024.pdf"},
		{"unicode whitespace runs", "q3\u00a0\u00a0\u2003report.pdf", "q3 report.pdf"},
		{"line separator and bom", "a\u2028\ufeffb.pdf", "a b.pdf"},
		{"trim", "  spaced.pdf  ", "spaced.pdf"},
		{"control chars", "a\x00b\x7fc.pdf", "a_b_c.pdf"},
		{"path traversal", "../../etc/passwd", ".._.._etc_passwd"},
		{"unicode kept", "€rates.pdf", "€rates.pdf"},
		{"empty", "", ""},
		{"blank", " \t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitize_Truncates(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := Sanitize(long)
	if n := utf8.RuneCountInString(got); n != MaxLength {
		t.Errorf("rune count = %d, want %d", n, MaxLength)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated name is not valid UTF-8")
	}

	// A cut that lands right after a space must not leave trailing whitespace.
	spaced := strings.Repeat("a", MaxLength-1) + " tail"
	if got := Sanitize(spaced); got != strings.Repeat("a", MaxLength-1) {
		t.Errorf("Sanitize() = %q, want trailing space trimmed", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"report.pdf",
		"  a  b  ",
		`<<>>::**??`,
		"a\x00\x01\x02b",
		"tab\tnew\nline\r\f",
		" nbsp ",
		"line sep",
		"next\u0085line",
		"bad\xffutf8",
		strings.Repeat("x ", 120),
		strings.Repeat("€", 161),
		strings.Repeat("a", MaxLength-1) + " b",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", in, once, twice)
		}
		if n := utf8.RuneCountInString(once); n > MaxLength {
			t.Errorf("Sanitize(%q) has %d runes, want <= %d", in, n, MaxLength)
		}
	}
}

func TestFromContentDisposition(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", ""},
		{"inline only", "inline", ""},
		{"quoted", `attachment; filename="report.pdf"`, "report.pdf"},
		{"unquoted", "attachment; filename=report.pdf", "report.pdf"},
		{"unquoted with trailing param", "attachment; filename=report.pdf ; size=10", "report.pdf"},
		{"case insensitive", `ATTACHMENT; FILENAME="Upper.pdf"`, "Upper.pdf"},
		{"rfc5987", "attachment; filename*=UTF-8''%E2%82%ACrates.pdf", "€rates.pdf"},
		{"rfc5987 preferred", `attachment; filename="fallback.pdf"; filename*=UTF-8''%E2%82%ACrates.pdf`, "€rates.pdf"},
		{"rfc5987 with language", "attachment; filename*=UTF-8'en'summary%20Q3.pdf", "summary Q3.pdf"},
		{"rfc5987 latin1", "attachment; filename*=ISO-8859-1''caf%E9.pdf", "café.pdf"},
		{"rfc5987 malformed escape", "attachment; filename*=UTF-8''%E2%82%ZZrates.pdf", "%E2%82%ZZrates.pdf"},
		{"rfc5987 truncated escape", "attachment; filename*=UTF-8''rates%E", "rates%E"},
		{"rfc5987 invalid utf8", "attachment; filename*=UTF-8''%FF%FE.pdf", "%FF%FE.pdf"},
		{"rfc5987 empty value", `attachment; filename*=UTF-8''; filename="x.pdf"`, "x.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromContentDisposition(tt.header); got != tt.want {
				t.Errorf("FromContentDisposition(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestFromURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://example.com/reports/q3", "q3.pdf"},
		{"https://example.com/reports/q3/", "q3.pdf"},
		{"https://example.com/files/annual.report.pdf?dl=1", "annual.report.pdf"},
		{"https://example.com/files/data.csv", "data.csv"},
		{"https://example.com/files/my%20report.pdf", "my report.pdf"},
		{"https://example.com/files/a%2Fb.pdf", "a/b.pdf"},
		{"https://example.com/", ""},
		{"https://example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := FromURL(mustURL(t, tt.raw)); got != tt.want {
				t.Errorf("FromURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}

	if got := FromURL(nil); got != "" {
		t.Errorf("FromURL(nil) = %q, want empty", got)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		raw         string
		override    string
		want        string
		wantDL      string
	}{
		{
			name:     "override wins",
			raw:      "https://example.com/a.pdf",
			override: "My: Report",
			want:     "My_ Report",
			wantDL:   "My_ Report.pdf",
		},
		{
			name:        "blank override ignored",
			disposition: `attachment; filename="header.pdf"`,
			raw:         "https://example.com/a.pdf",
			override:    "   ",
			want:        "header.pdf",
			wantDL:      "header.pdf",
		},
		{
			name:        "header over url",
			disposition: "attachment; filename*=UTF-8''%E2%82%ACrates.pdf",
			raw:         "https://example.com/a.pdf",
			want:        "€rates.pdf",
			wantDL:      "€rates.pdf",
		},
		{
			name:        "header without extension",
			disposition: `attachment; filename="invoice"`,
			raw:         "https://example.com/a.pdf",
			want:        "invoice",
			wantDL:      "invoice.pdf",
		},
		{
			name:   "url fallback",
			raw:    "https://example.com/reports/q3",
			want:   "q3.pdf",
			wantDL: "q3.pdf",
		},
		{
			name:   "url with other extension",
			raw:    "https://example.com/reports/q3.docx",
			want:   "q3.docx",
			wantDL: "q3.docx.pdf",
		},
		{
			name:   "uppercase extension kept",
			raw:    "https://example.com/REPORT.PDF",
			want:   "REPORT.PDF",
			wantDL: "REPORT.PDF",
		},
		{
			name:        "header sanitizes to empty",
			disposition: `attachment; filename="   "`,
			raw:         "https://example.com/",
			want:        Fallback,
			wantDL:      Fallback,
		},
		{
			name:   "literal fallback",
			raw:    "https://example.com/",
			want:   Fallback,
			wantDL: Fallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := mustURL(t, tt.raw)
			if got := Resolve(tt.disposition, u, tt.override); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
			if got := ResolveForDownload(tt.disposition, u, tt.override); got != tt.wantDL {
				t.Errorf("ResolveForDownload() = %q, want %q", got, tt.wantDL)
			}
		})
	}
}

func TestEnsurePDF_Length(t *testing.T) {
	name := Sanitize(strings.Repeat("n", 300))
	got := EnsurePDF(name)
	if !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("EnsurePDF() = %q, want .pdf suffix", got)
	}
	if n := utf8.RuneCountInString(got); n != MaxLength {
		t.Errorf("EnsurePDF() length = %d, want %d", n, MaxLength)
	}
	if Sanitize(got) != got {
		t.Errorf("EnsurePDF() result changes under Sanitize: %q", got)
	}
}

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.pdf", `attachment; filename="report.pdf"`},
		{"my report.pdf", `attachment; filename="my report.pdf"`},
		{"€rates.pdf", `attachment; filename="€rates.pdf"; filename*=UTF-8''%E2%82%ACrates.pdf`},
		{"café (1).pdf", `attachment; filename="café (1).pdf"; filename*=UTF-8''caf%C3%A9%20%281%29.pdf`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentDisposition(tt.name); got != tt.want {
				t.Errorf("ContentDisposition(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestContentDisposition_RoundTrip(t *testing.T) {
	for _, name := range []string{"report.pdf", "€rates.pdf", "naïve résumé.pdf", "日本語.pdf"} {
		got := Resolve(ContentDisposition(name), nil, "")
		if got != name {
			t.Errorf("Resolve(ContentDisposition(%q)) = %q", name, got)
		}
	}
}
