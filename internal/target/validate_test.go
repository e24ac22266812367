package target

import (
	"errors"
	"net/url"
	"testing"

	"pdf-relay-go/internal/model"
)

func TestValidate_Accepts(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHost string
		wantURL  string
	}{
		{"https", "https://example.com/reports/q3", "example.com", "https://example.com/reports/q3"},
		{"http with port", "http://example.com:8080/a.pdf?x=1", "example.com", "http://example.com:8080/a.pdf?x=1"},
		{"uppercase scheme and host", "HTTPS://EXAMPLE.COM/x", "example.com", "https://example.com/x"},
		{"trailing dot", "http://example.com./x", "example.com", "http://example.com/x"},
		{"surrounding space", "  https://example.com/x  ", "example.com", "https://example.com/x"},
		{"ipv6 literal", "http://[2001:db8::1]:8080/x", "2001:db8::1", "http://[2001:db8::1]:8080/x"},
		{"idn host", "https://bücher.example/x", "xn--bcher-kva.example", "https://xn--bcher-kva.example/x"},
		{"decimal ipv4", "http://2130706433/x", "127.0.0.1", "http://127.0.0.1/x"},
		{"hex ipv4", "http://0x7f.1/x", "127.0.0.1", "http://127.0.0.1/x"},
		{"octal ipv4", "http://0300.0250.1.5/x", "192.168.1.5", "http://192.168.1.5/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.raw)
			if err != nil {
				t.Fatalf("Validate(%q) error = %v", tt.raw, err)
			}
			if got.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", got.Host, tt.wantHost)
			}
			if got.URL.String() != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.URL.String(), tt.wantURL)
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", model.ErrInvalidURL},
		{"blank", "   ", model.ErrInvalidURL},
		{"no scheme", "example.com/x", model.ErrInvalidURL},
		{"unparseable", "http://exa mple.com/", model.ErrInvalidURL},
		{"missing host", "http:///x", model.ErrInvalidURL},
		{"ftp", "ftp://example.com/x", model.ErrUnsupportedScheme},
		{"file", "file:///etc/passwd", model.ErrUnsupportedScheme},
		{"javascript", "javascript:alert(1)", model.ErrUnsupportedScheme},
		{"mailto", "mailto:a@example.com", model.ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.raw)
			if err == nil {
				t.Fatalf("Validate(%q) error = nil, want %v", tt.raw, tt.want)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate(%q) error = %v, want kind %v", tt.raw, err, model.KindOf(tt.want))
			}
		})
	}
}

func TestFromURL_DoesNotMutateInput(t *testing.T) {
	u, err := url.Parse("HTTP://Example.COM./x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := FromURL(u); err != nil {
		t.Fatalf("FromURL() error = %v", err)
	}
	if u.Host != "Example.COM." {
		t.Errorf("input URL host mutated to %q", u.Host)
	}
}

func TestParseLegacyIPv4(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"127.0.0.1", "127.0.0.1", true},
		{"2130706433", "127.0.0.1", true},
		{"0x7f000001", "127.0.0.1", true},
		{"0x7f.1", "127.0.0.1", true},
		{"127.1", "127.0.0.1", true},
		{"10.1.1", "10.1.0.1", true},
		{"017700000001", "127.0.0.1", true},
		{"0x", "0.0.0.0", true},
		{"256.1.1.1", "", false},
		{"1.2.3.4.5", "", false},
		{"4294967296", "", false},
		{"08", "", false},
		{"example.com", "", false},
		{"1.2.3.x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			addr, ok := parseLegacyIPv4(tt.in)
			if ok != tt.ok {
				t.Fatalf("parseLegacyIPv4(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && addr.String() != tt.want {
				t.Errorf("parseLegacyIPv4(%q) = %s, want %s", tt.in, addr, tt.want)
			}
		})
	}
}
