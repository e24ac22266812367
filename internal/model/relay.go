// Package model defines shared types for the relay.
package model

import (
	"io"
	"net/url"
)

// RelayRequest is the caller input for a single relay call.
type RelayRequest struct {
	TargetURL        string
	FilenameOverride string
}

// Scheme is an upstream URL scheme accepted by the relay.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// ResolvedTarget is a parsed and normalized upstream URL.
// Host is lowercase, without port, brackets or trailing dot.
type ResolvedTarget struct {
	Scheme Scheme
	Host   string
	URL    *url.URL
}

// UpstreamDescriptor describes one upstream response.
// Body is nil for probes. When set, it must be closed on every exit path.
type UpstreamDescriptor struct {
	StatusCode         int
	ContentType        string
	ContentLength      int64 // -1 when the upstream did not declare a length
	ContentDisposition string
	FinalURL           *url.URL
	Body               io.ReadCloser
}

// DeclaredLength returns the upstream Content-Length, if any.
func (d *UpstreamDescriptor) DeclaredLength() (int64, bool) {
	if d.ContentLength < 0 {
		return 0, false
	}
	return d.ContentLength, true
}

// Metadata is the result of a metadata probe.
type Metadata struct {
	Filename      string
	ContentType   string
	ContentLength *int64
}
