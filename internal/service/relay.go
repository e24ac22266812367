// Package service composes validation, the network guard, upstream access
// and filename resolution into the metadata and download operations.
package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"pdf-relay-go/internal/config"
	"pdf-relay-go/internal/filename"
	"pdf-relay-go/internal/model"
	"pdf-relay-go/internal/stream"
	"pdf-relay-go/internal/target"
)

// DefaultContentType is sent when the upstream does not name one.
const DefaultContentType = "application/pdf"

// sniffLen is how much of the body is inspected when sniffing is enabled.
const sniffLen = 3072

// Fetcher performs upstream attempts against a validated target.
type Fetcher interface {
	Probe(ctx context.Context, t *model.ResolvedTarget) (*model.UpstreamDescriptor, error)
	Fetch(ctx context.Context, t *model.ResolvedTarget) (*model.UpstreamDescriptor, error)
}

// RelayService runs relay requests. It holds no per-request state.
type RelayService struct {
	fetcher Fetcher
	guard   *target.Guard
	logger  *slog.Logger
	ceiling int64
	sniff   bool
}

// NewRelayService creates a RelayService.
func NewRelayService(f Fetcher, guard *target.Guard, cfg *config.Config, logger *slog.Logger) *RelayService {
	return &RelayService{
		fetcher: f,
		guard:   guard,
		logger:  logger.With("component", "relay_service"),
		ceiling: cfg.Relay.Ceiling(),
		sniff:   cfg.Relay.SniffContentType,
	}
}

// Meta validates the target and probes it for metadata. No body bytes are
// transferred. The filename does not get a forced ".pdf" suffix.
func (s *RelayService) Meta(ctx context.Context, req model.RelayRequest) (*model.Metadata, error) {
	t, err := s.resolve(req.TargetURL)
	if err != nil {
		return nil, err
	}

	desc, err := s.fetcher.Probe(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", t.Host, err)
	}

	md := &model.Metadata{
		Filename:    filename.Resolve(desc.ContentDisposition, t.URL, req.FilenameOverride),
		ContentType: desc.ContentType,
	}
	if n, ok := desc.DeclaredLength(); ok {
		md.ContentLength = &n
	}
	return md, nil
}

// Open validates the target and starts the full fetch. A declared length
// above the byte ceiling is rejected here, before any response is written.
// The returned Download must be closed.
func (s *RelayService) Open(ctx context.Context, req model.RelayRequest) (*Download, error) {
	t, err := s.resolve(req.TargetURL)
	if err != nil {
		return nil, err
	}

	desc, err := s.fetcher.Fetch(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.Host, err)
	}

	if n, ok := desc.DeclaredLength(); ok && n > s.ceiling {
		_ = desc.Body.Close()
		s.logger.Info("declared length over ceiling", "host", t.Host, "length", n, "ceiling", s.ceiling)
		return nil, model.TooLarge(s.ceiling)
	}

	d := &Download{
		Filename:      filename.ResolveForDownload(desc.ContentDisposition, t.URL, req.FilenameOverride),
		ContentType:   desc.ContentType,
		ContentLength: desc.ContentLength,
		desc:          desc,
		ceiling:       s.ceiling,
	}
	if d.ContentType == "" {
		d.ContentType = DefaultContentType
		if s.sniff {
			d.ContentType = sniffContentType(desc)
		}
	}

	s.logger.Debug("download opened",
		"host", t.Host,
		"filename", d.Filename,
		"content_type", d.ContentType,
		"content_length", d.ContentLength,
	)
	return d, nil
}

// resolve runs the validator and the guard. The guard is consulted on every
// call; nothing is cached between requests.
func (s *RelayService) resolve(raw string) (*model.ResolvedTarget, error) {
	t, err := target.Validate(raw)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(t); err != nil {
		s.logger.Warn("blocked relay target", "host", t.Host)
		return nil, err
	}
	return t, nil
}

// sniffContentType detects the media type from the first bytes of the body
// and rewires desc.Body so those bytes are still relayed.
func sniffContentType(desc *model.UpstreamDescriptor) string {
	br := bufio.NewReaderSize(desc.Body, sniffLen)
	// A short or failed peek is fine: the read error resurfaces while streaming.
	head, _ := br.Peek(sniffLen)
	desc.Body = &readCloser{Reader: br, Closer: desc.Body}
	if len(head) == 0 {
		return DefaultContentType
	}

	mt := mimetype.Detect(head)
	if mt.Is("application/octet-stream") {
		return DefaultContentType
	}
	return mt.String()
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Download is an opened upstream response ready to be relayed.
type Download struct {
	Filename      string
	ContentType   string
	ContentLength int64 // -1 when unknown

	desc    *model.UpstreamDescriptor
	ceiling int64
}

// StreamTo relays the body to w under the byte ceiling and closes it.
func (d *Download) StreamTo(ctx context.Context, w io.Writer) (int64, error) {
	return stream.Relay(ctx, d.desc, w, d.ceiling)
}

// Close releases the upstream body. It is safe to call after StreamTo.
func (d *Download) Close() error {
	return d.desc.Body.Close()
}
