// Package client provides the upstream HTTP client for relay targets.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"pdf-relay-go/internal/config"
	"pdf-relay-go/internal/metrics"
	"pdf-relay-go/internal/model"
	"pdf-relay-go/internal/target"
)

const tracerName = "pdf-relay-go/internal/client"

var (
	// probeHeaders ask for an uncompressed response so the transport keeps
	// the Content-Length the origin declared.
	probeHeaders = map[string]string{"Accept-Encoding": "identity"}
	fetchHeaders = map[string]string{"Accept": "application/pdf,*/*"}
)

// errAttemptTimeout is the cancellation cause set when an attempt runs out of time.
var errAttemptTimeout = errors.New("upstream attempt timed out")

// UpstreamClient performs probe and fetch requests against relay targets.
// Every attempt runs under one timer that also covers reading the body.
type UpstreamClient struct {
	httpClient   *http.Client
	guard        *target.Guard
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	timeout      time.Duration
	userAgent    string
	maxRedirects int
	recheck      bool
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics and tp parameters are optional; pass nil to disable them.
func NewUpstreamClient(cfg *config.Config, guard *target.Guard, logger *slog.Logger, m *metrics.Metrics, tp trace.TracerProvider) *UpstreamClient {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if cfg.Relay.CheckResolvedIP && guard.Enabled() {
		dialer.Control = guard.DialControl
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext:         dialer.DialContext,
	}

	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	userAgent := cfg.Relay.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	maxRedirects := cfg.Relay.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = config.DefaultMaxRedirects
	}

	c := &UpstreamClient{
		guard:        guard,
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
		tracer:       tp.Tracer(tracerName),
		timeout:      cfg.Relay.Timeout(),
		userAgent:    userAgent,
		maxRedirects: maxRedirects,
		recheck:      cfg.Relay.RecheckRedirectsEnabled(),
	}
	c.httpClient = &http.Client{
		Transport:     transport,
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// Probe learns the target's metadata without transferring its body.
// It sends HEAD and falls back to GET when HEAD fails or is not 2xx; the GET
// body is closed unread. Both requests share a single timer.
func (c *UpstreamClient) Probe(ctx context.Context, t *model.ResolvedTarget) (desc *model.UpstreamDescriptor, err error) {
	ctx, span := c.startSpan(ctx, "upstream.probe", t)
	defer func() { endSpan(span, desc, err) }()

	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, errAttemptTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodHead, t.URL, probeHeaders)
	if err == nil {
		_ = resp.Body.Close()
		if isSuccess(resp.StatusCode) {
			span.SetAttributes(attribute.String("relay.probe.method", http.MethodHead))
			return describe(resp, nil), nil
		}
		c.logger.Debug("HEAD not successful, falling back to GET", "host", t.Host, "status", resp.StatusCode)
	} else {
		herr := classify(ctx, err)
		if model.KindOf(herr) != model.KindServerError || ctx.Err() != nil {
			return nil, herr
		}
		c.logger.Debug("HEAD failed, falling back to GET", "host", t.Host, "err", herr)
	}

	span.SetAttributes(attribute.String("relay.probe.method", http.MethodGet))
	resp, err = c.do(ctx, http.MethodGet, t.URL, probeHeaders)
	if err != nil {
		return nil, classify(ctx, err)
	}
	_ = resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, model.UpstreamStatus(resp.StatusCode)
	}
	return describe(resp, nil), nil
}

// Fetch issues the full GET for a download. On success the descriptor's Body
// is open and owned by the caller; closing it ends the attempt.
func (c *UpstreamClient) Fetch(ctx context.Context, t *model.ResolvedTarget) (desc *model.UpstreamDescriptor, err error) {
	ctx, span := c.startSpan(ctx, "upstream.fetch", t)
	defer func() { endSpan(span, desc, err) }()

	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, errAttemptTimeout)

	resp, err := c.do(ctx, http.MethodGet, t.URL, fetchHeaders) //nolint:bodyclose // body ownership transfers to caller via the descriptor
	if err != nil {
		err = classify(ctx, err)
		cancel()
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		_ = resp.Body.Close()
		cancel()
		return nil, model.UpstreamStatus(resp.StatusCode)
	}

	return describe(resp, &cancelBody{rc: resp.Body, ctx: ctx, cancel: cancel}), nil
}

func (c *UpstreamClient) do(ctx context.Context, method string, u *url.URL, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("upstream request",
		"method", method,
		"host", u.Host,
		"path", u.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by the caller
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(label).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", method, err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return resp, nil
}

// checkRedirect limits the redirect chain and, when enabled, puts every
// redirect target through validation and the network guard again.
func (c *UpstreamClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.maxRedirects {
		status := http.StatusFound
		if req.Response != nil {
			status = req.Response.StatusCode
		}
		e := model.UpstreamStatus(status)
		e.Err = fmt.Errorf("stopped after %d redirects", c.maxRedirects)
		return e
	}

	t, err := target.FromURL(req.URL)
	if err != nil {
		return err
	}
	if c.recheck {
		if err := c.guard.Check(t); err != nil {
			c.logger.Warn("redirect to blocked host refused", "host", t.Host)
			return err
		}
	}
	return nil
}

func (c *UpstreamClient) startSpan(ctx context.Context, name string, t *model.ResolvedTarget) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("url.scheme", string(t.Scheme)),
			attribute.String("server.address", t.Host),
		),
	)
}

func endSpan(span trace.Span, desc *model.UpstreamDescriptor, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("relay.error_kind", model.KindOf(err).String()))
		span.SetStatus(codes.Error, model.KindOf(err).String())
	} else if desc != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", desc.StatusCode))
		if n, ok := desc.DeclaredLength(); ok {
			span.SetAttributes(attribute.Int64("http.response.body.size", n))
		}
	}
	span.End()
}

// classify maps a transport error to a relay error. ctx is the attempt
// context; its cause tells a timeout apart from a caller cancellation.
func classify(ctx context.Context, err error) error {
	var re *model.Error
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(context.Cause(ctx), errAttemptTimeout) {
		return model.NewError(model.KindTimeout, "Upstream timeout", err)
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		return model.NewError(model.KindServerError, "client disconnected", err)
	case errors.As(err, &dnsErr):
		return model.NewError(model.KindServerError, "upstream host unreachable", err)
	default:
		return model.NewError(model.KindServerError, "upstream connection failed", err)
	}
}

func describe(resp *http.Response, body io.ReadCloser) *model.UpstreamDescriptor {
	return &model.UpstreamDescriptor{
		StatusCode:         resp.StatusCode,
		ContentType:        resp.Header.Get("Content-Type"),
		ContentLength:      resp.ContentLength,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		FinalURL:           resp.Request.URL,
		Body:               body,
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// cancelBody ties the attempt context to the response body: reads that fail
// because the attempt ended are classified against it and Close releases it.
type cancelBody struct {
	rc     io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
}

func (b *cancelBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && b.ctx.Err() != nil {
		err = classify(b.ctx, err)
	}
	return n, err
}

func (b *cancelBody) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}
