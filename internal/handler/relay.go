package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"pdf-relay-go/internal/filename"
	"pdf-relay-go/internal/metrics"
	"pdf-relay-go/internal/model"
	"pdf-relay-go/internal/service"
)

var (
	// credentialsPattern matches userinfo in URLs embedded in error messages.
	credentialsPattern = regexp.MustCompile(`(https?://)[^/@\s"]+@`)
	// secretParamPattern matches signed-URL and key query parameters.
	secretParamPattern = regexp.MustCompile(`(?i)([?&](?:api_?key|token|access_token|sig|signature|x-amz-signature|x-amz-credential|x-goog-signature)=)[^&\s"]+`)
)

// downloadHeaders are dropped when a download fails before its first byte.
var downloadHeaders = []string{
	echo.HeaderContentType,
	echo.HeaderContentDisposition,
	echo.HeaderContentLength,
}

const (
	routeMeta = "meta"
	routePDF  = "pdf"
)

// relayQuery is the query string shared by /api/meta and /api/pdf.
type relayQuery struct {
	URL      string `query:"url" validate:"required,max=8192"`
	Filename string `query:"filename" validate:"max=1024"`
}

type metaResponse struct {
	OK            bool   `json:"ok"`
	Filename      string `json:"filename"`
	ContentType   string `json:"contentType"`
	ContentLength *int64 `json:"contentLength"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// RelayHandler serves the metadata and download endpoints.
type RelayHandler struct {
	service  *service.RelayService
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
// The metrics parameter is optional; pass nil to disable outcome recording.
func NewRelayHandler(svc *service.RelayService, m *metrics.Metrics, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service:  svc,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "relay_handler"),
	}
}

// Meta handles GET /api/meta.
func (h *RelayHandler) Meta(c echo.Context) error {
	q, err := h.bind(c)
	if err != nil {
		return h.mapError(c, routeMeta, err)
	}

	md, err := h.service.Meta(c.Request().Context(), model.RelayRequest{
		TargetURL:        q.URL,
		FilenameOverride: q.Filename,
	})
	if err != nil {
		return h.mapError(c, routeMeta, err)
	}

	h.outcome(routeMeta, "ok")
	return c.JSON(http.StatusOK, metaResponse{
		OK:            true,
		Filename:      md.Filename,
		ContentType:   md.ContentType,
		ContentLength: md.ContentLength,
	})
}

// PDF handles GET /api/pdf. The response is committed by the first relayed
// chunk, so any failure before it still gets a JSON response. After that the
// status is already sent, a failure aborts the connection and the caller
// sees a truncated body.
func (h *RelayHandler) PDF(c echo.Context) error {
	q, err := h.bind(c)
	if err != nil {
		return h.mapError(c, routePDF, err)
	}

	ctx := c.Request().Context()
	d, err := h.service.Open(ctx, model.RelayRequest{
		TargetURL:        q.URL,
		FilenameOverride: q.Filename,
	})
	if err != nil {
		return h.mapError(c, routePDF, err)
	}
	defer func() { _ = d.Close() }()

	res := c.Response()
	hdr := res.Header()
	hdr.Set(echo.HeaderContentType, d.ContentType)
	hdr.Set(echo.HeaderContentDisposition, filename.ContentDisposition(d.Filename))
	hdr.Set("Cache-Control", "no-store")
	if d.ContentLength >= 0 {
		hdr.Set(echo.HeaderContentLength, strconv.FormatInt(d.ContentLength, 10))
	}

	n, err := d.StreamTo(ctx, res)
	if h.metrics != nil {
		h.metrics.RelayedBytes.Observe(float64(n))
	}
	if err != nil {
		if !res.Committed {
			for _, k := range downloadHeaders {
				hdr.Del(k)
			}
			return h.mapError(c, routePDF, err)
		}
		kind := model.KindOf(err)
		h.outcome(routePDF, kind.String())
		h.logger.Warn("download aborted mid-stream",
			"kind", kind.String(),
			"bytes_sent", n,
			"err", sanitizeError(err),
		)
		panic(http.ErrAbortHandler)
	}

	// Empty bodies never reach Write.
	if !res.Committed {
		res.WriteHeader(http.StatusOK)
	}
	h.outcome(routePDF, "ok")
	return nil
}

func (h *RelayHandler) bind(c echo.Context) (*relayQuery, error) {
	var q relayQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return nil, model.NewError(model.KindInvalidURL, "Invalid URL", err)
	}
	q.URL = strings.TrimSpace(q.URL)

	if err := h.validate.Struct(&q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			switch {
			case fe.Field() == "URL" && fe.Tag() == "required":
				return nil, model.NewError(model.KindInvalidURL, "Missing ?url=", err)
			case fe.Field() == "Filename":
				return nil, model.NewError(model.KindInvalidURL, "Invalid filename", err)
			}
		}
		return nil, model.NewError(model.KindInvalidURL, "Invalid URL", err)
	}
	return &q, nil
}

func (h *RelayHandler) mapError(c echo.Context, route string, err error) error {
	kind := model.KindOf(err)
	h.outcome(route, kind.String())

	msg := publicMessage(err)
	logArgs := []any{
		"route", route,
		"kind", kind.String(),
		"err", sanitizeError(err),
	}

	switch kind {
	case model.KindInvalidURL, model.KindUnsupportedScheme:
		h.logger.Info("rejected relay request", logArgs...)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})

	case model.KindBlockedHost:
		h.logger.Warn("blocked relay request", logArgs...)
		return c.JSON(http.StatusForbidden, errorResponse{Error: msg})

	case model.KindUpstreamFailure:
		h.logger.Warn("upstream failure", logArgs...)
		return c.JSON(http.StatusBadGateway, errorResponse{Error: msg})

	case model.KindPayloadTooLarge:
		h.logger.Warn("payload too large", logArgs...)
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: msg})

	case model.KindTimeout:
		h.logger.Error("upstream timeout", logArgs...)
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:  "Server error",
			Detail: "Upstream timeout",
		})

	default:
		h.logger.Error("relay error", logArgs...)
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:  "Server error",
			Detail: msg,
		})
	}
}

func (h *RelayHandler) outcome(route, outcome string) {
	if h.metrics != nil {
		h.metrics.RelayOutcomes.WithLabelValues(route, outcome).Inc()
	}
}

// publicMessage returns the caller-facing message of err. Unclassified
// errors are reported by their redacted text.
func publicMessage(err error) string {
	var re *model.Error
	if errors.As(err, &re) && re.Msg != "" {
		return re.Msg
	}
	return sanitizeError(err)
}

// sanitizeError redacts URL credentials and signed query parameters from
// error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	s := credentialsPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
	return secretParamPattern.ReplaceAllString(s, "${1}[REDACTED]")
}
