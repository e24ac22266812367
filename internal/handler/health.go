package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"pdf-relay-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// APIHealth answers GET /api/health for browser clients.
func (h *HealthHandler) APIHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{
		"ok": true,
	})
}

type relayStatus struct {
	BlockInternal    bool  `json:"block_internal"`
	ByteCeiling      int64 `json:"byte_ceiling"`
	TimeoutMs        int64 `json:"timeout_ms"`
	MaxRedirects     int   `json:"max_redirects"`
	RecheckRedirects bool  `json:"recheck_redirects"`
	CheckResolvedIP  bool  `json:"check_resolved_ip"`
}

type statusResponse struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Relay   relayStatus `json:"relay"`
}

// Status returns the build version and the effective relay limits.
func (h *HealthHandler) Status(c echo.Context) error {
	r := &h.cfg.Relay
	maxRedirects := r.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = config.DefaultMaxRedirects
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Relay: relayStatus{
			BlockInternal:    r.InternalBlockEnabled(),
			ByteCeiling:      r.Ceiling(),
			TimeoutMs:        r.Timeout().Milliseconds(),
			MaxRedirects:     maxRedirects,
			RecheckRedirects: r.RecheckRedirectsEnabled(),
			CheckResolvedIP:  r.CheckResolvedIP,
		},
	})
}
