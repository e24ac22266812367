// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Only the path is logged; the query carries caller-supplied target URLs.
// Downloads aborted mid-stream are logged at warn level before the abort
// propagates to the server.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						logRequest(c, logger, slog.LevelWarn, "request aborted", start)
					}
					panic(r)
				}
			}()

			err := next(c)

			logRequest(c, logger, slog.LevelInfo, "request", start)

			return err
		}
	}
}

func logRequest(c echo.Context, logger *slog.Logger, level slog.Level, msg string, start time.Time) {
	req := c.Request()
	res := c.Response()

	logger.Log(req.Context(), level, msg,
		"method", req.Method,
		"path", req.URL.Path,
		"status", res.Status,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", res.Header().Get(echo.HeaderXRequestID),
		"remote_ip", c.RealIP(),
		"bytes_out", res.Size,
	)
}
