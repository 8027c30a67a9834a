package inspect

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/scriptrt/internal/registry"
	"github.com/nfrund/scriptrt/internal/script"
)

// statusFor maps script errors onto HTTP statuses
func statusFor(serr *script.ScriptError) int {
	switch serr.Type {
	case script.ErrorTypeUnknownClass, script.ErrorTypeInstanceNotFound, script.ErrorTypeStale:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorHandler renders every error as an ErrorResponse
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{Code: "internal_error", Message: http.StatusText(status)}

	var he *echo.HTTPError
	if serr, ok := script.AsScriptError(err); ok {
		status = statusFor(serr)
		resp = ErrorResponse{Code: string(serr.Type), Message: serr.Error()}
	} else if errors.Is(err, registry.ErrUnavailable) {
		status = http.StatusServiceUnavailable
		resp = ErrorResponse{Code: "unavailable", Message: "script runtime is not initialized: " + err.Error()}
	} else if errors.As(err, &he) {
		status = he.Code
		resp = ErrorResponse{Code: "http_error", Message: http.StatusText(status)}
		if msg, ok := he.Message.(string); ok {
			resp.Message = msg
		}
	} else {
		slog.Error("Internal Server Error (Unhandled)", "error", err, "path", c.Request().URL.Path)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}

// requestLogger logs each request with the id assigned by the RequestID middleware
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		slog.Debug("Inspector request",
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start),
		)
		return nil
	}
}
