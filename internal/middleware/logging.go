package middleware

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// contextKeyRequestID is the Echo context key holding the request id.
const contextKeyRequestID = "request_id"

// RequestLogger returns middleware that tags every request with an id and
// logs it with structured fields: request id, method, path, status,
// latency and remote IP. An X-Request-ID sent by a proxy is reused;
// otherwise a UUID is generated. The id is echoed in the response header.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			res := c.Response()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Set(contextKeyRequestID, id)
			res.Header().Set(echo.HeaderXRequestID, id)

			err := next(c)

			// Handlers that return an error have not written a response yet;
			// let the error handler run so the logged status is the real one.
			if err != nil {
				c.Error(err)
			}

			attrs := []slog.Attr{
				slog.String("request_id", id),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Duration("latency", time.Since(start)),
				slog.String("remote_ip", c.RealIP()),
			}
			if req.URL.RawQuery != "" {
				attrs = append(attrs, slog.String("query", req.URL.RawQuery))
			}

			level := slog.LevelInfo
			if res.Status >= 500 {
				level = slog.LevelError
			} else if res.Status >= 400 {
				level = slog.LevelWarn
			}

			slog.LogAttrs(req.Context(), level, "request", attrs...)

			return nil
		}
	}
}

// RequestID returns the id RequestLogger assigned to the request, or "".
func RequestID(c echo.Context) string {
	id, _ := c.Get(contextKeyRequestID).(string)
	return id
}
