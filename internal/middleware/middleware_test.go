package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(2, time.Minute, func() time.Time { return now })

	ok, _ := l.allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = l.allow("1.2.3.4")
	assert.True(t, ok)

	ok, retry := l.allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	// Other clients are unaffected.
	ok, _ = l.allow("5.6.7.8")
	assert.True(t, ok)

	// A new window resets the count.
	now = now.Add(time.Minute)
	ok, _ = l.allow("1.2.3.4")
	assert.True(t, ok)
}

func TestRateLimiter_SweepsStaleEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(5, time.Minute, func() time.Time { return now })

	l.allow("1.2.3.4")
	now = now.Add(3 * time.Minute)
	l.allow("5.6.7.8")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.entries, "1.2.3.4")
	assert.Contains(t, l.entries, "5.6.7.8")
}

func TestRateLimit_Returns429WithRetryAfter(t *testing.T) {
	e := echo.New()
	e.POST("/login", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, RateLimit(1, time.Minute))

	rec := serve(e, httptest.NewRequest(http.MethodPost, "/login", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too Many Requests","message":"rate limit exceeded, please try again later"}`, rec.Body.String())
}

func TestRequestLogger_AssignsRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger())

	var seen string
	e.GET("/ping", func(c echo.Context) error {
		seen = RequestID(c)
		return c.NoContent(http.StatusOK)
	})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequestLogger_ReusesIncomingID(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec := serve(e, req)

	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequestLogger_HandlesErrorOnce(t *testing.T) {
	e := echo.New()
	calls := 0
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		calls++
		_ = c.JSON(http.StatusTeapot, map[string]string{"error": err.Error()})
	}
	e.Use(RequestLogger())
	e.GET("/fail", func(c echo.Context) error { return errors.New("boom") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestRecovery_ReturnsJSON500(t *testing.T) {
	e := echo.New()
	e.Use(Recovery())
	e.GET("/panic", func(c echo.Context) error { panic("kaboom") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "kaboom")
	assert.Contains(t, rec.Body.String(), `"error":"Internal Server Error"`)
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestIPExtractor(t *testing.T) {
	extract := buildIPExtractor([]string{"10.0.0.0/8", "not-a-cidr"})

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "untrusted peer ignores headers",
			remoteAddr: "203.0.113.9:5000",
			headers:    map[string]string{"X-Real-IP": "1.1.1.1"},
			want:       "203.0.113.9",
		},
		{
			name:       "trusted peer uses X-Real-IP",
			remoteAddr: "10.0.0.2:5000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
		{
			name:       "forwarded chain skips trusted hops",
			remoteAddr: "10.0.0.2:5000",
			headers:    map[string]string{"X-Forwarded-For": "6.6.6.6, 198.51.100.7, 10.0.0.3"},
			want:       "198.51.100.7",
		},
		{
			name:       "no headers falls back to peer",
			remoteAddr: "10.0.0.2:5000",
			want:       "10.0.0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extract(req))
		})
	}
}
