package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// defaultScheme is the Authorization scheme used when none is configured.
const defaultScheme = "Bearer"

// TokenTransport locates the identity token on a request and writes it back
// on responses. The Authorization header wins over the cookie so API
// clients can override a stale browser cookie.
type TokenTransport struct {
	// CookieName is the fallback cookie (e.g. "jwt_token").
	CookieName string

	// Scheme is the Authorization scheme. Empty means "Bearer".
	Scheme string

	// Secure forces the Secure cookie attribute even without TLS.
	Secure bool
}

// Extract returns the token and true, or "" and false when the request
// carries none. An Authorization header with a different scheme is ignored
// and the cookie is consulted instead. A header with the right scheme
// decides on its own: an empty credential means no token, even when the
// cookie holds one. The credential after the scheme is returned verbatim.
func (t TokenTransport) Extract(r *http.Request) (string, bool) {
	prefix := t.scheme() + " "
	if header := r.Header.Get(echo.HeaderAuthorization); strings.HasPrefix(header, prefix) {
		token := header[len(prefix):]
		return token, token != ""
	}

	if t.CookieName == "" {
		return "", false
	}
	cookie, err := r.Cookie(t.CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// SetCookie writes token into the HttpOnly token cookie for ttl.
func (t TokenTransport) SetCookie(c echo.Context, token string, ttl time.Duration) {
	c.SetCookie(t.cookie(c, token, int(ttl/time.Second)))
}

// ExpireCookie overwrites the token cookie with replacement (normally a
// zero-lifetime token) and tells the browser to drop it.
func (t TokenTransport) ExpireCookie(c echo.Context, replacement string) {
	c.SetCookie(t.cookie(c, replacement, -1))
}

func (t TokenTransport) cookie(c echo.Context, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     t.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   t.Secure || isSecureRequest(c),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

func (t TokenTransport) scheme() string {
	if t.Scheme == "" {
		return defaultScheme
	}
	return t.Scheme
}

// isSecureRequest reports whether the request arrived over TLS, directly or
// through a proxy that terminated it.
func isSecureRequest(c echo.Context) bool {
	req := c.Request()
	return req.TLS != nil || req.Header.Get(echo.HeaderXForwardedProto) == "https"
}
