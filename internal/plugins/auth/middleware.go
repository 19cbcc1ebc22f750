package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pitstop/internal/apperror"
)

// contextKeyUser is the Echo context key holding the authenticated *User.
const contextKeyUser = "auth_user"

// userCtxKey is the request context.Context key holding the *User.
type userCtxKey struct{}

// Client-facing rejection messages. Every 401 is identical no matter why
// the request was rejected; the reason only goes to the log.
const (
	msgUnauthenticated = "authentication required"
	msgForbidden       = "insufficient permissions"
)

// Rejection reasons, logged but never sent to the client.
const (
	reasonMissingToken   = "missing_token"
	reasonTokenExpired   = "token_expired"
	reasonTokenMalformed = "token_malformed"
	reasonUserNotFound   = "user_not_found"
	reasonLookupFailed   = "lookup_failed"
	reasonRoleDenied     = "role_denied"
)

// GuardConfig wires the guard's collaborators. Everything is injected so
// the guard reads no globals.
type GuardConfig struct {
	Users     UserFinder
	Codec     *TokenCodec
	Sessions  SessionStore
	Transport TokenTransport

	// SessionCookieName is the cookie holding a server-side session id.
	// Empty disables the session path.
	SessionCookieName string
}

// Guard is the access check placed in front of protected handlers. A
// request is identified by a server-side session first and by an identity
// token second; the account is reloaded from the credential store on every
// request so deleted users and role changes take effect immediately.
type Guard struct {
	cfg GuardConfig
}

// NewGuard creates a guard from cfg.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg}
}

// Require returns middleware that admits a request only if it carries a
// valid identity and, when roles is non-empty, the identity's current role
// is one of them. Unidentified requests get 401 and wrong roles get 403.
// On success the user is available through GetUser and UserFromContext.
func (g *Guard) Require(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, reason := g.identify(c)
			if user == nil {
				g.logRejection(c, reason, nil)
				return reject(c, http.StatusUnauthorized, msgUnauthenticated)
			}

			if len(roles) > 0 && !roleIn(user.Role, roles) {
				g.logRejection(c, reasonRoleDenied, user)
				return reject(c, http.StatusForbidden, msgForbidden)
			}

			SetUser(c, user)
			return next(c)
		}
	}
}

// identify resolves the requesting account, or returns nil and the reason
// it could not.
func (g *Guard) identify(c echo.Context) (*User, string) {
	ctx := c.Request().Context()

	userID, reason := g.sessionIdentity(c)
	if userID == 0 {
		userID, reason = g.tokenIdentity(c)
		if userID == 0 {
			return nil, reason
		}
	}

	user, err := g.cfg.Users.FindByID(ctx, userID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, reasonUserNotFound
		}
		slog.Error("auth user lookup failed",
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
		return nil, reasonLookupFailed
	}
	return user, ""
}

// sessionIdentity returns the user id of a live session, or 0. A broken
// session store is logged and treated as "no session" so token clients
// keep working.
func (g *Guard) sessionIdentity(c echo.Context) (int64, string) {
	if g.cfg.Sessions == nil || g.cfg.SessionCookieName == "" {
		return 0, ""
	}
	cookie, err := c.Cookie(g.cfg.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return 0, ""
	}

	session, err := g.cfg.Sessions.Get(c.Request().Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			slog.Error("auth session lookup failed", slog.Any("error", err))
		}
		return 0, ""
	}
	return session.UserID, ""
}

// tokenIdentity returns the user id carried by a valid token, or 0 and why.
func (g *Guard) tokenIdentity(c echo.Context) (int64, string) {
	token, ok := g.cfg.Transport.Extract(c.Request())
	if !ok {
		return 0, reasonMissingToken
	}

	claims, err := g.cfg.Codec.Verify(token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return 0, reasonTokenExpired
	case err != nil:
		return 0, reasonTokenMalformed
	case claims.UserID == 0:
		return 0, reasonTokenMalformed
	}
	return claims.UserID, ""
}

func (g *Guard) logRejection(c echo.Context, reason string, user *User) {
	attrs := []any{
		slog.String("reason", reason),
		slog.String("method", c.Request().Method),
		slog.String("path", c.Request().URL.Path),
		slog.String("ip", c.RealIP()),
	}
	if user != nil {
		attrs = append(attrs,
			slog.Int64("user_id", user.ID),
			slog.String("role", string(user.Role)),
		)
	}
	slog.Info("auth rejected", attrs...)
}

// reject writes the uniform JSON error body used by the application's
// error handler.
func reject(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]string{
		"error":   http.StatusText(code),
		"message": message,
	})
}

// SetUser stores user on both the Echo context and the request context.
func SetUser(c echo.Context, user *User) {
	c.Set(contextKeyUser, user)
	req := c.Request()
	c.SetRequest(req.WithContext(context.WithValue(req.Context(), userCtxKey{}, user)))
}

// GetUser returns the authenticated user from the Echo context, or nil when
// the route is not behind the guard.
func GetUser(c echo.Context) *User {
	user, _ := c.Get(contextKeyUser).(*User)
	return user
}

// UserFromContext returns the authenticated user stored in a request
// context by the guard.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userCtxKey{}).(*User)
	return user, ok && user != nil
}
