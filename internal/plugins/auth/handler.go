package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pitstop/internal/apperror"
)

// HandlerConfig carries the cookie settings the handlers need.
type HandlerConfig struct {
	Transport         TokenTransport
	SessionCookieName string
	SessionTTL        time.Duration
}

// Handler handles the account, token and session endpoints. Handlers are
// thin: bind the request, call the service, write JSON.
type Handler struct {
	service       AuthService
	transport     TokenTransport
	sessionCookie string
	sessionTTL    time.Duration
	events        EventRecorder
}

// NewHandler creates a new auth handler.
func NewHandler(service AuthService, cfg HandlerConfig) *Handler {
	return &Handler{
		service:       service,
		transport:     cfg.Transport,
		sessionCookie: cfg.SessionCookieName,
		sessionTTL:    cfg.SessionTTL,
		events:        nopRecorder{},
	}
}

// SetEventRecorder wires the security event log. Called after the admin
// plugin is constructed.
func (h *Handler) SetEventRecorder(r EventRecorder) {
	if r != nil {
		h.events = r
	}
}

// --- Accounts ---

// Signup creates an account (POST /api/user).
func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	user, err := h.service.Signup(c.Request().Context(), SignupInput(req))
	if err != nil {
		return err
	}

	h.record(c, Event{Type: EventSignup, UserID: user.ID})
	return c.JSON(http.StatusCreated, user)
}

// BulkSignup creates several accounts with the default password
// (POST /api/users, Admin only). The body is a JSON array.
func (h *Handler) BulkSignup(c echo.Context) error {
	var entries []BulkSignupEntry
	if err := (&echo.DefaultBinder{}).BindBody(c, &entries); err != nil {
		return apperror.NewBadRequest("expected a JSON array of users")
	}

	result, err := h.service.BulkSignup(c.Request().Context(), entries)
	if err != nil {
		return err
	}

	actor := GetUser(c)
	h.record(c, Event{
		Type:    EventSignup,
		UserID:  actor.ID,
		ActorID: actor.ID,
		Details: map[string]any{
			"bulk":          true,
			"success_count": result.SuccessCount,
			"error_count":   result.ErrorCount,
		},
	})
	return c.JSON(http.StatusOK, result)
}

// ListUsers returns a page of users with the caller's access to each
// (GET /api/users).
func (h *Handler) ListUsers(c echo.Context) error {
	viewer := GetUser(c)
	if viewer == nil {
		return apperror.NewMissingContext()
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))

	users, total, err := h.service.ListUsers(c.Request().Context(), viewer, page, perPage)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"users": users,
		"total": total,
	})
}

// Me returns the authenticated user (GET /api/user, GET /api/id).
func (h *Handler) Me(c echo.Context) error {
	user := GetUser(c)
	if user == nil {
		return apperror.NewMissingContext()
	}
	return c.JSON(http.StatusOK, user)
}

// UpdateUser changes the caller's profile, or any profile for Admins
// (PUT /api/user).
func (h *Handler) UpdateUser(c echo.Context) error {
	actor := GetUser(c)
	if actor == nil {
		return apperror.NewMissingContext()
	}

	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return apperror.NewBadRequest(err.Error())
	}

	user, err := h.service.UpdateUser(c.Request().Context(), actor, UpdateInput{
		TargetUID: req.UID,
		Name:      req.Name,
		Password:  req.Password,
	})
	if err != nil {
		return err
	}

	if req.Password != nil {
		h.record(c, Event{Type: EventPasswordChanged, UserID: user.ID, ActorID: actor.ID})
	}
	return c.JSON(http.StatusOK, user)
}

// DeleteUser removes the account named in the body (DELETE /api/user,
// Admin only).
func (h *Handler) DeleteUser(c echo.Context) error {
	actor := GetUser(c)
	if actor == nil {
		return apperror.NewMissingContext()
	}

	var req DeleteRequest
	if err := c.Bind(&req); err != nil || req.UID == "" {
		return apperror.NewBadRequest("uid is required")
	}

	ctx := c.Request().Context()
	target, err := h.service.GetUserByUID(ctx, req.UID)
	if err != nil {
		return err
	}
	if _, err := h.service.DeleteUser(ctx, actor, target.ID); err != nil {
		return err
	}

	h.record(c, Event{
		Type:    EventUserDeleted,
		ActorID: actor.ID,
		Details: map[string]any{"uid": target.UID, "user_id": target.ID},
	})
	return c.JSON(http.StatusOK, map[string]string{"message": "user deleted", "uid": target.UID})
}

// --- Identity tokens ---

// Authenticate exchanges credentials for an identity token
// (POST /api/authenticate). The token is returned in the body and set as
// an HttpOnly cookie for browser clients.
func (h *Handler) Authenticate(c echo.Context) error {
	user, err := h.checkCredentials(c)
	if err != nil {
		return err
	}

	token, err := h.service.IssueToken(user)
	if err != nil {
		return err
	}
	h.transport.SetCookie(c, token, h.service.TokenTTL())

	h.record(c, Event{Type: EventLoginSuccess, UserID: user.ID, Details: map[string]any{"method": "token"}})
	h.record(c, Event{Type: EventTokenIssued, UserID: user.ID})

	return c.JSON(http.StatusOK, map[string]any{
		"message": "authentication successful",
		"token":   token,
		"user":    user,
	})
}

// RevokeAuthentication logs a token client out (DELETE /api/authenticate)
// by overwriting its cookie with a zero-lifetime token.
func (h *Handler) RevokeAuthentication(c echo.Context) error {
	user := GetUser(c)
	if user == nil {
		return apperror.NewMissingContext()
	}

	replacement, err := h.service.RevokeToken(user)
	if err != nil {
		return err
	}
	h.transport.ExpireCookie(c, replacement)

	h.record(c, Event{Type: EventTokenRevoked, UserID: user.ID})
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

// --- Sessions ---

// Login exchanges credentials for a server-side session (POST /login).
// Accepts JSON or form bodies.
func (h *Handler) Login(c echo.Context) error {
	user, err := h.checkCredentials(c)
	if err != nil {
		return err
	}

	id, err := h.service.CreateSession(c.Request().Context(), user)
	if err != nil {
		return err
	}
	h.setSessionCookie(c, id)

	h.record(c, Event{Type: EventLoginSuccess, UserID: user.ID, Details: map[string]any{"method": "session"}})
	return c.JSON(http.StatusOK, map[string]any{
		"message": "login successful",
		"user":    user,
	})
}

// Logout ends the caller's session (POST /logout). Always succeeds so a
// client with a stale cookie can still clear it.
func (h *Handler) Logout(c echo.Context) error {
	if cookie, err := c.Cookie(h.sessionCookie); err == nil && cookie.Value != "" {
		ctx := c.Request().Context()
		if session, err := h.service.ValidateSession(ctx, cookie.Value); err == nil {
			h.record(c, Event{Type: EventLogout, UserID: session.UserID})
		}
		if err := h.service.DestroySession(ctx, cookie.Value); err != nil {
			return err
		}
	}

	h.clearSessionCookie(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

// checkCredentials binds a LoginRequest and authenticates it, recording
// failed attempts.
func (h *Handler) checkCredentials(c echo.Context) (*User, error) {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return nil, apperror.NewBadRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	user, err := h.service.Authenticate(c.Request().Context(), req.UID, req.Password)
	if err != nil {
		if apperror.SafeCode(err) == http.StatusUnauthorized {
			h.record(c, Event{Type: EventLoginFailed, Details: map[string]any{"uid": req.UID}})
		}
		return nil, err
	}
	return user, nil
}

// --- Cookie helpers ---

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure if behind TLS, and SameSite=Lax.
func (h *Handler) setSessionCookie(c echo.Context, id string) {
	c.SetCookie(&http.Cookie{
		Name:     h.sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.transport.Secure || isSecureRequest(c),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.sessionTTL / time.Second),
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func (h *Handler) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     h.sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// record fills in the request origin and hands the event to the recorder.
func (h *Handler) record(c echo.Context, event Event) {
	event.IP = c.RealIP()
	event.UserAgent = c.Request().UserAgent()
	h.events.Record(c.Request().Context(), event)
}
