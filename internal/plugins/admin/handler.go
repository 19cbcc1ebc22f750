package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pitstop/internal/apperror"
	"github.com/keyxmakerx/pitstop/internal/plugins/auth"
)

// UserManager is the part of auth.AuthService the admin handlers use.
type UserManager interface {
	GetUser(ctx context.Context, id int64) (*auth.User, error)
	ListUsers(ctx context.Context, viewer *auth.User, page, perPage int) ([]auth.UserListing, int, error)
	SetRole(ctx context.Context, actor *auth.User, targetID int64, role auth.Role) (*auth.User, error)
	DeleteUser(ctx context.Context, actor *auth.User, targetID int64) (*auth.User, error)
	DestroyUserSessions(ctx context.Context, userID int64) (int, error)
}

// Handler handles admin HTTP requests. Depends on other plugins' services
// via interfaces -- no direct repo access.
type Handler struct {
	users    UserManager
	security SecurityService
}

// NewHandler creates a new admin handler.
func NewHandler(users UserManager, security SecurityService) *Handler {
	return &Handler{users: users, security: security}
}

// --- Users ---

// Users lists accounts (GET /api/admin/users?page=&per_page=).
func (h *Handler) Users(c echo.Context) error {
	actor := auth.GetUser(c)
	if actor == nil {
		return apperror.NewMissingContext()
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))

	users, total, err := h.users.ListUsers(c.Request().Context(), actor, page, perPage)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"users": users,
		"total": total,
		"page":  max(page, 1),
	})
}

// SetRole changes an account's role (PUT /api/admin/users/:id/role). The
// target's sessions end so the change applies on their next request.
func (h *Handler) SetRole(c echo.Context) error {
	actor := auth.GetUser(c)
	if actor == nil {
		return apperror.NewMissingContext()
	}
	targetID, err := userIDParam(c)
	if err != nil {
		return err
	}

	var req SetRoleRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return apperror.NewBadRequest(err.Error())
	}

	ctx := c.Request().Context()
	before, err := h.users.GetUser(ctx, targetID)
	if err != nil {
		return err
	}
	user, err := h.users.SetRole(ctx, actor, targetID, role)
	if err != nil {
		return err
	}

	if before.Role != user.Role {
		h.record(c, auth.Event{
			Type:    auth.EventRoleChanged,
			UserID:  user.ID,
			ActorID: actor.ID,
			Details: map[string]any{"from": string(before.Role), "to": string(user.Role)},
		})
	}
	return c.JSON(http.StatusOK, user)
}

// DeleteUser removes an account (DELETE /api/admin/users/:id).
func (h *Handler) DeleteUser(c echo.Context) error {
	actor := auth.GetUser(c)
	if actor == nil {
		return apperror.NewMissingContext()
	}
	targetID, err := userIDParam(c)
	if err != nil {
		return err
	}

	user, err := h.users.DeleteUser(c.Request().Context(), actor, targetID)
	if err != nil {
		return err
	}

	// user_id is left empty: the row is gone and the foreign key would
	// null it anyway. The handle is kept in the details.
	h.record(c, auth.Event{
		Type:    auth.EventUserDeleted,
		ActorID: actor.ID,
		Details: map[string]any{"uid": user.UID, "user_id": user.ID},
	})
	return c.JSON(http.StatusOK, map[string]any{"message": "user deleted", "uid": user.UID})
}

// ForceLogout ends every session of an account
// (POST /api/admin/users/:id/logout). Identity tokens are stateless and
// stay valid until they expire.
func (h *Handler) ForceLogout(c echo.Context) error {
	actor := auth.GetUser(c)
	if actor == nil {
		return apperror.NewMissingContext()
	}
	targetID, err := userIDParam(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.users.GetUser(ctx, targetID); err != nil {
		return err
	}
	count, err := h.users.DestroyUserSessions(ctx, targetID)
	if err != nil {
		return err
	}

	h.record(c, auth.Event{
		Type:    auth.EventForceLogout,
		UserID:  targetID,
		ActorID: actor.ID,
		Details: map[string]any{"sessions": count},
	})
	return c.JSON(http.StatusOK, map[string]any{"message": "sessions ended", "sessions": count})
}

// --- Security ---

// SecurityEvents returns the security log (GET /api/admin/security-events?type=&page=).
func (h *Handler) SecurityEvents(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	events, total, err := h.security.ListEvents(c.Request().Context(), c.QueryParam("type"), page)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events":   events,
		"total":    total,
		"page":     max(page, 1),
		"per_page": securityPerPage,
	})
}

// SecurityStats returns aggregate counts (GET /api/admin/security-stats).
func (h *Handler) SecurityStats(c echo.Context) error {
	stats, err := h.security.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// userIDParam parses the :id path parameter.
func userIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NewBadRequest("invalid user id")
	}
	return id, nil
}

// record fills in the request origin and hands the event to the log.
func (h *Handler) record(c echo.Context, event auth.Event) {
	event.IP = c.RealIP()
	event.UserAgent = c.Request().UserAgent()
	h.security.Record(c.Request().Context(), event)
}
