package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pitstop/internal/plugins/auth"
)

// RegisterRoutes sets up all admin routes on the given Echo instance.
// Creates an /api/admin group behind the guard with the Admin role and
// returns it so other plugins can register additional admin routes.
func RegisterRoutes(e *echo.Echo, h *Handler, guard *auth.Guard) *echo.Group {
	admin := e.Group("/api/admin", guard.Require(auth.RoleAdmin))

	// User management.
	admin.GET("/users", h.Users)
	admin.PUT("/users/:id/role", h.SetRole)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.POST("/users/:id/logout", h.ForceLogout)

	// Security log.
	admin.GET("/security-events", h.SecurityEvents)
	admin.GET("/security-stats", h.SecurityStats)

	return admin
}
