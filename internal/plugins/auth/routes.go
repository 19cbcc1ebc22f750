package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pitstop/internal/middleware"
)

// RegisterRoutes sets up the account, token and session routes. Signup and
// both login endpoints are public but rate-limited per IP against
// brute-force and credential stuffing: 10 login attempts and 5 signups per
// minute. Everything else sits behind the guard.
func RegisterRoutes(e *echo.Echo, h *Handler, guard *Guard) {
	loginLimit := middleware.RateLimit(10, time.Minute)
	signupLimit := middleware.RateLimit(5, time.Minute)

	// Session login for browser clients.
	e.POST("/login", h.Login, loginLimit)
	e.POST("/logout", h.Logout)

	api := e.Group("/api")

	// Public.
	api.POST("/user", h.Signup, signupLimit)
	api.POST("/authenticate", h.Authenticate, loginLimit)

	// Any authenticated role.
	authed := guard.Require()
	api.GET("/user", h.Me, authed)
	api.GET("/id", h.Me, authed)
	api.PUT("/user", h.UpdateUser, authed)
	api.GET("/users", h.ListUsers, authed)
	api.DELETE("/authenticate", h.RevokeAuthentication, authed)

	// Admin only.
	adminOnly := guard.Require(RoleAdmin)
	api.POST("/users", h.BulkSignup, adminOnly)
	api.DELETE("/user", h.DeleteUser, adminOnly)
}
