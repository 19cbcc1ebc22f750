package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pitstop/internal/plugins/admin"
	"github.com/keyxmakerx/pitstop/internal/plugins/auth"
)

// healthTimeout bounds each dependency ping in /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes wires the plugins together and registers every route.
// This is the single place where all routes are aggregated. It fails only
// when the token codec cannot be built from the configuration.
func (a *App) RegisterRoutes() error {
	e := a.Echo
	cfg := a.Config.Auth

	// --- Public Routes (no auth required) ---

	// Health check endpoint for container health monitoring.
	e.GET("/healthz", a.health)

	// --- Auth Plugin ---

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:    cfg.JWTSecret,
		Algorithm: cfg.JWTAlgorithm,
		TTL:       cfg.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	transport := auth.TokenTransport{
		CookieName: cfg.TokenCookieName,
		Secure:     cfg.SecureCookies,
	}
	sessions := auth.NewSessionStore(a.Redis, cfg.SessionTTL)
	userRepo := auth.NewUserRepository(a.DB)

	authService := auth.NewAuthService(userRepo, auth.ServiceConfig{
		Codec:           codec,
		Sessions:        sessions,
		DefaultPassword: cfg.DefaultPassword,
	})
	authHandler := auth.NewHandler(authService, auth.HandlerConfig{
		Transport:         transport,
		SessionCookieName: cfg.SessionCookieName,
		SessionTTL:        cfg.SessionTTL,
	})
	guard := auth.NewGuard(auth.GuardConfig{
		Users:             userRepo,
		Codec:             codec,
		Sessions:          sessions,
		Transport:         transport,
		SessionCookieName: cfg.SessionCookieName,
	})

	// --- Admin Plugin ---

	// The security log is the auth plugin's event recorder.
	a.security = admin.NewSecurityService(admin.NewSecurityEventRepository(a.DB), userRepo)
	authHandler.SetEventRecorder(a.security)
	adminHandler := admin.NewHandler(authService, a.security)

	auth.RegisterRoutes(e, authHandler, guard)
	admin.RegisterRoutes(e, adminHandler, guard)

	return nil
}

// health pings MariaDB and Redis (GET /healthz). Responds 503 naming the
// first component that failed.
func (a *App) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", a.DB.PingContext},
		{"redis", func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }},
	}

	for _, check := range checks {
		if err := check.ping(ctx); err != nil {
			slog.Warn("health check failed",
				slog.String("component", check.name),
				slog.Any("error", err),
			)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":    "unavailable",
				"component": check.name,
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
