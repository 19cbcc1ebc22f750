// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. A .env file in the working directory is honored for local
// development; real environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// ErrConfiguration is wrapped by every error Load returns. Callers treat it
// as fatal at startup.
var ErrConfiguration = errors.New("configuration error")

// supportedAlgorithms lists the HMAC signing algorithms tokens may use.
var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL of the API.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	// Empty means the environment default.
	LogLevel string

	// TrustedProxies lists the CIDRs whose X-Forwarded-For / X-Real-IP
	// headers are believed when resolving the client IP.
	TrustedProxies []string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds token, session and account settings.
	Auth AuthConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently. If DATABASE_URL
// is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built with the driver's
// Config.FormatDSN() so special characters in passwords survive.
// multiStatements is enabled because migration files hold several statements.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds identity token, session and account settings. The same
// values are handed to the token codec, the token transport, the session
// store and the guard.
type AuthConfig struct {
	// JWTSecret is the single shared HMAC key used to sign and verify
	// identity tokens. Required.
	JWTSecret string

	// JWTAlgorithm is the fixed signing algorithm (HS256, HS384 or HS512).
	JWTAlgorithm string

	// TokenTTL is how long a minted token stays valid.
	TokenTTL time.Duration

	// TokenCookieName is the cookie carrying the token when the
	// Authorization header is absent (default: "jwt_token").
	TokenCookieName string

	// SessionTTL is how long server-side sessions last before expiring.
	SessionTTL time.Duration

	// SessionCookieName is the cookie carrying the session id.
	SessionCookieName string

	// DefaultPassword is assigned to accounts created through bulk signup.
	DefaultPassword string

	// SecureCookies forces the Secure attribute on auth cookies even when
	// the request did not arrive over TLS.
	SecureCookies bool
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error wrapping ErrConfiguration if required variables are
// missing or malformed.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", slog.Any("error", err))
	}

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		TrustedProxies: getEnvList("TRUSTED_PROXIES",
			[]string{"127.0.0.1/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128", "fd00::/8"}),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "pitstop"),
			Password:        getEnv("DB_PASSWORD", "pitstop"),
			Name:            getEnv("DB_NAME", "pitstop"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			JWTAlgorithm:      strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
			TokenTTL:          getEnvDuration("JWT_TTL", time.Hour),
			TokenCookieName:   getEnv("JWT_COOKIE_NAME", "jwt_token"),
			SessionTTL:        getEnvDuration("SESSION_TTL", 720*time.Hour),
			SessionCookieName: getEnv("SESSION_COOKIE_NAME", "pitstop_session"),
			DefaultPassword:   getEnv("DEFAULT_PASSWORD", ""),
			SecureCookies:     getEnvBool("SECURE_COOKIES", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the settings nothing can run without. Tokens signed with
// an empty or guessable key would be forgeable, so the secret is required in
// every environment and must be long in production.
func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", ErrConfiguration)
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("%w: JWT_SECRET must be at least 32 characters in production", ErrConfiguration)
	}
	if !supportedAlgorithms[c.Auth.JWTAlgorithm] {
		return fmt.Errorf("%w: unsupported JWT_ALGORITHM %q", ErrConfiguration, c.Auth.JWTAlgorithm)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("%w: JWT_TTL must be positive", ErrConfiguration)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("%w: SESSION_TTL must be positive", ErrConfiguration)
	}
	if c.Auth.TokenCookieName == "" || c.Auth.SessionCookieName == "" {
		return fmt.Errorf("%w: cookie names must not be empty", ErrConfiguration)
	}
	if c.Auth.TokenCookieName == c.Auth.SessionCookieName {
		return fmt.Errorf("%w: token and session cookies must use different names", ErrConfiguration)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true for "production" and common variants like "prod".
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var or returns the default. Blank
// items are dropped; an empty value yields an empty list.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvBool reads a boolean env var ("true", "1", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
