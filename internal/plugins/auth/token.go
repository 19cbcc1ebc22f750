package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by the token codec. Callers distinguish them with
// errors.Is; the guard collapses both into the same 401.
var (
	// ErrMissingSigningSecret means the codec has no key to sign with. It is
	// a configuration error and must stop the server at startup.
	ErrMissingSigningSecret = errors.New("token signing secret is not configured")

	// ErrTokenExpired means the token's exp claim lies in the past.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenMalformed covers every other verification failure: garbage,
	// a foreign signature, a different algorithm or missing claims.
	ErrTokenMalformed = errors.New("token malformed")
)

// Claims is the identity token payload:
// {"id": 1, "username": "jdoe", "role": "User", "exp": 1700000000}.
// Username carries the login handle (User.UID).
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	// Secret is the shared HMAC key. Required.
	Secret string

	// Algorithm is HS256, HS384 or HS512.
	Algorithm string

	// TTL is the lifetime of minted tokens.
	TTL time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// TokenCodec mints and verifies signed identity tokens. A single secret and
// a single fixed algorithm are used for both directions; tokens claiming any
// other algorithm are rejected. The codec is stateless and safe for
// concurrent use.
type TokenCodec struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenCodec validates cfg and builds a codec.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSigningSecret
	}

	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm %q", cfg.Algorithm)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token lifetime must be positive, got %s", cfg.TTL)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &TokenCodec{
		secret: []byte(cfg.Secret),
		method: method,
		ttl:    cfg.TTL,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// TTL returns the lifetime of minted tokens.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Mint issues a token for user that expires one TTL from now.
func (c *TokenCodec) Mint(user *User) (string, error) {
	if err := c.checkSecret(); err != nil {
		return "", err
	}
	return c.mint(user, c.clock().Add(c.ttl))
}

// MintExpired issues a token for user whose lifetime is zero. Logout writes
// it over the client's token cookie; it fails verification immediately.
func (c *TokenCodec) MintExpired(user *User) (string, error) {
	if err := c.checkSecret(); err != nil {
		return "", err
	}
	return c.mint(user, c.clock())
}

// checkSecret refuses to sign when the codec has no key, including a zero
// TokenCodec that never went through NewTokenCodec.
func (c *TokenCodec) checkSecret() error {
	if len(c.secret) == 0 || c.method == nil {
		slog.Error("refusing to mint token", slog.Any("error", ErrMissingSigningSecret))
		return ErrMissingSigningSecret
	}
	return nil
}

func (c *TokenCodec) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *TokenCodec) mint(user *User, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserID:   user.ID,
		Username: user.UID,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature, algorithm and expiry and returns its
// claims. The error wraps ErrTokenExpired when exp lies in the past (even if
// the signature is also bad) and ErrTokenMalformed otherwise.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	if c.parser == nil || len(c.secret) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, ErrMissingSigningSecret)
	}

	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err == nil {
		return claims, nil
	}

	if errors.Is(err, jwt.ErrTokenExpired) || c.expiredUnverified(token) {
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
}

// expiredUnverified reads exp without checking the signature. The parser
// stops at the first failure, so a token that is both forged and stale
// reports the signature error; expiry still has to win.
func (c *TokenCodec) expiredUnverified(token string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !c.clock().Before(claims.ExpiresAt.Time)
}
