package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hmac"

// fakeClock is a settable clock for fast-forwarding token lifetimes.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func newTestCodec(t *testing.T, clock *fakeClock) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(TokenConfig{
		Secret:    testSecret,
		Algorithm: "HS256",
		TTL:       time.Hour,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	return codec
}

func testUser() *User {
	return &User{ID: 42, UID: "jdoe", Name: "Jane Doe", Role: RoleUser}
}

func TestNewTokenCodec_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  TokenConfig
	}{
		{"empty secret", TokenConfig{Algorithm: "HS256", TTL: time.Hour}},
		{"asymmetric algorithm", TokenConfig{Secret: testSecret, Algorithm: "RS256", TTL: time.Hour}},
		{"unknown algorithm", TokenConfig{Secret: testSecret, Algorithm: "none", TTL: time.Hour}},
		{"zero lifetime", TokenConfig{Secret: testSecret, Algorithm: "HS256"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenCodec(tt.cfg)
			assert.Error(t, err)
		})
	}

	_, err := NewTokenCodec(TokenConfig{Algorithm: "HS256", TTL: time.Hour})
	assert.ErrorIs(t, err, ErrMissingSigningSecret)
}

func TestMint_RefusesWithoutSecret(t *testing.T) {
	codec := &TokenCodec{}

	_, err := codec.Mint(testUser())
	assert.ErrorIs(t, err, ErrMissingSigningSecret)

	_, err = codec.MintExpired(testUser())
	assert.ErrorIs(t, err, ErrMissingSigningSecret)

	_, err = codec.Verify("a.b.c")
	assert.ErrorIs(t, err, ErrTokenMalformed)
	assert.ErrorIs(t, err, ErrMissingSigningSecret)
}

func TestMint_ClaimShape(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	token, err := codec.Mint(testUser())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, float64(42), claims["id"])
	assert.Equal(t, "jdoe", claims["username"])
	assert.Equal(t, "User", claims["role"])
	assert.Equal(t, float64(clock.Now().Add(time.Hour).Unix()), claims["exp"])
}

func TestVerify_ValidThroughoutLifetime(t *testing.T) {
	for _, algorithm := range []string{"HS256", "HS384", "HS512"} {
		t.Run(algorithm, func(t *testing.T) {
			clock := newTestClock()
			codec, err := NewTokenCodec(TokenConfig{Secret: testSecret, Algorithm: algorithm, TTL: time.Hour, Now: clock.Now})
			require.NoError(t, err)

			token, err := codec.Mint(testUser())
			require.NoError(t, err)

			for _, elapsed := range []time.Duration{0, 30 * time.Minute, time.Hour - time.Second} {
				clock.t = newTestClock().t.Add(elapsed)
				claims, err := codec.Verify(token)
				require.NoError(t, err, "elapsed %s", elapsed)
				assert.Equal(t, int64(42), claims.UserID)
				assert.Equal(t, "jdoe", claims.Username)
				assert.Equal(t, RoleUser, claims.Role)
			}
		})
	}
}

func TestVerify_ExpiredAfterLifetime(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	token, err := codec.Mint(testUser())
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrTokenMalformed)
}

func TestVerify_ExpiredEvenWithForeignSignature(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	foreign, err := NewTokenCodec(TokenConfig{Secret: "some-other-secret", Algorithm: "HS256", TTL: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	token, err := foreign.Mint(testUser())
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_ForeignSecretIsMalformed(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	foreign, err := NewTokenCodec(TokenConfig{Secret: "some-other-secret", Algorithm: "HS256", TTL: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	token, err := foreign.Mint(testUser())
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerify_RejectsOtherAlgorithm(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	// Same secret, different HMAC strength: still refused.
	other, err := NewTokenCodec(TokenConfig{Secret: testSecret, Algorithm: "HS512", TTL: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	token, err := other.Mint(testUser())
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerify_RejectsUnsignedToken(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	claims := Claims{
		UserID:           1,
		Username:         "root",
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerify_RequiresExpiry(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 42, Username: "jdoe", Role: RoleUser}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerify_Garbage(t *testing.T) {
	codec := newTestCodec(t, newTestClock())

	for _, token := range []string{"", "not-a-token", "a.b.c", "Bearer xyz"} {
		_, err := codec.Verify(token)
		assert.ErrorIs(t, err, ErrTokenMalformed, "token %q", token)
	}
}

func TestMintExpired_FailsImmediately(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock)

	token, err := codec.MintExpired(testUser())
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
