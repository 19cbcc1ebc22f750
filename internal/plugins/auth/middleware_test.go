package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/pitstop/internal/apperror"
)

// fakeFinder serves users from a map.
type fakeFinder struct {
	users map[int64]*User
	err   error
}

func (f *fakeFinder) FindByID(_ context.Context, id int64) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NewNotFound("user not found")
	}
	copied := *u
	return &copied, nil
}

type guardFixture struct {
	e        *echo.Echo
	clock    *fakeClock
	codec    *TokenCodec
	finder   *fakeFinder
	sessions *redisSessionStore
}

// newGuardFixture mounts /whoami for any role and /admin for Admins.
func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	clock := newTestClock()
	codec := newTestCodec(t, clock)
	sessions, _ := newTestSessionStore(t)
	finder := &fakeFinder{users: map[int64]*User{
		1:  {ID: 1, UID: "admin", Name: "Admin", Role: RoleAdmin},
		42: testUser(),
	}}

	guard := NewGuard(GuardConfig{
		Users:             finder,
		Codec:             codec,
		Sessions:          sessions,
		Transport:         TokenTransport{CookieName: "jwt_token"},
		SessionCookieName: "pitstop_session",
	})

	e := echo.New()
	whoami := func(c echo.Context) error {
		fromEcho := GetUser(c)
		fromCtx, ok := UserFromContext(c.Request().Context())
		if fromEcho == nil || !ok || fromEcho.ID != fromCtx.ID {
			return c.String(http.StatusInternalServerError, "user not injected")
		}
		return c.JSON(http.StatusOK, fromEcho)
	}
	e.GET("/whoami", whoami, guard.Require())
	e.GET("/admin", whoami, guard.Require(RoleAdmin))

	return &guardFixture{e: e, clock: clock, codec: codec, finder: finder, sessions: sessions}
}

func (f *guardFixture) mint(t *testing.T, id int64) string {
	t.Helper()
	token, err := f.codec.Mint(f.finder.users[id])
	require.NoError(t, err)
	return token
}

func (f *guardFixture) do(path string, decorate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
}

const unauthorizedBody = `{"error":"Unauthorized","message":"authentication required"}`

func TestGuard_ValidToken(t *testing.T) {
	f := newGuardFixture(t)

	rec := f.do("/whoami", bearer(f.mint(t, 42)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uid":"jdoe"`)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestGuard_TokenFromCookie(t *testing.T) {
	f := newGuardFixture(t)
	token := f.mint(t, 42)

	rec := f.do("/whoami", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "jwt_token", Value: token})
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuard_HeaderBeatsCookie(t *testing.T) {
	f := newGuardFixture(t)
	admin := f.mint(t, 1)

	rec := f.do("/admin", func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+f.mint(t, 42))
		r.AddCookie(&http.Cookie{Name: "jwt_token", Value: admin})
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "header identity (User) must be used, not the admin cookie")
}

func TestGuard_EmptyBearerIgnoresCookie(t *testing.T) {
	f := newGuardFixture(t)
	admin := f.mint(t, 1)

	rec := f.do("/admin", func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer ")
		r.AddCookie(&http.Cookie{Name: "jwt_token", Value: admin})
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, unauthorizedBody, rec.Body.String())
}

func TestGuard_UniformUnauthorized(t *testing.T) {
	f := newGuardFixture(t)
	expired := f.mint(t, 42)
	f.clock.Advance(2 * time.Hour)

	forged, err := NewTokenCodec(TokenConfig{Secret: "not-the-server-secret", Algorithm: "HS256", TTL: time.Hour, Now: f.clock.Now})
	require.NoError(t, err)
	forgedToken, err := forged.Mint(testUser())
	require.NoError(t, err)
	ghostToken, err := f.codec.Mint(&User{ID: 999, UID: "ghost", Role: RoleAdmin})
	require.NoError(t, err)

	tests := []struct {
		name     string
		decorate func(*http.Request)
	}{
		{"missing", nil},
		{"expired", bearer(expired)},
		{"malformed", bearer("not.a.jwt")},
		{"foreign signature", bearer(forgedToken)},
		{"deleted user", bearer(ghostToken)},
		{"unknown session", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "pitstop_session", Value: "stale"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do("/whoami", tt.decorate)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, unauthorizedBody, rec.Body.String())
		})
	}
}

func TestGuard_RoleDenied(t *testing.T) {
	f := newGuardFixture(t)

	rec := f.do("/admin", bearer(f.mint(t, 42)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Forbidden","message":"insufficient permissions"}`, rec.Body.String())

	rec = f.do("/admin", bearer(f.mint(t, 1)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuard_RoleIsReloaded(t *testing.T) {
	f := newGuardFixture(t)
	token := f.mint(t, 42)

	// Promote after the token was minted: the stored role wins over the claim.
	f.finder.users[42].Role = RoleAdmin
	rec := f.do("/admin", bearer(token))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuard_SessionFirst(t *testing.T) {
	f := newGuardFixture(t)

	id, err := f.sessions.Create(context.Background(), f.finder.users[1])
	require.NoError(t, err)

	rec := f.do("/admin", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "pitstop_session", Value: id})
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+f.mint(t, 42))
	})
	assert.Equal(t, http.StatusOK, rec.Code, "a live session identifies the request before the token")
	assert.Contains(t, rec.Body.String(), `"uid":"admin"`)
}

func TestGuard_StaleSessionFallsBackToToken(t *testing.T) {
	f := newGuardFixture(t)

	rec := f.do("/whoami", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "pitstop_session", Value: "gone"})
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+f.mint(t, 42))
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuard_LookupFailure(t *testing.T) {
	f := newGuardFixture(t)
	token := f.mint(t, 42)
	f.finder.err = errors.New("db down")

	rec := f.do("/whoami", bearer(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, unauthorizedBody, rec.Body.String())
}

func TestUserFromContext_Empty(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Nil(t, GetUser(c))
}
