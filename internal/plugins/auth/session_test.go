package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T) (*redisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewSessionStore(rdb, time.Hour).(*redisSessionStore)
	return store, mr
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &User{ID: 7, UID: "racer", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, id, sessionTokenBytes*2)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), session.UserID)
	assert.Equal(t, "racer", session.UID)
	assert.Equal(t, RoleAdmin, session.Role)

	assert.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+id))
	members, err := mr.Members(userSessionKey(7))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, members)
}

func TestSessionStore_Expiry(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &User{ID: 7, UID: "racer", Role: RoleUser})
	require.NoError(t, err)

	mr.FastForward(time.Hour + time.Second)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_GetUnknown(t *testing.T) {
	store, _ := newTestSessionStore(t)

	_, err := store.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_Destroy(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &User{ID: 7, UID: "racer", Role: RoleUser})
	require.NoError(t, err)

	require.NoError(t, store.Destroy(ctx, id))
	assert.False(t, mr.Exists(sessionKeyPrefix+id))

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Destroying again is a no-op.
	assert.NoError(t, store.Destroy(ctx, id))
}

func TestSessionStore_DestroyAllForUser(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, &User{ID: 7, UID: "racer", Role: RoleUser})
	require.NoError(t, err)
	second, err := store.Create(ctx, &User{ID: 7, UID: "racer", Role: RoleUser})
	require.NoError(t, err)
	other, err := store.Create(ctx, &User{ID: 8, UID: "reader", Role: RoleUser})
	require.NoError(t, err)

	n, err := store.DestroyAllForUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{first, second} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
	_, err = store.Get(ctx, other)
	assert.NoError(t, err)

	n, err = store.DestroyAllForUser(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionStore_RedisDown(t *testing.T) {
	store, mr := newTestSessionStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
