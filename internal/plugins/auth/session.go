package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout. Each session lives under session:<id>; the set under
// user_sessions:<user id> indexes a user's sessions so they can all be
// revoked at once.
const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// sessionTokenBytes is the number of random bytes in a session id.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// ErrSessionNotFound is returned when a session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists server-side login sessions.
type SessionStore interface {
	// Create starts a session for user and returns its id.
	Create(ctx context.Context, user *User) (string, error)

	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Destroy removes one session. Unknown ids are not an error.
	Destroy(ctx context.Context, id string) error

	// DestroyAllForUser removes every session of a user and returns how
	// many were removed.
	DestroyAllForUser(ctx context.Context, userID int64) (int, error)
}

// redisSessionStore implements SessionStore on Redis with key expiry as the
// session lifetime.
type redisSessionStore struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) SessionStore {
	return &redisSessionStore{redis: rdb, ttl: ttl, now: time.Now}
}

// Create generates a random id and stores the session with the configured
// TTL. The per-user index expires with the newest session.
func (s *redisSessionStore) Create(ctx context.Context, user *User) (string, error) {
	id, err := generateSessionToken()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}

	data, err := json.Marshal(Session{
		UserID:    user.ID,
		UID:       user.UID,
		Role:      user.Role,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	indexKey := userSessionKey(user.ID)
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+id, data, s.ttl)
	pipe.SAdd(ctx, indexKey, id)
	pipe.Expire(ctx, indexKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("storing session in redis: %w", err)
	}

	return id, nil
}

// Get loads a session by id.
func (s *redisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	data, err := s.redis.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &session, nil
}

// Destroy deletes a session and drops it from its owner's index.
func (s *redisSessionStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	session, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.SRem(ctx, userSessionKey(session.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session from redis: %w", err)
	}
	return nil
}

// DestroyAllForUser deletes every session listed in the user's index.
// Index members whose session already expired are not counted.
func (s *redisSessionStore) DestroyAllForUser(ctx context.Context, userID int64) (int, error) {
	indexKey := userSessionKey(userID)

	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("listing user sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}

	pipe := s.redis.TxPipeline()
	deleted := pipe.Del(ctx, keys...)
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	return int(deleted.Val()), nil
}

func userSessionKey(userID int64) string {
	return userSessionKeyPrefix + strconv.FormatInt(userID, 10)
}

// generateSessionToken creates a cryptographically random hex-encoded id.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
