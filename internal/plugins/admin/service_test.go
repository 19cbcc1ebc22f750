package admin

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/pitstop/internal/apperror"
	"github.com/keyxmakerx/pitstop/internal/plugins/auth"
)

// --- Mock Repository ---

// mockEventRepo implements SecurityEventRepository for testing.
type mockEventRepo struct {
	mu        sync.Mutex
	logged    []SecurityEvent
	logErr    error
	recentIPs int
	ipQueries int

	listFn  func(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error)
	statsFn func(ctx context.Context) (*SecurityStats, error)
}

func (m *mockEventRepo) Log(ctx context.Context, event *SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logErr != nil {
		return m.logErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.logged = append(m.logged, *event)
	return nil
}

func (m *mockEventRepo) List(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, eventType, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockEventRepo) GetStats(ctx context.Context) (*SecurityStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &SecurityStats{}, nil
}

func (m *mockEventRepo) CountRecentByIP(_ context.Context, _, _ string, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ipQueries++
	return m.recentIPs, nil
}

// fixedCounter implements UserCounter.
type fixedCounter struct {
	users, admins int
	err           error
}

func (f fixedCounter) CountUsers(context.Context) (int, error)  { return f.users, f.err }
func (f fixedCounter) CountAdmins(context.Context) (int, error) { return f.admins, f.err }

func TestRecord_PersistsAfterRequestEnds(t *testing.T) {
	repo := &mockEventRepo{}
	svc := NewSecurityService(repo, fixedCounter{})

	ctx, cancel := context.WithCancel(context.Background())
	svc.Record(ctx, auth.Event{
		Type:      auth.EventLoginSuccess,
		UserID:    4,
		IP:        "10.0.0.1",
		UserAgent: "curl/8",
		Details:   map[string]any{"method": "token"},
	})
	cancel()
	svc.Wait()

	require.Len(t, repo.logged, 1)
	got := repo.logged[0]
	assert.Equal(t, auth.EventLoginSuccess, got.EventType)
	assert.Equal(t, int64(4), got.UserID)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
	assert.Equal(t, "token", got.Details["method"])
	assert.Zero(t, repo.ipQueries, "only failed logins are counted per IP")
}

func TestRecord_FailureIsSwallowed(t *testing.T) {
	repo := &mockEventRepo{logErr: errors.New("db down")}
	svc := NewSecurityService(repo, fixedCounter{})

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), auth.Event{Type: auth.EventLogout, UserID: 1})
		svc.Wait()
	})
	assert.Empty(t, repo.logged)
}

func TestRecord_DropsUntypedEvent(t *testing.T) {
	repo := &mockEventRepo{}
	svc := NewSecurityService(repo, fixedCounter{})

	svc.Record(context.Background(), auth.Event{UserID: 1})
	svc.Wait()
	assert.Empty(t, repo.logged)
}

func TestRecord_ChecksFailedLogins(t *testing.T) {
	repo := &mockEventRepo{recentIPs: failedLoginThreshold}
	svc := NewSecurityService(repo, fixedCounter{})

	svc.Record(context.Background(), auth.Event{Type: auth.EventLoginFailed, IP: "10.0.0.9"})
	svc.Wait()

	assert.Len(t, repo.logged, 1)
	assert.Equal(t, 1, repo.ipQueries)
}

func TestListEvents_Paging(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &mockEventRepo{
		listFn: func(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error) {
			gotLimit, gotOffset = limit, offset
			return []SecurityEvent{{ID: 1}}, 51, nil
		},
	}
	svc := NewSecurityService(repo, fixedCounter{})

	_, total, err := svc.ListEvents(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, 51, total)
	assert.Equal(t, securityPerPage, gotLimit)
	assert.Equal(t, securityPerPage, gotOffset)

	_, _, err = svc.ListEvents(context.Background(), "", -3)
	require.NoError(t, err)
	assert.Zero(t, gotOffset)
}

func TestListEvents_RepoError(t *testing.T) {
	repo := &mockEventRepo{
		listFn: func(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error) {
			return nil, 0, errors.New("db down")
		},
	}
	svc := NewSecurityService(repo, fixedCounter{})

	_, _, err := svc.ListEvents(context.Background(), "", 1)
	assert.Equal(t, http.StatusInternalServerError, apperror.SafeCode(err))
}

func TestGetStats_AddsAccountTotals(t *testing.T) {
	repo := &mockEventRepo{
		statsFn: func(ctx context.Context) (*SecurityStats, error) {
			return &SecurityStats{TotalEvents: 7}, nil
		},
	}
	svc := NewSecurityService(repo, fixedCounter{users: 12, admins: 2})

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SecurityStats{TotalEvents: 7, Users: 12, Admins: 2}, stats)

	svc = NewSecurityService(repo, fixedCounter{err: errors.New("db down")})
	_, err = svc.GetStats(context.Background())
	assert.Equal(t, http.StatusInternalServerError, apperror.SafeCode(err))
}
