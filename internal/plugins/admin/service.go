package admin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keyxmakerx/pitstop/internal/apperror"
	"github.com/keyxmakerx/pitstop/internal/plugins/auth"
)

// securityPerPage is the number of security events returned per page.
const securityPerPage = 50

// Failed logins from one IP inside failedLoginWindow that trigger a warning.
const (
	failedLoginThreshold = 5
	failedLoginWindow    = 15 * time.Minute
)

// recordTimeout bounds a single background insert.
const recordTimeout = 5 * time.Second

// UserCounter reports account totals. Satisfied by auth.UserRepository.
type UserCounter interface {
	CountUsers(ctx context.Context) (int, error)
	CountAdmins(ctx context.Context) (int, error)
}

// SecurityService records and queries the security event log. It is the
// auth plugin's EventRecorder.
type SecurityService interface {
	auth.EventRecorder

	// ListEvents returns paginated security events, optionally filtered by type.
	ListEvents(ctx context.Context, eventType string, page int) ([]SecurityEvent, int, error)

	// GetStats returns aggregate security statistics.
	GetStats(ctx context.Context) (*SecurityStats, error)

	// Wait blocks until every event handed to Record has been written.
	// Called on shutdown.
	Wait()
}

// securityService implements SecurityService.
type securityService struct {
	repo    SecurityEventRepository
	counter UserCounter
	pending sync.WaitGroup
}

// NewSecurityService creates a new security service.
func NewSecurityService(repo SecurityEventRepository, counter UserCounter) SecurityService {
	return &securityService{repo: repo, counter: counter}
}

// Record persists event in the background. The request that produced it
// never waits for the insert and never sees its failure; failures are
// logged.
func (s *securityService) Record(ctx context.Context, event auth.Event) {
	if event.Type == "" {
		slog.Warn("dropping security event without a type")
		return
	}

	row := &SecurityEvent{
		EventType: event.Type,
		UserID:    event.UserID,
		ActorID:   event.ActorID,
		IPAddress: event.IP,
		UserAgent: event.UserAgent,
		Details:   event.Details,
	}

	// The request context is cancelled as soon as the response is written.
	bg := context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(bg, recordTimeout)
		defer cancel()

		if err := s.repo.Log(ctx, row); err != nil {
			slog.Error("failed to log security event",
				slog.String("event_type", row.EventType),
				slog.String("ip", row.IPAddress),
				slog.Any("error", err),
			)
			return
		}

		if row.EventType == auth.EventLoginFailed && row.IPAddress != "" {
			s.checkFailedLogins(ctx, row.IPAddress)
		}
	}()
}

// checkFailedLogins warns when one IP keeps failing to log in.
func (s *securityService) checkFailedLogins(ctx context.Context, ip string) {
	count, err := s.repo.CountRecentByIP(ctx, ip, auth.EventLoginFailed, failedLoginWindow)
	if err != nil {
		slog.Warn("failed to count recent failed logins", slog.String("ip", ip), slog.Any("error", err))
		return
	}
	if count >= failedLoginThreshold {
		slog.Warn("repeated failed logins",
			slog.String("ip", ip),
			slog.Int("count", count),
			slog.Duration("window", failedLoginWindow),
		)
	}
}

// Wait blocks until all background inserts have finished.
func (s *securityService) Wait() {
	s.pending.Wait()
}

// ListEvents returns paginated security events.
func (s *securityService) ListEvents(ctx context.Context, eventType string, page int) ([]SecurityEvent, int, error) {
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * securityPerPage
	events, total, err := s.repo.List(ctx, eventType, securityPerPage, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing security events: %w", err))
	}

	return events, total, nil
}

// GetStats returns aggregate security statistics with account totals.
func (s *securityService) GetStats(ctx context.Context) (*SecurityStats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("getting security stats: %w", err))
	}

	if stats.Users, err = s.counter.CountUsers(ctx); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("counting users: %w", err))
	}
	if stats.Admins, err = s.counter.CountAdmins(ctx); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("counting admins: %w", err))
	}

	return stats, nil
}
