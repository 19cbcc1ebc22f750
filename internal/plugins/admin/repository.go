package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keyxmakerx/pitstop/internal/plugins/auth"
)

// SecurityEventRepository defines the data access contract for security events.
type SecurityEventRepository interface {
	// Log inserts a new security event into the database.
	Log(ctx context.Context, event *SecurityEvent) error

	// List returns paginated security events, most recent first. Optional
	// eventType filter narrows results to a specific event type.
	List(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error)

	// GetStats returns aggregate event counts.
	GetStats(ctx context.Context) (*SecurityStats, error)

	// CountRecentByIP returns the number of events of one type from a
	// specific IP in the given window.
	CountRecentByIP(ctx context.Context, ip, eventType string, since time.Duration) (int, error)
}

// securityEventRepository implements SecurityEventRepository with MariaDB.
type securityEventRepository struct {
	db *sql.DB
}

// NewSecurityEventRepository creates a new repository backed by the given DB.
func NewSecurityEventRepository(db *sql.DB) SecurityEventRepository {
	return &securityEventRepository{db: db}
}

// Log inserts a new security event. Details are serialized to JSON.
func (r *securityEventRepository) Log(ctx context.Context, event *SecurityEvent) error {
	query := `INSERT INTO security_events (event_type, user_id, actor_id, ip_address, user_agent, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	var details any
	if len(event.Details) > 0 {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling security event details: %w", err)
		}
		details = encoded
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		event.EventType, nullableID(event.UserID), nullableID(event.ActorID),
		event.IPAddress, truncate(event.UserAgent, maxUserAgentLength),
		details, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	id, _ := result.LastInsertId()
	event.ID = id
	return nil
}

// maxUserAgentLength matches the user_agent column width.
const maxUserAgentLength = 500

// nullableID stores a zero account id as NULL to satisfy the foreign keys.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// List returns paginated security events with user and actor handles.
func (r *securityEventRepository) List(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error) {
	countQuery := `SELECT COUNT(*) FROM security_events`
	countArgs := []any{}
	if eventType != "" {
		countQuery += ` WHERE event_type = ?`
		countArgs = append(countArgs, eventType)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	query := `SELECT se.id, se.event_type, se.user_id, se.actor_id,
	                 se.ip_address, se.user_agent, se.details, se.created_at,
	                 COALESCE(u.uid, '') AS user_uid,
	                 COALESCE(a.uid, '') AS actor_uid
	          FROM security_events se
	          LEFT JOIN users u ON u.id = se.user_id
	          LEFT JOIN users a ON a.id = se.actor_id`

	args := []any{}
	if eventType != "" {
		query += ` WHERE se.event_type = ?`
		args = append(args, eventType)
	}

	query += ` ORDER BY se.created_at DESC, se.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	events := []SecurityEvent{}
	for rows.Next() {
		var (
			e           SecurityEvent
			userID      sql.NullInt64
			actorID     sql.NullInt64
			detailsJSON sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.EventType, &userID, &actorID,
			&e.IPAddress, &e.UserAgent, &detailsJSON, &e.CreatedAt,
			&e.UserUID, &e.ActorUID,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning security event: %w", err)
		}

		e.UserID = userID.Int64
		e.ActorID = actorID.Int64
		e.Label = EventTypeLabel(e.EventType)
		if detailsJSON.Valid && detailsJSON.String != "" {
			if jsonErr := json.Unmarshal([]byte(detailsJSON.String), &e.Details); jsonErr != nil {
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating security events: %w", err)
	}

	return events, total, nil
}

// GetStats returns aggregate event counts for the last 24 hours and overall.
func (r *securityEventRepository) GetStats(ctx context.Context) (*SecurityStats, error) {
	stats := &SecurityStats{}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE event_type = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR)`,
		auth.EventLoginFailed,
	).Scan(&stats.FailedLogins24h); err != nil {
		return nil, fmt.Errorf("counting failed logins: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE event_type = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR)`,
		auth.EventLoginSuccess,
	).Scan(&stats.SuccessfulLogins24h); err != nil {
		return nil, fmt.Errorf("counting successful logins: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ip_address) FROM security_events WHERE created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR) AND ip_address != ''`,
	).Scan(&stats.UniqueIPs24h); err != nil {
		return nil, fmt.Errorf("counting unique IPs: %w", err)
	}

	return stats, nil
}

// CountRecentByIP returns the number of events from a specific IP in the
// given time window.
func (r *securityEventRepository) CountRecentByIP(ctx context.Context, ip, eventType string, since time.Duration) (int, error) {
	query := `SELECT COUNT(*) FROM security_events
	          WHERE ip_address = ? AND event_type = ?
	          AND created_at >= DATE_SUB(NOW(), INTERVAL ? SECOND)`

	var count int
	if err := r.db.QueryRowContext(ctx, query, ip, eventType, int(since.Seconds())).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting recent events by IP: %w", err)
	}

	return count, nil
}
