// Package admin provides site-wide administration: account roles, account
// removal, forced logout and the security event log. Every route requires
// the Admin role; the account rules themselves live in the auth service.
package admin

import (
	"time"

	"github.com/keyxmakerx/pitstop/internal/plugins/auth"
)

// SecurityEvent is one row of the site-wide security log.
type SecurityEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Label     string         `json:"label"`
	UserID    int64          `json:"user_id,omitempty"`
	ActorID   int64          `json:"actor_id,omitempty"` // Admin who performed the action.
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`

	// Joined for display, not stored in security_events.
	UserUID  string `json:"user_uid,omitempty"`
	ActorUID string `json:"actor_uid,omitempty"`
}

// SecurityStats holds aggregate counts for the admin overview.
type SecurityStats struct {
	TotalEvents         int `json:"total_events"`
	FailedLogins24h     int `json:"failed_logins_24h"`
	SuccessfulLogins24h int `json:"successful_logins_24h"`
	UniqueIPs24h        int `json:"unique_ips_24h"`
	Users               int `json:"users"`
	Admins              int `json:"admins"`
}

// SetRoleRequest is the body of PUT /api/admin/users/:id/role.
type SetRoleRequest struct {
	Role string `json:"role"`
}

var eventLabels = map[string]string{
	auth.EventSignup:          "Signup",
	auth.EventLoginSuccess:    "Login Success",
	auth.EventLoginFailed:     "Login Failed",
	auth.EventLogout:          "Logout",
	auth.EventTokenIssued:     "Token Issued",
	auth.EventTokenRevoked:    "Token Revoked",
	auth.EventPasswordChanged: "Password Changed",
	auth.EventRoleChanged:     "Role Changed",
	auth.EventUserDeleted:     "User Deleted",
	auth.EventForceLogout:     "Force Logout",
}

// EventTypeLabel returns a human-readable label for a security event type.
// Unknown types are returned unchanged.
func EventTypeLabel(eventType string) string {
	if label, ok := eventLabels[eventType]; ok {
		return label
	}
	return eventType
}
