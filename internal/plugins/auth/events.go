package auth

import "context"

// Security event types emitted by the auth and admin plugins.
const (
	EventSignup          = "signup"
	EventLoginSuccess    = "login.success"
	EventLoginFailed     = "login.failed"
	EventLogout          = "logout"
	EventTokenIssued     = "token.issued"
	EventTokenRevoked    = "token.revoked"
	EventPasswordChanged = "password.changed"
	EventRoleChanged     = "admin.role_changed"
	EventUserDeleted     = "admin.user_deleted"
	EventForceLogout     = "admin.force_logout"
)

// Event describes one security-relevant action. UserID is the account the
// event is about; ActorID is who performed it when that differs (zero
// otherwise).
type Event struct {
	Type      string
	UserID    int64
	ActorID   int64
	IP        string
	UserAgent string
	Details   map[string]any
}

// EventRecorder persists security events. Recording is fire-and-forget: an
// implementation logs its own failures and never blocks the request.
type EventRecorder interface {
	Record(ctx context.Context, event Event)
}

// nopRecorder discards events. Used until the admin plugin wires a real
// recorder in.
type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}
