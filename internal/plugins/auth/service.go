package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keyxmakerx/pitstop/internal/apperror"
	"github.com/keyxmakerx/pitstop/internal/sanitize"
)

// Paging limits for ListUsers.
const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// AuthService defines the business logic contract for accounts, tokens and
// sessions. Handlers call these methods -- they never touch the repository,
// the codec or Redis directly.
type AuthService interface {
	// Accounts.
	Signup(ctx context.Context, input SignupInput) (*User, error)
	BulkSignup(ctx context.Context, entries []BulkSignupEntry) (*BulkSignupResult, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUID(ctx context.Context, uid string) (*User, error)
	ListUsers(ctx context.Context, viewer *User, page, perPage int) ([]UserListing, int, error)
	UpdateUser(ctx context.Context, actor *User, input UpdateInput) (*User, error)
	SetRole(ctx context.Context, actor *User, targetID int64, role Role) (*User, error)
	DeleteUser(ctx context.Context, actor *User, targetID int64) (*User, error)

	// Credentials.
	Authenticate(ctx context.Context, uid, password string) (*User, error)

	// Identity tokens.
	IssueToken(user *User) (string, error)
	RevokeToken(user *User) (string, error)
	TokenTTL() time.Duration

	// Sessions.
	CreateSession(ctx context.Context, user *User) (string, error)
	ValidateSession(ctx context.Context, id string) (*Session, error)
	DestroySession(ctx context.Context, id string) error
	DestroyUserSessions(ctx context.Context, userID int64) (int, error)
}

// ServiceConfig carries the collaborators and settings of the auth service.
type ServiceConfig struct {
	Codec    *TokenCodec
	Sessions SessionStore

	// DefaultPassword is assigned to bulk-created accounts. Empty disables
	// bulk signup.
	DefaultPassword string
}

// authService implements AuthService with argon2id hashing, signed tokens
// and Redis sessions.
type authService struct {
	repo            UserRepository
	codec           *TokenCodec
	sessions        SessionStore
	defaultPassword string
	now             func() time.Time
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(repo UserRepository, cfg ServiceConfig) AuthService {
	return &authService{
		repo:            repo,
		codec:           cfg.Codec,
		sessions:        cfg.Sessions,
		defaultPassword: cfg.DefaultPassword,
		now:             time.Now,
	}
}

// --- Accounts ---

// Signup creates a new account. It validates and sanitizes the input,
// rejects a taken UID, hashes the password with argon2id and persists the
// user. The very first account becomes an Admin so a fresh install can be
// administered.
func (s *authService) Signup(ctx context.Context, input SignupInput) (*User, error) {
	input.UID = strings.TrimSpace(input.UID)
	input.Name = sanitize.DisplayName(input.Name)
	if err := input.Validate(); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	// Check the UID before doing expensive hashing. The unique index still
	// catches a concurrent signup that slips past this check.
	exists, err := s.repo.UIDExists(ctx, input.UID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking uid: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("user ID already exists")
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	role := RoleUser
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("counting users: %w", err))
	}
	if count == 0 {
		role = RoleAdmin
	}

	now := s.now().UTC()
	user := &User{
		UID:          input.UID,
		Name:         input.Name,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user signed up",
		slog.Int64("user_id", user.ID),
		slog.String("uid", user.UID),
		slog.String("role", string(user.Role)),
	)

	return user, nil
}

// BulkSignup creates one account per entry with the configured default
// password. A failing entry is recorded and the batch continues.
func (s *authService) BulkSignup(ctx context.Context, entries []BulkSignupEntry) (*BulkSignupResult, error) {
	if s.defaultPassword == "" {
		return nil, apperror.NewBadRequest("bulk signup is disabled: no default password configured")
	}
	if len(entries) == 0 {
		return nil, apperror.NewBadRequest("no users provided")
	}

	result := &BulkSignupResult{Errors: []string{}}
	for _, entry := range entries {
		_, err := s.Signup(ctx, SignupInput{
			Name:     entry.Name,
			UID:      entry.UID,
			Password: s.defaultPassword,
		})
		if err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", entry.UID, apperror.SafeMessage(err)))
			continue
		}
		result.SuccessCount++
	}

	return result, nil
}

// GetUser returns the account with the given id.
func (s *authService) GetUser(ctx context.Context, id int64) (*User, error) {
	return findUser(s.repo.FindByID(ctx, id))
}

// GetUserByUID returns the account with the given login handle.
func (s *authService) GetUserByUID(ctx context.Context, uid string) (*User, error) {
	return findUser(s.repo.FindByUID(ctx, uid))
}

// findUser passes NotFound through and hides any other repository error.
func findUser(user *User, err error) (*User, error) {
	if err == nil {
		return user, nil
	}
	if apperror.IsNotFound(err) {
		return nil, err
	}
	return nil, apperror.NewInternal(fmt.Errorf("loading user: %w", err))
}

// ListUsers returns a page of accounts, each tagged with the access the
// viewer has to it.
func (s *authService) ListUsers(ctx context.Context, viewer *User, page, perPage int) ([]UserListing, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	perPage = min(perPage, maxPerPage)

	users, total, err := s.repo.List(ctx, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing users: %w", err))
	}

	listings := make([]UserListing, 0, len(users))
	for _, u := range users {
		access := AccessReadOnly
		if viewer.IsAdmin() || viewer.ID == u.ID {
			access = AccessReadWrite
		}
		listings = append(listings, UserListing{User: u, Access: []string{access}})
	}
	return listings, total, nil
}

// UpdateUser changes the display name and/or password of an account. An
// empty TargetUID (or the actor's own UID) targets the actor; any other
// account requires the Admin role. A password change ends every session of
// the target so other browsers must log in again.
func (s *authService) UpdateUser(ctx context.Context, actor *User, input UpdateInput) (*User, error) {
	target, err := s.resolveTarget(ctx, actor, input.TargetUID)
	if err != nil {
		return nil, err
	}

	var update ProfileUpdate
	if input.Name != nil {
		name := sanitize.DisplayName(*input.Name)
		if n := len([]rune(name)); n < minNameLength || n > maxNameLength {
			return nil, apperror.NewBadRequest(fmt.Sprintf(
				"name must be between %d and %d characters", minNameLength, maxNameLength))
		}
		update.Name = &name
	}

	if input.Password != nil {
		if n := len([]rune(*input.Password)); n < minPasswordLength || n > maxPasswordLength {
			return nil, apperror.NewBadRequest(fmt.Sprintf(
				"password must be between %d and %d characters", minPasswordLength, maxPasswordLength))
		}
		hash, err := hashPassword(*input.Password)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
		}
		update.PasswordHash = &hash
	}

	if update.Name != nil || update.PasswordHash != nil {
		if err := s.repo.UpdateProfile(ctx, target.ID, update); err != nil {
			return nil, s.wrapUpdateErr("updating profile", err)
		}
	}
	if update.PasswordHash != nil {
		s.endSessions(ctx, target.ID, "password changed")
	}

	return s.GetUser(ctx, target.ID)
}

// resolveTarget picks the account an update applies to.
func (s *authService) resolveTarget(ctx context.Context, actor *User, uid string) (*User, error) {
	if uid == "" || uid == actor.UID {
		return s.GetUser(ctx, actor.ID)
	}
	if !actor.IsAdmin() {
		return nil, apperror.NewForbidden("only admins can update other users")
	}
	return s.GetUserByUID(ctx, uid)
}

// SetRole changes another account's role. Admins cannot change their own
// role, and the last Admin cannot be demoted. The target's sessions are
// ended so the change is visible on their next request.
func (s *authService) SetRole(ctx context.Context, actor *User, targetID int64, role Role) (*User, error) {
	if !role.IsValid() {
		return nil, apperror.NewBadRequest(fmt.Sprintf("unknown role %q", role))
	}
	if actor.ID == targetID {
		return nil, apperror.NewBadRequest("you cannot change your own role")
	}

	target, err := s.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}
	if target.IsAdmin() {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateRole(ctx, targetID, role); err != nil {
		return nil, s.wrapUpdateErr("updating role", err)
	}
	s.endSessions(ctx, targetID, "role changed")

	slog.Info("user role changed",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("target_id", targetID),
		slog.String("from", string(target.Role)),
		slog.String("to", string(role)),
	)

	target.Role = role
	return target, nil
}

// DeleteUser removes an account and ends its sessions. The last Admin
// cannot be deleted. Tokens already minted for the account stop working
// because the guard reloads the user on every request.
func (s *authService) DeleteUser(ctx context.Context, actor *User, targetID int64) (*User, error) {
	target, err := s.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.IsAdmin() {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Delete(ctx, targetID); err != nil {
		return nil, s.wrapUpdateErr("deleting user", err)
	}
	s.endSessions(ctx, targetID, "account deleted")

	slog.Info("user deleted",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("target_id", targetID),
		slog.String("uid", target.UID),
	)
	return target, nil
}

// ensureAnotherAdmin fails when removing one Admin would leave none.
func (s *authService) ensureAnotherAdmin(ctx context.Context) error {
	admins, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("counting admins: %w", err))
	}
	if admins <= 1 {
		return apperror.NewConflict("cannot remove the last admin")
	}
	return nil
}

func (s *authService) wrapUpdateErr(op string, err error) error {
	if apperror.IsNotFound(err) {
		return err
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}

// endSessions revokes every session of a user. Failure is logged, not
// returned: the account change itself already succeeded.
func (s *authService) endSessions(ctx context.Context, userID int64, reason string) {
	if s.sessions == nil {
		return
	}
	n, err := s.sessions.DestroyAllForUser(ctx, userID)
	if err != nil {
		slog.Warn("failed to end user sessions",
			slog.Int64("user_id", userID),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return
	}
	if n > 0 {
		slog.Info("ended user sessions",
			slog.Int64("user_id", userID),
			slog.String("reason", reason),
			slog.Int("sessions", n),
		)
	}
}

// --- Credentials ---

// Authenticate checks a login handle and password. Unknown handles and
// wrong passwords produce the same 401 and take the same time.
func (s *authService) Authenticate(ctx context.Context, uid, password string) (*User, error) {
	user, err := s.repo.FindByUID(ctx, strings.TrimSpace(uid))
	if err != nil {
		if apperror.IsNotFound(err) {
			verifyPassword(password, dummyHash())
			return nil, apperror.NewUnauthorized("invalid user ID or password")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !verifyPassword(password, user.PasswordHash) {
		return nil, apperror.NewUnauthorized("invalid user ID or password")
	}

	// Non-critical; a failed stamp must not block the login.
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	return user, nil
}

// --- Identity tokens ---

// IssueToken mints a token for user.
func (s *authService) IssueToken(user *User) (string, error) {
	token, err := s.codec.Mint(user)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("minting token: %w", err))
	}
	return token, nil
}

// RevokeToken mints the zero-lifetime replacement written over a client's
// token cookie at logout. Tokens are stateless, so a copy of the old token
// kept elsewhere stays valid until it expires.
func (s *authService) RevokeToken(user *User) (string, error) {
	token, err := s.codec.MintExpired(user)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("minting replacement token: %w", err))
	}
	return token, nil
}

// TokenTTL returns the lifetime of issued tokens.
func (s *authService) TokenTTL() time.Duration {
	return s.codec.TTL()
}

// --- Sessions ---

// CreateSession starts a server-side session for user.
func (s *authService) CreateSession(ctx context.Context, user *User) (string, error) {
	id, err := s.sessions.Create(ctx, user)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}
	return id, nil
}

// ValidateSession returns the session with the given id, or a 401 when it
// is unknown or expired.
func (s *authService) ValidateSession(ctx context.Context, id string) (*Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return session, nil
}

// DestroySession ends one session.
func (s *authService) DestroySession(ctx context.Context, id string) error {
	if err := s.sessions.Destroy(ctx, id); err != nil {
		return apperror.NewInternal(err)
	}
	return nil
}

// DestroyUserSessions ends every session of a user and reports how many
// were ended.
func (s *authService) DestroyUserSessions(ctx context.Context, userID int64) (int, error) {
	n, err := s.sessions.DestroyAllForUser(ctx, userID)
	if err != nil {
		return 0, apperror.NewInternal(err)
	}
	return n, nil
}
