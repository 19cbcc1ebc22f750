// Package auth handles accounts, password hashing, identity tokens,
// server-side sessions and the guard that protects every authenticated
// route. It is a core plugin: the rest of the application depends on it to
// learn who is making a request.
package auth

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Field limits shared by signup, profile updates and the users table.
const (
	minNameLength     = 2
	maxNameLength     = 100
	minUIDLength      = 2
	maxUIDLength      = 64
	minPasswordLength = 6
	maxPasswordLength = 128
)

// User is a credential record. PasswordHash never leaves the process: it is
// excluded from JSON so no handler can serialize it by accident.
type User struct {
	ID           int64      `json:"id"`
	UID          string     `json:"uid"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// IsAdmin reports whether the user holds the Admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Access modes reported when listing users.
const (
	AccessReadWrite = "rw"
	AccessReadOnly  = "ro"
)

// UserListing is one entry of the user list as seen by a given viewer.
// Access is ["rw"] when the viewer may edit the account (Admins, or the
// account owner) and ["ro"] otherwise.
type UserListing struct {
	User
	Access []string `json:"access"`
}

// Session is the data stored in Redis for each login session. Only the
// user ID is authoritative; the guard reloads the account on every request
// so role changes and deletions take effect immediately.
type Session struct {
	UserID    int64     `json:"user_id"`
	UID       string    `json:"uid"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Request DTOs (bound from JSON or form bodies) ---

// SignupRequest is the body of POST /api/user.
type SignupRequest struct {
	Name     string `json:"name" form:"name"`
	UID      string `json:"uid" form:"uid"`
	Password string `json:"password" form:"password"`
}

// BulkSignupEntry is one account of a POST /api/users body. Bulk-created
// accounts receive the configured default password.
type BulkSignupEntry struct {
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// LoginRequest is the body of POST /api/authenticate and POST /login.
type LoginRequest struct {
	UID      string `json:"uid" form:"uid"`
	Password string `json:"password" form:"password"`
}

// Validate requires both credentials to be present.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UID, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// UpdateRequest is the body of PUT /api/user. Nil fields are left
// unchanged. UID selects the target account; only Admins may name an
// account other than their own.
type UpdateRequest struct {
	UID      string  `json:"uid"`
	Name     *string `json:"name"`
	Password *string `json:"password"`
}

// Validate checks the bounds of the fields being changed.
func (r UpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UID, validation.RuneLength(minUIDLength, maxUIDLength)),
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.RuneLength(minNameLength, maxNameLength)),
		validation.Field(&r.Password, validation.NilOrNotEmpty, validation.RuneLength(minPasswordLength, maxPasswordLength)),
	)
}

// DeleteRequest is the body of DELETE /api/user.
type DeleteRequest struct {
	UID string `json:"uid"`
}

// --- Service inputs ---

// SignupInput is the input for creating an account.
type SignupInput struct {
	Name     string
	UID      string
	Password string
}

// Validate checks field presence and length bounds.
func (in SignupInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(minNameLength, maxNameLength)),
		validation.Field(&in.UID, validation.Required, validation.RuneLength(minUIDLength, maxUIDLength)),
		validation.Field(&in.Password, validation.Required, validation.RuneLength(minPasswordLength, maxPasswordLength)),
	)
}

// BulkSignupResult summarizes a bulk signup. Failures do not abort the
// batch; each one is reported in Errors.
type BulkSignupResult struct {
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
	Errors       []string `json:"errors"`
}

// UpdateInput is the validated input for a profile update.
type UpdateInput struct {
	TargetUID string
	Name      *string
	Password  *string
}

// ProfileUpdate holds the columns a profile update writes. Nil fields are
// left unchanged.
type ProfileUpdate struct {
	Name         *string
	PasswordHash *string
}
