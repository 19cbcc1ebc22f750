package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/pitstop/internal/apperror"
)

// mysqlDuplicateEntry is the MariaDB error number for unique key violations.
const mysqlDuplicateEntry = 1062

// UserFinder loads a credential record by id. It is the only repository
// capability the guard needs.
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*User, error)
}

// UserRepository defines the data access contract for credential records.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	UserFinder

	Create(ctx context.Context, user *User) error
	FindByUID(ctx context.Context, uid string) (*User, error)
	UIDExists(ctx context.Context, uid string) (bool, error)
	List(ctx context.Context, offset, limit int) ([]User, int, error)
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) error
	UpdateRole(ctx context.Context, id int64, role Role) error
	UpdateLastLogin(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (int, error)
	CountAdmins(ctx context.Context) (int, error)
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// userColumns is the column list every single-row query selects, in the
// order scanUser expects.
const userColumns = `id, uid, name, password_hash, role, created_at, updated_at, last_login_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.UID,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	return user, err
}

// Create inserts a new user row and fills in the generated id. A duplicate
// UID becomes a 409 even when two signups race past UIDExists.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (uid, name, password_hash, role, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		user.UID,
		user.Name,
		user.PasswordHash,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return apperror.NewConflict("user ID already exists")
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted user id: %w", err)
	}
	user.ID = id
	return nil
}

// FindByID retrieves a user by numeric id.
// Returns apperror.NotFound if no user exists with this id.
func (r *userRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

// FindByUID retrieves a user by login handle. The uid column uses a binary
// collation so the match is case-sensitive.
// Returns apperror.NotFound if no user exists with this handle.
func (r *userRepository) FindByUID(ctx context.Context, uid string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE uid = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by uid: %w", err)
	}
	return user, nil
}

// UIDExists checks whether a login handle is already taken.
func (r *userRepository) UIDExists(ctx context.Context, uid string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE uid = ?)`, uid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking uid existence: %w", err)
	}
	return exists, nil
}

// List returns a page of users ordered by id plus the total count.
func (r *userRepository) List(ctx context.Context, offset, limit int) ([]User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, total, nil
}

// UpdateProfile writes the non-nil fields of update in one statement.
func (r *userRepository) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) error {
	var sets []string
	var args []any
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *update.PasswordHash)
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	return r.updateOne(ctx, "updating profile", query, append(args, id)...)
}

// UpdateRole changes a user's role.
func (r *userRepository) UpdateRole(ctx context.Context, id int64, role Role) error {
	return r.updateOne(ctx, "updating role",
		`UPDATE users SET role = ? WHERE id = ?`, role, id)
}

// UpdateLastLogin stamps the current time as the user's last login.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = NOW() WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// Delete removes a user row. Returns apperror.NotFound if nothing matched.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading deleted rows: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// CountUsers returns the total number of accounts.
func (r *userRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// CountAdmins returns the number of accounts holding the Admin role.
func (r *userRepository) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = ?`, RoleAdmin,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return count, nil
}

// updateOne runs an UPDATE that must hit exactly one existing row. MariaDB
// reports 0 affected rows when the new value equals the old one, so a miss
// is confirmed with a lookup before reporting NotFound.
func (r *userRepository) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	id := args[len(args)-1]
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return apperror.NewNotFound("user not found")
	}
	return nil
}
