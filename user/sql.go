package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/internal/paging"
	"github.com/semanticallynull/cycleshare-backend/internal/pgutil"
)

var (
	ErrNotFound    = apperr.New(apperr.NotFound, "user not found")
	ErrEmailTaken  = apperr.New(apperr.Conflict, "email already registered")
	ErrInvalidRole = apperr.New(apperr.Validation, "invalid role")
	ErrActiveRide  = apperr.New(apperr.InvalidState, "user has an active ride")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

const userColumns = `id, email, password_hash, name, phone, role, auth0_id, stripe_id, active, created_at, updated_at`

// GetUser returns a user whether or not it is active; callers decide what
// an inactive user may do.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, getUserQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

const getUserQuery = "SELECT " + userColumns + " FROM users WHERE id = $1"

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, getUserByEmailQuery, NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

const getUserByEmailQuery = "SELECT " + userColumns + " FROM users WHERE email = $1"

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Email.Valid {
		u.Email.String = NormalizeEmail(u.Email.String)
	}
	now := time.Now().UTC()
	u.Active = true
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, createUserQuery,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Phone, string(u.Role), u.Auth0ID, u.CreatedAt, u.UpdatedAt)
	if _, ok := pgutil.UniqueViolation(err); ok {
		return ErrEmailTaken
	}
	return err
}

const createUserQuery = `
INSERT INTO users (id, email, password_hash, name, phone, role, auth0_id, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $9)
`

// GetOrCreateByAuth0ID returns the user linked to an Auth0 subject,
// provisioning a new rider the first time the subject is seen. created
// reports whether the row was inserted by this call.
func (r *Repository) GetOrCreateByAuth0ID(ctx context.Context, auth0ID string) (u User, created bool, err error) {
	err = r.db.GetContext(ctx, &u, getUserByAuth0IDQuery, auth0ID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return u, false, err
	}

	res, err := r.db.ExecContext(ctx, createAuth0UserQuery, uuid.New(), auth0ID)
	if err != nil {
		return u, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return u, false, err
	}
	err = r.db.GetContext(ctx, &u, getUserByAuth0IDQuery, auth0ID)
	return u, n > 0, err
}

const getUserByAuth0IDQuery = "SELECT " + userColumns + " FROM users WHERE auth0_id = $1"

const createAuth0UserQuery = `
INSERT INTO users (id, auth0_id, role, active, created_at, updated_at)
VALUES ($1, $2, 'user', true, now(), now())
ON CONFLICT (auth0_id) DO NOTHING
`

func (r *Repository) AddStripeID(ctx context.Context, id uuid.UUID, stripeID string) error {
	_, err := r.db.ExecContext(ctx, addStripeIDQuery, stripeID, id)
	return err
}

const addStripeIDQuery = "UPDATE users SET stripe_id = $1, updated_at = now() WHERE id = $2"

// UpdateProfile overwrites the editable profile fields. Empty email clears it.
func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, email, name, phone string) (User, error) {
	_, err := r.db.ExecContext(ctx, updateProfileQuery, NormalizeEmail(email), name, phone, id)
	if _, ok := pgutil.UniqueViolation(err); ok {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, err
	}
	return r.GetUser(ctx, id)
}

const updateProfileQuery = `UPDATE users SET email = NULLIF($1, ''), name = $2, phone = $3, updated_at = now() WHERE id = $4`

func (r *Repository) GetUsers(ctx context.Context, f Filter, page paging.Request) ([]User, int, error) {
	var where []string
	var args []any
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT count(*) FROM users"+cond, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	query := "SELECT " + userColumns + " FROM users" + cond +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	users := []User{}
	err := r.db.SelectContext(ctx, &users, query, args...)
	return users, total, err
}

func (r *Repository) SetRole(ctx context.Context, id uuid.UUID, role Role) (User, error) {
	if !role.Valid() {
		return User{}, ErrInvalidRole
	}
	res, err := r.db.ExecContext(ctx, setRoleQuery, string(role), id)
	if err != nil {
		return User{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return User{}, err
	} else if n == 0 {
		return User{}, ErrNotFound
	}
	return r.GetUser(ctx, id)
}

const setRoleQuery = "UPDATE users SET role = $1, updated_at = now() WHERE id = $2"

// DeleteUser deactivates an account which has no ride in progress. Ride
// history is retained.
func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, deleteUserQuery, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	u, err := r.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !u.Active {
		return ErrNotFound
	}
	return ErrActiveRide
}

const deleteUserQuery = `
UPDATE users SET active = false, updated_at = now()
WHERE id = $1 AND active
  AND NOT EXISTS (SELECT 1 FROM rides WHERE user_id = $1 AND status = 'active')
`
