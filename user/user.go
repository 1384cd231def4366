package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	ID           uuid.UUID      `db:"id"`
	Email        sql.NullString `db:"email"`
	PasswordHash sql.NullString `db:"password_hash" json:"-"`
	Name         string         `db:"name"`
	Phone        string         `db:"phone"`
	Role         Role           `db:"role"`
	Auth0ID      sql.NullString `db:"auth0_id"`
	StripeID     sql.NullString `db:"stripe_id"`
	Active       bool           `db:"active"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type Filter struct {
	Role   Role
	Active *bool
}
