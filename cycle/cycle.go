// Package cycle manages the rentable bicycles.
package cycle

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable    Status = "available"
	StatusInUse        Status = "in-use"
	StatusMaintenance  Status = "maintenance"
	StatusOutOfService Status = "out-of-service"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusInUse, StatusMaintenance, StatusOutOfService:
		return true
	}
	return false
}

// Settable reports whether an administrator may move a cycle into s. Only
// the ride lifecycle moves cycles in and out of use.
func (s Status) Settable() bool {
	return s.Valid() && s != StatusInUse
}

// Cycle is a physical bicycle which can be rented.
type Cycle struct {
	// ID is an internal identifier for a cycle
	ID uuid.UUID `db:"id"`
	// Code is printed on the cycle as a QR code (e.g. "CYCLE001") and is what
	// riders scan to start and end a ride.
	Code string `db:"code"`

	StationID   *uuid.UUID `db:"station_id"`
	StationName *string    `db:"station_name"`

	Status Status `db:"status"`

	Model     string `db:"model"`
	Color     string `db:"color"`
	Condition string `db:"condition"`

	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type Filter struct {
	Status    Status
	StationID *uuid.UUID
}
