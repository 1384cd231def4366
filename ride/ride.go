// Package ride owns the rental lifecycle: a ride is started by scanning an
// available cycle, and is either completed at a station or cancelled. Every
// transition moves the ride and its cycle together.
package ride

import (
	"database/sql"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusCancelled
}

type Ride struct {
	ID              uuid.UUID       `db:"id"`
	UserID          uuid.UUID       `db:"user_id"`
	CycleID         uuid.UUID       `db:"cycle_id"`
	CycleCode       string          `db:"cycle_code"`
	StartStationID  uuid.UUID       `db:"start_station_id"`
	EndStationID    *uuid.UUID      `db:"end_station_id"`
	StartedAt       time.Time       `db:"started_at"`
	EndedAt         sql.NullTime    `db:"ended_at"`
	DurationMinutes sql.NullInt32   `db:"duration_minutes"`
	DistanceKm      sql.NullFloat64 `db:"distance_km"`
	Status          Status          `db:"status"`
	Rating          sql.NullInt16   `db:"rating"`
	Comment         sql.NullString  `db:"comment"`
}

// Cost is the charge for a completed ride in cents. Active and cancelled
// rides cost nothing.
func (r Ride) Cost(ratePerHour int64) int64 {
	if r.Status != StatusCompleted || !r.DurationMinutes.Valid {
		return 0
	}
	return Cost(int(r.DurationMinutes.Int32), ratePerHour)
}

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 500
)

type Feedback struct {
	Rating  int
	Comment string
}

func (f Feedback) Validate() error {
	if f.Rating < MinRating || f.Rating > MaxRating {
		return apperr.Invalid("feedback.rating", "must be between 1 and 5")
	}
	if utf8.RuneCountInString(f.Comment) > MaxCommentLength {
		return apperr.Invalid("feedback.comment", "must be at most 500 characters")
	}
	return nil
}

// DurationMinutes rounds the elapsed time between start and end to the
// nearest whole minute.
func DurationMinutes(start, end time.Time) int {
	ms := end.Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return int(math.Round(float64(ms) / 60000))
}

// BillableHours is the number of started hours in a ride of the given length.
func BillableHours(minutes int) int64 {
	if minutes <= 0 {
		return 0
	}
	return int64((minutes + 59) / 60)
}

// Cost charges every started hour at ratePerHour.
func Cost(minutes int, ratePerHour int64) int64 {
	return BillableHours(minutes) * ratePerHour
}

// Totals is the raw aggregate over a rider's completed rides.
type Totals struct {
	Rides         int   `db:"rides"`
	Minutes       int   `db:"minutes"`
	BillableHours int64 `db:"billable_hours"`
}

type Stats struct {
	TotalRides    int
	TotalDuration int
	TotalCost     int64
	AvgDuration   float64
}

func NewStats(t Totals, ratePerHour int64) Stats {
	s := Stats{
		TotalRides:    t.Rides,
		TotalDuration: t.Minutes,
		TotalCost:     t.BillableHours * ratePerHour,
	}
	if t.Rides > 0 {
		s.AvgDuration = float64(t.Minutes) / float64(t.Rides)
	}
	return s
}
