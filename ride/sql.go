package ride

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/cycleshare-backend/internal/paging"
	"github.com/semanticallynull/cycleshare-backend/internal/pgutil"
)

// Partial unique indexes enforcing one active ride per user and per cycle.
const (
	activePerUserIndex  = "rides_one_active_per_user"
	activePerCycleIndex = "rides_one_active_per_cycle"
)

type Repository struct {
	db *sqlx.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

const rideColumns = `r.id, r.user_id, r.cycle_id, c.code AS cycle_code, r.start_station_id, r.end_station_id,
	r.started_at, r.ended_at, r.duration_minutes, r.distance_km, r.status, r.rating, r.comment`

const rideFrom = ` FROM rides r JOIN cycles c ON c.id = r.cycle_id`

const returningColumns = `id, user_id, cycle_id, start_station_id, end_station_id, started_at, ended_at,
	duration_minutes, distance_km, status, rating, comment`

func (r *Repository) ActiveRide(ctx context.Context, userID uuid.UUID) (Ride, error) {
	var ride Ride
	err := r.db.GetContext(ctx, &ride, activeRideQuery, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ride, ErrNoActiveRide
	}
	return ride, err
}

const activeRideQuery = `SELECT ` + rideColumns + rideFrom + ` WHERE r.user_id = $1 AND r.status = 'active'`

func (r *Repository) GetRide(ctx context.Context, id uuid.UUID) (Ride, error) {
	var ride Ride
	err := r.db.GetContext(ctx, &ride, getRideQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ride, ErrNotFound
	}
	return ride, err
}

const getRideQuery = `SELECT ` + rideColumns + rideFrom + ` WHERE r.id = $1`

func (r *Repository) Start(ctx context.Context, ride Ride) (Ride, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Ride{}, err
	}
	defer tx.Rollback()

	// The conditional update is the compare-and-set on the cycle: of two
	// racing starts, the second waits on the row lock and then matches no row.
	res, err := tx.ExecContext(ctx, claimCycleQuery, ride.CycleID)
	if err != nil {
		return Ride{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Ride{}, err
	}
	if n == 0 {
		return Ride{}, ErrCycleUnavailable
	}

	_, err = tx.ExecContext(ctx, startRideQuery,
		ride.ID, ride.UserID, ride.CycleID, ride.StartStationID, ride.StartedAt)
	if name, ok := pgutil.UniqueViolation(err); ok {
		if name == activePerCycleIndex {
			return Ride{}, ErrCycleUnavailable
		}
		return Ride{}, ErrRideInProgress
	}
	if err != nil {
		return Ride{}, err
	}

	if err := tx.Commit(); err != nil {
		return Ride{}, err
	}
	return ride, nil
}

const claimCycleQuery = `
UPDATE cycles SET status = 'in-use', updated_at = now()
WHERE id = $1 AND active AND status = 'available'
`

const startRideQuery = `
INSERT INTO rides (id, user_id, cycle_id, start_station_id, started_at, status)
VALUES ($1, $2, $3, $4, $5, 'active')
`

func (r *Repository) Complete(ctx context.Context, ride Ride) (Ride, error) {
	return r.finish(ctx, ride, completeRideQuery,
		ride.ID, ride.EndedAt, ride.EndStationID, ride.DurationMinutes, ride.DistanceKm, ride.Rating, ride.Comment)
}

const completeRideQuery = `
UPDATE rides
SET status = 'completed', ended_at = $2, end_station_id = $3, duration_minutes = $4, distance_km = $5,
    rating = $6, comment = $7
WHERE id = $1 AND status = 'active'
RETURNING ` + returningColumns

func (r *Repository) Cancel(ctx context.Context, ride Ride) (Ride, error) {
	return r.finish(ctx, ride, cancelRideQuery, ride.ID, ride.EndedAt)
}

const cancelRideQuery = `
UPDATE rides SET status = 'cancelled', ended_at = $2
WHERE id = $1 AND status = 'active'
RETURNING ` + returningColumns

// finish moves an active ride into a terminal state and releases its cycle
// in the same transaction. Completed rides leave the cycle at their
// destination; cancelled ones leave it where it was.
func (r *Repository) finish(ctx context.Context, ride Ride, query string, args ...any) (Ride, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Ride{}, err
	}
	defer tx.Rollback()

	var done Ride
	err = tx.GetContext(ctx, &done, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return Ride{}, ErrNoActiveRide
	}
	if err != nil {
		return Ride{}, err
	}

	_, err = tx.ExecContext(ctx, releaseCycleQuery, done.CycleID, done.EndStationID)
	if err != nil {
		return Ride{}, err
	}

	if err := tx.Commit(); err != nil {
		return Ride{}, err
	}
	done.CycleCode = ride.CycleCode
	return done, nil
}

const releaseCycleQuery = `
UPDATE cycles SET status = 'available', station_id = COALESCE($2::uuid, station_id), updated_at = now()
WHERE id = $1 AND status = 'in-use'
`

// History lists a user's completed rides, most recent first.
func (r *Repository) History(ctx context.Context, userID uuid.UUID, page paging.Request) ([]Ride, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, countHistoryQuery, userID); err != nil {
		return nil, 0, err
	}
	rides := []Ride{}
	err := r.db.SelectContext(ctx, &rides, historyQuery, userID, page.Limit, page.Offset())
	return rides, total, err
}

const countHistoryQuery = `SELECT count(*) FROM rides WHERE user_id = $1 AND status = 'completed'`

const historyQuery = `SELECT ` + rideColumns + rideFrom + `
WHERE r.user_id = $1 AND r.status = 'completed'
ORDER BY r.ended_at DESC, r.id DESC
LIMIT $2 OFFSET $3`

func (r *Repository) ListRides(ctx context.Context, status Status, page paging.Request) ([]Ride, int, error) {
	cond := ""
	args := []any{}
	if status != "" {
		cond = " WHERE r.status = $1"
		args = append(args, string(status))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT count(*) FROM rides r"+cond, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	query := `SELECT ` + rideColumns + rideFrom + cond +
		fmt.Sprintf(" ORDER BY r.started_at DESC, r.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rides := []Ride{}
	err := r.db.SelectContext(ctx, &rides, query, args...)
	return rides, total, err
}

func (r *Repository) Totals(ctx context.Context, userID uuid.UUID) (Totals, error) {
	var t Totals
	err := r.db.GetContext(ctx, &t, totalsQuery, userID)
	return t, err
}

const totalsQuery = `
SELECT count(*) AS rides,
       COALESCE(sum(duration_minutes), 0) AS minutes,
       COALESCE(sum(ceil(duration_minutes / 60.0)), 0)::bigint AS billable_hours
FROM rides
WHERE user_id = $1 AND status = 'completed'
`

// Reconcile repairs cycles whose status disagrees with the ride table. It
// should find nothing; a non-zero result means a write bypassed the
// lifecycle transactions.
func (r *Repository) Reconcile(ctx context.Context) (released, claimed int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, releaseOrphanedCyclesQuery)
	if err != nil {
		return 0, 0, err
	}
	if released, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, claimRiddenCyclesQuery)
	if err != nil {
		return 0, 0, err
	}
	if claimed, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	return released, claimed, tx.Commit()
}

const releaseOrphanedCyclesQuery = `
UPDATE cycles c SET status = 'available', updated_at = now()
WHERE c.status = 'in-use'
  AND NOT EXISTS (SELECT 1 FROM rides r WHERE r.cycle_id = c.id AND r.status = 'active')
`

const claimRiddenCyclesQuery = `
UPDATE cycles c SET status = 'in-use', updated_at = now()
WHERE c.status <> 'in-use'
  AND EXISTS (SELECT 1 FROM rides r WHERE r.cycle_id = c.id AND r.status = 'active')
`
