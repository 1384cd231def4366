// Package dashboard computes the read-only aggregates shown to operators.
// Nothing here is cached: every call recomputes from the ride table.
package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	DefaultDays  = 30
	MaxDays      = 365
	TopStations  = 10
	revenueLabel = "2006-01-02"
)

type Overview struct {
	Users         int   `db:"users" json:"users"`
	Stations      int   `db:"stations" json:"stations"`
	Cycles        int   `db:"cycles" json:"cycles"`
	Available     int   `db:"available" json:"availableCycles"`
	InUse         int   `db:"in_use" json:"inUseCycles"`
	Maintenance   int   `db:"maintenance" json:"maintenanceCycles"`
	OutOfService  int   `db:"out_of_service" json:"outOfServiceCycles"`
	ActiveRides   int   `db:"active_rides" json:"activeRides"`
	Completed     int   `db:"completed_rides" json:"completedRides"`
	Cancelled     int   `db:"cancelled_rides" json:"cancelledRides"`
	BillableHours int64 `db:"billable_hours" json:"-"`
	Revenue       int64 `db:"-" json:"totalRevenue"`
}

type DailyRevenue struct {
	Day           time.Time `db:"day" json:"-"`
	Date          string    `db:"-" json:"date"`
	Rides         int       `db:"rides" json:"rides"`
	BillableHours int64     `db:"billable_hours" json:"-"`
	Revenue       int64     `db:"-" json:"revenue"`
}

type StationUsage struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Departures  int       `db:"departures" json:"departures"`
	Arrivals    int       `db:"arrivals" json:"arrivals"`
	AvgDuration float64   `db:"avg_duration" json:"avgDuration"`
}

// ClampDays bounds the revenue window to [1, MaxDays], defaulting when unset.
func ClampDays(days int) int {
	if days < 1 {
		return DefaultDays
	}
	return min(days, MaxDays)
}

type Repository struct {
	db          *sqlx.DB
	ratePerHour int64
}

func NewRepository(db *sqlx.DB, ratePerHour int64) *Repository {
	return &Repository{
		db:          db,
		ratePerHour: ratePerHour,
	}
}

func (r *Repository) Overview(ctx context.Context) (Overview, error) {
	var o Overview
	if err := r.db.GetContext(ctx, &o, overviewQuery); err != nil {
		return Overview{}, err
	}
	o.Revenue = o.BillableHours * r.ratePerHour
	return o, nil
}

const overviewQuery = `
SELECT
  (SELECT count(*) FROM users WHERE active) AS users,
  (SELECT count(*) FROM stations WHERE active) AS stations,
  (SELECT count(*) FROM cycles WHERE active) AS cycles,
  (SELECT count(*) FROM cycles WHERE active AND status = 'available') AS available,
  (SELECT count(*) FROM cycles WHERE active AND status = 'in-use') AS in_use,
  (SELECT count(*) FROM cycles WHERE active AND status = 'maintenance') AS maintenance,
  (SELECT count(*) FROM cycles WHERE active AND status = 'out-of-service') AS out_of_service,
  (SELECT count(*) FROM rides WHERE status = 'active') AS active_rides,
  (SELECT count(*) FROM rides WHERE status = 'completed') AS completed_rides,
  (SELECT count(*) FROM rides WHERE status = 'cancelled') AS cancelled_rides,
  (SELECT COALESCE(sum(ceil(duration_minutes / 60.0)), 0)::bigint FROM rides WHERE status = 'completed') AS billable_hours
`

// Revenue returns one entry per day with completed rides in the last days
// days, oldest first.
func (r *Repository) Revenue(ctx context.Context, days int, now time.Time) ([]DailyRevenue, error) {
	since := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(ClampDays(days) - 1))

	out := []DailyRevenue{}
	if err := r.db.SelectContext(ctx, &out, revenueQuery, since); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Date = out[i].Day.Format(revenueLabel)
		out[i].Revenue = out[i].BillableHours * r.ratePerHour
	}
	return out, nil
}

const revenueQuery = `
SELECT date_trunc('day', ended_at AT TIME ZONE 'UTC') AS day,
       count(*) AS rides,
       COALESCE(sum(ceil(duration_minutes / 60.0)), 0)::bigint AS billable_hours
FROM rides
WHERE status = 'completed' AND ended_at >= $1
GROUP BY 1
ORDER BY 1
`

// Stations ranks stations by completed departures.
func (r *Repository) Stations(ctx context.Context, limit int) ([]StationUsage, error) {
	if limit < 1 {
		limit = TopStations
	}
	out := []StationUsage{}
	err := r.db.SelectContext(ctx, &out, stationsQuery, limit)
	return out, err
}

const stationsQuery = `
SELECT s.id, s.name,
       count(*) FILTER (WHERE r.start_station_id = s.id) AS departures,
       count(*) FILTER (WHERE r.end_station_id = s.id) AS arrivals,
       COALESCE(avg(r.duration_minutes) FILTER (WHERE r.start_station_id = s.id), 0)::float8 AS avg_duration
FROM stations s
JOIN rides r ON r.status = 'completed' AND (r.start_station_id = s.id OR r.end_station_id = s.id)
WHERE s.active
GROUP BY s.id, s.name
ORDER BY departures DESC, s.name
LIMIT $1
`
