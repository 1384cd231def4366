package cycle

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
	ErrNotFound      = apperr.New(apperr.NotFound, "cycle not found")
	ErrInUse         = apperr.New(apperr.InvalidState, "cycle is in use")
	ErrInvalidStatus = apperr.New(apperr.Validation, "invalid cycle status")
	ErrDuplicateCode = apperr.New(apperr.Conflict, "cycle code already exists")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const cycleColumns = `c.id, c.code, c.station_id, s.name AS station_name, c.status, c.model, c.color, c.condition,
	c.active, c.created_at, c.updated_at`

const cycleFrom = ` FROM cycles c LEFT JOIN stations s ON c.station_id = s.id`

// GetCycles lists active cycles matching f, ordered by code.
func (r *Repository) GetCycles(ctx context.Context, f Filter, page paging.Request) ([]Cycle, int, error) {
	where := []string{"c.active"}
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if f.StationID != nil {
		args = append(args, *f.StationID)
		where = append(where, fmt.Sprintf("c.station_id = $%d", len(args)))
	}
	cond := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT count(*) FROM cycles c"+cond, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	query := "SELECT " + cycleColumns + cycleFrom + cond +
		fmt.Sprintf(" ORDER BY c.code LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	cycles := []Cycle{}
	err := r.db.SelectContext(ctx, &cycles, query, args...)
	return cycles, total, err
}

// GetCycleByCode resolves a scanned code to an active cycle.
func (r *Repository) GetCycleByCode(ctx context.Context, code string) (Cycle, error) {
	var c Cycle
	err := r.db.GetContext(ctx, &c, getCycleByCode, code)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

const getCycleByCode = `SELECT ` + cycleColumns + cycleFrom + ` WHERE c.code = $1 AND c.active`

func (r *Repository) GetCycle(ctx context.Context, id uuid.UUID) (Cycle, error) {
	var c Cycle
	err := r.db.GetContext(ctx, &c, getCycle, id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

const getCycle = `SELECT ` + cycleColumns + cycleFrom + ` WHERE c.id = $1 AND c.active`

// GetAvailableAtStation lists the cycles which can be rented from a station.
func (r *Repository) GetAvailableAtStation(ctx context.Context, stationID uuid.UUID) ([]Cycle, error) {
	cycles := []Cycle{}
	err := r.db.SelectContext(ctx, &cycles, getAvailableAtStation, stationID)
	return cycles, err
}

const getAvailableAtStation = `SELECT ` + cycleColumns + cycleFrom + `
WHERE c.station_id = $1 AND c.active AND c.status = 'available'
ORDER BY c.code`

// CreateCycle inserts a new cycle. New cycles are always available.
func (r *Repository) CreateCycle(ctx context.Context, c *Cycle) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.Status = StatusAvailable
	c.Active = true
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, createCycle,
		c.ID, c.Code, c.StationID, string(c.Status), c.Model, c.Color, c.Condition, c.CreatedAt, c.UpdatedAt)
	if _, ok := pgutil.UniqueViolation(err); ok {
		return ErrDuplicateCode
	}
	return err
}

const createCycle = `
INSERT INTO cycles (id, code, station_id, status, model, color, condition, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $9)
`

// UpdateCycle changes descriptive attributes and the home station. Status
// is left alone; see SetStatus.
func (r *Repository) UpdateCycle(ctx context.Context, c Cycle) (Cycle, error) {
	res, err := r.db.ExecContext(ctx, updateCycle, c.ID, c.Code, c.StationID, c.Model, c.Color, c.Condition)
	if _, ok := pgutil.UniqueViolation(err); ok {
		return Cycle{}, ErrDuplicateCode
	}
	if err != nil {
		return Cycle{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Cycle{}, err
	}
	if n == 0 {
		return Cycle{}, ErrNotFound
	}
	return r.GetCycle(ctx, c.ID)
}

const updateCycle = `
UPDATE cycles SET code = $2, station_id = $3, model = $4, color = $5, condition = $6, updated_at = now()
WHERE id = $1 AND active
`

// SetStatus applies an administrative status change. Cycles which are in
// use cannot be changed until their ride ends.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) (Cycle, error) {
	if !status.Settable() {
		return Cycle{}, ErrInvalidStatus
	}
	res, err := r.db.ExecContext(ctx, setStatus, id, string(status))
	if err != nil {
		return Cycle{}, err
	}
	if err := r.checkGuardedWrite(ctx, res, id); err != nil {
		return Cycle{}, err
	}
	return r.GetCycle(ctx, id)
}

const setStatus = `UPDATE cycles SET status = $2, updated_at = now() WHERE id = $1 AND active AND status <> 'in-use'`

// DeleteCycle retires a cycle which is not currently rented.
func (r *Repository) DeleteCycle(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, deleteCycle, id)
	if err != nil {
		return err
	}
	return r.checkGuardedWrite(ctx, res, id)
}

const deleteCycle = `UPDATE cycles SET active = false, updated_at = now() WHERE id = $1 AND active AND status <> 'in-use'`

// checkGuardedWrite tells apart the two reasons an in-use guarded update
// can match no rows.
func (r *Repository) checkGuardedWrite(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetCycle(ctx, id); err != nil {
		return err
	}
	return ErrInUse
}
