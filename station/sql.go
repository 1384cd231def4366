package station

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
)

var ErrNotFound = apperr.New(apperr.NotFound, "station not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetStations(ctx context.Context) ([]Station, error) {
	stations := []Station{}
	err := r.db.SelectContext(ctx, &stations, getStations)
	return stations, err
}

const stationColumns = `s.id, s.name, s.address, s.capacity, s.location, s.type, s.active, s.created_at, s.updated_at,
	(SELECT count(*) FROM cycles c WHERE c.station_id = s.id AND c.active AND c.status = 'available') AS available_cycles`

const getStations = `SELECT ` + stationColumns + ` FROM stations s WHERE s.active ORDER BY s.name`

func (r *Repository) GetStation(ctx context.Context, id uuid.UUID) (Station, error) {
	var station Station
	err := r.db.GetContext(ctx, &station, getStation, id)
	if errors.Is(err, sql.ErrNoRows) {
		return station, ErrNotFound
	}
	return station, err
}

const getStation = `SELECT ` + stationColumns + ` FROM stations s WHERE s.id = $1 AND s.active`

func (r *Repository) CreateStation(ctx context.Context, s *Station) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.Active = true
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, createStation,
		s.ID, s.Name, s.Address, s.Capacity, s.Location, s.Type, s.CreatedAt, s.UpdatedAt)
	return err
}

const createStation = `
INSERT INTO stations (id, name, address, capacity, location, type, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8)
`

func (r *Repository) UpdateStation(ctx context.Context, s Station) (Station, error) {
	res, err := r.db.ExecContext(ctx, updateStation,
		s.ID, s.Name, s.Address, s.Capacity, s.Location, s.Type)
	if err != nil {
		return Station{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Station{}, err
	} else if n == 0 {
		return Station{}, ErrNotFound
	}
	return r.GetStation(ctx, s.ID)
}

const updateStation = `
UPDATE stations SET name = $2, address = $3, capacity = $4, location = $5, type = $6, updated_at = now()
WHERE id = $1 AND active
`

// DeleteStation deactivates a station. The row is kept so historic rides
// still resolve their origin and destination.
func (r *Repository) DeleteStation(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, deleteStation, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const deleteStation = `UPDATE stations SET active = false, updated_at = now() WHERE id = $1 AND active`
