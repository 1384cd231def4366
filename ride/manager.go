package ride

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/internal/paging"
	"github.com/semanticallynull/cycleshare-backend/station"
)

var (
	ErrNotFound         = apperr.New(apperr.NotFound, "ride not found")
	ErrRideInProgress   = apperr.New(apperr.Conflict, "rider already has an active ride")
	ErrNoActiveRide     = apperr.New(apperr.InvalidState, "no active ride")
	ErrCycleUnavailable = apperr.New(apperr.InvalidState, "cycle is not available")
	ErrCycleMismatch    = apperr.New(apperr.InvalidState, "scanned cycle does not match the active ride")
)

// Store persists rides. Start, Complete and Cancel each change a ride and
// its cycle in a single transaction: either both writes are visible or
// neither is.
type Store interface {
	// ActiveRide returns ErrNoActiveRide when the user has no ride in progress.
	ActiveRide(ctx context.Context, userID uuid.UUID) (Ride, error)
	GetRide(ctx context.Context, id uuid.UUID) (Ride, error)
	// Start claims an available cycle and records the new ride.
	Start(ctx context.Context, r Ride) (Ride, error)
	// Complete closes an active ride and returns its cycle to service.
	Complete(ctx context.Context, r Ride) (Ride, error)
	// Cancel closes an active ride without a destination.
	Cancel(ctx context.Context, r Ride) (Ride, error)
	History(ctx context.Context, userID uuid.UUID, page paging.Request) ([]Ride, int, error)
	ListRides(ctx context.Context, status Status, page paging.Request) ([]Ride, int, error)
	Totals(ctx context.Context, userID uuid.UUID) (Totals, error)
}

type CycleFinder interface {
	GetCycleByCode(ctx context.Context, code string) (cycle.Cycle, error)
}

type StationFinder interface {
	GetStation(ctx context.Context, id uuid.UUID) (station.Station, error)
}

// Manager enforces the ride lifecycle. It holds no state of its own; all
// coordination between concurrent requests happens in the Store.
type Manager struct {
	store       Store
	cycles      CycleFinder
	stations    StationFinder
	events      Publisher
	ratePerHour int64
	logger      *slog.Logger
	now         func() time.Time
}

func NewManager(store Store, cycles CycleFinder, stations StationFinder, events Publisher,
	ratePerHour int64, logger *slog.Logger) *Manager {
	if events == nil {
		events = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:       store,
		cycles:      cycles,
		stations:    stations,
		events:      events,
		ratePerHour: ratePerHour,
		logger:      logger,
		now:         time.Now,
	}
}

func (m *Manager) RatePerHour() int64 {
	return m.ratePerHour
}

// StartRide begins a ride on the cycle identified by cycleCode from the
// given station.
func (m *Manager) StartRide(ctx context.Context, userID uuid.UUID, cycleCode string, stationID uuid.UUID) (Ride, error) {
	r, err := m.startRide(ctx, userID, cycleCode, stationID)
	observe("start", err)
	if err != nil {
		return Ride{}, err
	}
	m.publish(ctx, Event{
		Type:      EventStarted,
		RideID:    r.ID,
		UserID:    r.UserID,
		CycleID:   r.CycleID,
		CycleCode: r.CycleCode,
		StationID: &r.StartStationID,
		At:        r.StartedAt,
	})
	return r, nil
}

func (m *Manager) startRide(ctx context.Context, userID uuid.UUID, cycleCode string, stationID uuid.UUID) (Ride, error) {
	if _, err := m.store.ActiveRide(ctx, userID); err == nil {
		return Ride{}, ErrRideInProgress
	} else if !errors.Is(err, ErrNoActiveRide) {
		return Ride{}, err
	}

	c, err := m.cycles.GetCycleByCode(ctx, cycleCode)
	if err != nil {
		return Ride{}, err
	}
	if c.Status != cycle.StatusAvailable {
		return Ride{}, ErrCycleUnavailable
	}

	if _, err := m.stations.GetStation(ctx, stationID); err != nil {
		return Ride{}, err
	}

	return m.store.Start(ctx, Ride{
		ID:             uuid.New(),
		UserID:         userID,
		CycleID:        c.ID,
		CycleCode:      c.Code,
		StartStationID: stationID,
		StartedAt:      m.now().UTC(),
		Status:         StatusActive,
	})
}

// EndRide completes the user's active ride at stationID. The scanned cycle
// must be the one the ride was started on.
func (m *Manager) EndRide(ctx context.Context, userID uuid.UUID, cycleCode string, stationID uuid.UUID, fb *Feedback) (Ride, error) {
	r, err := m.endRide(ctx, userID, cycleCode, stationID, fb)
	observe("end", err)
	if err != nil {
		return Ride{}, err
	}
	m.publish(ctx, Event{
		Type:            EventCompleted,
		RideID:          r.ID,
		UserID:          r.UserID,
		CycleID:         r.CycleID,
		CycleCode:       r.CycleCode,
		StationID:       r.EndStationID,
		DurationMinutes: int(r.DurationMinutes.Int32),
		CostCents:       r.Cost(m.ratePerHour),
		At:              r.EndedAt.Time,
	})
	return r, nil
}

func (m *Manager) endRide(ctx context.Context, userID uuid.UUID, cycleCode string, stationID uuid.UUID, fb *Feedback) (Ride, error) {
	if fb != nil {
		if err := fb.Validate(); err != nil {
			return Ride{}, err
		}
	}

	active, err := m.store.ActiveRide(ctx, userID)
	if err != nil {
		return Ride{}, err
	}

	c, err := m.cycles.GetCycleByCode(ctx, cycleCode)
	if err != nil {
		return Ride{}, err
	}
	if c.ID != active.CycleID {
		return Ride{}, ErrCycleMismatch
	}

	dest, err := m.stations.GetStation(ctx, stationID)
	if err != nil {
		return Ride{}, err
	}

	end := m.now().UTC()
	done := active
	done.Status = StatusCompleted
	done.EndStationID = &dest.ID
	done.EndedAt = sql.NullTime{Time: end, Valid: true}
	done.DurationMinutes = sql.NullInt32{Int32: int32(DurationMinutes(active.StartedAt, end)), Valid: true}
	if origin, err := m.stations.GetStation(ctx, active.StartStationID); err == nil {
		done.DistanceKm = sql.NullFloat64{Float64: station.DistanceKm(origin, dest), Valid: true}
	}
	if fb != nil {
		done.Rating = sql.NullInt16{Int16: int16(fb.Rating), Valid: true}
		if fb.Comment != "" {
			done.Comment = sql.NullString{String: fb.Comment, Valid: true}
		}
	}

	return m.store.Complete(ctx, done)
}

// CancelRide abandons the user's active ride and frees its cycle.
func (m *Manager) CancelRide(ctx context.Context, userID uuid.UUID) (Ride, error) {
	active, err := m.store.ActiveRide(ctx, userID)
	if err != nil {
		observe("cancel", err)
		return Ride{}, err
	}
	return m.cancel(ctx, active)
}

// AdminCancelRide cancels any active ride by id.
func (m *Manager) AdminCancelRide(ctx context.Context, rideID uuid.UUID) (Ride, error) {
	r, err := m.store.GetRide(ctx, rideID)
	if err == nil && r.Status != StatusActive {
		err = ErrNoActiveRide
	}
	if err != nil {
		observe("cancel", err)
		return Ride{}, err
	}
	return m.cancel(ctx, r)
}

func (m *Manager) cancel(ctx context.Context, active Ride) (Ride, error) {
	cancelled := active
	cancelled.Status = StatusCancelled
	cancelled.EndedAt = sql.NullTime{Time: m.now().UTC(), Valid: true}

	r, err := m.store.Cancel(ctx, cancelled)
	observe("cancel", err)
	if err != nil {
		return Ride{}, err
	}
	m.publish(ctx, Event{
		Type:      EventCancelled,
		RideID:    r.ID,
		UserID:    r.UserID,
		CycleID:   r.CycleID,
		CycleCode: r.CycleCode,
		At:        r.EndedAt.Time,
	})
	return r, nil
}

// GetActiveRide returns the user's ride in progress, or nil when there is none.
func (m *Manager) GetActiveRide(ctx context.Context, userID uuid.UUID) (*Ride, error) {
	r, err := m.store.ActiveRide(ctx, userID)
	if errors.Is(err, ErrNoActiveRide) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *Manager) History(ctx context.Context, userID uuid.UUID, page paging.Request) ([]Ride, paging.Meta, error) {
	rides, total, err := m.store.History(ctx, userID, page)
	if err != nil {
		return nil, paging.Meta{}, err
	}
	return rides, page.Meta(total), nil
}

func (m *Manager) ListRides(ctx context.Context, status Status, page paging.Request) ([]Ride, paging.Meta, error) {
	if status != "" && !status.Valid() {
		return nil, paging.Meta{}, apperr.Invalid("status", "must be one of active, completed, cancelled")
	}
	rides, total, err := m.store.ListRides(ctx, status, page)
	if err != nil {
		return nil, paging.Meta{}, err
	}
	return rides, page.Meta(total), nil
}

func (m *Manager) GetUserStats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	t, err := m.store.Totals(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return NewStats(t, m.ratePerHour), nil
}

func (m *Manager) publish(ctx context.Context, e Event) {
	if err := m.events.Publish(ctx, e); err != nil {
		m.logger.WarnContext(ctx, "failed to publish ride event",
			"type", string(e.Type), "rideId", e.RideID, "error", err)
	}
}
