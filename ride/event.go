package ride

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStarted   EventType = "ride.started"
	EventCompleted EventType = "ride.completed"
	EventCancelled EventType = "ride.cancelled"
)

// Event is emitted after a lifecycle transition has been committed.
type Event struct {
	Type            EventType  `json:"type"`
	RideID          uuid.UUID  `json:"rideId"`
	UserID          uuid.UUID  `json:"userId"`
	CycleID         uuid.UUID  `json:"cycleId"`
	CycleCode       string     `json:"cycleCode"`
	StationID       *uuid.UUID `json:"stationId,omitempty"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
	CostCents       int64      `json:"costCents,omitempty"`
	At              time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
