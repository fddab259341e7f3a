package kitchen

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a change of the visible board.
type EventType string

const (
	EventSnapshot      EventType = "board.snapshot"
	EventOrderAdded    EventType = "order.added"
	EventStatusChanged EventType = "order.status_changed"
	EventOrderRemoved  EventType = "order.removed"
)

// Event describes one mutation of the board. Orders is only set on snapshots.
type Event struct {
	ID      uuid.UUID    `json:"id"`
	Type    EventType    `json:"type"`
	OrderID int64        `json:"order_id,omitempty"`
	Order   *OrderGroup  `json:"order,omitempty"`
	Orders  []OrderGroup `json:"orders,omitempty"`
	From    Status       `json:"from,omitempty"`
	To      Status       `json:"to,omitempty"`
	At      time.Time    `json:"at"`
}

// NewEvent stamps a new event with a fresh ID.
func NewEvent(typ EventType, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, At: at.UTC()}
}

// Notifier receives board events. Implementations must not block the caller
// for long; the board owner calls them inline.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }
