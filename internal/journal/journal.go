package journal

import (
	"context"
	"time"
)

// Order lifecycle event types.
const (
	TypeOrderCreated   = "order_created"
	TypeOrderCancelled = "order_cancelled"
	TypeOrderExecuted  = "order_executed"
	TypeOrderFailed    = "order_failed"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "order_created", "order_failed"
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
