// Package history exports joblet lifecycle events to analytics systems.
package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunched   EventType = "launched"
	EventTerminated EventType = "terminated"
)

// DefaultTable is the table or index name used when a DSN does not name one.
const DefaultTable = "joblet_history"

// Record describes the joblet an event refers to.
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Factory      string    `json:"factory"`
	PID          int       `json:"pid"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Outcome      string    `json:"outcome,omitempty"` // done, error or crashed; set on termination
	ErrorCode    int64     `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that has a Close method.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
