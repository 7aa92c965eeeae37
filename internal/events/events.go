// Package events publishes sale lifecycle events to external consumers.
package events

import (
	"context"
	"sync"
	"time"

	"pos_engine/internal/sales"
)

// Type names a sale lifecycle event.
type Type string

const (
	SaleCommitted Type = "sale.committed"
	SaleVoided    Type = "sale.voided"
	// SaleReconcile is emitted when a committed sale could not be persisted
	// and was parked for reconciliation.
	SaleReconcile Type = "sale.reconcile"
)

// Event is the JSON payload sent to every publisher.
type Event struct {
	Type       Type        `json:"type"`
	SaleID     string      `json:"sale_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Sale       *sales.Sale `json:"sale,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// New builds an event for sale.
func New(t Type, sale *sales.Sale, at time.Time) Event {
	return Event{Type: t, SaleID: sale.ID, OccurredAt: at, Sale: sale.Clone()}
}

// Publisher delivers events. Publish failures never undo a sale; callers log them.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several publishers, returning the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
