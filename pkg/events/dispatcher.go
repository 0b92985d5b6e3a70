// Package events delivers post-save notifications to registered
// subscribers. Delivery is asynchronous and fire-and-forget: the save
// transaction has already committed, and a slow or panicking subscriber
// must never affect the request path.
package events

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/google/uuid"
)

// Type labels an event.
type Type string

const (
	TypeEntityCreated Type = "entity.created"
	TypeEntityUpdated Type = "entity.updated"
	TypeEntityDeleted Type = "entity.deleted"
)

// Event is one post-save notification.
type Event struct {
	Type     Type             `json:"type"`
	EntityID uuid.UUID        `json:"entity_id"`
	Kind     authz.EntityKind `json:"kind"`
	At       time.Time        `json:"at"`
}

// Subscriber consumes events. It runs on its own goroutine with a bounded
// context; returning an error only logs.
type Subscriber func(ctx context.Context, ev Event) error

// Dispatcher fans events out to subscribers. Implements authz.EventSink.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    []Subscriber
	timeout time.Duration
	log     *observability.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher; timeout bounds each delivery.
func NewDispatcher(timeout time.Duration, log *observability.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{timeout: timeout, log: log}
}

// Subscribe registers a subscriber for all subsequent events.
func (d *Dispatcher) Subscribe(fn Subscriber) {
	d.mu.Lock()
	d.subs = append(d.subs, fn)
	d.mu.Unlock()
}

// Publish delivers ev to every subscriber, each on its own goroutine with
// panic recovery and a delivery timeout.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	subs := make([]Subscriber, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, fn := range subs {
		fn := fn
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil && d.log != nil {
					d.log.WithField("event", string(ev.Type)).
						WithField("panic", r).
						WithField("stack", string(debug.Stack())).
						Error("event subscriber panicked")
				}
			}()

			if err := fn(ctx, ev); err != nil && d.log != nil {
				d.log.WithError(err).
					WithField("event", string(ev.Type)).
					WithField("entity_id", ev.EntityID.String()).
					Warn("event subscriber failed")
			}
		}()
	}
}

// Drain waits for in-flight deliveries, used by graceful shutdown and tests.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

// EntitySaved implements authz.EventSink.
func (d *Dispatcher) EntitySaved(_ context.Context, e *authz.Entity, created bool) {
	t := TypeEntityUpdated
	if created {
		t = TypeEntityCreated
	}
	d.Publish(Event{Type: t, EntityID: e.ID, Kind: e.Kind, At: time.Now().UTC()})
}

// EntityDeleted implements authz.EventSink.
func (d *Dispatcher) EntityDeleted(_ context.Context, id uuid.UUID, kind authz.EntityKind) {
	d.Publish(Event{Type: TypeEntityDeleted, EntityID: id, Kind: kind, At: time.Now().UTC()})
}
