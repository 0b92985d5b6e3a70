package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-net/agora/pkg/authz"
)

// recorder collects delivered events safely across goroutines.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) subscriber(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestDispatchToAllSubscribers(t *testing.T) {
	d := NewDispatcher(time.Second, nil)

	first, second := &recorder{}, &recorder{}
	d.Subscribe(first.subscriber)
	d.Subscribe(second.subscriber)

	ev := Event{Type: TypeEntityCreated, EntityID: uuid.New(), Kind: authz.KindPost, At: time.Now()}
	d.Publish(ev)
	d.Drain()

	require.Len(t, first.all(), 1)
	require.Len(t, second.all(), 1)
	assert.Equal(t, ev.EntityID, first.all()[0].EntityID)
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	d := NewDispatcher(time.Second, nil)

	d.Subscribe(func(context.Context, Event) error {
		panic("subscriber bug")
	})
	rec := &recorder{}
	d.Subscribe(rec.subscriber)

	d.Publish(Event{Type: TypeEntityUpdated, EntityID: uuid.New()})
	d.Drain()

	assert.Len(t, rec.all(), 1)
}

func TestFailingSubscriberOnlyLogs(t *testing.T) {
	d := NewDispatcher(time.Second, nil)
	d.Subscribe(func(context.Context, Event) error {
		return errors.New("downstream unavailable")
	})

	d.Publish(Event{Type: TypeEntityDeleted, EntityID: uuid.New()})
	d.Drain()
}

func TestSubscribeAfterPublishMissesEarlierEvents(t *testing.T) {
	d := NewDispatcher(time.Second, nil)

	d.Publish(Event{Type: TypeEntityCreated, EntityID: uuid.New()})
	d.Drain()

	rec := &recorder{}
	d.Subscribe(rec.subscriber)
	assert.Empty(t, rec.all())
}

func TestEntitySavedMapsEventType(t *testing.T) {
	d := NewDispatcher(time.Second, nil)
	rec := &recorder{}
	d.Subscribe(rec.subscriber)

	e := &authz.Entity{ID: uuid.New(), Kind: authz.KindAccount}
	d.EntitySaved(context.Background(), e, true)
	d.EntitySaved(context.Background(), e, false)
	d.EntityDeleted(context.Background(), e.ID, e.Kind)
	d.Drain()

	got := rec.all()
	require.Len(t, got, 3)

	types := map[Type]int{}
	for _, ev := range got {
		types[ev.Type]++
		assert.Equal(t, e.ID, ev.EntityID)
		assert.Equal(t, authz.KindAccount, ev.Kind)
	}
	assert.Equal(t, 1, types[TypeEntityCreated])
	assert.Equal(t, 1, types[TypeEntityUpdated])
	assert.Equal(t, 1, types[TypeEntityDeleted])
}

func TestDeliveryContextIsBounded(t *testing.T) {
	d := NewDispatcher(50*time.Millisecond, nil)

	deadlineSeen := make(chan bool, 1)
	d.Subscribe(func(ctx context.Context, _ Event) error {
		_, ok := ctx.Deadline()
		deadlineSeen <- ok
		return nil
	})

	d.Publish(Event{Type: TypeEntityCreated, EntityID: uuid.New()})
	d.Drain()

	assert.True(t, <-deadlineSeen)
}
