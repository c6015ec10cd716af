package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/logger"
)

func newTestBus(t *testing.T) *SyncEventBus {
	t.Helper()
	bus := NewSyncEventBus(logger.NewTestLogger())
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func stateEvent(phase domain.PlaybackPhase) domain.PlayerStateChangedEvent {
	return domain.NewPlayerStateChangedEvent(domain.PlayerState{Phase: phase})
}

func TestNewSyncEventBus(t *testing.T) {
	bus := NewSyncEventBus(nil)

	require.NotNil(t, bus)
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.False(t, bus.closed)
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	var received []domain.Event
	subID := bus.Subscribe(domain.EventPlayerStateChanged, func(e domain.Event) {
		received = append(received, e)
	})
	require.NotEmpty(t, subID)

	bus.Publish(stateEvent(domain.PhasePlaying))

	require.Len(t, received, 1)
	assert.Equal(t, domain.EventPlayerStateChanged, received[0].Type())
	assert.Equal(t, domain.PhasePlaying, received[0].(domain.PlayerStateChangedEvent).State.Phase)
}

func TestSubscriptionIDsAreUnique(t *testing.T) {
	bus := newTestBus(t)
	handler := func(domain.Event) {}

	seen := make(map[domain.SubscriptionID]bool)
	for range 50 {
		id := bus.Subscribe(domain.EventQueueChanged, handler)
		assert.False(t, seen[id], "duplicate subscription id %s", id)
		seen[id] = true
	}
}

func TestDeliveryOrderFollowsSubscription(t *testing.T) {
	bus := newTestBus(t)

	var order []int
	for i := range 3 {
		bus.Subscribe(domain.EventQueueChanged, func(domain.Event) {
			order = append(order, i)
		})
	}

	bus.Publish(domain.NewQueueChangedEvent(nil, 0, nil))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus(t)

	var calls int32
	var order []string
	first := bus.Subscribe(domain.EventPlayerStateChanged, func(domain.Event) {
		atomic.AddInt32(&calls, 1)
		order = append(order, "first")
	})
	bus.Subscribe(domain.EventPlayerStateChanged, func(domain.Event) { order = append(order, "second") })
	bus.Subscribe(domain.EventPlayerStateChanged, func(domain.Event) { order = append(order, "third") })

	bus.Publish(stateEvent(domain.PhasePaused))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	bus.Unsubscribe(first)
	order = nil
	bus.Publish(stateEvent(domain.PhasePaused))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"second", "third"}, order)

	// unknown ids are ignored
	bus.Unsubscribe("invalid-id")
	bus.Unsubscribe("")
	assert.Equal(t, 2, bus.SubscriberCount())
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var received []domain.EventType
	id := bus.SubscribeAll(func(e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Type())
	})

	bus.Publish(stateEvent(domain.PhasePlaying))
	bus.Publish(domain.NewFavoritesChangedEvent([]int64{1}))
	bus.Publish(domain.NewScanStartedEvent())

	mu.Lock()
	assert.Equal(t, []domain.EventType{
		domain.EventPlayerStateChanged,
		domain.EventFavoritesChanged,
		domain.EventScanStarted,
	}, received)
	mu.Unlock()

	bus.Unsubscribe(id)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestSubscribeFiltered(t *testing.T) {
	bus := newTestBus(t)

	var phases []domain.PlaybackPhase
	bus.SubscribeFiltered(domain.EventPlayerStateChanged, func(e domain.Event) bool {
		return e.(domain.PlayerStateChangedEvent).State.Phase == domain.PhasePlaying
	}, func(e domain.Event) {
		phases = append(phases, e.(domain.PlayerStateChangedEvent).State.Phase)
	})

	bus.Publish(stateEvent(domain.PhasePaused))
	bus.Publish(stateEvent(domain.PhasePlaying))
	bus.Publish(stateEvent(domain.PhaseStopped))

	assert.Equal(t, []domain.PlaybackPhase{domain.PhasePlaying}, phases)
}

func TestHasSubscribers(t *testing.T) {
	bus := newTestBus(t)

	assert.False(t, bus.HasSubscribers(domain.EventPlayerStateChanged))

	bus.Subscribe(domain.EventPlayerStateChanged, func(domain.Event) {})
	assert.True(t, bus.HasSubscribers(domain.EventPlayerStateChanged))
	assert.False(t, bus.HasSubscribers(domain.EventQueueChanged))

	bus.SubscribeAll(func(domain.Event) {})
	assert.True(t, bus.HasSubscribers(domain.EventQueueChanged))
}

func TestHandlerPanic(t *testing.T) {
	bus := newTestBus(t)

	var calls int32
	bus.Subscribe(domain.EventPlayerStateChanged, func(domain.Event) { panic("test panic") })
	bus.Subscribe(domain.EventPlayerStateChanged, func(domain.Event) { atomic.AddInt32(&calls, 1) })

	assert.NotPanics(t, func() { bus.Publish(stateEvent(domain.PhasePlaying)) })
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHandlerMayPublish(t *testing.T) {
	bus := newTestBus(t)

	var queueEvents int32
	bus.Subscribe(domain.EventQueueChanged, func(domain.Event) { atomic.AddInt32(&queueEvents, 1) })
	bus.Subscribe(domain.EventPlayerStateChanged, func(domain.Event) {
		bus.Publish(domain.NewQueueChangedEvent(nil, -1, nil))
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(stateEvent(domain.PhasePlaying))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested publish deadlocked")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&queueEvents))
}

func TestClose(t *testing.T) {
	bus := NewSyncEventBus(nil)

	var calls int32
	handler := func(domain.Event) { atomic.AddInt32(&calls, 1) }
	bus.Subscribe(domain.EventPlayerStateChanged, handler)
	bus.SubscribeAll(handler)
	require.Equal(t, 2, bus.SubscriberCount())

	require.NoError(t, bus.Close())
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(stateEvent(domain.PhasePlaying))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	assert.ErrorIs(t, bus.Close(), ErrBusClosed)
	assert.Panics(t, func() { bus.Subscribe(domain.EventPlayerStateChanged, handler) })
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := newTestBus(t)

	var events int32
	handler := func(domain.Event) { atomic.AddInt32(&events, 1) }
	bus.Subscribe(domain.EventPlayerStateChanged, handler)

	const publishers = 5
	const subscribers = 5
	const perPublisher = 100

	var wg sync.WaitGroup
	for range publishers {
		wg.Go(func() {
			for range perPublisher {
				bus.Publish(stateEvent(domain.PhasePlaying))
			}
		})
	}
	for range subscribers {
		wg.Go(func() {
			for range 10 {
				bus.Subscribe(domain.EventQueueChanged, handler)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(publishers*perPublisher), atomic.LoadInt32(&events))
	assert.Equal(t, 1+subscribers*10, bus.SubscriberCount())
}

func TestNilEventAndHandler(t *testing.T) {
	bus := newTestBus(t)

	var calls int32
	bus.SubscribeAll(func(domain.Event) { atomic.AddInt32(&calls, 1) })

	bus.Publish(nil)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	assert.Panics(t, func() { bus.Subscribe(domain.EventQueueChanged, nil) })
}
