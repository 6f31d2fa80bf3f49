package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []Event
	unsub := bus.Subscribe(TurnStarted, func(ev Event) {
		got = append(got, ev)
	})
	defer unsub()

	bus.PublishSync(Event{Type: TurnStarted, SessionID: "s1"})
	bus.PublishSync(Event{Type: TurnCompleted, SessionID: "s1"})

	require.Len(t, got, 1)
	assert.Equal(t, TurnStarted, got[0].Type)
}

func TestSubscribeSession(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []Event
	unsub := bus.SubscribeSession("s1", func(ev Event) {
		got = append(got, ev)
	})
	defer unsub()

	bus.PublishSync(Event{Type: SessionUpdated, SessionID: "s1"})
	bus.PublishSync(Event{Type: SessionUpdated, SessionID: "s2"})
	bus.PublishSync(Event{Type: TurnCompleted, SessionID: "s1"})

	require.Len(t, got, 2, "all event types of the session, no other sessions")
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []Event
	unsub := bus.SubscribeAll(func(ev Event) {
		got = append(got, ev)
	})
	defer unsub()

	bus.PublishSync(Event{Type: SessionUpdated, SessionID: "s1"})
	bus.PublishSync(Event{Type: HealthChanged})

	assert.Len(t, got, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	count := 0
	unsub := bus.Subscribe(TitleChanged, func(Event) { count++ })

	bus.PublishSync(Event{Type: TitleChanged, SessionID: "s1"})
	unsub()
	bus.PublishSync(Event{Type: TitleChanged, SessionID: "s1"})

	assert.Equal(t, 1, count)
}

func TestUnsubscribeIsIndependent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var first, second int
	unsubFirst := bus.Subscribe(SessionUpdated, func(Event) { first++ })
	unsubSecond := bus.Subscribe(SessionUpdated, func(Event) { second++ })
	defer unsubSecond()

	unsubFirst()
	bus.PublishSync(Event{Type: SessionUpdated, SessionID: "s1"})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second, "removing one subscriber must not clobber another")
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(TurnCompleted, func(Event) { wg.Done() })
	bus.SubscribeAll(func(Event) { wg.Done() })

	bus.Publish(Event{Type: TurnCompleted, SessionID: "s1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async publish never reached subscribers")
	}
}

func TestPublishSyncOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var order []int
	bus.Subscribe(SessionUpdated, func(Event) { order = append(order, 1) })
	bus.Subscribe(SessionUpdated, func(Event) { order = append(order, 2) })
	bus.SubscribeAll(func(Event) { order = append(order, 3) })

	bus.PublishSync(Event{Type: SessionUpdated, SessionID: "s1"})

	assert.Equal(t, []int{1, 2, 3}, order, "sync delivery follows registration order")
}

func TestClosedBusDropsEverything(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.Subscribe(SessionUpdated, func(Event) { count++ })
	require.NoError(t, bus.Close())

	bus.PublishSync(Event{Type: SessionUpdated, SessionID: "s1"})
	assert.Zero(t, count)

	unsub := bus.Subscribe(SessionUpdated, func(Event) { count++ })
	bus.PublishSync(Event{Type: SessionUpdated, SessionID: "s1"})
	assert.Zero(t, count)
	unsub()

	assert.NoError(t, bus.Close(), "double close is fine")
}
