// Package event provides the pub/sub bus connecting the session store to its
// observers, built on watermill.
//
// Subscriptions are keyed by event type, by session, or global. Each
// Subscribe returns its own unsubscribe func, so multiple sessions and
// multiple observers never clobber one another.
package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType represents the type of event.
type EventType string

const (
	SessionUpdated    EventType = "session.updated"
	TurnStarted       EventType = "turn.started"
	TurnCompleted     EventType = "turn.completed"
	ApprovalRequested EventType = "approval.requested"
	ApprovalSettled   EventType = "approval.settled"
	TitleChanged      EventType = "title.changed"
	HealthChanged     EventType = "health.changed"
)

// Event is an event published on the bus. SessionID is empty only for
// session-agnostic events (health).
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionID,omitempty"`
	Data      any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub using watermill's gochannel for infrastructure and a
// direct-call subscriber registry to preserve type information.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	byType    map[EventType][]subscriberEntry
	bySession map[string][]subscriberEntry
	global    []subscriberEntry

	nextID       uint64
	closed       bool
	closedCtx    context.Context
	closedCancel context.CancelFunc
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		byType:       make(map[EventType][]subscriberEntry),
		bySession:    make(map[string][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for one event type across all sessions.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.byType[eventType] = append(b.byType[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[eventType] = remove(b.byType[eventType], id)
	}
}

// SubscribeSession registers a subscriber for every event of one session.
// Returns an unsubscribe function.
func (b *Bus) SubscribeSession(sessionID string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.bySession[sessionID] = append(b.bySession[sessionID], subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.bySession[sessionID] = remove(b.bySession[sessionID], id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.global = remove(b.global, id)
	}
}

func remove(entries []subscriberEntry, id uint64) []subscriberEntry {
	for i, entry := range entries {
		if entry.id == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

func (b *Bus) collect(ev Event) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0,
		len(b.byType[ev.Type])+len(b.bySession[ev.SessionID])+len(b.global))
	for _, entry := range b.byType[ev.Type] {
		subs = append(subs, entry.fn)
	}
	if ev.SessionID != "" {
		for _, entry := range b.bySession[ev.SessionID] {
			subs = append(subs, entry.fn)
		}
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish sends an event to all matching subscribers asynchronously. Each
// subscriber runs in its own goroutine so a slow observer never blocks the
// store.
func (b *Bus) Publish(ev Event) {
	for _, sub := range b.collect(ev) {
		go sub(ev)
	}
}

// PublishSync sends an event to all matching subscribers in the calling
// goroutine, in registration order.
func (b *Bus) PublishSync(ev Event) {
	for _, sub := range b.collect(ev) {
		sub(ev)
	}
}

// PubSub returns the underlying watermill GoChannel for consumers that want
// raw message delivery (the inspector's SSE feed uses this).
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}

// Close shuts the bus down; subsequent Subscribe calls return no-op
// unsubscribers and Publish drops events.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()
	b.byType = make(map[EventType][]subscriberEntry)
	b.bySession = make(map[string][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
