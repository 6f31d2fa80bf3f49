// Package store holds the per-session streaming state machine.
//
// The store is the single writer of session state: the stream controller
// submits decoded events through Apply, everything else observes through
// Subscribe. Events for one session are applied strictly sequentially;
// sessions never share state, so applying to one session cannot affect
// another.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/pkg/types"
)

// ErrAlreadyStreaming is returned when a turn begins on a session that
// already has an active stream.
var ErrAlreadyStreaming = errors.New("session already streaming")

// DefaultDebugRetention bounds the per-session debug trace. The backend
// retains its trace indefinitely; on the client a ring is enough.
const DefaultDebugRetention = 512

// Archiver persists committed messages outside the store. Failures are
// logged, never surfaced to the reducer.
type Archiver interface {
	AppendMessage(sessionID string, msg types.Message) error
}

// Observer receives session snapshots.
type Observer func(Snapshot)

// Option configures a Store.
type Option func(*Store)

// WithDebug enables debug instrumentation with the given retention cap
// (<=0 means unbounded).
func WithDebug(retention int) Option {
	return func(s *Store) {
		s.debug = true
		s.debugCap = retention
	}
}

// WithArchiver wires transcript persistence for committed messages.
func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// Store is a keyed collection of session records with a reducer per event
// type and a subscription mechanism for observers.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	// notifyMu serializes SessionUpdated publishes with the snapshots they
	// carry. Writers acquire it before s.mu and release it after publishing,
	// so observers never see state regress; Subscribe holds it while
	// registering so no update slips past an observer unseen.
	notifyMu sync.Mutex

	bus      *event.Bus
	archiver Archiver
	debug    bool
	debugCap int
}

// New creates a store publishing change notifications on bus.
func New(bus *event.Bus, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*session),
		bus:      bus,
		debugCap: DefaultDebugRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// get returns the session record, creating it on first reference.
// Caller must hold s.mu.
func (s *Store) get(sessionID string) *session {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = newSession(sessionID)
		s.sessions[sessionID] = sess
	}
	return sess
}

// BeginTurn appends the user message, marks the session streaming, and
// resets the turn accumulators. Fails with ErrAlreadyStreaming when a
// stream is already active for the session.
func (s *Store) BeginTurn(sessionID, userText string) error {
	now := time.Now().UnixMilli()

	s.notifyMu.Lock()
	s.mu.Lock()
	sess := s.get(sessionID)
	if sess.isStreaming {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return ErrAlreadyStreaming
	}

	first := true
	for _, msg := range sess.messages {
		if msg.Role == types.RoleUser {
			first = false
			break
		}
	}

	sess.messages = append(sess.messages, types.Message{
		ID:        generateID(),
		SessionID: sessionID,
		Role:      types.RoleUser,
		Content:   userText,
		Time:      types.MessageTime{Created: now},
	})
	sess.isStreaming = true
	sess.streamingContent = ""
	sess.thinkingSteps = nil
	sess.currentPlan = nil

	if s.debug {
		sess.appendDebug(&types.DebugDivider{
			ID:          generateID(),
			Kind:        types.DebugKindDivider,
			Timestamp:   now,
			UserMessage: userText,
		}, s.debugCap)
	}

	snap := sess.snapshot()
	s.mu.Unlock()
	s.notify(sessionID, snap)
	s.notifyMu.Unlock()

	// Published after the snapshot so a subscriber that writes back into the
	// store (the title bootstrapper does) notifies in causal order.
	s.bus.PublishSync(event.Event{
		Type:      event.TurnStarted,
		SessionID: sessionID,
		Data:      event.TurnStartedData{SessionID: sessionID, UserText: userText, First: first},
	})
	return nil
}

// Apply folds one decoded event into the addressed session. Terminal events
// commit the turn. The only possible error is a *ProtocolViolationError for
// a second concurrent approval request; the caller turns that into an error
// terminal event for the turn.
func (s *Store) Apply(sessionID string, ev protocol.Event) error {
	s.notifyMu.Lock()
	s.mu.Lock()
	sess := s.get(sessionID)

	if ev.Terminal() {
		committed := sess.isStreaming
		var msg *types.Message
		if committed {
			msg = sess.commit(ev.Time)
		}
		turn := sess.turns
		snap := sess.snapshot()
		s.mu.Unlock()

		if !committed {
			// Idempotent: a terminal on an idle session changes nothing.
			s.notifyMu.Unlock()
			return nil
		}
		s.notify(sessionID, snap)
		s.notifyMu.Unlock()

		if msg != nil && s.archiver != nil {
			if err := s.archiver.AppendMessage(sessionID, *msg); err != nil {
				logging.Warn().Err(err).Str("sessionID", sessionID).Msg("transcript append failed")
			}
		}

		s.bus.PublishSync(event.Event{
			Type:      event.TurnCompleted,
			SessionID: sessionID,
			Data: event.TurnCompletedData{
				SessionID: sessionID,
				Turn:      turn,
				Reason:    terminalReason(ev),
			},
		})
		return nil
	}

	err := sess.apply(ev, s.debug, s.debugCap)
	if err != nil {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return err
	}
	snap := sess.snapshot()
	s.mu.Unlock()
	s.notify(sessionID, snap)
	s.notifyMu.Unlock()

	if ev.Type == protocol.EventApprovalRequest {
		s.bus.PublishSync(event.Event{
			Type:      event.ApprovalRequested,
			SessionID: sessionID,
			Data:      event.ApprovalRequestedData{SessionID: sessionID, Request: snap.Approval},
		})
	}
	if ev.Type == protocol.EventApprovalResolved {
		s.bus.PublishSync(event.Event{
			Type:      event.ApprovalSettled,
			SessionID: sessionID,
			Data: event.ApprovalSettledData{
				SessionID: sessionID,
				RequestID: ev.Resolved.RequestID,
				Approved:  ev.Resolved.Approved,
			},
		})
	}
	return nil
}

func terminalReason(ev protocol.Event) string {
	switch ev.Type {
	case protocol.EventDone:
		return "done"
	case protocol.EventCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// ResolveApproval clears the pending approval if it matches requestID.
// Called by the approval gate after a local decision; server confirmations
// arrive as approval_resolved events instead.
func (s *Store) ResolveApproval(sessionID, requestID string, approved bool, timedOut bool) {
	s.notifyMu.Lock()
	s.mu.Lock()
	sess := s.get(sessionID)
	if sess.approval == nil || sess.approval.RequestID != requestID {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return
	}
	sess.approval = nil
	snap := sess.snapshot()
	s.mu.Unlock()
	s.notify(sessionID, snap)
	s.notifyMu.Unlock()

	s.bus.PublishSync(event.Event{
		Type:      event.ApprovalSettled,
		SessionID: sessionID,
		Data: event.ApprovalSettledData{
			SessionID: sessionID,
			RequestID: requestID,
			Approved:  approved,
			TimedOut:  timedOut,
		},
	})
}

// AllowTool adds a tool to the session's allow-list. The set only grows;
// nothing ever removes an entry within a session's lifetime.
func (s *Store) AllowTool(sessionID, tool string) {
	s.notifyMu.Lock()
	s.mu.Lock()
	sess := s.get(sessionID)
	sess.allowedTools[tool] = true
	snap := sess.snapshot()
	s.mu.Unlock()
	s.notify(sessionID, snap)
	s.notifyMu.Unlock()
}

// AllowedTools returns the session's allow-list, sorted.
func (s *Store) AllowedTools(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.allowedTools) == 0 {
		return nil
	}
	tools := make([]string, 0, len(sess.allowedTools))
	for tool := range sess.allowedTools {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}

// SetTitle updates the session title.
func (s *Store) SetTitle(sessionID, title string, generated bool) {
	s.notifyMu.Lock()
	s.mu.Lock()
	sess := s.get(sessionID)
	sess.title = title
	snap := sess.snapshot()
	s.mu.Unlock()
	s.notify(sessionID, snap)
	s.notifyMu.Unlock()

	s.bus.PublishSync(event.Event{
		Type:      event.TitleChanged,
		SessionID: sessionID,
		Data:      event.TitleChangedData{SessionID: sessionID, Title: title, Generated: generated},
	})
}

// Snapshot returns a read-only copy of the session's current state,
// creating the session on first reference.
func (s *Store) Snapshot(sessionID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).snapshot()
}

// Sessions lists all known session IDs, sorted.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restore seeds a session's committed history, typically from the
// transcript archive on startup. No-op when the session already has
// messages or is streaming.
func (s *Store) Restore(sessionID string, title string, messages []types.Message) {
	s.notifyMu.Lock()
	s.mu.Lock()
	sess := s.get(sessionID)
	if sess.isStreaming || len(sess.messages) > 0 {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return
	}
	sess.title = title
	sess.messages = append(sess.messages, messages...)
	for _, msg := range messages {
		if msg.Role == types.RoleAssistant {
			sess.turns++
		}
	}
	snap := sess.snapshot()
	s.mu.Unlock()
	s.notify(sessionID, snap)
	s.notifyMu.Unlock()
}

// Subscribe registers an observer for one session. The observer receives
// the full current state immediately and on every subsequent change; an
// update racing with registration is never lost. The callback must not
// write back into the store. The returned function stops further
// notifications.
func (s *Store) Subscribe(sessionID string, fn Observer) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	// Register first: a concurrent writer either publishes to the observer
	// or is ordered behind the initial snapshot below, never dropped.
	unsub := s.bus.SubscribeSession(sessionID, func(ev event.Event) {
		if ev.Type != event.SessionUpdated {
			return
		}
		if snap, ok := ev.Data.(Snapshot); ok {
			fn(snap)
		}
	})
	fn(s.Snapshot(sessionID))
	return unsub
}

func (s *Store) notify(sessionID string, snap Snapshot) {
	s.bus.PublishSync(event.Event{
		Type:      event.SessionUpdated,
		SessionID: sessionID,
		Data:      snap,
	})
}

func generateID() string {
	return ulid.Make().String()
}
