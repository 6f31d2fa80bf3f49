// Package stream owns the one in-flight event stream per session.
//
// The controller opens the transport, feeds every decoded event to the
// store in arrival order, and guarantees that every stream ends in exactly
// one terminal event so the store's commit logic always runs. Cancellation
// is a first-class event, not just closing the connection.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/store"
)

// ErrAlreadyStreaming is returned by Start when the session already has an
// active stream. Other sessions stream independently.
var ErrAlreadyStreaming = store.ErrAlreadyStreaming

// EventStream yields decoded events from one open stream. Recv returns
// io.EOF when the transport closes cleanly after a terminal event.
type EventStream interface {
	Recv() (protocol.Event, error)
	Close() error
}

// Transport opens session streams. Implemented by the backend client.
type Transport interface {
	// OpenStream submits the user message and returns the session's event
	// stream. allowedTools advertises the session's pre-approved tools.
	OpenStream(ctx context.Context, sessionID, text string, allowedTools []string) (EventStream, error)
}

type activeStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller drives one stream per session against the store.
type Controller struct {
	mu     sync.Mutex
	active map[string]*activeStream

	store     *store.Store
	transport Transport
	log       zerolog.Logger
}

// NewController creates a controller applying events to st.
func NewController(st *store.Store, transport Transport) *Controller {
	return &Controller{
		active:    make(map[string]*activeStream),
		store:     st,
		transport: transport,
		log:       logging.With().Str("component", "stream").Logger(),
	}
}

// Start begins a turn: records the user message, opens the transport, and
// consumes events until a terminal event. Fails with ErrAlreadyStreaming
// when the session has an active stream; no state changes in that case.
func (c *Controller) Start(ctx context.Context, sessionID, text string) error {
	c.mu.Lock()
	if _, busy := c.active[sessionID]; busy {
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}

	streamCtx, cancel := context.WithCancel(ctx)
	handle := &activeStream{cancel: cancel, done: make(chan struct{})}
	c.active[sessionID] = handle
	c.mu.Unlock()

	if err := c.store.BeginTurn(sessionID, text); err != nil {
		c.release(sessionID, handle)
		cancel()
		return err
	}

	es, err := c.transport.OpenStream(streamCtx, sessionID, text, c.store.AllowedTools(sessionID))
	if err != nil {
		// The user message is already committed; the turn still needs its
		// terminal event. A dial aborted by the user is a cancellation, not
		// a transport failure.
		if streamCtx.Err() != nil {
			c.terminate(sessionID, protocol.Cancelled())
		} else {
			c.terminate(sessionID, protocol.Failed(err.Error()))
		}
		c.release(sessionID, handle)
		cancel()
		return nil
	}

	go c.consume(streamCtx, sessionID, handle, es)
	return nil
}

// consume applies events in arrival order until a terminal event arrives or
// the transport fails. It never interleaves two updates to one session: it
// is the session's only applier while the stream lives.
func (c *Controller) consume(ctx context.Context, sessionID string, handle *activeStream, es EventStream) {
	defer close(handle.done)
	defer es.Close()
	defer c.release(sessionID, handle)

	for {
		ev, err := es.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// Stream closed without a terminal frame; the turn must
				// still commit.
				c.terminate(sessionID, protocol.Failed("stream closed unexpectedly"))
			case ctx.Err() != nil:
				c.terminate(sessionID, protocol.Cancelled())
			default:
				c.terminate(sessionID, protocol.Failed(err.Error()))
			}
			return
		}

		if err := c.store.Apply(sessionID, ev); err != nil {
			var violation *store.ProtocolViolationError
			if errors.As(err, &violation) {
				c.log.Error().Str("sessionID", sessionID).Msg(violation.Error())
				c.terminate(sessionID, protocol.Failed(violation.Error()))
				return
			}
			c.terminate(sessionID, protocol.Failed(err.Error()))
			return
		}

		if ev.Terminal() {
			return
		}
	}
}

// terminate applies a synthesized terminal event. Apply is idempotent for
// terminals, so racing with a real terminal frame is harmless.
func (c *Controller) terminate(sessionID string, ev protocol.Event) {
	if err := c.store.Apply(sessionID, ev); err != nil {
		c.log.Error().Err(err).Str("sessionID", sessionID).Msg("terminal apply failed")
	}
}

func (c *Controller) release(sessionID string, handle *activeStream) {
	c.mu.Lock()
	if c.active[sessionID] == handle {
		delete(c.active, sessionID)
	}
	c.mu.Unlock()
}

// Cancel aborts the session's transport. The consumer goroutine observes
// the cancellation and synthesizes the terminal event, so partial content
// always commits. Idempotent when no stream is active.
func (c *Controller) Cancel(sessionID string) {
	c.mu.Lock()
	handle, ok := c.active[sessionID]
	c.mu.Unlock()

	if !ok {
		return
	}
	handle.cancel()
}

// Wait blocks until the session's active stream, if any, has fully drained.
func (c *Controller) Wait(sessionID string) {
	c.mu.Lock()
	handle, ok := c.active[sessionID]
	c.mu.Unlock()

	if !ok {
		return
	}
	<-handle.done
}

// IsStreaming reports whether the session has an active stream.
func (c *Controller) IsStreaming(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[sessionID]
	return ok
}

// FailAll aborts every active stream with the given reason. Used when the
// liveness probe reports the backend unreachable: an unreachable backend is
// a stream error, never a silent hang.
func (c *Controller) FailAll(reason string) {
	c.mu.Lock()
	handles := make(map[string]*activeStream, len(c.active))
	for id, handle := range c.active {
		handles[id] = handle
	}
	c.mu.Unlock()

	for sessionID, handle := range handles {
		c.log.Warn().Str("sessionID", sessionID).Str("reason", reason).Msg("failing active stream")
		c.terminate(sessionID, protocol.Failed(reason))
		handle.cancel()
	}
}
