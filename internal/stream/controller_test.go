package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/types"
)

// fakeStream feeds scripted events; Recv blocks on the channel so tests
// control pacing.
type fakeStream struct {
	events chan protocol.Event
	ctx    context.Context
	closed bool
	mu     sync.Mutex
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{events: make(chan protocol.Event, 16), ctx: ctx}
}

func (f *fakeStream) Recv() (protocol.Event, error) {
	select {
	case ev, ok := <-f.events:
		if !ok {
			return protocol.Event{}, io.EOF
		}
		return ev, nil
	case <-f.ctx.Done():
		return protocol.Event{}, f.ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	streams []*fakeStream
	opened  [][]string // allowedTools per open
	err     error
	dialing chan struct{} // when set, the next dial blocks until ctx is done
}

func (f *fakeTransport) OpenStream(ctx context.Context, sessionID, text string, allowedTools []string) (EventStream, error) {
	f.mu.Lock()
	if f.dialing != nil {
		dialing := f.dialing
		f.dialing = nil
		f.mu.Unlock()
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream(ctx)
	f.streams = append(f.streams, s)
	f.opened = append(f.opened, allowedTools)
	return s, nil
}

func (f *fakeTransport) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

func setup(t *testing.T) (*Controller, *store.Store, *fakeTransport) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	st := store.New(bus)
	transport := &fakeTransport{}
	return NewController(st, transport), st, transport
}

func TestStartConsumesUntilDone(t *testing.T) {
	c, st, transport := setup(t)

	require.NoError(t, c.Start(context.Background(), "s1", "hi"))
	assert.True(t, c.IsStreaming("s1"))

	fs := transport.last()
	fs.events <- protocol.Event{Type: protocol.EventToken, Token: "Hi ", Time: 1}
	fs.events <- protocol.Event{Type: protocol.EventToken, Token: "there", Time: 2}
	fs.events <- protocol.Event{Type: protocol.EventDone, Time: 3}

	c.Wait("s1")

	snap := st.Snapshot("s1")
	assert.False(t, snap.IsStreaming)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Hi there", snap.Messages[1].Content)
	assert.False(t, c.IsStreaming("s1"))
	assert.True(t, fs.closed)
}

func TestStartWhileStreaming(t *testing.T) {
	c, st, transport := setup(t)

	require.NoError(t, c.Start(context.Background(), "s1", "first"))
	err := c.Start(context.Background(), "s1", "second")
	require.ErrorIs(t, err, ErrAlreadyStreaming)

	assert.Len(t, st.Snapshot("s1").Messages, 1, "rejected send leaves no trace")

	transport.last().events <- protocol.Event{Type: protocol.EventDone}
	c.Wait("s1")
}

func TestSessionsStreamIndependently(t *testing.T) {
	c, st, transport := setup(t)

	require.NoError(t, c.Start(context.Background(), "s1", "one"))
	require.NoError(t, c.Start(context.Background(), "s2", "two"))

	transport.mu.Lock()
	first, second := transport.streams[0], transport.streams[1]
	transport.mu.Unlock()

	first.events <- protocol.Event{Type: protocol.EventToken, Token: "a"}
	second.events <- protocol.Event{Type: protocol.EventToken, Token: "b"}
	first.events <- protocol.Event{Type: protocol.EventDone}
	second.events <- protocol.Event{Type: protocol.EventDone}

	c.Wait("s1")
	c.Wait("s2")

	assert.Equal(t, "a", st.Snapshot("s1").Messages[1].Content)
	assert.Equal(t, "b", st.Snapshot("s2").Messages[1].Content)
}

func TestCancelSynthesizesTerminal(t *testing.T) {
	c, st, transport := setup(t)

	require.NoError(t, c.Start(context.Background(), "s1", "write"))
	fs := transport.last()
	fs.events <- protocol.Event{Type: protocol.EventToken, Token: "partial answer"}

	// Let the consumer drain the token before cancelling.
	require.Eventually(t, func() bool {
		return st.Snapshot("s1").StreamingContent == "partial answer"
	}, time.Second, 5*time.Millisecond)

	c.Cancel("s1")
	c.Wait("s1")

	snap := st.Snapshot("s1")
	assert.False(t, snap.IsStreaming)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "partial answer", snap.Messages[1].Content, "partial content commits on cancel")
}

func TestCancelIdle(t *testing.T) {
	c, _, _ := setup(t)
	c.Cancel("nobody") // must not panic
	c.Wait("nobody")
}

func TestEOFWithoutTerminal(t *testing.T) {
	c, st, transport := setup(t)

	require.NoError(t, c.Start(context.Background(), "s1", "hi"))
	fs := transport.last()
	fs.events <- protocol.Event{Type: protocol.EventToken, Token: "half"}
	close(fs.events)

	c.Wait("s1")

	snap := st.Snapshot("s1")
	assert.False(t, snap.IsStreaming)
	require.Len(t, snap.Messages, 2, "EOF still commits the turn")
	assert.Equal(t, "half", snap.Messages[1].Content)
}

func TestOpenStreamFailureFailsTurn(t *testing.T) {
	c, st, transport := setup(t)
	transport.err = errors.New("connection refused")

	require.NoError(t, c.Start(context.Background(), "s1", "hi"))

	snap := st.Snapshot("s1")
	assert.False(t, snap.IsStreaming)
	assert.Len(t, snap.Messages, 1, "user message committed, empty turn not")
	assert.False(t, c.IsStreaming("s1"))

	// The session is usable again.
	transport.err = nil
	require.NoError(t, c.Start(context.Background(), "s1", "retry"))
	transport.last().events <- protocol.Event{Type: protocol.EventDone}
	c.Wait("s1")
}

func TestCancelDuringDialIsCancellation(t *testing.T) {
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	st := store.New(bus)
	transport := &fakeTransport{dialing: make(chan struct{})}
	c := NewController(st, transport)

	var mu sync.Mutex
	var reason string
	bus.Subscribe(event.TurnCompleted, func(ev event.Event) {
		if data, ok := ev.Data.(event.TurnCompletedData); ok {
			mu.Lock()
			reason = data.Reason
			mu.Unlock()
		}
	})

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background(), "s1", "hi") }()

	<-transport.dialing
	c.Cancel("s1")
	require.NoError(t, <-started)

	snap := st.Snapshot("s1")
	assert.False(t, snap.IsStreaming)
	assert.Len(t, snap.Messages, 1, "user message committed, empty turn not")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "cancelled", reason, "a dial aborted by the user is not an error")
}

func TestProtocolViolationFailsTurn(t *testing.T) {
	c, st, transport := setup(t)

	require.NoError(t, c.Start(context.Background(), "s1", "go"))
	fs := transport.last()
	fs.events <- protocol.Event{Type: protocol.EventToken, Token: "working"}
	fs.events <- protocol.Event{
		Type:     protocol.EventApprovalRequest,
		Approval: &types.ApprovalRequest{RequestID: "r1", Tool: "bash"},
	}
	fs.events <- protocol.Event{
		Type:     protocol.EventApprovalRequest,
		Approval: &types.ApprovalRequest{RequestID: "r2", Tool: "bash"},
	}

	c.Wait("s1")

	snap := st.Snapshot("s1")
	assert.False(t, snap.IsStreaming, "violation is fatal to the turn")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "working", snap.Messages[1].Content, "partial content still commits")
	assert.Nil(t, snap.Approval)
}

func TestAllowedToolsAdvertised(t *testing.T) {
	c, st, transport := setup(t)
	st.AllowTool("s1", "bash")

	require.NoError(t, c.Start(context.Background(), "s1", "go"))
	transport.last().events <- protocol.Event{Type: protocol.EventDone}
	c.Wait("s1")

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.opened, 1)
	assert.Equal(t, []string{"bash"}, transport.opened[0])
}

func TestFailAll(t *testing.T) {
	c, st, transport := setup(t)

	require.NoError(t, c.Start(context.Background(), "s1", "one"))
	require.NoError(t, c.Start(context.Background(), "s2", "two"))

	transport.mu.Lock()
	transport.streams[0].events <- protocol.Event{Type: protocol.EventToken, Token: "x"}
	transport.mu.Unlock()

	require.Eventually(t, func() bool {
		return st.Snapshot("s1").StreamingContent == "x"
	}, time.Second, 5*time.Millisecond)

	c.FailAll("backend unreachable")
	c.Wait("s1")
	c.Wait("s2")

	s1 := st.Snapshot("s1")
	assert.False(t, s1.IsStreaming)
	require.Len(t, s1.Messages, 2, "partial content committed by the failure")

	s2 := st.Snapshot("s2")
	assert.False(t, s2.IsStreaming)
	assert.Len(t, s2.Messages, 1, "empty turn commits nothing")
}
