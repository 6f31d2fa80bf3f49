// Package approval arbitrates whether a risk-gated tool call may proceed.
//
// Per session the gate is a small state machine: NoApproval -> Pending ->
// Approved | Denied | TimedOut. Pending starts a local countdown; when it
// reaches zero an implicit deny is sent exactly as if the user clicked it.
// The deadline is advisory UX only; the backend's own timeout stays
// authoritative, so clock drift between clients is tolerated.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/types"
)

// DefaultTimeout is the local countdown before an implicit deny.
const DefaultTimeout = 60 * time.Second

// Resolver sends an approval decision to the backend.
type Resolver interface {
	ResolveApproval(ctx context.Context, sessionID string, decision types.ApprovalDecision) error
}

type pendingApproval struct {
	sessionID string
	tool      string
	timer     *time.Timer
	resolved  bool
}

// Gate owns approval countdowns and the exactly-once resolution guarantee.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval // requestID -> state

	store    *store.Store
	resolver Resolver
	timeout  time.Duration
	log      zerolog.Logger

	unsubs []func()
}

// NewGate creates a gate with the given countdown (DefaultTimeout if <= 0).
func NewGate(st *store.Store, resolver Resolver, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		pending:  make(map[string]*pendingApproval),
		store:    st,
		resolver: resolver,
		timeout:  timeout,
		log:      logging.With().Str("component", "approval").Logger(),
	}
}

// Start subscribes the gate to the bus. Must be called once before streams
// begin; Stop undoes it.
func (g *Gate) Start(bus *event.Bus) {
	g.unsubs = append(g.unsubs,
		bus.Subscribe(event.ApprovalRequested, g.onRequested),
		bus.Subscribe(event.TurnCompleted, g.onTurnCompleted),
	)
}

// Stop unsubscribes and cancels all countdowns without sending decisions.
func (g *Gate) Stop() {
	for _, unsub := range g.unsubs {
		unsub()
	}
	g.unsubs = nil

	g.mu.Lock()
	defer g.mu.Unlock()
	for id, p := range g.pending {
		p.timer.Stop()
		delete(g.pending, id)
	}
}

func (g *Gate) onRequested(ev event.Event) {
	data, ok := ev.Data.(event.ApprovalRequestedData)
	if !ok || data.Request == nil {
		return
	}
	requestID := data.Request.RequestID

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.pending[requestID]; exists {
		return
	}

	p := &pendingApproval{sessionID: data.SessionID, tool: data.Request.Tool}
	p.timer = time.AfterFunc(g.timeout, func() {
		g.timeoutFired(requestID)
	})
	g.pending[requestID] = p

	g.log.Debug().
		Str("sessionID", data.SessionID).
		Str("requestID", requestID).
		Str("tool", data.Request.Tool).
		Str("risk", string(data.Request.Risk)).
		Msg("approval pending")
}

// onTurnCompleted cancels countdowns for a finished turn. The request is
// moot once the turn is over; no decision is sent, the backend's timeout
// settles it server-side.
func (g *Gate) onTurnCompleted(ev event.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, p := range g.pending {
		if p.sessionID == ev.SessionID && !p.resolved {
			p.timer.Stop()
			delete(g.pending, id)
		}
	}
}

func (g *Gate) timeoutFired(requestID string) {
	// Timeout and user click race; take() makes the first one win.
	p, ok := g.take(requestID)
	if !ok {
		return
	}

	g.log.Info().
		Str("sessionID", p.sessionID).
		Str("requestID", requestID).
		Msg("approval timed out, denying")

	g.settle(context.Background(), p, requestID, types.ApprovalDecision{
		RequestID: requestID,
		Approved:  false,
	}, true)
}

// Resolve submits the user's decision. Exactly one resolution is sent per
// request ID; a second attempt (user click racing the timeout, or a double
// click) is a no-op, not an error.
func (g *Gate) Resolve(ctx context.Context, requestID string, decision types.ApprovalDecision) {
	p, ok := g.take(requestID)
	if !ok {
		return
	}
	p.timer.Stop()
	decision.RequestID = requestID
	g.settle(ctx, p, requestID, decision, false)
}

// take claims the pending request, returning false when it was already
// resolved or never existed.
func (g *Gate) take(requestID string) (*pendingApproval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[requestID]
	if !ok || p.resolved {
		return nil, false
	}
	p.resolved = true
	delete(g.pending, requestID)
	return p, true
}

func (g *Gate) settle(ctx context.Context, p *pendingApproval, requestID string, decision types.ApprovalDecision, timedOut bool) {
	// Network failure is treated as already resolved: the outcome may have
	// taken effect server-side, so the UI must not re-block on it.
	if err := g.resolver.ResolveApproval(ctx, p.sessionID, decision); err != nil {
		g.log.Warn().Err(err).
			Str("sessionID", p.sessionID).
			Str("requestID", requestID).
			Msg("approval submit failed")
	}

	if decision.Approved && decision.AllowForSession {
		g.store.AllowTool(p.sessionID, p.tool)
	}

	g.store.ResolveApproval(p.sessionID, requestID, decision.Approved, timedOut)
}
