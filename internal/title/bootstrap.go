// Package title derives human-readable session titles.
//
// Two independent triggers, decoupled from the reducer: the first send in a
// session gets an instant truncated title with no network wait, and the end
// of the first turn requests a backend-generated title that overwrites the
// instant one when it arrives. Generation failure leaves the instant title
// standing; it is logged, never retried.
package title

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/store"
)

// InstantTitleLen is the truncation length for the instant title.
const InstantTitleLen = 30

// generateTimeout bounds the backend title request.
const generateTimeout = 30 * time.Second

// Generator requests a generated title from the backend.
type Generator interface {
	GenerateTitle(ctx context.Context, sessionID string) (string, error)
}

// Bootstrapper observes session lifecycle milestones and titles sessions.
// Subscriptions are keyed by session on the bus, so any number of sessions
// bootstrap concurrently without clobbering one another.
type Bootstrapper struct {
	store     *store.Store
	generator Generator
	log       zerolog.Logger
	unsubs    []func()
}

// NewBootstrapper creates a bootstrapper writing titles to st.
func NewBootstrapper(st *store.Store, generator Generator) *Bootstrapper {
	return &Bootstrapper{
		store:     st,
		generator: generator,
		log:       logging.With().Str("component", "title").Logger(),
	}
}

// Start subscribes the bootstrapper to the bus.
func (b *Bootstrapper) Start(bus *event.Bus) {
	b.unsubs = append(b.unsubs,
		bus.Subscribe(event.TurnStarted, b.onTurnStarted),
		bus.Subscribe(event.TurnCompleted, b.onTurnCompleted),
	)
}

// Stop unsubscribes.
func (b *Bootstrapper) Stop() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}

// onTurnStarted sets the instant title on the session's first send. This is
// synchronous so the session list updates before any network round trip.
func (b *Bootstrapper) onTurnStarted(ev event.Event) {
	data, ok := ev.Data.(event.TurnStartedData)
	if !ok || !data.First {
		return
	}
	b.store.SetTitle(data.SessionID, InstantTitle(data.UserText), false)
}

// onTurnCompleted requests a generated title after the first turn only.
func (b *Bootstrapper) onTurnCompleted(ev event.Event) {
	data, ok := ev.Data.(event.TurnCompletedData)
	if !ok || data.Turn != 1 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
		defer cancel()

		generated, err := b.generator.GenerateTitle(ctx, data.SessionID)
		if err != nil {
			b.log.Warn().Err(err).Str("sessionID", data.SessionID).Msg("title generation failed")
			return
		}
		generated = firstLine(generated)
		if generated == "" {
			return
		}
		b.store.SetTitle(data.SessionID, generated, true)
	}()
}

// InstantTitle truncates the user's message to a short, rune-safe title.
func InstantTitle(text string) string {
	text = strings.TrimSpace(firstLine(text))
	runes := []rune(text)
	if len(runes) <= InstantTitleLen {
		return text
	}
	return strings.TrimSpace(string(runes[:InstantTitleLen])) + "..."
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
