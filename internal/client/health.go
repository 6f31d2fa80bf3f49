package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
)

const (
	// ProbeInterval is how often a healthy backend is re-probed.
	ProbeInterval = 15 * time.Second
	// probeInitialInterval is the first retry delay after a failed probe.
	probeInitialInterval = time.Second
	// probeMaxInterval caps the retry delay.
	probeMaxInterval = 10 * time.Second
	// probeMaxRetries is how many failed probes it takes to call the
	// backend down.
	probeMaxRetries = 3
)

// HealthChecker is the probe target.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Prober periodically checks backend reachability. After sustained failure
// it publishes health.changed and invokes onDown, so active streams fail
// with a terminal error instead of hanging silently.
type Prober struct {
	checker    HealthChecker
	bus        *event.Bus
	onDown     func(reason string)
	interval   time.Duration
	newBackoff func(ctx context.Context) backoff.BackOff
	log        zerolog.Logger
}

// NewProber creates a prober. onDown may be nil.
func NewProber(checker HealthChecker, bus *event.Bus, onDown func(reason string)) *Prober {
	return &Prober{
		checker:    checker,
		bus:        bus,
		onDown:     onDown,
		interval:   ProbeInterval,
		newBackoff: newProbeBackoff,
		log:        logging.With().Str("component", "health").Logger(),
	}
}

// newProbeBackoff builds the retry schedule used once a probe fails:
// exponential with jitter, bounded attempts, context-aware.
func newProbeBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = probeInitialInterval
	b.MaxInterval = probeMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, probeMaxRetries), ctx)
}

// Run probes until ctx is cancelled. Blocking; callers run it in a
// goroutine.
func (p *Prober) Run(ctx context.Context) {
	reachable := true
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		err := p.probe(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil && reachable {
			reachable = false
			p.log.Warn().Err(err).Msg("backend unreachable")
			p.bus.Publish(event.Event{
				Type: event.HealthChanged,
				Data: event.HealthChangedData{Reachable: false, Error: err.Error()},
			})
			if p.onDown != nil {
				p.onDown("backend unreachable: " + err.Error())
			}
		} else if err == nil && !reachable {
			reachable = true
			p.log.Info().Msg("backend reachable again")
			p.bus.Publish(event.Event{
				Type: event.HealthChanged,
				Data: event.HealthChangedData{Reachable: true},
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe returns nil on the first successful check, or the last error after
// the retry schedule is exhausted.
func (p *Prober) probe(ctx context.Context) error {
	b := p.newBackoff(ctx)
	return backoff.Retry(func() error {
		return p.checker.Health(ctx)
	}, b)
}
