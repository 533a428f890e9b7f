package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/mail"
)

// Option customizes a simulated provider at construction time.
type Option func(*Simulated)

// WithSeed swaps the RNG seed so tests get deterministic outcomes.
func WithSeed(seed int64) Option {
	return func(p *Simulated) {
		p.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- simulation only.
	}
}

// WithClock overrides the clock used for receipt timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Simulated) {
		if now != nil {
			p.now = now
		}
	}
}

// Simulated is a delivery provider that fakes transport with randomized
// latency and a configurable success probability. Two of these, ranked by
// priority, exercise the engine's retry and fallback paths without any real
// network traffic.
type Simulated struct {
	name        string
	priority    int
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration
	logger      *slog.Logger
	now         func() time.Time

	healthy atomic.Bool

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulated constructs a simulated provider. successRate is clamped to
// [0, 1]; a negative latency range collapses to zero.
func NewSimulated(name string, priority int, successRate float64, minLatency, maxLatency time.Duration, opts ...Option) *Simulated {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	if minLatency < 0 {
		minLatency = 0
	}
	if maxLatency < minLatency {
		maxLatency = minLatency
	}

	p := &Simulated{
		name:        name,
		priority:    priority,
		successRate: successRate,
		minLatency:  minLatency,
		maxLatency:  maxLatency,
		logger:      log.WithProvider(name),
		now:         time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	p.healthy.Store(true)

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Send simulates a delivery: sleep for a sampled latency, then succeed with
// the configured probability. Simulated failures are retryable transport
// errors; cancellation during the latency sleep is not.
func (p *Simulated) Send(ctx context.Context, msg *mail.Message) (*Receipt, error) {
	p.logger.Debug("simulated send", "to", msg.To)

	if d := p.sampleLatency(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &Error{Provider: p.name, Retryable: false, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if p.roll() > p.successRate {
		return nil, &Error{
			Provider:  p.name,
			Retryable: true,
			Err:       fmt.Errorf("simulated transport failure"),
		}
	}

	return &Receipt{
		MessageID: uuid.NewString(),
		Provider:  p.name,
		Timestamp: p.now(),
	}, nil
}

func (p *Simulated) Name() string  { return p.name }
func (p *Simulated) Priority() int { return p.priority }
func (p *Simulated) Healthy() bool { return p.healthy.Load() }

// SetHealthy toggles the provider's health flag, used by tests and by
// operators simulating an outage.
func (p *Simulated) SetHealthy(h bool) {
	p.healthy.Store(h)
	p.logger.Info("provider health changed", "healthy", h)
}

func (p *Simulated) sampleLatency() time.Duration {
	if p.maxLatency <= p.minLatency {
		return p.minLatency
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delta := p.maxLatency - p.minLatency
	return p.minLatency + time.Duration(p.rnd.Int63n(int64(delta)+1))
}

func (p *Simulated) roll() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64()
}
