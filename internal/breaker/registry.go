package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/log"
)

// State is the circuit mode for one provider.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // failing fast
	StateHalfOpen State = "half_open" // probing for recovery
)

// Config holds the failure-tracking parameters shared by all circuits.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// Status is a read-only projection of one circuit for observability.
type Status struct {
	State     State `json:"state"`
	Failures  int   `json:"consecutive_failures"`
	Available bool  `json:"available"`
}

// Registry tracks a circuit breaker per provider name. Circuits are created
// lazily on first reference and live for the process lifetime. Each circuit
// has its own lock; independent providers never block each other.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

type circuit struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   log.WithComponent("breaker"),
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// Available reports whether the provider may be called. An open circuit whose
// recovery timeout has elapsed flips to half-open as a side effect and
// becomes available for one probing call.
func (r *Registry) Available(provider string) bool {
	c := r.circuitFor(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if !c.lastFailure.IsZero() && r.now().Sub(c.lastFailure) >= r.cfg.RecoveryTimeout {
			c.state = StateHalfOpen
			r.logger.Info("circuit half-open, probing recovery", "provider", provider)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess clears the failure count and closes a half-open circuit.
func (r *Registry) RecordSuccess(provider string) {
	c := r.circuitFor(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.lastFailure = time.Time{}
	if c.state == StateHalfOpen {
		c.state = StateClosed
		r.logger.Info("circuit closed after successful probe", "provider", provider)
	}
}

// RecordFailure counts one failure. The circuit opens when the consecutive
// failure count reaches the threshold, or immediately when a half-open probe
// fails.
func (r *Registry) RecordFailure(provider string) {
	c := r.circuitFor(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++

	if c.state == StateHalfOpen || c.failures >= r.cfg.FailureThreshold {
		c.state = StateOpen
		c.lastFailure = r.now()
		r.logger.Warn("circuit opened",
			"provider", provider,
			"consecutive_failures", c.failures,
		)
	}
}

// State returns the provider's current circuit mode. Providers never recorded
// report closed.
func (r *Registry) State(provider string) State {
	r.mu.Lock()
	c, ok := r.circuits[provider]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset forces the provider's circuit closed with counters zeroed.
func (r *Registry) Reset(provider string) {
	c := r.circuitFor(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosed
	c.failures = 0
	c.lastFailure = time.Time{}
	r.logger.Info("circuit reset", "provider", provider)
}

// Snapshot returns the current status of every known circuit. Availability
// is computed without touching circuit state: only Available may flip an
// open circuit to half-open, so observability reads never spend the probe.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.Lock()
	names := make([]string, 0, len(r.circuits))
	for name := range r.circuits {
		names = append(names, name)
	}
	r.mu.Unlock()

	out := make(map[string]Status, len(names))
	for _, name := range names {
		c := r.circuitFor(name)
		c.mu.Lock()
		st := Status{State: c.state, Failures: c.failures}
		switch c.state {
		case StateClosed, StateHalfOpen:
			st.Available = true
		case StateOpen:
			st.Available = !c.lastFailure.IsZero() && r.now().Sub(c.lastFailure) >= r.cfg.RecoveryTimeout
		}
		c.mu.Unlock()
		out[name] = st
	}
	return out
}

func (r *Registry) circuitFor(provider string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[provider]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[provider] = c
	}
	return c
}
