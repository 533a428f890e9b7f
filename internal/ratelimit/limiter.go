package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/store"
)

// countableStatuses are the lifecycle states that consume a sender's quota.
// Failed, rate-limited, and duplicate submissions never count against it.
var countableStatuses = []store.Status{store.StatusPending, store.StatusSending, store.StatusSent}

// AttemptCounter is the slice of the attempt store the limiter needs for its
// durable second-tier check.
type AttemptCounter interface {
	CountBySenderSince(ctx context.Context, sender string, since time.Time, statuses []store.Status) (int64, error)
}

// Config holds the sliding-window parameters.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Limiter applies per-sender sliding-window admission control. The in-memory
// window gives immediate enforcement; the attempt store backs it for accuracy
// across restarts.
type Limiter struct {
	cfg     Config
	counter AttemptCounter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// window holds one sender's recent admissions bucketed to whole seconds.
// Each window carries its own lock so unrelated senders never serialize
// against each other.
type window struct {
	mu      sync.Mutex
	buckets map[int64]int
}

func New(cfg Config, counter AttemptCounter) *Limiter {
	return &Limiter{
		cfg:     cfg,
		counter: counter,
		logger:  log.WithComponent("ratelimit"),
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Admit reports whether sender may submit another message right now. It does
// NOT record the admission; callers that go on to create an attempt must call
// Record separately. Store errors fail closed.
func (l *Limiter) Admit(ctx context.Context, sender string) (bool, error) {
	w := l.windowFor(sender)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.purge(now, l.cfg.Window)

	if w.count() >= l.cfg.MaxRequests {
		l.logger.Warn("rate limit exceeded (in-memory window)", "sender", sender)
		return false, nil
	}

	since := now.Add(-l.cfg.Window)
	dbCount, err := l.counter.CountBySenderSince(ctx, sender, since, countableStatuses)
	if err != nil {
		return false, fmt.Errorf("durable rate-limit check: %w", err)
	}
	if dbCount >= int64(l.cfg.MaxRequests) {
		l.logger.Warn("rate limit exceeded (store check)", "sender", sender, "count", dbCount)
		return false, nil
	}

	return true, nil
}

// Record counts one admitted submission against sender's window.
func (l *Limiter) Record(sender string) {
	w := l.windowFor(sender)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.purge(now, l.cfg.Window)
	w.buckets[now.Unix()]++
}

// CurrentCount returns sender's live in-memory window count.
func (l *Limiter) CurrentCount(sender string) int {
	l.mu.Lock()
	w, ok := l.windows[sender]
	l.mu.Unlock()
	if !ok {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.purge(l.now(), l.cfg.Window)
	return w.count()
}

// Reset drops sender's in-memory window.
func (l *Limiter) Reset(sender string) {
	l.mu.Lock()
	delete(l.windows, sender)
	l.mu.Unlock()
	l.logger.Info("rate limit window reset", "sender", sender)
}

// Limits returns the configured capacity and window width.
func (l *Limiter) Limits() (int, time.Duration) {
	return l.cfg.MaxRequests, l.cfg.Window
}

func (l *Limiter) windowFor(sender string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[sender]
	if !ok {
		w = &window{buckets: make(map[int64]int)}
		l.windows[sender] = w
	}
	return w
}

// purge drops buckets older than the window horizon. Called on every access,
// which bounds memory without a background sweep. Callers hold w.mu.
func (w *window) purge(now time.Time, width time.Duration) {
	cutoff := now.Add(-width).Unix()
	for sec := range w.buckets {
		if sec < cutoff {
			delete(w.buckets, sec)
		}
	}
}

func (w *window) count() int {
	total := 0
	for _, n := range w.buckets {
		total += n
	}
	return total
}
