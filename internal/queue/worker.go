package queue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/courier/internal/dispatch"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/mail"
	"github.com/mattjoyce/courier/internal/store"
)

// Config tunes the background worker.
type Config struct {
	BatchSize          int
	ProcessingInterval time.Duration
	RedriveAfter       time.Duration
	WorkerConcurrency  int64
	RetryMaxAttempts   int
}

// Dispatcher is the slice of the dispatch engine the worker drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *mail.Message) *dispatch.Result
	Redispatch(ctx context.Context, rec *store.Attempt) *dispatch.Result
}

// AttemptSource is the slice of the attempt store the worker reads for
// redrive candidates and stats.
type AttemptSource interface {
	FindFailedForRetry(ctx context.Context, maxAttempts int, updatedBefore time.Time, limit int) ([]*store.Attempt, error)
	CountByStatus(ctx context.Context, status store.Status) (int64, error)
}

// Worker drains the queue in batches on a fixed interval and periodically
// redrives failed attempts that still have retry budget left. Concurrency
// within a batch is bounded by a weighted semaphore.
type Worker struct {
	cfg    Config
	queue  *Queue
	engine Dispatcher
	source AttemptSource
	sem    *semaphore.Weighted
	logger *slog.Logger
}

func NewWorker(cfg Config, q *Queue, engine Dispatcher, source AttemptSource) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = 5 * time.Second
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}

	return &Worker{
		cfg:    cfg,
		queue:  q,
		engine: engine,
		source: source,
		sem:    semaphore.NewWeighted(cfg.WorkerConcurrency),
		logger: log.WithComponent("queue"),
	}
}

// Run processes batches until ctx is cancelled, then waits for in-flight
// dispatches to finish before returning.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ProcessingInterval)
	defer ticker.Stop()

	w.logger.Info("queue worker started",
		"batch_size", w.cfg.BatchSize,
		"interval", w.cfg.ProcessingInterval,
		"concurrency", w.cfg.WorkerConcurrency,
	)

	for {
		select {
		case <-ctx.Done():
			w.drainInFlight()
			w.logger.Info("queue worker stopped")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
			w.Redrive(ctx)
		}
	}
}

// ProcessBatch takes up to BatchSize messages off the queue and dispatches
// them concurrently. It returns the number of messages taken.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	taken := 0
	for taken < w.cfg.BatchSize {
		select {
		case msg := <-w.queue.ch:
			if err := w.sem.Acquire(ctx, 1); err != nil {
				// Shutting down; push the message back for the record.
				w.logger.Warn("batch aborted mid-drain", "error", err)
				_ = w.queue.Enqueue(msg)
				return taken
			}
			taken++
			go func(m *mail.Message) {
				defer w.sem.Release(1)
				res := w.engine.Dispatch(ctx, m)
				w.logger.Debug("queued message dispatched", "id", res.ID, "status", res.Status)
			}(msg)
		default:
			return taken
		}
	}
	return taken
}

// Redrive re-submits failed attempts that have been idle past RedriveAfter
// and still have attempts left. It returns the number of redriven attempts.
func (w *Worker) Redrive(ctx context.Context) int {
	cutoff := time.Now().Add(-w.cfg.RedriveAfter)
	recs, err := w.source.FindFailedForRetry(ctx, w.cfg.RetryMaxAttempts, cutoff, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("redrive scan failed", "error", err)
		return 0
	}
	if len(recs) == 0 {
		return 0
	}

	w.logger.Info("redriving failed attempts", "count", len(recs))
	for _, rec := range recs {
		res := w.engine.Redispatch(ctx, rec)
		w.logger.Info("redrive finished", "id", rec.ID, "status", res.Status)
	}
	return len(recs)
}

// drainInFlight blocks until every in-flight dispatch released its slot.
func (w *Worker) drainInFlight() {
	if err := w.sem.Acquire(context.Background(), w.cfg.WorkerConcurrency); err != nil {
		return
	}
	w.sem.Release(w.cfg.WorkerConcurrency)
}

// Stats summarizes the live queue and the durable attempt counts. Duplicate
// and rate-limited outcomes never persist a row, so only the four stored
// statuses are counted.
type Stats struct {
	QueueSize     int   `json:"queue_size"`
	QueueCapacity int   `json:"queue_capacity"`
	Pending       int64 `json:"pending"`
	Sending       int64 `json:"sending"`
	Sent          int64 `json:"sent"`
	Failed        int64 `json:"failed"`
}

// Stats collects queue depth plus per-status counts from the store.
func (w *Worker) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{
		QueueSize:     w.queue.Len(),
		QueueCapacity: w.queue.Cap(),
	}

	counts := []struct {
		status store.Status
		dst    *int64
	}{
		{store.StatusPending, &s.Pending},
		{store.StatusSending, &s.Sending},
		{store.StatusSent, &s.Sent},
		{store.StatusFailed, &s.Failed},
	}
	for _, c := range counts {
		n, err := w.source.CountByStatus(ctx, c.status)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return s, nil
}
