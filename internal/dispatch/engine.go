package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/courier/internal/breaker"
	"github.com/mattjoyce/courier/internal/dedupe"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/mail"
	"github.com/mattjoyce/courier/internal/provider"
	"github.com/mattjoyce/courier/internal/ratelimit"
	"github.com/mattjoyce/courier/internal/store"
)

// RetryConfig bounds the per-provider retry loop.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Engine orchestrates one message through deduplication, rate limiting, and
// the ranked provider chain. Every submission resolves to a terminal status
// and a durable attempt record (except rejections that never create one).
type Engine struct {
	providers []provider.Provider
	store     *store.Store
	guard     *dedupe.Guard
	limiter   *ratelimit.Limiter
	breakers  *breaker.Registry
	retry     RetryConfig
	hub       *events.Hub
	logger    *slog.Logger
}

func NewEngine(
	providers []provider.Provider,
	st *store.Store,
	guard *dedupe.Guard,
	limiter *ratelimit.Limiter,
	breakers *breaker.Registry,
	retry RetryConfig,
	hub *events.Hub,
) *Engine {
	ranked := make([]provider.Provider, len(providers))
	copy(ranked, providers)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority() < ranked[j].Priority()
	})

	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.Multiplier < 1 {
		retry.Multiplier = 1
	}

	return &Engine{
		providers: ranked,
		store:     st,
		guard:     guard,
		limiter:   limiter,
		breakers:  breakers,
		retry:     retry,
		hub:       hub,
		logger:    log.WithComponent("dispatch"),
	}
}

// Dispatch runs the full pipeline for one message: idempotency guard, rate
// limit admission, durable record creation, then the provider chain. It never
// returns a nil result.
func (e *Engine) Dispatch(ctx context.Context, msg *mail.Message) *Result {
	key, existing, err := e.guard.Check(ctx, msg)
	if err != nil {
		e.logger.Error("idempotency check failed", "error", err)
		return &Result{
			ID:        uuid.NewString(),
			Status:    store.StatusFailed,
			Message:   store.StatusFailed.Description(),
			Errors:    []string{err.Error()},
			Timestamp: time.Now().UTC(),
		}
	}
	if existing != nil {
		e.logger.Info("duplicate submission",
			"id", existing.ID,
			"idempotency_key", key,
		)
		e.publish(events.TypeMessageDuplicate, existing)
		return duplicateResult(existing)
	}

	admitted, err := e.limiter.Admit(ctx, msg.From)
	if err != nil {
		e.logger.Error("rate limit check failed", "sender", msg.From, "error", err)
		return &Result{
			ID:             uuid.NewString(),
			Status:         store.StatusFailed,
			Message:        store.StatusFailed.Description(),
			Errors:         []string{err.Error()},
			IdempotencyKey: key,
			Timestamp:      time.Now().UTC(),
		}
	}
	if !admitted {
		// No record is created: the key stays unclaimed so the caller can
		// retry the same message once the window reopens.
		res := &Result{
			ID:             uuid.NewString(),
			Status:         store.StatusRateLimited,
			Message:        store.StatusRateLimited.Description(),
			IdempotencyKey: key,
			Timestamp:      time.Now().UTC(),
		}
		if e.hub != nil {
			e.hub.Publish(events.TypeMessageRateLimited, map[string]any{
				"id":     res.ID,
				"status": res.Status,
				"sender": msg.From,
			})
		}
		return res
	}

	rec := newAttempt(msg, key)
	if err := e.store.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Lost a creation race; fold into the duplicate path.
			if winner, ferr := e.store.FindByIdempotencyKey(ctx, key); ferr == nil {
				e.publish(events.TypeMessageDuplicate, winner)
				return duplicateResult(winner)
			}
		}
		e.logger.Error("create attempt", "error", err)
		return &Result{
			ID:             rec.ID,
			Status:         store.StatusFailed,
			Message:        store.StatusFailed.Description(),
			Errors:         []string{err.Error()},
			IdempotencyKey: key,
			Timestamp:      time.Now().UTC(),
		}
	}
	e.limiter.Record(msg.From)

	return e.run(ctx, msg, rec)
}

// Redispatch re-runs the provider chain for an existing attempt record,
// typically a failed one picked up by the queue's redrive sweep. The guard
// and rate limiter are skipped: the attempt was already admitted once, and
// re-checking its own key would classify every redrive as a duplicate.
func (e *Engine) Redispatch(ctx context.Context, rec *store.Attempt) *Result {
	msg := &mail.Message{
		From:           rec.Sender,
		To:             rec.Recipients,
		CC:             rec.CC,
		BCC:            rec.BCC,
		Subject:        rec.Subject,
		Body:           rec.Body,
		HTML:           rec.HTML,
		IdempotencyKey: rec.IdempotencyKey,
	}

	rec.LastError = nil
	rec.ProviderUsed = nil
	e.logger.Info("redispatching attempt", "id", rec.ID, "prior_attempts", rec.AttemptCount)
	return e.run(ctx, msg, rec)
}

// StatusByID returns the current result projection for a stored attempt.
func (e *Engine) StatusByID(ctx context.Context, id string) (*Result, error) {
	rec, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return resultFromAttempt(rec), nil
}

// List returns result projections for stored attempts, newest first.
func (e *Engine) List(ctx context.Context, status store.Status, page, size int) ([]*Result, error) {
	recs, err := e.store.List(ctx, status, page, size)
	if err != nil {
		return nil, err
	}
	out := make([]*Result, len(recs))
	for i, rec := range recs {
		out[i] = resultFromAttempt(rec)
	}
	return out, nil
}

// run walks the ranked provider chain. First success wins; a provider whose
// retry budget is exhausted trips its breaker and yields to the next one.
func (e *Engine) run(ctx context.Context, msg *mail.Message, rec *store.Attempt) *Result {
	var allErrors []string

	for _, p := range e.providers {
		name := p.Name()

		if !p.Healthy() {
			e.logger.Warn("skipping unhealthy provider", "provider", name, "id", rec.ID)
			continue
		}
		if !e.breakers.Available(name) {
			e.logger.Warn("skipping provider, circuit open", "provider", name, "id", rec.ID)
			continue
		}

		receipt, attempts, errs := e.sendWithRetry(ctx, msg, rec, p)
		allErrors = append(allErrors, errs...)

		if receipt != nil {
			e.breakers.RecordSuccess(name)

			now := time.Now().UTC()
			rec.Status = store.StatusSent
			rec.AttemptCount = attempts
			rec.ProviderUsed = &name
			rec.LastError = nil
			rec.CompletedAt = &now
			if err := e.store.Update(ctx, rec); err != nil {
				e.logger.Error("persist sent attempt", "id", rec.ID, "error", err)
			}

			e.logger.Info("message sent",
				"id", rec.ID,
				"provider", name,
				"attempts", attempts,
			)
			e.publish(events.TypeMessageSent, rec)
			return resultFromAttempt(rec)
		}

		e.breakers.RecordFailure(name)
		e.logger.Warn("provider exhausted", "provider", name, "id", rec.ID)
	}

	joined := strings.Join(allErrors, "; ")
	if joined == "" {
		joined = "no provider available"
		allErrors = []string{joined}
	}
	rec.Status = store.StatusFailed
	rec.LastError = &joined
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Error("persist failed attempt", "id", rec.ID, "error", err)
	}

	e.logger.Error("all providers failed", "id", rec.ID, "errors", len(allErrors))
	e.publish(events.TypeMessageFailed, rec)

	res := resultFromAttempt(rec)
	res.Errors = allErrors
	return res
}

// sendWithRetry drives one provider's bounded retry loop with exponential
// backoff. A non-retryable error or an interrupted backoff wait abandons this
// provider early; the chain moves on to the next.
func (e *Engine) sendWithRetry(ctx context.Context, msg *mail.Message, rec *store.Attempt, p provider.Provider) (*provider.Receipt, int, []string) {
	name := p.Name()
	delay := e.retry.InitialDelay
	var errs []string

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		rec.Status = store.StatusSending
		rec.AttemptCount = attempt
		if err := e.store.Update(ctx, rec); err != nil {
			e.logger.Error("persist sending attempt", "id", rec.ID, "error", err)
		}

		receipt, err := p.Send(ctx, msg)
		if err == nil {
			return receipt, attempt, errs
		}

		errs = append(errs, fmt.Sprintf("provider %s attempt %d: %v", name, attempt, err))
		e.logger.Warn("send attempt failed",
			"provider", name,
			"id", rec.ID,
			"attempt", attempt,
			"error", err,
		)

		if !provider.Retryable(err) {
			e.logger.Warn("non-retryable failure, abandoning provider", "provider", name, "id", rec.ID)
			break
		}
		if attempt == e.retry.MaxAttempts {
			break
		}

		if err := waitFor(ctx, delay); err != nil {
			errs = append(errs, fmt.Sprintf("provider %s: backoff interrupted: %v", name, err))
			break
		}
		delay = nextDelay(delay, e.retry.Multiplier, e.retry.MaxDelay)
	}

	return nil, 0, errs
}

func (e *Engine) publish(eventType string, rec *store.Attempt) {
	if e.hub == nil {
		return
	}
	payload := map[string]any{
		"id":       rec.ID,
		"status":   rec.Status,
		"sender":   rec.Sender,
		"attempts": rec.AttemptCount,
	}
	if rec.ProviderUsed != nil {
		payload["provider"] = *rec.ProviderUsed
	}
	e.hub.Publish(eventType, payload)
}

func newAttempt(msg *mail.Message, key string) *store.Attempt {
	return &store.Attempt{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		Sender:         msg.From,
		Recipients:     msg.To,
		CC:             msg.CC,
		BCC:            msg.BCC,
		Subject:        msg.Subject,
		Body:           msg.Body,
		HTML:           msg.HTML,
		Status:         store.StatusPending,
	}
}

// duplicateResult reports a duplicate submission while pointing at the
// original attempt's id and current state.
func duplicateResult(original *store.Attempt) *Result {
	r := resultFromAttempt(original)
	r.Status = store.StatusDuplicate
	r.Message = fmt.Sprintf("%s (original status: %s)", store.StatusDuplicate.Description(), original.Status)
	return r
}

// waitFor blocks for d or until ctx is cancelled.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextDelay(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		next = max
	}
	return next
}
