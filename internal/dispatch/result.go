package dispatch

import (
	"time"

	"github.com/mattjoyce/courier/internal/store"
)

// Result is the caller-facing outcome of one dispatch. The API layer maps it
// to transport-level responses; the engine itself exposes no framing.
type Result struct {
	ID             string       `json:"id"`
	Status         store.Status `json:"status"`
	Message        string       `json:"message"`
	ProviderUsed   string       `json:"provider_used,omitempty"`
	AttemptCount   int          `json:"attempt_count,omitempty"`
	Errors         []string     `json:"errors,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// resultFromAttempt projects a stored attempt into a caller-facing result.
func resultFromAttempt(a *store.Attempt) *Result {
	r := &Result{
		ID:             a.ID,
		Status:         a.Status,
		Message:        a.Status.Description(),
		AttemptCount:   a.AttemptCount,
		IdempotencyKey: a.IdempotencyKey,
		Timestamp:      a.UpdatedAt,
	}
	if a.ProviderUsed != nil {
		r.ProviderUsed = *a.ProviderUsed
	}
	if a.LastError != nil {
		r.Errors = []string{*a.LastError}
	}
	return r
}
