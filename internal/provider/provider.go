package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/courier/internal/mail"
)

// Provider is the delivery capability contract. Implementations are ranked by
// Priority (lower tried first) and consulted through the circuit breaker.
type Provider interface {
	// Send delivers the message or returns an error. Failures should be a
	// *provider.Error so the dispatch engine can classify them.
	Send(ctx context.Context, msg *mail.Message) (*Receipt, error)

	// Name is the stable identifier used for circuit and attempt bookkeeping.
	Name() string

	// Priority ranks the provider; lower values are tried first.
	Priority() int

	// Healthy reports the provider's own health flag. Unhealthy providers are
	// skipped without touching the circuit breaker.
	Healthy() bool
}

// Receipt is a successful delivery acknowledgment.
type Receipt struct {
	MessageID string
	Provider  string
	Timestamp time.Time
}

// Error is a delivery failure with retry classification. Retryable failures
// are retried within the provider; non-retryable ones cause an immediate
// fallback to the next provider.
type Error struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err allows another attempt against the same
// provider. Errors without classification are treated as non-retryable.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
