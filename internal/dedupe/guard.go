package dedupe

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/courier/internal/mail"
	"github.com/mattjoyce/courier/internal/store"
)

// AttemptFinder is the slice of the attempt store the guard needs.
type AttemptFinder interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*store.Attempt, error)
}

// Guard checks submissions against the attempt store so that at most one
// dispatch lifecycle exists per idempotency key.
type Guard struct {
	finder AttemptFinder
}

func NewGuard(finder AttemptFinder) *Guard {
	return &Guard{finder: finder}
}

// Check resolves the message's idempotency key and looks up an existing
// attempt for it. A non-nil existing attempt means the submission is a
// duplicate and no further work may happen for it.
func (g *Guard) Check(ctx context.Context, m *mail.Message) (string, *store.Attempt, error) {
	key := KeyFor(m)

	existing, err := g.finder.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return key, nil, nil
	}
	if err != nil {
		return key, nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return key, existing, nil
}
