package store

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a message attempt.
type Status string

const (
	StatusPending     Status = "pending"
	StatusSending     Status = "sending"
	StatusSent        Status = "sent"
	StatusFailed      Status = "failed"
	StatusRateLimited Status = "rate_limited"
	StatusDuplicate   Status = "duplicate"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusRateLimited, StatusDuplicate:
		return true
	}
	return false
}

// Terminal reports whether the lifecycle can no longer progress.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusDuplicate
}

// Description returns the human-readable meaning of the status, used in API
// responses.
func (s Status) Description() string {
	switch s {
	case StatusPending:
		return "message is queued for sending"
	case StatusSending:
		return "message is currently being sent"
	case StatusSent:
		return "message was successfully sent"
	case StatusFailed:
		return "message sending failed after all retries"
	case StatusRateLimited:
		return "message sending was rate limited"
	case StatusDuplicate:
		return "message was not sent due to duplicate detection"
	default:
		return "unknown status"
	}
}

// Attempt is the durable record of one dispatch lifecycle. Exactly one row
// exists per idempotency key.
type Attempt struct {
	ID             string
	IdempotencyKey string
	Sender         string
	Recipients     []string
	CC             []string
	BCC            []string
	Subject        string
	Body           string
	HTML           bool
	Status         Status
	AttemptCount   int
	ProviderUsed   *string
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

var (
	// ErrDuplicateKey is returned by Create when another attempt already
	// holds the idempotency key.
	ErrDuplicateKey = errors.New("idempotency key already exists")

	// ErrNotFound is returned by lookups that match no attempt.
	ErrNotFound = errors.New("attempt not found")
)
