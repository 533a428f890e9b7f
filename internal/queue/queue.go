package queue

import (
	"errors"

	"github.com/mattjoyce/courier/internal/mail"
)

// ErrFull is returned by Enqueue when the queue is at capacity. Callers
// surface it as backpressure rather than blocking the submitter.
var ErrFull = errors.New("queue is full")

// Queue is a bounded in-memory buffer of accepted messages awaiting
// asynchronous dispatch. Contents do not survive a restart; durability starts
// at the attempt record, which dispatch creates.
type Queue struct {
	ch chan *mail.Message
}

func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Queue{ch: make(chan *mail.Message, maxSize)}
}

// Enqueue adds msg without blocking. A full queue rejects immediately.
func (q *Queue) Enqueue(msg *mail.Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Len is the number of messages currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Cap is the configured capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
