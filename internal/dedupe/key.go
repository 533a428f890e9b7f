package dedupe

import (
	"encoding/hex"
	"strings"

	"github.com/mattjoyce/courier/internal/mail"
	"github.com/zeebo/blake3"
)

// KeyFor resolves the idempotency key for a message: a caller-supplied key
// wins when present; otherwise a deterministic key is derived from the
// normalized message content so identical resubmissions collapse to the same
// key even without an explicit one.
func KeyFor(m *mail.Message) string {
	if k := strings.TrimSpace(m.IdempotencyKey); k != "" {
		return k
	}
	return DeriveKey(m)
}

// DeriveKey computes a stable content hash over sender, recipient list,
// subject, and body. Fields are newline-separated so that boundary shifts
// between fields cannot produce colliding inputs.
func DeriveKey(m *mail.Message) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(strings.ToLower(m.From)))
	b.WriteByte('\n')
	b.WriteString(strings.Join(m.To, ","))
	b.WriteByte('\n')
	b.WriteString(m.Subject)
	b.WriteByte('\n')
	b.WriteString(m.Body)

	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
