package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store persists message attempts in SQLite.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const attemptColumns = `
  id, idempotency_key, sender, recipients, cc, bcc, subject, body, html,
  status, attempt_count, provider_used, last_error, created_at, updated_at, completed_at`

// Create inserts a new attempt row. The idempotency_key UNIQUE constraint is
// the only guard against concurrent double-creation; a violation is reported
// as ErrDuplicateKey so the caller can fold into the duplicate path.
func (s *Store) Create(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		return fmt.Errorf("attempt id is empty")
	}
	if a.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is empty")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("invalid status: %q", a.Status)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO message_attempts(`+attemptColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		a.ID, a.IdempotencyKey, a.Sender,
		joinAddrs(a.Recipients), nullJoin(a.CC), nullJoin(a.BCC),
		a.Subject, a.Body, boolToInt(a.HTML),
		string(a.Status), a.AttemptCount, a.ProviderUsed, a.LastError,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano), nullTime(a.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing attempt.
func (s *Store) Update(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		return fmt.Errorf("attempt id is empty")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("invalid status: %q", a.Status)
	}

	a.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
UPDATE message_attempts
SET status = ?, attempt_count = ?, provider_used = ?, last_error = ?, updated_at = ?, completed_at = ?
WHERE id = ?;
`, string(a.Status), a.AttemptCount, a.ProviderUsed, a.LastError,
		a.UpdatedAt.Format(time.RFC3339Nano), nullTime(a.CompletedAt), a.ID)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attempt rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByID returns the attempt with the given external id.
func (s *Store) FindByID(ctx context.Context, id string) (*Attempt, error) {
	return s.findOne(ctx, `SELECT `+attemptColumns+` FROM message_attempts WHERE id = ?;`, id)
}

// FindByIdempotencyKey returns the attempt holding the given key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*Attempt, error) {
	return s.findOne(ctx, `SELECT `+attemptColumns+` FROM message_attempts WHERE idempotency_key = ?;`, key)
}

// List returns attempts ordered newest-first, optionally filtered by status,
// with page/size pagination.
func (s *Store) List(ctx context.Context, status Status, page, size int) ([]*Attempt, error) {
	if size <= 0 {
		size = 10
	}
	if page < 0 {
		page = 0
	}

	query := `SELECT ` + attemptColumns + ` FROM message_attempts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?;`
	args = append(args, size, page*size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByStatus counts attempts currently in the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_attempts WHERE status = ?;`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return n, nil
}

// CountBySenderSince counts attempts created by sender at or after since
// whose status is one of statuses. The rate limiter uses this as its durable
// second-tier check.
func (s *Store) CountBySenderSince(ctx context.Context, sender string, since time.Time, statuses []Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := []any{sender, since.UTC().Format(time.RFC3339Nano)}
	for _, st := range statuses {
		args = append(args, string(st))
	}

	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM message_attempts
WHERE sender = ? AND created_at >= ? AND status IN (`+placeholders+`);`, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by sender since: %w", err)
	}
	return n, nil
}

// FindFailedForRetry returns failed attempts with fewer than maxAttempts
// attempts that have not been touched since updatedBefore, oldest first.
func (s *Store) FindFailedForRetry(ctx context.Context, maxAttempts int, updatedBefore time.Time, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+attemptColumns+` FROM message_attempts
WHERE status = ? AND attempt_count < ? AND updated_at <= ?
ORDER BY updated_at ASC
LIMIT ?;
`, string(StatusFailed), maxAttempts, updatedBefore.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("find failed for retry: %w", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteCreatedBefore removes attempts older than cutoff. Retention sweeps
// are the only path that deletes attempt rows.
func (s *Store) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM message_attempts WHERE created_at < ?;`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("delete old attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old attempts rows: %w", err)
	}
	return n, nil
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var (
		a            Attempt
		cc           sql.NullString
		bcc          sql.NullString
		recipients   string
		html         int
		statusS      string
		providerUsed sql.NullString
		lastError    sql.NullString
		createdAtS   string
		updatedAtS   string
		completedAtS sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.IdempotencyKey, &a.Sender, &recipients, &cc, &bcc,
		&a.Subject, &a.Body, &html, &statusS, &a.AttemptCount,
		&providerUsed, &lastError, &createdAtS, &updatedAtS, &completedAtS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}

	a.Recipients = splitAddrs(recipients)
	if cc.Valid {
		a.CC = splitAddrs(cc.String)
	}
	if bcc.Valid {
		a.BCC = splitAddrs(bcc.String)
	}
	a.HTML = html != 0
	a.Status = Status(statusS)
	if providerUsed.Valid {
		a.ProviderUsed = &providerUsed.String
	}
	if lastError.Valid {
		a.LastError = &lastError.String
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtS); err != nil {
		return nil, fmt.Errorf("scan attempt: parse created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtS); err != nil {
		return nil, fmt.Errorf("scan attempt: parse updated_at: %w", err)
	}
	if completedAtS.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAtS.String)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: parse completed_at: %w", err)
		}
		a.CompletedAt = &t
	}
	return &a, nil
}

// isUniqueViolation detects a UNIQUE constraint failure from the sqlite
// driver without depending on driver-internal error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func joinAddrs(addrs []string) string {
	return strings.Join(addrs, ",")
}

func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullJoin(addrs []string) any {
	if len(addrs) == 0 {
		return nil
	}
	return joinAddrs(addrs)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
