package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/promptgate/promptgate/pkg/models"
)

// Window is the trailing duration over which requests are counted.
const Window = time.Hour

// defaultWait is advertised when the window is full but no in-window row can
// be found to derive a wait time from.
const defaultWait = 60 * time.Second

// Limiter is a persistent sliding-window request counter backed by SQLite.
// One Limiter instance is shared by every caller in the process; the store
// survives restarts, so the quota does too.
type Limiter struct {
	db  *sql.DB
	max int
	mu  sync.Mutex
}

const createRequestsTable = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL,
	prompt_fingerprint TEXT NOT NULL DEFAULT '',
	response_length INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
`

// New opens the limiter database at dbPath and runs auto-migration.
func New(dbPath string, maxPerHour int) (*Limiter, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open limiter db: %w", err)
	}

	if _, err := db.Exec(createRequestsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate limiter db: %w", err)
	}

	return &Limiter{db: db, max: maxPerHour}, nil
}

// Max returns the configured per-hour request maximum.
func (l *Limiter) Max() int {
	return l.max
}

// Reservation is one claimed quota slot. Exactly one of Commit or Release
// must be called: Commit keeps the slot and attaches the request fingerprint
// and response size, Release refunds it so a failed invocation never counts
// against the quota.
type Reservation struct {
	l  *Limiter
	id int64
}

// Reserve atomically admits a request and claims a quota slot. A nil
// reservation with wait > 0 means the window is full; the caller should
// retry after the advertised wait.
func (l *Limiter) Reserve(ctx context.Context) (*Reservation, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("reserve: begin tx: %w", err)
	}
	defer tx.Rollback()

	count, err := pruneAndCount(ctx, tx, now)
	if err != nil {
		return nil, 0, fmt.Errorf("reserve: %w", err)
	}

	if count >= l.max {
		wait, err := waitForSlot(ctx, tx, now)
		if err != nil {
			return nil, 0, fmt.Errorf("reserve: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, 0, fmt.Errorf("reserve: commit prune: %w", err)
		}
		return nil, wait, nil
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO requests (created_at) VALUES (?)`, now)
	if err != nil {
		return nil, 0, fmt.Errorf("reserve: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, 0, fmt.Errorf("reserve: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("reserve: commit: %w", err)
	}

	return &Reservation{l: l, id: id}, 0, nil
}

// Admit is the read-only admission probe: it prunes aged-out rows, then
// reports whether a request would be admitted right now and, if not, how
// long until the oldest in-window request ages out. It claims nothing;
// callers that intend to execute must use Reserve.
func (l *Limiter) Admit(ctx context.Context) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("admit: begin tx: %w", err)
	}
	defer tx.Rollback()

	count, err := pruneAndCount(ctx, tx, now)
	if err != nil {
		return false, 0, fmt.Errorf("admit: %w", err)
	}

	if count < l.max {
		if err := tx.Commit(); err != nil {
			return false, 0, fmt.Errorf("admit: commit: %w", err)
		}
		return true, 0, nil
	}

	wait, err := waitForSlot(ctx, tx, now)
	if err != nil {
		return false, 0, fmt.Errorf("admit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("admit: commit: %w", err)
	}
	return false, wait, nil
}

// pruneAndCount deletes rows older than the window and counts the remainder.
func pruneAndCount(ctx context.Context, tx *sql.Tx, now time.Time) (int, error) {
	cutoff := now.Add(-Window)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM requests WHERE created_at <= ?`, cutoff); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE created_at > ?`, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count window: %w", err)
	}
	return count, nil
}

// waitForSlot computes the time until the oldest in-window row ages out,
// floored at one second.
func waitForSlot(ctx context.Context, tx *sql.Tx, now time.Time) (time.Duration, error) {
	var oldest time.Time
	err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM requests WHERE created_at > ? ORDER BY created_at ASC LIMIT 1`,
		now.Add(-Window),
	).Scan(&oldest)
	if err == sql.ErrNoRows {
		// Window emptied out from under us; advertise the default.
		return defaultWait, nil
	}
	if err != nil {
		return 0, fmt.Errorf("oldest in window: %w", err)
	}

	wait := oldest.Add(Window).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait, nil
}

// Commit attaches the request fingerprint and response size to the reserved
// slot, making it a permanent record of a successful invocation.
func (r *Reservation) Commit(ctx context.Context, fingerprint string, responseLength int) error {
	_, err := r.l.db.ExecContext(ctx,
		`UPDATE requests SET prompt_fingerprint = ?, response_length = ? WHERE id = ?`,
		fingerprint, responseLength, r.id)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

// Release refunds the reserved slot after a failed invocation.
func (r *Reservation) Release(ctx context.Context) error {
	_, err := r.l.db.ExecContext(ctx,
		`DELETE FROM requests WHERE id = ?`, r.id)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// Stats returns current usage against the quota. Today's count is measured
// from UTC midnight.
func (l *Limiter) Stats(ctx context.Context) (models.UsageStats, error) {
	now := time.Now().UTC()

	var hourCount int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE created_at > ?`,
		now.Add(-Window),
	).Scan(&hourCount)
	if err != nil {
		return models.UsageStats{}, fmt.Errorf("stats: hour count: %w", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var todayCount int
	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE created_at >= ?`,
		dayStart,
	).Scan(&todayCount)
	if err != nil {
		return models.UsageStats{}, fmt.Errorf("stats: today count: %w", err)
	}

	remaining := l.max - hourCount
	if remaining < 0 {
		remaining = 0
	}

	return models.UsageStats{
		RequestsLastHour:  hourCount,
		RequestsToday:     todayCount,
		RemainingThisHour: remaining,
		MaxPerHour:        l.max,
	}, nil
}

// Recent returns the newest committed in-window requests, up to limit.
func (l *Limiter) Recent(ctx context.Context, limit int) ([]models.RateRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, created_at, prompt_fingerprint, response_length
		 FROM requests WHERE created_at > ? AND prompt_fingerprint != ''
		 ORDER BY created_at DESC LIMIT ?`,
		time.Now().UTC().Add(-Window), limit)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer rows.Close()

	var records []models.RateRecord
	for rows.Next() {
		var r models.RateRecord
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.PromptFingerprint, &r.ResponseLength); err != nil {
			return nil, fmt.Errorf("recent: scan: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database connection.
func (l *Limiter) Close() error {
	return l.db.Close()
}
