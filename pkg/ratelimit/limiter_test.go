package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, max int) *Limiter {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "limiter_test.db")
	l, err := New(dbPath, max)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func mustReserve(t *testing.T, l *Limiter) *Reservation {
	t.Helper()
	res, wait, err := l.Reserve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatalf("expected reservation, denied with wait %v", wait)
	}
	return res
}

func TestOpenAppliesPragmas(t *testing.T) {
	l := newTestLimiter(t, 5)

	// The CLI and the server open the same file concurrently, so WAL and a
	// busy timeout must actually be in effect, not just requested.
	var mode string
	if err := l.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode, got %q", mode)
	}

	var busy int
	if err := l.db.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 5000 {
		t.Errorf("expected 5000ms busy timeout, got %d", busy)
	}
}

func TestReserveAndStats(t *testing.T) {
	l := newTestLimiter(t, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := mustReserve(t, l)
		if err := res.Commit(ctx, "fp", 42); err != nil {
			t.Fatal(err)
		}
	}

	usage, err := l.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.RequestsLastHour != 3 {
		t.Errorf("expected 3 in last hour, got %d", usage.RequestsLastHour)
	}
	if usage.RemainingThisHour != 2 {
		t.Errorf("expected 2 remaining, got %d", usage.RemainingThisHour)
	}
	if usage.MaxPerHour != 5 {
		t.Errorf("expected max 5, got %d", usage.MaxPerHour)
	}
}

func TestReserveDenied(t *testing.T) {
	l := newTestLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := mustReserve(t, l)
		if err := res.Commit(ctx, "fp", 1); err != nil {
			t.Fatal(err)
		}
	}

	res, wait, err := l.Reserve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Fatal("expected denial when window is full")
	}
	if wait < time.Second || wait > Window {
		t.Errorf("unexpected wait %v", wait)
	}

	ok, wait, err := l.Admit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected admit probe to deny")
	}
	if wait < time.Second {
		t.Errorf("expected positive wait, got %v", wait)
	}
}

func TestReleaseRefunds(t *testing.T) {
	l := newTestLimiter(t, 1)
	ctx := context.Background()

	res := mustReserve(t, l)

	// Window full while the reservation is held.
	denied, _, err := l.Reserve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if denied != nil {
		t.Fatal("expected denial while slot is reserved")
	}

	if err := res.Release(ctx); err != nil {
		t.Fatal(err)
	}

	// Refunded: the slot is available again.
	mustReserve(t, l)

	usage, err := l.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.RequestsLastHour != 1 {
		t.Errorf("expected 1 in window after refund, got %d", usage.RequestsLastHour)
	}
}

func TestPruneAgedOut(t *testing.T) {
	l := newTestLimiter(t, 1)
	ctx := context.Background()

	// Backdate a record beyond the window.
	_, err := l.db.Exec(`INSERT INTO requests (created_at, prompt_fingerprint) VALUES (?, ?)`,
		time.Now().UTC().Add(-2*time.Hour), "old")
	if err != nil {
		t.Fatal(err)
	}

	ok, _, err := l.Admit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected admission after aged-out record pruned")
	}

	usage, err := l.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.RequestsLastHour != 0 {
		t.Errorf("expected empty window, got %d", usage.RequestsLastHour)
	}
}

func TestWaitUntilOldestExpires(t *testing.T) {
	l := newTestLimiter(t, 1)
	ctx := context.Background()

	// One in-window record 30 minutes old fills the window.
	_, err := l.db.Exec(`INSERT INTO requests (created_at) VALUES (?)`,
		time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	ok, wait, err := l.Admit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected denial")
	}
	if wait < 29*time.Minute || wait > 31*time.Minute {
		t.Errorf("expected ~30m wait, got %v", wait)
	}
}

func TestWindowNeverExceedsMax(t *testing.T) {
	l := newTestLimiter(t, 3)
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 10; i++ {
		res, _, err := l.Reserve(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if res == nil {
			continue
		}
		admitted++
		if err := res.Commit(ctx, "fp", 1); err != nil {
			t.Fatal(err)
		}

		usage, err := l.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if usage.RequestsLastHour > 3 {
			t.Fatalf("window exceeded max: %d", usage.RequestsLastHour)
		}
	}
	if admitted != 3 {
		t.Errorf("expected 3 admitted, got %d", admitted)
	}
}

func TestRecent(t *testing.T) {
	l := newTestLimiter(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := mustReserve(t, l)
		if err := res.Commit(ctx, "fp", 10+i); err != nil {
			t.Fatal(err)
		}
	}
	// Aged-out record must not appear.
	_, err := l.db.Exec(`INSERT INTO requests (created_at, prompt_fingerprint) VALUES (?, ?)`,
		time.Now().UTC().Add(-2*time.Hour), "stale")
	if err != nil {
		t.Fatal(err)
	}
	// Neither must an in-flight reservation that has not committed yet.
	mustReserve(t, l)

	records, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 committed records, got %d", len(records))
	}
	for _, r := range records {
		if r.PromptFingerprint == "stale" {
			t.Error("aged-out record returned")
		}
		if r.PromptFingerprint == "" {
			t.Error("uncommitted reservation returned")
		}
		if r.CreatedAt.Before(time.Now().UTC().Add(-Window)) {
			t.Errorf("record outside window: %v", r.CreatedAt)
		}
	}
}

func TestSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist_test.db")
	ctx := context.Background()

	l, err := New(dbPath, 5)
	if err != nil {
		t.Fatal(err)
	}
	res, _, err := l.Reserve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("expected reservation")
	}
	if err := res.Commit(ctx, "fp", 9); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dbPath, 5)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	usage, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.RequestsLastHour != 1 {
		t.Errorf("expected quota to survive reopen, got %d", usage.RequestsLastHour)
	}
}
