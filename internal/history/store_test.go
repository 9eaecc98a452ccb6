package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/wybot-bridge/internal/infrastructure/database"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewStore(db)
}

func modeDP(code string) wybot.DP {
	typ, length := 4, 1
	return wybot.DP{ID: wybot.DPCleaningMode, Type: &typ, Len: &length, Data: code}
}

func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record("d1", modeDP("03"), "mode Standard Full Pool", 100); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record("d1", modeDP("00"), "mode Floor Only", 101); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record("other", modeDP("01"), "mode Wall Only", 102); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := store.Recent(ctx, "d1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Summary != "mode Floor Only" || entries[0].ReportedTS != 101 {
		t.Errorf("entries[0] = %+v, want the latest change first", entries[0])
	}
	if entries[1].Data != "03" {
		t.Errorf("entries[1].Data = %q, want %q", entries[1].Data, "03")
	}
	if entries[0].RecordedAt.IsZero() {
		t.Error("RecordedAt should be populated")
	}
}

func TestRecord_RequiresTarget(t *testing.T) {
	store := newTestStore(t)
	if err := store.Record("", modeDP("03"), "mode", 1); err == nil {
		t.Error("empty target id should be rejected")
	}
}

func TestRecent_LimitClamped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if err := store.Record("d1", modeDP("00"), fmt.Sprintf("change %d", i), int64(i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := store.Recent(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 50 {
		t.Errorf("default limit entries = %d, want 50", len(entries))
	}

	entries, err = store.Recent(ctx, "d1", 1000)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 60 {
		t.Errorf("clamped limit entries = %d, want all 60", len(entries))
	}
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record("d1", modeDP("03"), "mode Standard Full Pool", 1); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Cutoff in the past removes nothing.
	n, err := store.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned = %d, want 0", n)
	}

	// Cutoff in the future removes the row.
	n, err = store.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}

func TestRunRetention_SweepsExpiredRowsOnStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// One expired row inserted with a backdated timestamp, one fresh.
	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339Nano)
	_, err := store.db.ExecContext(ctx,
		"INSERT INTO dp_history (target_id, dp_id, data, summary, reported_ts, recorded_at) VALUES (?, ?, ?, ?, ?, ?)",
		"d1", wybot.DPCleaningMode, "03", "mode Standard Full Pool", 1, old,
	)
	if err != nil {
		t.Fatalf("insert backdated row: %v", err)
	}
	if err := store.Record("d1", modeDP("00"), "mode Floor Only", 2); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// The loop prunes once before its first tick, so a short run is
	// enough to observe the sweep.
	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	store.RunRetention(runCtx, 24*time.Hour)

	entries, err := store.Recent(ctx, "d1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 after retention sweep", len(entries))
	}
	if entries[0].Summary != "mode Floor Only" {
		t.Errorf("surviving entry = %q, want the fresh row", entries[0].Summary)
	}
}
