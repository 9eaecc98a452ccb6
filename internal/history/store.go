package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/wybot-bridge/internal/infrastructure/database"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// recordTimeout bounds the insert done on the telemetry path so a
	// locked database cannot stall frame processing.
	recordTimeout = 2 * time.Second

	// pruneInterval is how often the retention loop sweeps expired rows.
	pruneInterval = 6 * time.Hour
)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Entry is one recorded DP change, newest first in query results.
type Entry struct {
	ID         int64     `json:"id"`
	TargetID   string    `json:"targetId"`
	DPID       int       `json:"dpId"`
	Data       string    `json:"data"`
	Summary    string    `json:"summary"`
	ReportedTS int64     `json:"reportedTs"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store is the SQLite-backed DP change log.
type Store struct {
	db     *database.DB
	logger Logger
}

// NewStore creates a change log over an open database.
//
// Parameters:
//   - db: Open SQLite connection, already migrated
//
// Returns:
//   - *Store: Store instance ready for use
func NewStore(db *database.DB) *Store {
	return &Store{db: db, logger: noopLogger{}}
}

// SetLogger sets a logger for retention diagnostics.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Record inserts one merged DP change. It satisfies the coordinator's
// history sink and runs on the telemetry path, so it carries its own
// short timeout.
func (s *Store) Record(targetID string, dp wybot.DP, summary string, reportedTS int64) error {
	if targetID == "" {
		return fmt.Errorf("target id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO dp_history (target_id, dp_id, data, summary, reported_ts) VALUES (?, ?, ?, ?, ?)",
		targetID,
		dp.ID,
		dp.Data,
		summary,
		reportedTS,
	)
	if err != nil {
		return fmt.Errorf("inserting dp history: %w", err)
	}
	return nil
}

// Recent returns recent changes for a target, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - targetID: Device or docker identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Entry: Entries ordered by recorded_at DESC
//   - error: nil on success, otherwise the underlying query error
func (s *Store) Recent(ctx context.Context, targetID string, limit int) ([]Entry, error) {
	if targetID == "" {
		return nil, fmt.Errorf("target id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, dp_id, data, summary, reported_ts, recorded_at
		 FROM dp_history
		 WHERE target_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		targetID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dp history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var recordedAt string
		if err := rows.Scan(&entry.ID, &entry.TargetID, &entry.DPID, &entry.Data, &entry.Summary, &entry.ReportedTS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning dp history: %w", err)
		}
		// Format is controlled by the schema default.
		entry.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt) //nolint:errcheck
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dp history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before the cutoff and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM dp_history WHERE recorded_at < ?",
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning dp history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return n, nil
}

// RunRetention prunes rows older than the retention period, once at
// startup and then every sweep interval, until the context is
// cancelled. Callers with retention disabled should not start it.
func (s *Store) RunRetention(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	s.pruneExpired(ctx, retention)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneExpired(ctx, retention)
		}
	}
}

func (s *Store) pruneExpired(ctx context.Context, retention time.Duration) {
	n, err := s.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		s.logger.Warn("history prune failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("pruned dp history", "rows", n, "retention", retention.String())
	}
}
