package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const createSnapshotsTable = `CREATE TABLE IF NOT EXISTS search_stats_snapshots (
	id          BIGSERIAL PRIMARY KEY,
	data        JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Snapshot is one persisted copy of the aggregated stats.
type Snapshot struct {
	CapturedAt time.Time       `json:"captured_at"`
	Stats      AggregatedStats `json:"stats"`
}

// SnapshotSaver persists aggregated stats.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, stats AggregatedStats) error
}

// History stores aggregated stats snapshots in the search_stats_snapshots
// table so query trends survive restarts.
type History struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewHistory(db *sql.DB) *History {
	return &History{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "analytics-history"),
	}
}

// EnsureSchema creates the snapshots table if it is missing.
func (h *History) EnsureSchema(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("creating snapshots table: %w", err)
	}
	return nil
}

func (h *History) SaveSnapshot(ctx context.Context, stats AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO search_stats_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, h.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving stats snapshot: %w", err)
	}
	h.logger.Debug("stats snapshot saved",
		"total_searches", stats.TotalSearches,
		"zero_results", stats.ZeroResultCount,
	)
	return nil
}

// Latest returns the newest snapshot, or nil when none exist.
func (h *History) Latest(ctx context.Context) (*Snapshot, error) {
	var (
		data []byte
		at   time.Time
	)
	err := h.db.QueryRowContext(ctx,
		`SELECT data, captured_at FROM search_stats_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	snap := &Snapshot{CapturedAt: at}
	if err := json.Unmarshal(data, &snap.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return snap, nil
}

// List returns the last limit snapshots, newest first. Corrupt rows are
// skipped.
func (h *History) List(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT data, captured_at FROM search_stats_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0, limit)
	for rows.Next() {
		var data []byte
		var snap Snapshot
		if err := rows.Scan(&data, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			h.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// RunSnapshots saves agg's stats every interval until ctx ends, then saves
// a final snapshot with a fresh five-second deadline.
func RunSnapshots(ctx context.Context, saver SnapshotSaver, agg *Aggregator, interval time.Duration) {
	logger := slog.Default().With("component", "analytics-history")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("periodic stats snapshots started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			if err := saver.SaveSnapshot(ctx, agg.Stats()); err != nil {
				logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := saver.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
				logger.Error("final snapshot failed", "error", err)
			}
			return
		}
	}
}
