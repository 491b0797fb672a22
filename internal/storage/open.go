package storage

import (
	"context"
	"fmt"
	"strings"

	"taskbot/pkg/logx"
)

type Store interface {
	RecordAction(ctx context.Context, r ActionRecord) error
	AppendHistory(ctx context.Context, h HistoryRecord) error

	WorkerStats(ctx context.Context, workerID int64) (WorkerStats, bool, error)
	// AllWorkerStats returns every worker, most completed first.
	AllWorkerStats(ctx context.Context) ([]WorkerStats, error)
	// Daily returns per-day totals for days in [from, to], oldest first.
	Daily(ctx context.Context, from, to string) ([]DailyStats, error)
	// History returns up to limit of the newest entries, newest first.
	History(ctx context.Context, limit int) ([]HistoryRecord, error)

	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when
// storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
