package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db         *sql.DB
	log        logx.Logger
	historyMax int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log, historyMax: cfg.historyMax()}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) RecordAction(ctx context.Context, r ActionRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	col, daily := counterColumns(r)
	if col == "" {
		return fmt.Errorf("unknown action %q", r.Action)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workers(worker_id, username, first_name, `+col+`, last_activity) VALUES(?,?,?,1,?)
		 ON CONFLICT(worker_id) DO UPDATE SET
		   username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE workers.username END,
		   first_name = CASE WHEN excluded.first_name <> '' THEN excluded.first_name ELSE workers.first_name END,
		   `+col+` = workers.`+col+` + 1,
		   last_activity = excluded.last_activity`,
		r.WorkerID, r.Username, r.FirstName, r.At.UnixMilli(),
	)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO daily(day, `+daily+`) VALUES(?,1)
		 ON CONFLICT(day) DO UPDATE SET `+daily+` = daily.`+daily+` + 1`,
		r.At.Format(DayLayout),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// counterColumns maps an action to its workers and daily columns.
func counterColumns(r ActionRecord) (worker, daily string) {
	prefix := "simple_"
	if r.Variant == VariantVerified {
		prefix = "verified_"
	}
	switch r.Action {
	case ActionTake:
		daily = strings.TrimSuffix(prefix, "_")
		return prefix + "taken", daily
	case ActionComplete:
		return prefix + "completed", "completed"
	case ActionFail:
		return prefix + "failed", "failed"
	}
	return "", ""
}

func (s *sqliteStore) AppendHistory(ctx context.Context, h HistoryRecord) error {
	if h.At.IsZero() {
		h.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(task_id, variant, text, worker_id, worker_name, result, at) VALUES(?,?,?,?,?,?,?)`,
		h.TaskID, h.Variant, clipText(h.Text), nullInt(h.WorkerID), nullStr(h.Worker), nullStr(h.Result), h.At.UnixMilli(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM history WHERE seq <= (SELECT seq FROM history ORDER BY seq DESC LIMIT 1 OFFSET ?)`,
		s.historyMax,
	)
	return err
}

const workerColumns = `worker_id, username, first_name, simple_taken, simple_completed, simple_failed,
	verified_taken, verified_completed, verified_failed, last_activity`

func scanWorker(sc interface{ Scan(...any) error }) (WorkerStats, error) {
	var (
		w    WorkerStats
		last int64
	)
	err := sc.Scan(&w.WorkerID, &w.Username, &w.FirstName,
		&w.SimpleTaken, &w.SimpleCompleted, &w.SimpleFailed,
		&w.VerifiedTaken, &w.VerifiedCompleted, &w.VerifiedFailed, &last)
	if last > 0 {
		w.LastActivity = time.UnixMilli(last)
	}
	return w, err
}

func (s *sqliteStore) WorkerStats(ctx context.Context, workerID int64) (WorkerStats, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE worker_id = ?`, workerID)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkerStats{}, false, nil
	}
	if err != nil {
		return WorkerStats{}, false, err
	}
	return w, true, nil
}

func (s *sqliteStore) AllWorkerStats(ctx context.Context) ([]WorkerStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkerStats
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortWorkers(out)
	return out, nil
}

func (s *sqliteStore) Daily(ctx context.Context, from, to string) ([]DailyStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, simple, verified, completed, failed FROM daily WHERE day >= ? AND day <= ? ORDER BY day`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Day, &d.Simple, &d.Verified, &d.Completed, &d.Failed); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) History(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = s.historyMax
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, variant, text, worker_id, worker_name, result, at FROM history ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryRecord
	for rows.Next() {
		var (
			h           HistoryRecord
			workerID    sql.NullInt64
			worker, res sql.NullString
			at          int64
		)
		if err := rows.Scan(&h.TaskID, &h.Variant, &h.Text, &workerID, &worker, &res, &at); err != nil {
			return nil, err
		}
		h.WorkerID, h.Worker, h.Result = workerID.Int64, worker.String, res.String
		h.At = time.UnixMilli(at)
		out = append(out, h)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
