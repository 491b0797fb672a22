package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskbot/pkg/logx"
)

// fileStore keeps everything in one JSON document:
//
//	{"users": {"<id>": {...}}, "daily": {"2006-01-02": {...}}, "tasks": [...]}
type fileStore struct {
	path       string
	historyMax int
	log        logx.Logger

	mu  sync.Mutex
	doc fileDoc
}

type fileDoc struct {
	Users map[string]*WorkerStats `json:"users"`
	Daily map[string]*DailyStats  `json:"daily"`
	Tasks []HistoryRecord         `json:"tasks"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{path: path, historyMax: cfg.historyMax(), log: log}
	s.doc = fileDoc{Users: map[string]*WorkerStats{}, Daily: map[string]*DailyStats{}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &s.doc); err != nil {
			return nil, err
		}
		if s.doc.Users == nil {
			s.doc.Users = map[string]*WorkerStats{}
		}
		if s.doc.Daily == nil {
			s.doc.Daily = map[string]*DailyStats{}
		}
	}
	return s, nil
}

func (s *fileStore) RecordAction(ctx context.Context, r ActionRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatInt(r.WorkerID, 10)
	w := s.doc.Users[key]
	if w == nil {
		w = &WorkerStats{}
		s.doc.Users[key] = w
	}
	w.apply(r)

	day := r.At.Format(DayLayout)
	d := s.doc.Daily[day]
	if d == nil {
		d = &DailyStats{}
		s.doc.Daily[day] = d
	}
	d.apply(r)
	return s.flush()
}

func (s *fileStore) AppendHistory(ctx context.Context, h HistoryRecord) error {
	if h.At.IsZero() {
		h.At = time.Now()
	}
	h.Text = clipText(h.Text)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Tasks = append(s.doc.Tasks, h)
	if over := len(s.doc.Tasks) - s.historyMax; over > 0 {
		s.doc.Tasks = slices.Delete(s.doc.Tasks, 0, over)
	}
	return s.flush()
}

func (s *fileStore) WorkerStats(ctx context.Context, workerID int64) (WorkerStats, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.doc.Users[strconv.FormatInt(workerID, 10)]
	if w == nil {
		return WorkerStats{}, false, nil
	}
	out := *w
	out.WorkerID = workerID
	return out, true, nil
}

func (s *fileStore) AllWorkerStats(ctx context.Context) ([]WorkerStats, error) {
	s.mu.Lock()
	out := make([]WorkerStats, 0, len(s.doc.Users))
	for key, w := range s.doc.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		cp := *w
		cp.WorkerID = id
		out = append(out, cp)
	}
	s.mu.Unlock()
	sortWorkers(out)
	return out, nil
}

func (s *fileStore) Daily(ctx context.Context, from, to string) ([]DailyStats, error) {
	s.mu.Lock()
	out := make([]DailyStats, 0, len(s.doc.Daily))
	for day, d := range s.doc.Daily {
		if day < from || day > to {
			continue
		}
		cp := *d
		cp.Day = day
		out = append(out, cp)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b DailyStats) int { return strings.Compare(a.Day, b.Day) })
	return out, nil
}

func (s *fileStore) History(ctx context.Context, limit int) ([]HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.doc.Tasks)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.doc.Tasks[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// flush rewrites the document via a temp file. Caller holds mu.
func (s *fileStore) flush() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func sortWorkers(ws []WorkerStats) {
	slices.SortFunc(ws, func(a, b WorkerStats) int {
		if c := b.Completed() - a.Completed(); c != 0 {
			return c
		}
		switch {
		case a.WorkerID < b.WorkerID:
			return -1
		case a.WorkerID > b.WorkerID:
			return 1
		}
		return 0
	})
}
