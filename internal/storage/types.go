package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
	HistoryMax  int           // 0 means 1000
}

func (c Config) historyMax() int {
	if c.HistoryMax <= 0 {
		return 1000
	}
	return c.HistoryMax
}

// Variant and action names as stored.
const (
	VariantSimple   = "simple"
	VariantVerified = "verified"

	ActionTake     = "take"
	ActionComplete = "complete"
	ActionFail     = "fail"
)

// DayLayout formats the keys of daily totals.
const DayLayout = "2006-01-02"

// ActionRecord is one counter increment for a worker.
type ActionRecord struct {
	WorkerID  int64
	Username  string
	FirstName string
	Variant   string
	Action    string
	At        time.Time
}

type WorkerStats struct {
	WorkerID          int64     `json:"-"`
	Username          string    `json:"username"`
	FirstName         string    `json:"first_name"`
	SimpleTaken       int       `json:"sms_taken"`
	SimpleCompleted   int       `json:"sms_completed"`
	SimpleFailed      int       `json:"sms_failed"`
	VerifiedTaken     int       `json:"tests_taken"`
	VerifiedCompleted int       `json:"tests_completed"`
	VerifiedFailed    int       `json:"tests_failed"`
	LastActivity      time.Time `json:"last_activity"`
}

func (w WorkerStats) Taken() int     { return w.SimpleTaken + w.VerifiedTaken }
func (w WorkerStats) Completed() int { return w.SimpleCompleted + w.VerifiedCompleted }
func (w WorkerStats) Failed() int    { return w.SimpleFailed + w.VerifiedFailed }

// apply adds one action to the counters.
func (w *WorkerStats) apply(r ActionRecord) {
	if r.Username != "" {
		w.Username = r.Username
	}
	if r.FirstName != "" {
		w.FirstName = r.FirstName
	}
	var taken, completed, failed *int
	if r.Variant == VariantVerified {
		taken, completed, failed = &w.VerifiedTaken, &w.VerifiedCompleted, &w.VerifiedFailed
	} else {
		taken, completed, failed = &w.SimpleTaken, &w.SimpleCompleted, &w.SimpleFailed
	}
	switch r.Action {
	case ActionTake:
		*taken++
	case ActionComplete:
		*completed++
	case ActionFail:
		*failed++
	}
	w.LastActivity = r.At
}

type DailyStats struct {
	Day       string `json:"-"`
	Simple    int    `json:"sms"`
	Verified  int    `json:"tests"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

func (d *DailyStats) apply(r ActionRecord) {
	switch r.Action {
	case ActionTake:
		if r.Variant == VariantVerified {
			d.Verified++
		} else {
			d.Simple++
		}
	case ActionComplete:
		d.Completed++
	case ActionFail:
		d.Failed++
	}
}

type HistoryRecord struct {
	TaskID   int64     `json:"id"`
	Variant  string    `json:"type"`
	Text     string    `json:"text"`
	WorkerID int64     `json:"user_id,omitempty"`
	Worker   string    `json:"worker,omitempty"`
	Result   string    `json:"result,omitempty"`
	At       time.Time `json:"timestamp"`
}

const historyTextMax = 100

// clipText keeps history rows short.
func clipText(s string) string {
	r := []rune(s)
	if len(r) <= historyTextMax {
		return s
	}
	return string(r[:historyTextMax]) + "..."
}
