package workflow

import "time"

type Action string

const (
	ActionTake     Action = "take"
	ActionComplete Action = "complete"
	ActionFail     Action = "fail"
)

// HistoryEntry is one line of task history.
type HistoryEntry struct {
	TaskID     int64
	Variant    Variant
	Text       string
	WorkerID   int64
	WorkerName string
	Result     string
	At         time.Time
}

const (
	ResultCreated   = "created"
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultReleased  = "released"
)

// Sink receives counters and history. Calls must not block; failures stay
// inside the sink.
type Sink interface {
	Record(w Worker, v Variant, a Action)
	AppendHistory(e HistoryEntry)
}

type nopSink struct{}

func (nopSink) Record(Worker, Variant, Action) {}
func (nopSink) AppendHistory(HistoryEntry)     {}
