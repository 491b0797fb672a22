// Package stats turns workflow outcomes into persisted counters and renders
// them back as reports and exports.
package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"taskbot/internal/runtime/supervisor"
	"taskbot/internal/storage"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
)

var ErrQueueFull = errors.New("stats queue full")

const defaultQueueSize = 256

type op struct {
	action  *storage.ActionRecord
	history *storage.HistoryRecord
}

// Recorder is a workflow.Sink that writes to a Store from a single
// background worker. Enqueueing never blocks; overflow is counted and
// logged.
type Recorder struct {
	store storage.Store
	log   logx.Logger
	size  int

	mu        sync.Mutex
	queue     chan op
	accepting bool
	sendWG    sync.WaitGroup
	sup       *supervisor.Supervisor

	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ workflow.Sink = (*Recorder)(nil)

// NewRecorder returns a recorder for store. A nil store makes every call a
// no-op.
func NewRecorder(store storage.Store, queueSize int, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{store: store, log: log, size: queueSize}
}

func (r *Recorder) Store() storage.Store { return r.store }

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
func (r *Recorder) Failed() uint64  { return r.failed.Load() }

func (r *Recorder) Start(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue != nil {
		return
	}
	r.queue = make(chan op, r.size)
	r.accepting = true
	r.sup = supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "stats"))),
		supervisor.WithCancelOnError(false),
	)
	q := r.queue
	r.sup.Go0("stats.writer", func(c context.Context) { r.writeLoop(c, q) })
}

// Stop stops intake and drains pending writes until ctx is done.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	q, sup := r.queue, r.sup
	if q == nil || !r.accepting {
		r.mu.Unlock()
		return
	}
	r.accepting = false
	r.mu.Unlock()

	r.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		r.log.Warn("stats drain interrupted", logx.Int("pending", len(q)), logx.Err(err))
	}
	sup.Cancel()
}

func (r *Recorder) Record(w workflow.Worker, v workflow.Variant, a workflow.Action) {
	r.enqueue(op{action: &storage.ActionRecord{
		WorkerID:  w.ID,
		Username:  w.Username,
		FirstName: w.FirstName,
		Variant:   v.String(),
		Action:    string(a),
		At:        time.Now(),
	}})
}

func (r *Recorder) AppendHistory(e workflow.HistoryEntry) {
	r.enqueue(op{history: &storage.HistoryRecord{
		TaskID:   e.TaskID,
		Variant:  e.Variant.String(),
		Text:     e.Text,
		WorkerID: e.WorkerID,
		Worker:   e.WorkerName,
		Result:   e.Result,
		At:       e.At,
	}})
}

func (r *Recorder) enqueue(o op) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	if !r.accepting {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	q := r.queue
	r.sendWG.Add(1)
	r.mu.Unlock()
	defer r.sendWG.Done()

	select {
	case q <- o:
	default:
		n := r.dropped.Add(1)
		r.log.Warn("stats record dropped", logx.Err(ErrQueueFull), logx.Uint64("dropped", n))
	}
}

// writeLoop runs until q is closed so that Stop can drain after the
// parent context is gone.
func (r *Recorder) writeLoop(ctx context.Context, q <-chan op) {
	for o := range q {
		r.write(ctx, o)
	}
}

func (r *Recorder) write(ctx context.Context, o op) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	var err error
	switch {
	case o.action != nil:
		err = r.store.RecordAction(wctx, *o.action)
	case o.history != nil:
		err = r.store.AppendHistory(wctx, *o.history)
	}
	if err != nil {
		r.failed.Add(1)
		r.log.Error("stats write failed", logx.Err(err))
	}
}
