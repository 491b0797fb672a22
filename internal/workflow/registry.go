package workflow

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"taskbot/internal/transport"
)

// Registry is the in-memory task table. Its mutex is the only point where
// task state changes; every method is one complete transaction and hands
// out copies, never the stored records.
type Registry struct {
	mu       sync.Mutex
	nextID   int64
	tasks    map[int64]*Task
	byWorker map[int64]int64 // worker id -> Claimed task id
	now      func() time.Time
}

func NewRegistry() *Registry {
	return newRegistryAt(time.Now)
}

func newRegistryAt(now func() time.Time) *Registry {
	return &Registry{
		// Seeding from the clock keeps ids from colliding with buttons
		// left in chats by a previous process.
		nextID:   now().UnixMilli(),
		tasks:    map[int64]*Task{},
		byWorker: map[int64]int64{},
		now:      now,
	}
}

func (r *Registry) Create(v Variant, text string, origin int64) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := r.now()
	t := &Task{
		ID:        r.nextID,
		Variant:   v,
		Text:      text,
		Origin:    origin,
		Status:    Open,
		Round:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tasks[t.ID] = t
	return t.clone()
}

// Discard drops a task that never reached anyone. Only first-round Open
// tasks qualify.
func (r *Registry) Discard(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if t.Status != Open || t.Round != 1 {
		return &StatusError{TaskID: id, Have: t.Status, Want: Open}
	}
	delete(r.tasks, id)
	return nil
}

// AddPosts records delivered copies for round. Copies of an older round
// are ignored. The returned snapshot lets the caller notice that the task
// was claimed while the fan-out was still running.
func (r *Registry) AddPosts(id int64, round int, refs []transport.MessageRef) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if t.Round == round {
		t.Posts = append(t.Posts, refs...)
	}
	return t.clone(), nil
}

func (r *Registry) SetReviews(id int64, refs []transport.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	t.Reviews = slices.Clone(refs)
	return nil
}

// Claim is the exclusive check-and-set: the first caller to find the task
// Open wins, every later caller sees ErrAlreadyClaimed.
func (r *Registry) Claim(id int64, w Worker, room transport.ChatTarget) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if t.Status != Open {
		return t.clone(), fmt.Errorf("task %d: %w", id, ErrAlreadyClaimed)
	}
	if held, busy := r.byWorker[w.ID]; busy {
		return Task{}, fmt.Errorf("worker %d holds task %d: %w", w.ID, held, ErrWorkerBusy)
	}
	r.move(t, Claimed)
	t.Claim = &Claim{Worker: w, Room: room, At: t.UpdatedAt}
	r.byWorker[w.ID] = id
	return t.clone(), nil
}

// Release returns a Claimed task to Open without a review, as a new round.
func (r *Registry) Release(id int64) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if t.Status != Claimed {
		return Task{}, &StatusError{TaskID: id, Have: t.Status, Want: Claimed}
	}
	prev := t.clone()
	r.reopen(t)
	return prev, nil
}

// AttachResult describes the effect of one evidence item.
type AttachResult struct {
	Task     Task
	Missing  []Requirement
	Complete bool
	// Ignored is set when the evidence is not needed by the task's variant.
	Ignored bool
}

// Attach stores evidence against the sender's Claimed task. When the
// variant's requirements are met the task moves to PendingReview.
func (r *Registry) Attach(workerID int64, ev Evidence) (AttachResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byWorker[workerID]
	if !ok {
		return AttachResult{}, ErrNoActiveTask
	}
	t := r.tasks[id]

	switch ev.Kind {
	case EvidenceAttachment:
		att := ev.Attachment
		t.Artifacts.Attachment = &att
		if t.Variant == Verified && ev.Code != "" {
			t.Artifacts.Code = ev.Code
		}
	case EvidenceCode:
		if t.Variant != Verified {
			return AttachResult{Task: t.clone(), Ignored: true}, nil
		}
		t.Artifacts.Code = ev.Code
	default:
		return AttachResult{Task: t.clone(), Ignored: true}, nil
	}
	t.UpdatedAt = r.now()

	missing := t.Artifacts.Missing(t.Variant)
	if len(missing) > 0 {
		return AttachResult{Task: t.clone(), Missing: missing}, nil
	}
	r.move(t, PendingReview)
	delete(r.byWorker, workerID)
	return AttachResult{Task: t.clone(), Complete: true}, nil
}

// ReturnToClaimant undoes a submission whose review copies reached nobody,
// so the worker can submit again. If the worker has meanwhile claimed
// another task, the submission is failed and the task reopened as a new
// round instead; the Open snapshot comes back with ErrWorkerBusy.
func (r *Registry) ReturnToClaimant(id int64) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if t.Status != PendingReview {
		return Task{}, &StatusError{TaskID: id, Have: t.Status, Want: PendingReview}
	}
	wid := t.Claim.Worker.ID
	if held, busy := r.byWorker[wid]; busy && held != id {
		r.move(t, Failed)
		r.reopen(t)
		return t.clone(), fmt.Errorf("worker %d holds task %d: %w", wid, held, ErrWorkerBusy)
	}
	r.move(t, Claimed)
	t.Artifacts = Artifacts{}
	t.Reviews = nil
	r.byWorker[wid] = id
	return t.clone(), nil
}

type Decision int

const (
	Approve Decision = iota + 1
	Reject
)

func (d Decision) String() string {
	if d == Approve {
		return "approve"
	}
	return "reject"
}

// Verify applies a review decision. Approve ends the task as Done. Reject
// returns a Failed snapshot carrying the rejected claim and artifacts,
// while the stored task is already back to Open with both cleared.
func (r *Registry) Verify(id int64, d Decision) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if t.Status != PendingReview {
		return Task{}, &StatusError{TaskID: id, Have: t.Status, Want: PendingReview}
	}
	if d == Approve {
		r.move(t, Done)
		return t.clone(), nil
	}
	r.move(t, Failed)
	failed := t.clone()
	r.reopen(t)
	return failed, nil
}

func (r *Registry) reopen(t *Task) {
	if t.Claim != nil && r.byWorker[t.Claim.Worker.ID] == t.ID {
		delete(r.byWorker, t.Claim.Worker.ID)
	}
	r.move(t, Open)
	t.Claim = nil
	t.Artifacts = Artifacts{}
	t.Posts = nil
	t.Reviews = nil
	t.Round++
}

func (r *Registry) move(t *Task, next Status) {
	if !t.Status.canMoveTo(next) {
		// Callers check the source status first; reaching this is a bug.
		panic(fmt.Sprintf("workflow: illegal transition %s -> %s for task %d", t.Status, next, t.ID))
	}
	t.Status = next
	t.UpdatedAt = r.now()
}

func (r *Registry) Get(id int64) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// ActiveFor returns the task the worker currently holds in Claimed.
func (r *Registry) ActiveFor(workerID int64) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byWorker[workerID]
	if !ok {
		return Task{}, false
	}
	return r.tasks[id].clone(), true
}

// List returns tasks in the given statuses (all when none given), oldest first.
func (r *Registry) List(statuses ...Status) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if len(statuses) == 0 || slices.Contains(statuses, t.Status) {
			out = append(out, t.clone())
		}
	}
	slices.SortFunc(out, func(a, b Task) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (r *Registry) Counts() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, t := range r.tasks {
		out[t.Status]++
	}
	return out
}

// Prune evicts Done tasks last updated before cutoff.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.tasks {
		if t.Status == Done && t.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n
}
