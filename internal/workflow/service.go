package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskbot/internal/delivery"
	"taskbot/internal/eventbus"
	"taskbot/internal/routing"
	"taskbot/internal/transport"
	"taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

// Routes is the part of the routing graph the workflow reads.
type Routes interface {
	IsSource(id int64) bool
	TargetsForSource(id int64) []routing.Target
	ResolveTarget(chatID int64, threadID int) (routing.Target, bool)
	SourcesForTarget(key routing.TargetKey) []routing.Source
}

// Deliverer fans messages and edits out to many rooms.
type Deliverer interface {
	Send(ctx context.Context, msgs []delivery.Message) delivery.Report
	Edit(ctx context.Context, edits []delivery.Edit) delivery.Report
}

type Deps struct {
	Registry *Registry
	Routes   Routes
	Delivery Deliverer
	Sink     Sink
	Bus      eventbus.Bus
	Log      logx.Logger
}

// Service drives tasks through broadcast, claim, submission and review.
// State changes go through the Registry; everything else here is fan-out.
type Service struct {
	reg    *Registry
	routes Routes
	out    Deliverer
	sink   Sink
	bus    eventbus.Bus
	log    logx.Logger
}

func NewService(d Deps) *Service {
	s := &Service{reg: d.Registry, routes: d.Routes, out: d.Delivery, sink: d.Sink, bus: d.Bus, log: d.Log}
	if s.reg == nil {
		s.reg = NewRegistry()
	}
	if s.sink == nil {
		s.sink = nopSink{}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Service) Registry() *Registry { return s.reg }

func (s *Service) publish(topic eventbus.Topic, t Task, actor int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, TaskID: t.ID, Actor: actor, Data: t.Status.String()})
}

type BroadcastResult struct {
	Task      Task
	Delivered int
	Total     int
}

// Broadcast creates a task from origin and delivers it to every linked
// target. A task that reached no target is discarded.
func (s *Service) Broadcast(ctx context.Context, origin int64, v Variant, text string) (BroadcastResult, error) {
	if !s.routes.IsSource(origin) {
		return BroadcastResult{}, fmt.Errorf("room %d: %w", origin, ErrNotSource)
	}
	targets := s.routes.TargetsForSource(origin)
	if len(targets) == 0 {
		return BroadcastResult{}, ErrNoLinkedTargets
	}

	t := s.reg.Create(v, text, origin)
	rep := s.deliverPosts(ctx, t, targets)
	if rep.Delivered == 0 {
		if err := s.reg.Discard(t.ID); err != nil && !errors.Is(err, ErrWrongStatus) {
			s.log.Warn("discard undelivered task", logx.Int64("task", t.ID), logx.Err(err))
		}
		return BroadcastResult{Task: t, Total: rep.Total}, &DeliveryError{Total: rep.Total}
	}

	s.log.Info("task broadcast",
		logx.Int64("task", t.ID),
		logx.String("variant", v.String()),
		logx.Int64("origin", origin),
		logx.Int("delivered", rep.Delivered),
		logx.Int("total", rep.Total),
	)
	s.sink.AppendHistory(HistoryEntry{TaskID: t.ID, Variant: v, Text: text, Result: ResultCreated, At: time.Now()})
	s.publish(eventbus.TaskCreated, t, 0)
	return BroadcastResult{Task: t, Delivered: rep.Delivered, Total: rep.Total}, nil
}

// deliverPosts sends the claimable post of t's current round. If the task
// got claimed before all copies were out, the late copies are switched to
// the taken form.
func (s *Service) deliverPosts(ctx context.Context, t Task, targets []routing.Target) delivery.Report {
	text, opt := renderPost(t), postOptions(t)
	msgs := make([]delivery.Message, 0, len(targets))
	for _, tg := range targets {
		msgs = append(msgs, delivery.Message{
			To:      transport.ChatTarget{ChatID: tg.Key.ChatID, ThreadID: tg.Key.SubThread},
			Text:    text,
			Options: opt,
		})
	}
	rep := s.out.Send(ctx, msgs)
	sent := rep.Sent()

	snap, err := s.reg.AddPosts(t.ID, t.Round, sent)
	if err != nil {
		return rep
	}
	if snap.Round == t.Round && snap.Status != Open && snap.Claim != nil {
		s.markTaken(ctx, snap, sent)
	}
	return rep
}

func (s *Service) markTaken(ctx context.Context, t Task, refs []transport.MessageRef) {
	text := renderTaken(t)
	edits := make([]delivery.Edit, 0, len(refs))
	for _, ref := range refs {
		edits = append(edits, delivery.Edit{Ref: ref, Text: text, Options: tgui.HTML(nil)})
	}
	s.out.Edit(ctx, edits)
}

// Claim gives the task to w if nobody holds it yet.
func (s *Service) Claim(ctx context.Context, id int64, w Worker, room transport.ChatTarget) (Task, error) {
	t, err := s.reg.Claim(id, w, room)
	if err != nil {
		return t, err
	}
	s.log.Info("task claimed", logx.Int64("task", id), logx.Int64("worker", w.ID), logx.Int64("chat_id", room.ChatID))
	s.sink.Record(w, t.Variant, ActionTake)
	s.publish(eventbus.TaskClaimed, t, w.ID)

	s.markTaken(ctx, t, t.Posts)

	roomName := fmt.Sprint(room.ChatID)
	if tg, ok := s.routes.ResolveTarget(room.ChatID, room.ThreadID); ok {
		roomName = tg.Name
	}
	s.notify(ctx, s.reviewRooms(t, room), renderClaimNotice(t, roomName), nil, nil)
	s.notify(ctx, []transport.ChatTarget{room}, renderWorkerPrompt(t), nil, nil)
	return t, nil
}

// reviewRooms resolves the sources behind the room a worker acts in,
// falling back to the task origin when that room has no sources left.
func (s *Service) reviewRooms(t Task, room transport.ChatTarget) []transport.ChatTarget {
	var out []transport.ChatTarget
	if tg, ok := s.routes.ResolveTarget(room.ChatID, room.ThreadID); ok {
		for _, src := range s.routes.SourcesForTarget(tg.Key) {
			out = append(out, transport.ChatTarget{ChatID: src.ID})
		}
	}
	if len(out) == 0 {
		out = append(out, transport.ChatTarget{ChatID: t.Origin})
	}
	return out
}

// ReviewableIn reports whether a reviewer acting in chatID may decide t:
// the chat is the task origin or one of the rooms its review was sent to.
func (s *Service) ReviewableIn(t Task, chatID int64) bool {
	if chatID == t.Origin {
		return true
	}
	if t.Claim == nil {
		return false
	}
	for _, room := range s.reviewRooms(t, t.Claim.Room) {
		if room.ChatID == chatID {
			return true
		}
	}
	return false
}

func (s *Service) notify(ctx context.Context, rooms []transport.ChatTarget, text string, att *transport.Attachment, opt *transport.SendOptions) delivery.Report {
	if opt == nil {
		opt = tgui.HTML(nil)
	}
	msgs := make([]delivery.Message, 0, len(rooms))
	for _, r := range rooms {
		msgs = append(msgs, delivery.Message{To: r, Text: text, Attachment: att, Options: opt})
	}
	return s.out.Send(ctx, msgs)
}

type SubmitResult struct {
	Task     Task
	Missing  []Requirement
	Complete bool
	Ignored  bool
	// Reviewers is the number of source rooms the submission reached.
	Reviewers int
}

// Prompt is the reply for the worker after a partial submission.
func (r SubmitResult) Prompt() string {
	if len(r.Missing) == 0 {
		return ""
	}
	return renderMissing(r.Missing)
}

// Submit records evidence from w sent in room. Once the task's variant is
// satisfied the evidence is forwarded to the reviewers.
func (s *Service) Submit(ctx context.Context, w Worker, room transport.ChatTarget, ev Evidence) (SubmitResult, error) {
	ar, err := s.reg.Attach(w.ID, ev)
	if err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{Task: ar.Task, Missing: ar.Missing, Complete: ar.Complete, Ignored: ar.Ignored}
	if !ar.Complete {
		return res, nil
	}

	t := ar.Task
	text, opt := renderReview(t)
	rep := s.notify(ctx, s.reviewRooms(t, room), text, t.Artifacts.Attachment, opt)
	if rep.Delivered == 0 {
		switch _, err := s.reg.ReturnToClaimant(t.ID); {
		case errors.Is(err, ErrWorkerBusy):
			s.log.Warn("claimant moved on, reopening undelivered submission", logx.Int64("task", t.ID), logx.Err(err))
			s.requeue(ctx, t.ID, s.routes.TargetsForSource(t.Origin))
		case err != nil:
			s.log.Warn("return undelivered submission", logx.Int64("task", t.ID), logx.Err(err))
		}
		return SubmitResult{Task: t}, &DeliveryError{Total: rep.Total}
	}
	if err := s.reg.SetReviews(t.ID, rep.Sent()); err != nil {
		s.log.Warn("record review copies", logx.Int64("task", t.ID), logx.Err(err))
	}
	s.log.Info("task submitted", logx.Int64("task", t.ID), logx.Int64("worker", w.ID), logx.Int("reviewers", rep.Delivered))
	s.publish(eventbus.TaskSubmitted, t, w.ID)
	res.Reviewers = rep.Delivered
	return res, nil
}

type VerifyResult struct {
	// Task is the decided task: Done on approve, Failed on reject.
	Task Task
	// Notified counts target rooms told about the decision.
	Notified int
	// Requeue is the re-broadcast after a reject.
	Requeue *BroadcastResult
}

// Verify applies a reviewer decision to a task awaiting review.
func (s *Service) Verify(ctx context.Context, id int64, d Decision, reviewer Worker) (VerifyResult, error) {
	t, err := s.reg.Verify(id, d)
	if err != nil {
		return VerifyResult{}, err
	}
	s.clearReviewButtons(ctx, t)

	claimant := t.ClaimedBy()
	targets := s.routes.TargetsForSource(t.Origin)
	rooms := make([]transport.ChatTarget, 0, len(targets))
	for _, tg := range targets {
		rooms = append(rooms, transport.ChatTarget{ChatID: tg.Key.ChatID, ThreadID: tg.Key.SubThread})
	}
	s.log.Info("task reviewed",
		logx.Int64("task", id),
		logx.String("decision", d.String()),
		logx.Int64("reviewer", reviewer.ID),
		logx.Int64("worker", claimant.ID),
	)

	if d == Approve {
		rep := s.notify(ctx, rooms, renderApproved(t), t.Artifacts.Attachment, nil)
		s.sink.Record(claimant, t.Variant, ActionComplete)
		s.sink.AppendHistory(HistoryEntry{TaskID: t.ID, Variant: t.Variant, Text: t.Text, WorkerID: claimant.ID, WorkerName: claimant.Name, Result: ResultCompleted, At: time.Now()})
		s.publish(eventbus.TaskApproved, t, reviewer.ID)
		return VerifyResult{Task: t, Notified: rep.Delivered}, nil
	}

	rep := s.notify(ctx, rooms, renderRejected(t), nil, nil)
	s.sink.Record(claimant, t.Variant, ActionFail)
	s.sink.AppendHistory(HistoryEntry{TaskID: t.ID, Variant: t.Variant, Text: t.Text, WorkerID: claimant.ID, WorkerName: claimant.Name, Result: ResultFailed, At: time.Now()})
	s.publish(eventbus.TaskRejected, t, reviewer.ID)

	rq := s.requeue(ctx, t.ID, targets)
	return VerifyResult{Task: t, Notified: rep.Delivered, Requeue: &rq}, nil
}

// Release takes a task back from an unresponsive claimant and re-broadcasts it.
func (s *Service) Release(ctx context.Context, id int64, by Worker) (BroadcastResult, error) {
	prev, err := s.reg.Release(id)
	if err != nil {
		return BroadcastResult{}, err
	}
	claimant := prev.ClaimedBy()
	s.log.Info("task released", logx.Int64("task", id), logx.Int64("by", by.ID), logx.Int64("worker", claimant.ID))
	s.sink.AppendHistory(HistoryEntry{TaskID: id, Variant: prev.Variant, Text: prev.Text, WorkerID: claimant.ID, WorkerName: claimant.Name, Result: ResultReleased, At: time.Now()})
	s.publish(eventbus.TaskReleased, prev, by.ID)
	return s.requeue(ctx, id, s.routes.TargetsForSource(prev.Origin)), nil
}

// requeue re-broadcasts an Open task to targets. A requeue that reaches
// nobody leaves the task Open; it is never discarded.
func (s *Service) requeue(ctx context.Context, id int64, targets []routing.Target) BroadcastResult {
	t, ok := s.reg.Get(id)
	if !ok {
		return BroadcastResult{}
	}
	if len(targets) == 0 {
		s.log.Warn("requeue has no targets", logx.Int64("task", id), logx.Int64("origin", t.Origin))
		return BroadcastResult{Task: t}
	}
	rep := s.deliverPosts(ctx, t, targets)
	if rep.Delivered == 0 {
		s.log.Warn("requeue reached no target", logx.Int64("task", id), logx.Int("total", rep.Total))
	}
	s.publish(eventbus.TaskRequeued, t, 0)
	return BroadcastResult{Task: t, Delivered: rep.Delivered, Total: rep.Total}
}

func (s *Service) clearReviewButtons(ctx context.Context, t Task) {
	if len(t.Reviews) == 0 {
		return
	}
	edits := make([]delivery.Edit, 0, len(t.Reviews))
	for _, ref := range t.Reviews {
		edits = append(edits, delivery.Edit{Ref: ref, ClearOnly: true})
	}
	s.out.Edit(ctx, edits)
}
