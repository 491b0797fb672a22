package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"taskbot/internal/transport/telegram/router"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

func parseTaskID(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad task id %q", s)
	}
	return id, nil
}

// cmdBroadcast is /sms and /test. With text it broadcasts at once,
// otherwise the operator's next text message in this room is the template.
func (b *Bot) cmdBroadcast(v workflow.Variant) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		origin := req.Chat.ChatID
		if !b.routes.IsSource(origin) {
			return fail(ctx, req, workflow.ErrNotSource)
		}
		if len(b.routes.TargetsForSource(origin)) == 0 {
			return fail(ctx, req, workflow.ErrNoLinkedTargets)
		}
		if text := strings.TrimSpace(req.Rest); text != "" {
			return b.broadcast(ctx, req, v, text)
		}
		return b.askTemplate(ctx, req, v)
	}
}

func (b *Bot) askTemplate(ctx context.Context, req *router.Request, v workflow.Variant) error {
	kb := tgui.NewInline().Row(tgui.Btn("❌ Cancel", tgui.Data(promptScope, promptCancel, "")))
	text := tgui.Esc(fmt.Sprintf("Send the %s task template:", v.Label()))
	ref, err := req.Reply(ctx, text.String(), tgui.HTML(kb))
	if err != nil {
		return err
	}
	k := promptKey{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, UserID: req.FromID}
	prev, replaced := b.prompts.put(k, promptSession{
		Variant: v,
		Ref:     ref,
		Expires: b.now().Add(b.options().PromptTTL),
	})
	if replaced {
		_ = req.Adapter.ClearMarkup(ctx, prev.Ref)
	}
	return nil
}

// takeTemplate consumes a pending template from the message author.
// handled is false when no prompt is waiting for them.
func (b *Bot) takeTemplate(ctx context.Context, req *router.Request) (handled bool, err error) {
	msg := req.Message
	k := promptKey{ChatID: msg.ChatID, ThreadID: msg.ThreadID, UserID: msg.FromID}
	if msg.Attachment != nil {
		if _, ok := b.prompts.peek(k, b.now()); !ok {
			return false, nil
		}
		_, err := req.Reply(ctx, "Send the template as a text message.", nil)
		return true, err
	}
	s, ok := b.prompts.take(k, b.now())
	if !ok {
		return false, nil
	}
	_ = req.Adapter.ClearMarkup(ctx, s.Ref)
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return true, nil
	}
	return true, b.broadcast(ctx, req, s.Variant, text)
}

func (b *Bot) broadcast(ctx context.Context, req *router.Request, v workflow.Variant, text string) error {
	res, err := b.wf.Broadcast(ctx, req.Chat.ChatID, v, text)
	if err != nil {
		return fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, fmt.Sprintf("✅ %s task #%d sent to %d of %d rooms.", v.Label(), res.Task.ID, res.Delivered, res.Total), nil)
	return err
}

func (b *Bot) cbPromptCancel(ctx context.Context, req *router.Request) error {
	k := promptKey{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, UserID: req.FromID}
	if _, ok := b.prompts.take(k, b.now()); !ok {
		return req.Answer(ctx, "Nothing to cancel.", false)
	}
	if err := req.Adapter.EditText(ctx, callbackRef(req.Callback), "❌ Cancelled.", nil); err != nil {
		req.Logger.Debug("edit cancelled prompt", logx.Err(err))
	}
	return req.Answer(ctx, "Cancelled", false)
}

func (b *Bot) cbClaim(ctx context.Context, req *router.Request) error {
	id, err := parseTaskID(req.Payload)
	if err != nil {
		return req.Answer(ctx, "This button is broken.", true)
	}
	if _, ok := b.routes.ResolveTarget(req.Chat.ChatID, req.Chat.ThreadID); !ok {
		return req.Answer(ctx, "Tasks can only be taken in worker rooms.", true)
	}
	t, err := b.wf.Claim(ctx, id, workerOf(req), req.Chat)
	switch {
	case err == nil:
		return req.Answer(ctx, fmt.Sprintf("✅ Task #%d is yours.", t.ID), false)
	case errors.Is(err, workflow.ErrAlreadyClaimed) && t.Claim != nil:
		return req.Answer(ctx, "Already taken by "+t.ClaimedBy().Name+".", true)
	case errors.Is(err, workflow.ErrNotFound):
		_ = req.Adapter.ClearMarkup(ctx, callbackRef(req.Callback))
	}
	return fail(ctx, req, err)
}

func (b *Bot) mayReview(req *router.Request) bool {
	reviewers := b.options().Reviewers
	if len(reviewers) == 0 || req.IsOwner {
		return true
	}
	for _, id := range reviewers {
		if id == req.FromID {
			return true
		}
	}
	return false
}

func (b *Bot) cbVerify(d workflow.Decision) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		id, err := parseTaskID(req.Payload)
		if err != nil {
			return req.Answer(ctx, "This button is broken.", true)
		}
		if !b.routes.IsSource(req.Chat.ChatID) {
			return req.Answer(ctx, "Reviews happen in source rooms.", true)
		}
		if !b.mayReview(req) {
			return req.Answer(ctx, "⛔ You are not allowed to review tasks.", true)
		}
		if t, ok := b.wf.Registry().Get(id); ok && !b.wf.ReviewableIn(t, req.Chat.ChatID) {
			return req.Answer(ctx, "This task belongs to another source room.", true)
		}
		reviewer := workerOf(req)
		res, err := b.wf.Verify(ctx, id, d, reviewer)
		if err != nil {
			if errors.Is(err, workflow.ErrWrongStatus) || errors.Is(err, workflow.ErrNotFound) {
				_ = req.Adapter.ClearMarkup(ctx, callbackRef(req.Callback))
			}
			return fail(ctx, req, err)
		}

		t := res.Task
		if d == workflow.Approve {
			_ = req.Answer(ctx, "✅ Approved", false)
			_, err = req.Reply(ctx, fmt.Sprintf("✅ Task #%d by %s approved by %s. Announced in %d rooms.",
				t.ID, t.ClaimedBy().Name, reviewer.Name, res.Notified), nil)
			return err
		}

		_ = req.Answer(ctx, "❌ Rejected", false)
		_, err = req.Reply(ctx, rejectSummary(t, reviewer, res.Requeue), nil)
		return err
	}
}

func rejectSummary(t workflow.Task, reviewer workflow.Worker, rq *workflow.BroadcastResult) string {
	head := fmt.Sprintf("❌ Task #%d by %s rejected by %s.", t.ID, t.ClaimedBy().Name, reviewer.Name)
	switch {
	case rq == nil || rq.Total == 0:
		return head + " It is open again, but no target room is linked to its source any more."
	case rq.Delivered == 0:
		return head + fmt.Sprintf(" It is open again, but it reached none of %d rooms.", rq.Total)
	}
	return head + fmt.Sprintf(" It is open again in %d of %d rooms; %s can take it again too.",
		rq.Delivered, rq.Total, t.ClaimedBy().Name)
}

// submit feeds evidence from a target room into the sender's active task.
func (b *Bot) submit(ctx context.Context, req *router.Request, ev workflow.Evidence) error {
	res, err := b.wf.Submit(ctx, workerOf(req), req.Chat, ev)
	if err != nil {
		return fail(ctx, req, err)
	}
	switch {
	case res.Ignored:
		return nil
	case res.Complete:
		_, err = req.Reply(ctx, fmt.Sprintf("📨 Task #%d sent for review.", res.Task.ID), nil)
	default:
		_, err = req.Reply(ctx, res.Prompt(), nil)
	}
	return err
}

func (b *Bot) cmdTasks(ctx context.Context, req *router.Request) error {
	tasks := b.wf.Registry().List(workflow.Open, workflow.Claimed, workflow.PendingReview)
	if len(tasks) == 0 {
		_, err := req.Reply(ctx, "No tasks in flight.", nil)
		return err
	}
	lines := []tgui.H{tgui.B(fmt.Sprintf("📋 Tasks in flight: %d", len(tasks)))}
	for _, t := range tasks {
		line := tgui.Code("#"+strconv.FormatInt(t.ID, 10)) + tgui.Esc(" "+t.Variant.Label()+" · "+t.Status.String())
		if t.Claim != nil {
			line += tgui.Esc(" · " + t.ClaimedBy().Name)
		}
		excerpt := strings.Join(strings.Fields(t.Text), " ")
		line += tgui.Raw("\n") + tgui.I(tgui.TruncRunes(excerpt, 60))
		lines = append(lines, line)
	}
	_, err := req.Reply(ctx, tgui.Lines(lines...).String(), tgui.HTML(nil))
	return err
}

func (b *Bot) cmdRelease(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		_, err := req.Reply(ctx, "Usage: /release <task id>", nil)
		return err
	}
	id, err := parseTaskID(req.Args[0])
	if err != nil {
		_, err = req.Reply(ctx, "Usage: /release <task id>", nil)
		return err
	}
	res, err := b.wf.Release(ctx, id, workerOf(req))
	var se *workflow.StatusError
	if errors.As(err, &se) {
		_, err = req.Reply(ctx, fmt.Sprintf("Task #%d is %s; only claimed tasks can be released.", id, se.Have), nil)
		return err
	}
	if err != nil {
		return fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, fmt.Sprintf("🔁 Task #%d reopened and sent to %d of %d rooms.", id, res.Delivered, res.Total), nil)
	return err
}
