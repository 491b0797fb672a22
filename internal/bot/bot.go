// Package bot holds the chat-facing handlers: operator commands in source
// rooms, claim buttons and evidence in target rooms, review buttons, the
// routing administration commands and the statistics replies.
package bot

import (
	"context"
	"slices"
	"sync"
	"time"

	"taskbot/internal/routing"
	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/internal/transport/telegram/router"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
)

// Options are the hot-reloadable knobs of the handlers.
type Options struct {
	// PromptTTL bounds how long /sms and /test wait for the template.
	PromptTTL time.Duration
	// Reviewers, when non-empty, restricts approve/reject to these users
	// (owners are always allowed).
	Reviewers []int64
}

func (o Options) withDefaults() Options {
	if o.PromptTTL <= 0 {
		o.PromptTTL = 10 * time.Minute
	}
	o.Reviewers = slices.Clone(o.Reviewers)
	return o
}

type Deps struct {
	Workflow *workflow.Service
	Routes   *routing.Graph
	// Delivery fans /warn out; the workflow uses the same service.
	Delivery workflow.Deliverer
	// Stats may be nil when storage is disabled.
	Stats storage.Store
	Log   logx.Logger
	Now   func() time.Time
}

type Bot struct {
	wf     *workflow.Service
	routes *routing.Graph
	out    workflow.Deliverer
	stats  storage.Store
	log    logx.Logger
	now    func() time.Time

	mu   sync.RWMutex
	opts Options

	prompts *promptBook
	links   *linkDrafts
}

func New(d Deps, opt Options) *Bot {
	b := &Bot{
		wf:     d.Workflow,
		routes: d.Routes,
		out:    d.Delivery,
		stats:  d.Stats,
		log:    d.Log,
		now:    d.Now,
		opts:   opt.withDefaults(),
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.prompts = newPromptBook()
	b.links = newLinkDrafts()
	return b
}

// Apply swaps the options in place.
func (b *Bot) Apply(opt Options) {
	b.mu.Lock()
	b.opts = opt.withDefaults()
	b.mu.Unlock()
}

func (b *Bot) options() Options {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opts
}

// Install registers every command, callback and the message hook on r.
func (b *Bot) Install(r *router.Router) {
	r.SetRegistry(b.Commands(), b.Callbacks())
	r.SetMessageHook(b.OnMessage)
}

// Sweep drops expired prompt sessions and link menus.
func (b *Bot) Sweep() int {
	now := b.now()
	return b.prompts.sweep(now) + b.links.sweep(now)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "sms", Description: "broadcast an SMS task", Usage: "/sms [text]", Handle: b.cmdBroadcast(workflow.Simple)},
		{Name: "test", Description: "broadcast a test task", Usage: "/test [text]", Handle: b.cmdBroadcast(workflow.Verified)},
		{Name: "warn", Description: "hurry up the linked rooms", Handle: b.cmdWarn},
		{Name: "id", Description: "show chat, thread and user ids", Handle: b.cmdID},
		{Name: "groups", Description: "routing overview", Handle: b.cmdGroups},
		{Name: "mystats", Description: "your own counters", Handle: b.cmdMyStats},
		{Name: "stats", Description: "task statistics", Handle: b.cmdStats},
		{Name: "stats_file", Description: "statistics as CSV", Access: router.AccessOwnerOnly, Timeout: time.Minute, Handle: b.cmdStatsFile},
		{Name: "tasks", Description: "tasks in flight", Access: router.AccessOwnerOnly, Handle: b.cmdTasks},
		{Name: "release", Description: "reopen a claimed task", Usage: "/release <task id>", Access: router.AccessOwnerOnly, Handle: b.cmdRelease},
		{Name: "source_add", Description: "make this chat a source room", Usage: "/source_add [name]", Access: router.AccessOwnerOnly, Handle: b.cmdSourceAdd},
		{Name: "source_rename", Description: "rename this source room", Usage: "/source_rename <name>", Access: router.AccessOwnerOnly, Handle: b.cmdSourceRename},
		{Name: "source_rm", Description: "remove this source room", Access: router.AccessOwnerOnly, Handle: b.cmdSourceRemove},
		{Name: "target_add", Description: "make this chat or topic a target room", Usage: "/target_add [name] [source_id...]", Access: router.AccessOwnerOnly, Handle: b.cmdTargetAdd},
		{Name: "target_rm", Description: "remove this target room", Access: router.AccessOwnerOnly, Handle: b.cmdTargetRemove},
		{Name: "link", Description: "choose the sources of this target room", Access: router.AccessOwnerOnly, Handle: b.cmdLink},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: workflow.CallbackScope, Action: workflow.ActionClaim, Handle: b.cbClaim},
		{Scope: workflow.CallbackScope, Action: workflow.ActionApprove, Handle: b.cbVerify(workflow.Approve)},
		{Scope: workflow.CallbackScope, Action: workflow.ActionReject, Handle: b.cbVerify(workflow.Reject)},
		{Scope: promptScope, Action: promptCancel, Handle: b.cbPromptCancel},
		{Scope: linkScope, Action: linkToggle, Access: router.AccessOwnerOnly, Handle: b.cbLinkToggle},
		{Scope: linkScope, Action: linkSave, Access: router.AccessOwnerOnly, Handle: b.cbLinkSave},
		{Scope: linkScope, Action: linkCancel, Access: router.AccessOwnerOnly, Handle: b.cbLinkCancel},
	}
}

// OnMessage handles non-command messages: pending templates in source
// rooms and evidence in target rooms.
func (b *Bot) OnMessage(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if msg == nil {
		return nil
	}
	if handled, err := b.takeTemplate(ctx, req); handled {
		return err
	}
	if _, ok := b.routes.ResolveTarget(msg.ChatID, msg.ThreadID); !ok {
		return nil
	}
	ev, ok := workflow.EvidenceFrom(msg)
	if !ok {
		return nil
	}
	return b.submit(ctx, req, ev)
}

// workerOf builds the acting user from whatever the request carries.
func workerOf(req *router.Request) workflow.Worker {
	w := workflow.Worker{ID: req.FromID, Name: req.Sender()}
	switch {
	case req.Message != nil:
		w.Username, w.FirstName = req.Message.FromUsername, req.Message.FromFirstName
	case req.Callback != nil:
		w.Username, w.FirstName = req.Callback.FromUsername, req.Callback.FromFirstName
	}
	return w
}

func callbackRef(cb *transport.Callback) transport.MessageRef {
	return transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
}
