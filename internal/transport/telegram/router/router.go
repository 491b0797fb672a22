// Package router dispatches transport updates to command, callback and
// message handlers on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskbot/internal/runtime/supervisor"
	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands are routed but left out of help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles inline-button data "<Scope>:<Action>:<payload>".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type RequestKind string

const (
	KindCommand  RequestKind = "command"
	KindCallback RequestKind = "callback"
	KindMessage  RequestKind = "message"
)

// Request is the unit of work passed to handlers.
type Request struct {
	Kind     RequestKind
	Message  *transport.Message  // set for commands and messages
	Callback *transport.Callback // set for callbacks
	Chat     transport.ChatTarget
	FromID   int64

	Command string   // command name or "scope:action"
	Rest    string   // text after the command word, untrimmed inside
	Args    []string // Rest tokenized
	Payload string   // callback payload

	ReqID   string
	Logger  logx.Logger
	Adapter transport.Adapter
	IsOwner bool

	answered bool
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Answer answers the callback of a callback request once. Later calls
// and non-callback requests are no-ops.
func (r *Request) Answer(ctx context.Context, text string, alert bool) error {
	if r.Callback == nil || r.answered {
		return nil
	}
	r.answered = true
	return r.Adapter.AnswerCallback(ctx, r.Callback.ID, text, alert)
}

// Sender is the display name of the user behind the request.
func (r *Request) Sender() string {
	switch {
	case r.Message != nil:
		return r.Message.DisplayName()
	case r.Callback != nil:
		return r.Callback.DisplayName()
	}
	return strconv.FormatInt(r.FromID, 10)
}

type Router struct {
	log     logx.Logger
	adapter transport.Adapter

	mu        sync.RWMutex
	commands  map[string]*Command
	order     []*Command
	callbacks map[string]CallbackRoute
	onMessage HandlerFunc
	owners    []int64
	botName   string

	msgTimeout time.Duration
	workers    int
	jobs       chan func()

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(log logx.Logger, adapter transport.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:        log,
		adapter:    adapter,
		commands:   map[string]*Command{},
		callbacks:  map[string]CallbackRoute{},
		owners:     slices.Clone(owners),
		msgTimeout: 30 * time.Second,
		workers:    max(2, runtime.NumCPU()),
		jobs:       make(chan func(), 256),
	}
}

func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) IsOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetBotUsername makes the router ignore "/cmd@other_bot".
func (r *Router) SetBotUsername(name string) {
	r.mu.Lock()
	r.botName = strings.TrimPrefix(strings.TrimSpace(name), "@")
	r.mu.Unlock()
}

// SetMessageHook handles every non-command message.
func (r *Router) SetMessageHook(h HandlerFunc) {
	r.mu.Lock()
	r.onMessage = h
	r.mu.Unlock()
}

// SetRegistry replaces the command and callback tables and, when the
// adapter supports it, republishes the command menu.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	help := Command{
		Name:        "help",
		Description: "list commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpText(req.IsOwner), &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	}
	cmds = append(slices.Clone(cmds), help)

	table := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" || c.Handle == nil {
			continue
		}
		table[c.Name] = c
		order = append(order, c)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = c
				}
			}
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].Name < order[j].Name })

	cb := map[string]CallbackRoute{}
	for _, rt := range cbs {
		if rt.Scope == "" || rt.Action == "" || rt.Handle == nil {
			continue
		}
		cb[rt.Scope+":"+rt.Action] = rt
	}

	r.mu.Lock()
	r.commands, r.order, r.callbacks = table, order, cb
	r.mu.Unlock()

	if up, ok := r.adapter.(transport.CommandMenuUpdater); ok {
		menu := r.menu()
		r.runMu.Lock()
		sup := r.sup
		r.runMu.Unlock()
		run := func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}
		if sup != nil {
			sup.Go0("telegram.menu.update", run)
		} else {
			go run(context.Background())
		}
	}
}

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup, r.running = sup, true
	r.runMu.Unlock()
	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			r.workerLoop(c, idx)
			return nil
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		close(r.jobs)
		r.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) workerLoop(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			func() {
				defer func() {
					if p := recover(); p != nil {
						r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (r *Router) enqueue(fn func()) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return false
	}
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	switch {
	case up.Kind == transport.UpdateMessage && up.Message != nil:
		r.routeMessage(ctx, up.Message)
	case up.Kind == transport.UpdateCallback && up.Callback != nil:
		r.routeCallback(ctx, up.Callback)
	}
}

func (r *Router) newRequest(kind RequestKind, chat transport.ChatTarget, from int64, command string) *Request {
	rid := uuid.NewString()
	return &Request{
		Kind:    kind,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		IsOwner: r.IsOwner(from),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int("thread_id", chat.ThreadID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, msg *transport.Message) {
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	name, bot, rest, isCmd := "", "", "", false
	if msg.Attachment == nil {
		name, bot, rest, isCmd = parseCommand(msg.Text)
	}

	r.mu.RLock()
	botName := r.botName
	cmd := r.commands[name]
	hook := r.onMessage
	r.mu.RUnlock()

	if isCmd && bot != "" && botName != "" && !strings.EqualFold(bot, botName) {
		return
	}
	if !isCmd {
		if hook == nil {
			return
		}
		req := r.newRequest(KindMessage, chat, msg.FromID, "")
		req.Message = msg
		req.Rest = msg.Text
		r.dispatch(ctx, req, hook, r.msgTimeout, nil)
		return
	}
	if cmd == nil {
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return
	}

	req := r.newRequest(KindCommand, chat, msg.FromID, cmd.Name)
	req.Message = msg
	req.Rest = rest
	req.Args = tokenize(rest)
	if cmd.Access == AccessOwnerOnly && !req.IsOwner {
		req.Logger.Info("command denied")
		_, _ = r.adapter.SendText(ctx, chat, "⛔ This command is for bot owners only.", nil)
		return
	}
	r.dispatch(ctx, req, cmd.Handle, cmd.Timeout, func() {
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	})
}

func (r *Router) routeCallback(ctx context.Context, cb *transport.Callback) {
	scope, action, payload, ok := SplitCallback(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}
	key := scope + ":" + action

	r.mu.RLock()
	rt, found := r.callbacks[key]
	r.mu.RUnlock()
	if !found {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "This button is no longer active.", false)
		return
	}

	req := r.newRequest(KindCallback, transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, key)
	req.Callback = cb
	req.Payload = payload
	if rt.Access == AccessOwnerOnly && !req.IsOwner {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "⛔ Owners only.", true)
		return
	}
	r.dispatch(ctx, req, rt.Handle, rt.Timeout, func() {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again.", false)
	})
}

func (r *Router) dispatch(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func()) {
	final := Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))
	job := func() {
		_ = final(ctx, req)
		// Stop the client spinner when the handler did not answer.
		_ = req.Answer(ctx, "", false)
	}
	if !r.enqueue(job) {
		req.Logger.Warn("router queue full; request dropped")
		if busy != nil {
			busy()
		}
	}
}
