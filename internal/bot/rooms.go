package bot

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskbot/internal/delivery"
	"taskbot/internal/routing"
	"taskbot/internal/transport"
	"taskbot/internal/transport/telegram/router"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

const warnText = "🚨 Wake up! Tasks are waiting, work faster! 🚨"

func (b *Bot) cmdID(ctx context.Context, req *router.Request) error {
	msg := req.Message
	lines := []tgui.H{tgui.B("🆔 Info")}
	if msg.ChatTitle != "" {
		lines = append(lines, tgui.Esc("• Chat: "+msg.ChatTitle))
	}
	lines = append(lines, tgui.Raw("• Chat id: ")+tgui.Code(strconv.FormatInt(msg.ChatID, 10)))
	if msg.ThreadID != 0 {
		lines = append(lines, tgui.Raw("• Thread id: ")+tgui.Code(strconv.Itoa(msg.ThreadID)))
	}
	lines = append(lines, tgui.Raw("• User id: ")+tgui.Code(strconv.FormatInt(msg.FromID, 10)))
	if msg.FromUsername != "" {
		lines = append(lines, tgui.Esc("• Username: @"+msg.FromUsername))
	}
	lines = append(lines, b.roleLines(msg.ChatID, msg.ThreadID)...)
	_, err := req.Reply(ctx, tgui.Lines(lines...).String(), tgui.HTML(nil))
	return err
}

// roleLines describes what the room is in the routing graph.
func (b *Bot) roleLines(chatID int64, threadID int) []tgui.H {
	var out []tgui.H
	if b.routes.IsSource(chatID) {
		n := len(b.routes.TargetsForSource(chatID))
		if n > 0 {
			out = append(out, tgui.Esc(fmt.Sprintf("• 📤 Source room, %d linked target rooms", n)))
		} else {
			out = append(out, tgui.Esc("• 📤 Source room, ⚠️ no linked target rooms"))
		}
	}
	if tg, ok := b.routes.ResolveTarget(chatID, threadID); ok {
		if n := len(tg.SourceIDs); n > 0 {
			out = append(out, tgui.Esc(fmt.Sprintf("• 📥 Target room %q, linked to %d source rooms", tg.Name, n)))
		} else {
			out = append(out, tgui.Esc(fmt.Sprintf("• 📥 Target room %q, ⚠️ unlinked", tg.Name)))
		}
	}
	if len(out) == 0 {
		out = append(out, tgui.Esc("• Not registered in routing"))
	}
	return out
}

func (b *Bot) cmdWarn(ctx context.Context, req *router.Request) error {
	origin := req.Chat.ChatID
	if !b.routes.IsSource(origin) {
		return fail(ctx, req, workflow.ErrNotSource)
	}
	targets := b.routes.TargetsForSource(origin)
	if len(targets) == 0 {
		return fail(ctx, req, workflow.ErrNoLinkedTargets)
	}
	msgs := make([]delivery.Message, 0, len(targets))
	for _, tg := range targets {
		msgs = append(msgs, delivery.Message{To: transport.ChatTarget{ChatID: tg.Key.ChatID, ThreadID: tg.Key.SubThread}, Text: warnText})
	}
	rep := b.out.Send(ctx, msgs)
	_, err := req.Reply(ctx, fmt.Sprintf("✅ Warning sent to %s rooms.", rep), nil)
	return err
}

func (b *Bot) cmdGroups(ctx context.Context, req *router.Request) error {
	sources := b.routes.Sources()
	targets := b.routes.Targets()
	if len(sources) == 0 && len(targets) == 0 {
		_, err := req.Reply(ctx, "No rooms registered yet. Use /source_add and /target_add.", nil)
		return err
	}

	names := make(map[int64]string, len(sources))
	lines := []tgui.H{tgui.B(fmt.Sprintf("📤 Source rooms (%d)", len(sources)))}
	for _, s := range sources {
		names[s.ID] = s.Name
		n := len(b.routes.TargetsForSource(s.ID))
		lines = append(lines, tgui.Esc(fmt.Sprintf("• %s ", s.Name))+tgui.Code(strconv.FormatInt(s.ID, 10))+tgui.Esc(fmt.Sprintf(" → %d targets", n)))
	}
	lines = append(lines, "", tgui.B(fmt.Sprintf("📥 Target rooms (%d)", len(targets))))
	for _, tg := range targets {
		line := tgui.Esc("• "+tg.Name+" ") + tgui.Code(tg.Key.String())
		if len(tg.SourceIDs) == 0 {
			line += tgui.Esc(" ⚠️ unlinked")
		} else {
			from := make([]string, 0, len(tg.SourceIDs))
			for _, id := range tg.SourceIDs {
				from = append(from, names[id])
			}
			line += tgui.Esc(" ← " + strings.Join(from, ", "))
		}
		lines = append(lines, line)
	}
	_, err := req.Reply(ctx, strings.Join(htmlStrings(lines), "\n"), tgui.HTML(nil))
	return err
}

func htmlStrings(hs []tgui.H) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	return out
}

// roomName is the name argument, or the chat title when none was given.
func roomName(req *router.Request, arg string) string {
	if name := strings.TrimSpace(arg); name != "" {
		return name
	}
	if req.Message != nil {
		return req.Message.ChatTitle
	}
	return ""
}

func (b *Bot) cmdSourceAdd(ctx context.Context, req *router.Request) error {
	src, err := b.routes.AddSource(req.Chat.ChatID, roomName(req, req.Rest))
	if err != nil {
		return fail(ctx, req, err)
	}
	req.Logger.Info("source added", logx.Int64("source", src.ID), logx.String("name", src.Name))
	_, err = req.Reply(ctx, fmt.Sprintf("✅ %s is now a source room. Run /link in each target room to connect it.", src.Name), nil)
	return err
}

func (b *Bot) cmdSourceRename(ctx context.Context, req *router.Request) error {
	name := strings.TrimSpace(req.Rest)
	if name == "" {
		_, err := req.Reply(ctx, "Usage: /source_rename <name>", nil)
		return err
	}
	if err := b.routes.RenameSource(req.Chat.ChatID, name); err != nil {
		return fail(ctx, req, err)
	}
	_, err := req.Reply(ctx, "✅ Source renamed to "+name+".", nil)
	return err
}

func (b *Bot) cmdSourceRemove(ctx context.Context, req *router.Request) error {
	affected := len(b.routes.TargetsForSource(req.Chat.ChatID))
	if err := b.routes.RemoveSource(req.Chat.ChatID); err != nil {
		return fail(ctx, req, err)
	}
	req.Logger.Info("source removed", logx.Int64("source", req.Chat.ChatID))
	_, err := req.Reply(ctx, fmt.Sprintf("🗑 Source removed and unlinked from %d target rooms.", affected), nil)
	return err
}

// splitTargetArgs separates trailing numeric source ids from the name words.
func splitTargetArgs(args []string) (name string, ids []int64) {
	i := len(args)
	for i > 0 {
		id, err := strconv.ParseInt(args[i-1], 10, 64)
		if err != nil {
			break
		}
		ids = append(ids, id)
		i--
	}
	slices.Reverse(ids)
	return strings.Join(args[:i], " "), ids
}

func (b *Bot) cmdTargetAdd(ctx context.Context, req *router.Request) error {
	name, ids := splitTargetArgs(req.Args)
	key := routing.TargetKey{ChatID: req.Chat.ChatID, SubThread: req.Chat.ThreadID}
	tg, err := b.routes.AddTarget(key, roomName(req, name), ids)
	if err != nil {
		return fail(ctx, req, err)
	}
	req.Logger.Info("target added", logx.String("name", tg.Name))
	text := fmt.Sprintf("✅ %s is now a target room linked to %d sources.", tg.Name, len(tg.SourceIDs))
	if len(tg.SourceIDs) == 0 {
		text = fmt.Sprintf("✅ %s is now a target room. Choose its sources with /link.", tg.Name)
	}
	_, err = req.Reply(ctx, text, nil)
	return err
}

func (b *Bot) cmdTargetRemove(ctx context.Context, req *router.Request) error {
	tg, ok := b.routes.ResolveTarget(req.Chat.ChatID, req.Chat.ThreadID)
	if !ok {
		return fail(ctx, req, routing.ErrNotFound)
	}
	if err := b.routes.RemoveTarget(tg.Key); err != nil {
		return fail(ctx, req, err)
	}
	b.links.drop(tg.Key)
	req.Logger.Info("target removed", logx.String("name", tg.Name))
	_, err := req.Reply(ctx, "🗑 Target room "+tg.Name+" removed.", nil)
	return err
}

const (
	linkScope  = "link"
	linkToggle = "toggle"
	linkSave   = "save"
	linkCancel = "cancel"

	linkDraftTTL = 15 * time.Minute
)

type linkDraft struct {
	IDs     []int64
	Expires time.Time
}

// linkDrafts holds unsaved /link selections per target room.
type linkDrafts struct {
	mu     sync.Mutex
	drafts map[routing.TargetKey]linkDraft
}

func newLinkDrafts() *linkDrafts {
	return &linkDrafts{drafts: map[routing.TargetKey]linkDraft{}}
}

func (l *linkDrafts) open(k routing.TargetKey, ids []int64, now time.Time) {
	l.mu.Lock()
	l.drafts[k] = linkDraft{IDs: slices.Clone(ids), Expires: now.Add(linkDraftTTL)}
	l.mu.Unlock()
}

// toggle flips id in the draft and returns the new selection.
func (l *linkDrafts) toggle(k routing.TargetKey, id int64, now time.Time) ([]int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.drafts[k]
	if !ok || now.After(d.Expires) {
		delete(l.drafts, k)
		return nil, false
	}
	if i := slices.Index(d.IDs, id); i >= 0 {
		d.IDs = slices.Delete(d.IDs, i, i+1)
	} else {
		d.IDs = append(d.IDs, id)
	}
	l.drafts[k] = d
	return slices.Clone(d.IDs), true
}

func (l *linkDrafts) take(k routing.TargetKey, now time.Time) ([]int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.drafts[k]
	delete(l.drafts, k)
	if !ok || now.After(d.Expires) {
		return nil, false
	}
	return d.IDs, true
}

func (l *linkDrafts) drop(k routing.TargetKey) {
	l.mu.Lock()
	delete(l.drafts, k)
	l.mu.Unlock()
}

func (l *linkDrafts) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, d := range l.drafts {
		if now.After(d.Expires) {
			delete(l.drafts, k)
			n++
		}
	}
	return n
}

func (b *Bot) linkMenu(tg routing.Target, selected []int64) (string, *transport.SendOptions) {
	kb := tgui.NewInline()
	for _, s := range b.routes.Sources() {
		mark := "⬜ "
		if slices.Contains(selected, s.ID) {
			mark = "✅ "
		}
		kb.Row(tgui.Btn(mark+s.Name, tgui.Data(linkScope, linkToggle, strconv.FormatInt(s.ID, 10))))
	}
	kb.Row(
		tgui.Btn("💾 Save", tgui.Data(linkScope, linkSave, "")),
		tgui.Btn("✖️ Cancel", tgui.Data(linkScope, linkCancel, "")),
	)
	text := tgui.Lines(
		tgui.B("🔗 Sources for "+tg.Name),
		tgui.Esc(fmt.Sprintf("Selected: %d. Tap a source to toggle it.", len(selected))),
	)
	return text.String(), tgui.HTML(kb)
}

func (b *Bot) cmdLink(ctx context.Context, req *router.Request) error {
	tg, ok := b.routes.ResolveTarget(req.Chat.ChatID, req.Chat.ThreadID)
	if !ok {
		_, err := req.Reply(ctx, "This room is not a target room. Register it with /target_add first.", nil)
		return err
	}
	if len(b.routes.Sources()) == 0 {
		_, err := req.Reply(ctx, "No source rooms yet. Register one with /source_add.", nil)
		return err
	}
	b.links.open(tg.Key, tg.SourceIDs, b.now())
	text, opt := b.linkMenu(tg, tg.SourceIDs)
	_, err := req.Reply(ctx, text, opt)
	return err
}

func (b *Bot) linkTarget(ctx context.Context, req *router.Request) (routing.Target, bool) {
	tg, ok := b.routes.ResolveTarget(req.Chat.ChatID, req.Chat.ThreadID)
	if !ok {
		_ = req.Answer(ctx, "This room is no longer a target room.", true)
		_ = req.Adapter.ClearMarkup(ctx, callbackRef(req.Callback))
	}
	return tg, ok
}

func (b *Bot) cbLinkToggle(ctx context.Context, req *router.Request) error {
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return req.Answer(ctx, "This button is broken.", true)
	}
	tg, ok := b.linkTarget(ctx, req)
	if !ok {
		return nil
	}
	selected, ok := b.links.toggle(tg.Key, id, b.now())
	if !ok {
		_ = req.Adapter.ClearMarkup(ctx, callbackRef(req.Callback))
		return req.Answer(ctx, "This menu has expired. Run /link again.", true)
	}
	text, opt := b.linkMenu(tg, selected)
	if err := req.Adapter.EditText(ctx, callbackRef(req.Callback), text, opt); err != nil {
		return err
	}
	return req.Answer(ctx, "", false)
}

func (b *Bot) cbLinkSave(ctx context.Context, req *router.Request) error {
	tg, ok := b.linkTarget(ctx, req)
	if !ok {
		return nil
	}
	ids, ok := b.links.take(tg.Key, b.now())
	if !ok {
		_ = req.Adapter.ClearMarkup(ctx, callbackRef(req.Callback))
		return req.Answer(ctx, "This menu has expired. Run /link again.", true)
	}
	if err := b.routes.SetTargetLinks(tg.Key, ids); err != nil {
		return fail(ctx, req, err)
	}
	req.Logger.Info("target links saved", logx.String("name", tg.Name))
	text := tgui.Esc(fmt.Sprintf("✅ %s is linked to %d source rooms.", tg.Name, len(ids)))
	if err := req.Adapter.EditText(ctx, callbackRef(req.Callback), text.String(), tgui.HTML(nil)); err != nil {
		return err
	}
	return req.Answer(ctx, "Saved", false)
}

func (b *Bot) cbLinkCancel(ctx context.Context, req *router.Request) error {
	if tg, ok := b.routes.ResolveTarget(req.Chat.ChatID, req.Chat.ThreadID); ok {
		b.links.drop(tg.Key)
	}
	_ = req.Adapter.EditText(ctx, callbackRef(req.Callback), "Link menu closed.", nil)
	return req.Answer(ctx, "", false)
}
