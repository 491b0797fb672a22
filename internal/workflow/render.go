package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"taskbot/internal/transport"
	"taskbot/pkg/tgui"
)

// Callback scope and actions carried by task buttons.
const (
	CallbackScope = "task"
	ActionClaim   = "claim"
	ActionApprove = "approve"
	ActionReject  = "reject"
)

const excerptRunes = 300

func taskData(action string, id int64) string {
	return tgui.Data(CallbackScope, action, strconv.FormatInt(id, 10))
}

func renderPost(t Task) string {
	var head tgui.H
	if t.Variant == Verified {
		head = "🛑 TEST 🛑\n\n"
	}
	if t.Round > 1 {
		head = tgui.Raw("🔁 <i>Reopened</i>\n") + head
	}
	return (head + tgui.Esc(t.Text) + "\n\n" + tgui.Code("#"+strconv.FormatInt(t.ID, 10))).String()
}

func postOptions(t Task) *transport.SendOptions {
	kb := tgui.NewInline().Row(tgui.Btn("✅ I'll do it", taskData(ActionClaim, t.ID)))
	return tgui.HTML(kb)
}

func renderTaken(t Task) string {
	return renderPost(t) + "\n\n" + tgui.Esc("👤 Taken by: "+t.ClaimedBy().Name).String()
}

func renderClaimNotice(t Task, roomName string) string {
	return tgui.Lines(
		tgui.Esc("👤 "+t.ClaimedBy().Name+" took "+t.Variant.Label()+" task "),
		tgui.Code("#"+strconv.FormatInt(t.ID, 10)),
		tgui.Esc("Room: "+roomName),
		tgui.Quote(tgui.TruncRunes(t.Text, excerptRunes)),
	).String()
}

func renderWorkerPrompt(t Task) string {
	name := t.ClaimedBy().Name
	if t.Variant == Verified {
		return tgui.Esc(name + ", the task is yours. Send a screenshot and the 4-digit code (in the caption or as a separate message).").String()
	}
	return tgui.Esc(name + ", the task is yours. Send a screenshot when it is done.").String()
}

func renderMissing(missing []Requirement) string {
	parts := make([]string, 0, len(missing))
	for _, m := range missing {
		switch m {
		case NeedAttachment:
			parts = append(parts, "the screenshot")
		case NeedCode:
			parts = append(parts, "the 4-digit code")
		}
	}
	return "📥 Got it. Still needed: " + strings.Join(parts, " and ") + "."
}

func renderReview(t Task) (string, *transport.SendOptions) {
	lines := []tgui.H{
		tgui.B(fmt.Sprintf("🧾 %s task #%d submitted", t.Variant.Label(), t.ID)),
		tgui.Esc("Worker: " + t.ClaimedBy().Name),
	}
	if t.Artifacts.Code != "" {
		lines = append(lines, tgui.Raw("Code: ")+tgui.Code(t.Artifacts.Code))
	}
	lines = append(lines, tgui.Quote(tgui.TruncRunes(t.Text, excerptRunes)))
	kb := tgui.NewInline().Row(
		tgui.Btn("✅ Approve", taskData(ActionApprove, t.ID)),
		tgui.Btn("❌ Reject", taskData(ActionReject, t.ID)),
	)
	return tgui.Lines(lines...).String(), tgui.HTML(kb)
}

func renderApproved(t Task) string {
	return tgui.Esc(fmt.Sprintf("✅ %s task #%d completed by %s", t.Variant.Label(), t.ID, t.ClaimedBy().Name)).String()
}

func renderRejected(t Task) string {
	return tgui.Esc(fmt.Sprintf("❌ %s task #%d failed for %s. It is open again.", t.Variant.Label(), t.ID, t.ClaimedBy().Name)).String()
}
