package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/pkg/tgui"
)

// VariantTotals sums one variant over all workers.
type VariantTotals struct {
	Taken     int
	Completed int
	Failed    int
}

// SuccessRate is completed/taken in percent, 0 when nothing was taken.
func (v VariantTotals) SuccessRate() float64 {
	if v.Taken == 0 {
		return 0
	}
	return float64(v.Completed) / float64(v.Taken) * 100
}

type Totals struct {
	Workers  int
	Simple   VariantTotals
	Verified VariantTotals
}

func Summarize(ws []storage.WorkerStats) Totals {
	t := Totals{Workers: len(ws)}
	for _, w := range ws {
		t.Simple.Taken += w.SimpleTaken
		t.Simple.Completed += w.SimpleCompleted
		t.Simple.Failed += w.SimpleFailed
		t.Verified.Taken += w.VerifiedTaken
		t.Verified.Completed += w.VerifiedCompleted
		t.Verified.Failed += w.VerifiedFailed
	}
	return t
}

const topWorkers = 10

// Overview renders the /stats reply.
func Overview(ctx context.Context, st storage.Store, now time.Time) (tgui.H, error) {
	if st == nil {
		return "", storage.ErrDisabled
	}
	ws, err := st.AllWorkerStats(ctx)
	if err != nil {
		return "", err
	}
	today := now.Format(storage.DayLayout)
	days, err := st.Daily(ctx, today, today)
	if err != nil {
		return "", err
	}
	t := Summarize(ws)

	blocks := []tgui.H{
		tgui.Lines(
			tgui.B("📊 Statistics"),
			tgui.Raw("👥 Workers: "+humanize.Comma(int64(t.Workers))),
		),
		variantBlock("📱 SMS", t.Simple),
		variantBlock("📝 Tests", t.Verified),
	}
	if len(days) > 0 {
		d := days[0]
		blocks = append(blocks, tgui.Raw(fmt.Sprintf("📅 Today: %d sms, %d tests, %d done, %d failed",
			d.Simple, d.Verified, d.Completed, d.Failed)))
	}
	if len(ws) > 0 {
		top := []tgui.H{tgui.B("🏆 Top workers")}
		for i, w := range ws {
			if i == topWorkers {
				break
			}
			top = append(top, tgui.Raw(fmt.Sprintf("%d. %s: %d done, %d failed (%s)",
				i+1, tgui.Esc(workerName(w)), w.Completed(), w.Failed(), lastSeen(w, now))))
		}
		blocks = append(blocks, tgui.Lines(top...))
	}
	return paragraphs(blocks...), nil
}

// Personal renders the /mystats reply for one worker.
func Personal(ctx context.Context, st storage.Store, workerID int64, now time.Time) (tgui.H, error) {
	if st == nil {
		return "", storage.ErrDisabled
	}
	w, ok, err := st.WorkerStats(ctx, workerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return tgui.Esc("No activity recorded yet."), nil
	}
	simple := VariantTotals{w.SimpleTaken, w.SimpleCompleted, w.SimpleFailed}
	verified := VariantTotals{w.VerifiedTaken, w.VerifiedCompleted, w.VerifiedFailed}
	return paragraphs(
		tgui.B("📊 "+workerName(w)),
		variantBlock("📱 SMS", simple),
		variantBlock("📝 Tests", verified),
		tgui.Raw("🕒 Last activity: "+lastSeen(w, now)),
	), nil
}

// Digest renders the daily summary for day.
func Digest(ctx context.Context, st storage.Store, day time.Time) (tgui.H, error) {
	if st == nil {
		return "", storage.ErrDisabled
	}
	key := day.Format(storage.DayLayout)
	days, err := st.Daily(ctx, key, key)
	if err != nil {
		return "", err
	}
	var d storage.DailyStats
	if len(days) > 0 {
		d = days[0]
	}
	return tgui.Lines(
		tgui.B("🗓 Daily summary "+day.Format("02.01.2006")),
		tgui.Raw(fmt.Sprintf("📱 SMS taken: %d", d.Simple)),
		tgui.Raw(fmt.Sprintf("📝 Tests taken: %d", d.Verified)),
		tgui.Raw(fmt.Sprintf("✅ Completed: %d", d.Completed)),
		tgui.Raw(fmt.Sprintf("❌ Failed: %d", d.Failed)),
	), nil
}

func variantBlock(title string, v VariantTotals) tgui.H {
	return tgui.Lines(
		tgui.B(title),
		tgui.Raw(fmt.Sprintf("• Taken: %s", humanize.Comma(int64(v.Taken)))),
		tgui.Raw(fmt.Sprintf("• ✅ Completed: %s", humanize.Comma(int64(v.Completed)))),
		tgui.Raw(fmt.Sprintf("• ❌ Failed: %s", humanize.Comma(int64(v.Failed)))),
		tgui.Raw(fmt.Sprintf("• Success: %.1f%%", v.SuccessRate())),
	)
}

// paragraphs joins blocks with a blank line between them.
func paragraphs(blocks ...tgui.H) tgui.H {
	ss := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b != "" {
			ss = append(ss, b.String())
		}
	}
	return tgui.H(strings.Join(ss, "\n\n"))
}

func workerName(w storage.WorkerStats) string {
	return transport.DisplayName(w.Username, w.FirstName, w.WorkerID)
}

func lastSeen(w storage.WorkerStats, now time.Time) string {
	if w.LastActivity.IsZero() {
		return "never"
	}
	return humanize.RelTime(w.LastActivity, now, "ago", "from now")
}
