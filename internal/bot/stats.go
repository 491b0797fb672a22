package bot

import (
	"bytes"
	"context"

	"taskbot/internal/stats"
	"taskbot/internal/transport/telegram/router"
	"taskbot/pkg/tgui"
)

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	text, err := stats.Overview(ctx, b.stats, b.now())
	if err != nil {
		return fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, text.String(), tgui.HTML(nil))
	return err
}

func (b *Bot) cmdMyStats(ctx context.Context, req *router.Request) error {
	text, err := stats.Personal(ctx, b.stats, req.FromID, b.now())
	if err != nil {
		return fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, text.String(), tgui.HTML(nil))
	return err
}

func (b *Bot) cmdStatsFile(ctx context.Context, req *router.Request) error {
	now := b.now()
	var buf bytes.Buffer
	if err := stats.WriteCSV(ctx, b.stats, &buf, now); err != nil {
		return fail(ctx, req, err)
	}
	_, err := req.Adapter.SendDocument(ctx, req.Chat, stats.ExportName(now), &buf, "📊 Statistics export")
	if err != nil {
		_, _ = req.Reply(ctx, "❌ Could not send the file.", nil)
	}
	return err
}
