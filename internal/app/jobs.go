package app

import (
	"context"
	"fmt"
	"time"

	"taskbot/internal/delivery"
	"taskbot/internal/routing"
	"taskbot/internal/schedule"
	"taskbot/internal/stats"
	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
)

type sourceLister interface {
	Sources() []routing.Source
}

type sweeper interface {
	Sweep() int
}

// digestJob posts the day's totals to every source room. It does nothing
// while storage is disabled or no source exists.
func digestJob(st storage.Store, routes sourceLister, out workflow.Deliverer, log logx.Logger) schedule.Job {
	return func(ctx context.Context, now time.Time) error {
		if st == nil {
			log.Debug("digest skipped, storage disabled")
			return nil
		}
		sources := routes.Sources()
		if len(sources) == 0 {
			return nil
		}
		body, err := stats.Digest(ctx, st, now)
		if err != nil {
			return err
		}
		opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
		msgs := make([]delivery.Message, 0, len(sources))
		for _, s := range sources {
			msgs = append(msgs, delivery.Message{To: transport.ChatTarget{ChatID: s.ID}, Text: string(body), Options: opt})
		}
		rep := out.Send(ctx, msgs)
		if rep.Delivered == 0 {
			return fmt.Errorf("digest reached none of %d source rooms", rep.Total)
		}
		log.Info("digest sent", logx.String("delivered", rep.String()))
		return nil
	}
}

// janitorJob evicts finished tasks older than the retention and expired
// prompt and /link sessions.
func janitorJob(reg *workflow.Registry, sw sweeper, retention func() time.Duration, log logx.Logger) schedule.Job {
	return func(_ context.Context, now time.Time) error {
		pruned := reg.Prune(now.Add(-retention()))
		swept := 0
		if sw != nil {
			swept = sw.Sweep()
		}
		if pruned > 0 || swept > 0 {
			log.Debug("janitor pass", logx.Int("tasks_pruned", pruned), logx.Int("sessions_swept", swept))
		}
		return nil
	}
}
