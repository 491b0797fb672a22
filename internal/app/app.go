// Package app wires the process together: config, logging, storage,
// routing, delivery, the workflow, the Telegram adapter and router, the
// health endpoint and the scheduled jobs. It also owns hot reload and the
// ordered shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskbot/internal/bot"
	"taskbot/internal/config"
	"taskbot/internal/delivery"
	"taskbot/internal/eventbus"
	"taskbot/internal/health"
	"taskbot/internal/routing"
	"taskbot/internal/runtime/pidlock"
	"taskbot/internal/runtime/supervisor"
	"taskbot/internal/schedule"
	"taskbot/internal/stats"
	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/internal/transport/telegram/adapter"
	"taskbot/internal/transport/telegram/router"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	lock *pidlock.Lock

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	tally *eventbus.Tally

	store    storage.Store
	recorder *stats.Recorder

	adapter *adapter.Adapter
	router  *router.Router
	routes  *routing.Graph
	out     *delivery.Service
	wf      *workflow.Service
	bot     *bot.Bot
	health  *health.Server
	sched   *schedule.Service

	retention atomic.Int64 // time.Duration

	updates chan transport.Update
}

// New loads the config, takes the process lock and builds every component.
// Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, updates: make(chan transport.Update, 256)}
	if p := strings.TrimSpace(cfg.Lock.Path); p != "" {
		if a.lock, err = pidlock.Acquire(p); err != nil {
			return nil, fmt.Errorf("lock %s: %w", p, err)
		}
	}
	if err := a.build(cfg); err != nil {
		a.abort()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	// Telegram logging stays off until the adapter exists and the target is set.
	logCfg := mapLogging(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logs, root := logx.New(boot, nil)
	a.logs = logs
	a.log = root.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return err
	}
	ad, err := adapter.New(adapter.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = ad
	logs.SetSender(func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, transport.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &transport.SendOptions{DisablePreview: true})
		return err
	})
	chatID, threadID, _ := config.ParseGroupLog(cfg.Telegram.GroupLog)
	logs.SetTelegramTarget(chatID, threadID)
	logs.Apply(logCfg)

	if a.store, err = OpenStore(cfg, root); err != nil {
		return err
	}
	if a.store == nil {
		a.log.Info("storage disabled")
	}
	a.recorder = stats.NewRecorder(a.store, 0, root)

	routes, rewritten, err := routing.Open(cfg.Routing.Path)
	if err != nil {
		return fmt.Errorf("routing %s: %w", cfg.Routing.Path, err)
	}
	if rewritten {
		a.log.Info("routing document rewritten", logx.String("path", cfg.Routing.Path))
	}
	a.routes = routes
	a.bus = eventbus.New()
	a.tally = eventbus.NewTally()
	routes.OnChange(func() {
		a.bus.Publish(eventbus.Event{Topic: eventbus.RoutingChange, Time: time.Now()})
	})

	dc, err := mapDelivery(cfg)
	if err != nil {
		return err
	}
	a.out = delivery.New(ad, dc, root.With(logx.String("comp", "delivery")))

	a.wf = workflow.NewService(workflow.Deps{
		Registry: workflow.NewRegistry(),
		Routes:   routes,
		Delivery: a.out,
		Sink:     a.recorder,
		Bus:      a.bus,
		Log:      root.With(logx.String("comp", "workflow")),
	})

	opts, err := mapBotOptions(cfg)
	if err != nil {
		return err
	}
	a.bot = bot.New(bot.Deps{
		Workflow: a.wf,
		Routes:   routes,
		Delivery: a.out,
		Stats:    a.store,
		Log:      root.With(logx.String("comp", "bot")),
	}, opts)

	a.router = router.New(root.With(logx.String("comp", "telegram.router")), ad, cfg.Telegram.OwnerUserIDs)
	_, username := ad.Me()
	a.router.SetBotUsername(username)
	a.bot.Install(a.router)

	retention, err := mapDoneRetention(cfg)
	if err != nil {
		return err
	}
	a.retention.Store(int64(retention))

	a.health = health.New(root, a.report)
	a.sched = schedule.New(root, schedule.Jobs{
		Digest:  digestJob(a.store, routes, a.out, root.With(logx.String("comp", "digest"))),
		Janitor: janitorJob(a.wf.Registry(), a.bot, a.doneRetention, root.With(logx.String("comp", "janitor"))),
	})
	return nil
}

// abort releases what build managed to open.
func (a *App) abort() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.lock.Release()
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) doneRetention() time.Duration { return time.Duration(a.retention.Load()) }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	run := a.sup.Context()

	a.recorder.Start(run)
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	cfg := a.cfgm.Get()
	a.health.Apply(run, mapHealth(cfg))
	a.sched.Start(run, mapSchedule(cfg))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.tally", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.tally.Observe(e)
				a.log.Debug("event",
					logx.String("topic", string(e.Topic)),
					logx.Int64("task", e.TaskID),
					logx.Int64("actor", e.Actor),
				)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Only the newest of a burst is applied.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	_, username := a.adapter.Me()
	a.log.Info("app started",
		logx.String("bot", username),
		logx.Int("sources", len(a.routes.Sources())),
		logx.Int("targets", len(a.routes.Targets())),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartOnly(sections); len(restart) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if prev != nil && (prev.Telegram.Token != next.Telegram.Token ||
		strings.TrimSpace(prev.Telegram.PollTimeout) != strings.TrimSpace(next.Telegram.PollTimeout)) {
		a.log.Warn("telegram token and poll_timeout apply after restart")
	}

	// Target before Apply so enabling the chat sink never sees an empty target.
	chatID, threadID, _ := config.ParseGroupLog(next.Telegram.GroupLog)
	a.logs.SetTelegramTarget(chatID, threadID)
	a.logs.Apply(mapLogging(next))

	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	if dc, err := mapDelivery(next); err != nil {
		a.log.Warn("invalid delivery config, keeping previous", logx.Err(err))
	} else {
		a.out.Apply(dc)
	}
	if opts, err := mapBotOptions(next); err != nil {
		a.log.Warn("invalid workflow config, keeping previous", logx.Err(err))
	} else {
		a.bot.Apply(opts)
	}
	if r, err := mapDoneRetention(next); err != nil {
		a.log.Warn("invalid done_retention, keeping previous", logx.Err(err))
	} else {
		a.retention.Store(int64(r))
	}

	a.health.Apply(ctx, mapHealth(next))
	a.sched.Apply(mapSchedule(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// report feeds /healthz.
func (a *App) report() health.Report {
	counts := a.wf.Registry().Counts()
	tasks := make(map[string]int, len(counts))
	for st, n := range counts {
		tasks[st.String()] = n
	}

	sups := map[string]supervisor.Counters{}
	if a.sup != nil {
		sups["app"] = a.sup.Counters()
	}
	if s := a.adapter.Supervisor(); s != nil {
		sups["telegram.adapter"] = s.Counters()
	}

	counters := a.sched.Counters()
	counters["stats_dropped"] = a.recorder.Dropped()
	counters["stats_failed"] = a.recorder.Failed()
	counters["log_chat_dropped"] = a.logs.Dropped()

	rep := health.Report{Tasks: tasks, Supervisors: sups, Counters: counters}
	var last time.Time
	rep.Events, last = a.tally.Snapshot()
	if !last.IsZero() {
		last = last.UTC()
		rep.LastEvent = &last
	}
	return rep
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.abort()
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "health", time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Dispatch, reload and watch loops; nothing records stats after this.
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "stats", 2*time.Second, func(c context.Context) error { a.recorder.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "lock", time.Second, func(context.Context) error { return a.lock.Release() })

	a.log.Info("stopped", logx.Int("tasks_lost", len(a.wf.Registry().List(workflow.Open, workflow.Claimed, workflow.PendingReview))))
	return a.logs.Close()
}

// step runs one shutdown stage bounded by max and by ctx, so a stuck
// component cannot hold up the rest. A stage that overruns keeps running
// and is logged when it finally returns.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached, continuing", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
