package app

import (
	"fmt"
	"strings"
	"time"

	"taskbot/internal/bot"
	"taskbot/internal/config"
	"taskbot/internal/delivery"
	"taskbot/internal/health"
	"taskbot/internal/schedule"
	"taskbot/internal/storage"
	"taskbot/pkg/logx"
)

const (
	defaultPollTimeout   = 10 * time.Second
	defaultDoneRetention = 24 * time.Hour
	defaultBusyTimeout   = time.Second
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// mapStorage returns enabled=false for a missing section or driver "none".
func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path, HistoryMax: sc.HistoryMax}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, HistoryMax: sc.HistoryMax}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// OpenStore opens the configured statistics store, or returns nil when
// storage is disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorage(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", sc.Driver, err)
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	return st, nil
}

func mapDelivery(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	timeout, err := config.ParseDurationField("delivery.send_timeout", d.SendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		Workers:     d.Workers,
		RatePerSec:  d.RatePerSec,
		RetryMax:    d.RetryMax,
		SendTimeout: timeout,
	}, nil
}

func mapBotOptions(cfg *config.Config) (bot.Options, error) {
	ttl, err := config.ParseDurationField("workflow.prompt_ttl", cfg.Workflow.PromptTTL)
	if err != nil {
		return bot.Options{}, err
	}
	return bot.Options{PromptTTL: ttl, Reviewers: cfg.Workflow.ReviewerUserIDs}, nil
}

func mapDoneRetention(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("workflow.done_retention", cfg.Workflow.DoneRetention, defaultDoneRetention)
}

func mapHealth(cfg *config.Config) health.Config {
	return health.Config{Enabled: cfg.Health.Enabled, Addr: strings.TrimSpace(cfg.Health.Addr), Pprof: cfg.Health.Pprof}
}

func mapSchedule(cfg *config.Config) schedule.Config {
	return schedule.Config{
		Timezone: cfg.Schedule.Timezone,
		Digest:   cfg.Schedule.Digest,
		Janitor:  cfg.Schedule.Janitor,
	}
}
