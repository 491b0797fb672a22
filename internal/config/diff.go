package config

import (
	"reflect"
	"sort"
	"strings"

	"taskbot/pkg/logx"
)

// SummarizeChange lists the changed top-level sections together with
// fields safe to log. The bot token is never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Routing != newCfg.Routing {
		changed = append(changed, "routing")
		attrs = append(attrs, logx.String("routing.path", newCfg.Routing.Path))
	}

	if !reflect.DeepEqual(oldCfg.Workflow, newCfg.Workflow) {
		changed = append(changed, "workflow")
		attrs = append(attrs,
			logx.String("workflow.prompt_ttl", newCfg.Workflow.PromptTTL),
			logx.Int("workflow.reviewer_count", len(newCfg.Workflow.ReviewerUserIDs)),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.workers", newCfg.Delivery.Workers),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.Int("delivery.retry_max", newCfg.Delivery.RetryMax),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newS.Driver), logx.Bool("storage.path_set", newS.Path != ""))
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs, logx.Bool("health.enabled", newCfg.Health.Enabled), logx.String("health.addr", newCfg.Health.Addr), logx.Bool("health.pprof", newCfg.Health.Pprof))
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule.digest", newCfg.Schedule.Digest), logx.String("schedule.janitor", newCfg.Schedule.Janitor))
	}
	if oldCfg.Lock != newCfg.Lock {
		changed = append(changed, "lock")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartOnly reports the changed sections that only take effect after a
// restart.
func RestartOnly(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "routing", "storage", "lock":
			out = append(out, s)
		}
	}
	return out
}
