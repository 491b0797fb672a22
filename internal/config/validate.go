package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks everything that can be checked without side effects.
// A reload that fails here is never committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	_, _, err := ParseGroupLog(cfg.Telegram.GroupLog)
	add(err)
	_, err = ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	if strings.TrimSpace(cfg.Routing.Path) == "" {
		add(errors.New("routing.path is required"))
	}

	_, err = ParseDurationField("workflow.prompt_ttl", cfg.Workflow.PromptTTL)
	add(err)
	_, err = ParseDurationField("workflow.done_retention", cfg.Workflow.DoneRetention)
	add(err)

	d := cfg.Delivery
	if d.Workers < 0 || d.RatePerSec < 0 || d.RetryMax < 0 {
		add(errors.New("delivery: workers, rate_per_sec and retry_max must be >= 0"))
	}
	_, err = ParseDurationField("delivery.send_timeout", d.SendTimeout)
	add(err)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required when storage.driver=%s", s.Driver))
			}
		default:
			add(fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		if s.HistoryMax < 0 {
			add(errors.New("storage.history_max must be >= 0"))
		}
		_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	sc := cfg.Schedule
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err))
		}
	}
	for name, spec := range map[string]string{"schedule.digest": sc.Digest, "schedule.janitor": sc.Janitor} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			add(fmt.Errorf("%s: invalid cron spec %q: %w", name, spec, err))
		}
	}

	return errors.Join(errs...)
}

// ParseGroupLog splits "<chat_id>[:<thread_id>]". An empty value returns
// zero ids and no error.
func ParseGroupLog(raw string) (chatID int64, threadID int, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, nil
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram.group_log: invalid chat id %q", chat)
	}
	if hasThread {
		threadID, err = strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || threadID < 0 {
			return 0, 0, fmt.Errorf("telegram.group_log: invalid thread id %q", thread)
		}
	}
	return chatID, threadID, nil
}
