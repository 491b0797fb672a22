package config

// Config is the on-disk configuration. Durations are Go duration strings.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Routing  RoutingConfig  `json:"routing"`
	Workflow WorkflowConfig `json:"workflow"`
	Delivery DeliveryConfig `json:"delivery"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Health   HealthConfig   `json:"health"`
	Schedule ScheduleConfig `json:"schedule"`
	Lock     LockConfig     `json:"lock"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is "<chat_id>" or "<chat_id>:<thread_id>".
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RoutingConfig points at the routing document (.json, .yaml or .yml).
type RoutingConfig struct {
	Path string `json:"path"`
}

type WorkflowConfig struct {
	// PromptTTL bounds how long a /sms or /test prompt waits for its text.
	PromptTTL string `json:"prompt_ttl,omitempty"`
	// DoneRetention is how long finished tasks stay in memory.
	DoneRetention string `json:"done_retention,omitempty"`
	// ReviewerUserIDs restricts approve/reject. Empty means any member of a
	// source room may review.
	ReviewerUserIDs []int64 `json:"reviewer_user_ids,omitempty"`
}

type DeliveryConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig controls persistence of counters and history. A nil
// section disables it.
//
//	"storage": {"driver": "sqlite", "path": "./data/taskbot.db"}
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	HistoryMax  int    `json:"history_max,omitempty"`
}

// HealthConfig controls the liveness HTTP endpoint.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}

type ScheduleConfig struct {
	Timezone string `json:"timezone,omitempty"`
	// Digest is a cron spec for the daily summary; empty disables it.
	Digest string `json:"digest,omitempty"`
	// Janitor is a cron spec for pruning finished tasks.
	Janitor string `json:"janitor,omitempty"`
}

type LockConfig struct {
	Path string `json:"path,omitempty"`
}
