package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  group_log: "-100500:7"
  poll_timeout: 10s
logging:
  level: info
  console: true
routing:
  path: ./routing.yaml
workflow:
  prompt_ttl: 10m
  done_retention: 24h
delivery:
  workers: 4
  rate_per_sec: 10
  retry_max: 2
  send_timeout: 5s
storage:
  driver: sqlite
  path: ./data/taskbot.db
  busy_timeout: 2s
health:
  enabled: true
  addr: ":8080"
schedule:
  timezone: UTC
  digest: "0 21 * * *"
  janitor: "@every 10m"
lock:
  path: ./taskbot.pid
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, 4, cfg.Delivery.Workers)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "@every 10m", cfg.Schedule.Janitor)
	assert.Same(t, cfg, m.Get())
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"plugins":{}}`))
	assert.Error(t, err)

	_, err = Decode("c.json", []byte(`{"telegram":{"token":"x"}} {}`))
	assert.Error(t, err)

	_, err = Decode("c.yml", []byte("telegram:\n  tokn: x\n"))
	assert.Error(t, err)

	_, err = Decode("c.yaml", []byte("- telegram\n- logging\n"))
	assert.ErrorIs(t, err, errNotMapping)

	cfg, err := Decode("c.yaml", []byte("# nothing yet\n"))
	require.NoError(t, err)
	assert.Error(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Decode("c.yaml", []byte(sampleYAML))
		require.NoError(t, err)
		return cfg
	}
	require.NoError(t, Validate(base()))

	cases := map[string]func(c *Config){
		"token":         func(c *Config) { c.Telegram.Token = " " },
		"group log":     func(c *Config) { c.Telegram.GroupLog = "chat" },
		"routing path":  func(c *Config) { c.Routing.Path = "" },
		"prompt ttl":    func(c *Config) { c.Workflow.PromptTTL = "ten minutes" },
		"workers":       func(c *Config) { c.Delivery.Workers = -1 },
		"storage path":  func(c *Config) { c.Storage.Path = "" },
		"driver":        func(c *Config) { c.Storage.Driver = "mongo" },
		"timezone":      func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
		"digest spec":   func(c *Config) { c.Schedule.Digest = "every day" },
		"negative send": func(c *Config) { c.Delivery.SendTimeout = "-1s" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, Validate(c))
		})
	}
}

func TestParseGroupLog(t *testing.T) {
	chat, thread, err := ParseGroupLog("-100123:45")
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), chat)
	assert.Equal(t, 45, thread)

	chat, thread, err = ParseGroupLog(" -100123 ")
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), chat)
	assert.Zero(t, thread)

	_, _, err = ParseGroupLog("-1:x")
	assert.Error(t, err)
}

func TestSummarizeChangeHidesToken(t *testing.T) {
	a, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("c.yaml", []byte(strings.Replace(sampleYAML, `"123:abc"`, `"999:zzz"`, 1)))
	require.NoError(t, err)
	b.Delivery.Workers = 9
	b.Storage.Path = "./other.db"

	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"delivery", "storage", "telegram"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"storage"}, RestartOnly(changed))

	changed, _ = SummarizeChange(a, a)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "workers: 4", "workers: 6", 1)), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, 6, cfg.Delivery.Workers)
		assert.Equal(t, 6, m.Get().Delivery.Workers)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
	d, err = ParseDurationOrDefault("x", "90s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
	_, err = ParseDurationOrDefault("x", "bogus", time.Minute)
	assert.Error(t, err)
}
