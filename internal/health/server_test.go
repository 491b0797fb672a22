package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbot/internal/runtime/supervisor"
	"taskbot/pkg/logx"
)

func waitForHTTP(ctx context.Context, url string) (*http.Response, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestRootAndHealthz(t *testing.T) {
	lastEvent := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	s := New(logx.Nop(), func() Report {
		return Report{
			Tasks:       map[string]int{"open": 2},
			Supervisors: map[string]supervisor.Counters{"app": {Active: 3, Started: 4}},
			Counters:    map[string]uint64{"stats_dropped": 1},
			Events:      map[string]uint64{"task.claimed": 4},
			LastEvent:   &lastEvent,
		}
	})
	ts := httptest.NewServer(s.Handler(false))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "Bot is alive!", string(b))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var got struct {
		Status      string                         `json:"status"`
		Tasks       map[string]int                 `json:"tasks"`
		Supervisors map[string]supervisor.Counters `json:"supervisors"`
		Counters    map[string]uint64              `json:"counters"`
		Events      map[string]uint64              `json:"events"`
		LastEvent   time.Time                      `json:"last_event"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "ok", got.Status)
	require.Equal(t, 2, got.Tasks["open"])
	require.Equal(t, int64(3), got.Supervisors["app"].Active)
	require.Equal(t, uint64(1), got.Counters["stats_dropped"])
	require.Equal(t, uint64(4), got.Events["task.claimed"])
	require.True(t, lastEvent.Equal(got.LastEvent))

	resp, err = http.Get(ts.URL + "/debug/pprof/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplyEnableDisable(t *testing.T) {
	s := New(logx.Nop(), nil)
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := waitForHTTP(ctx, "http://"+addr+"/debug/pprof/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Same config keeps the listener.
	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	require.Equal(t, addr, s.Addr())

	s.Apply(ctx, Config{Enabled: false})
	require.Empty(t, s.Addr())
}
