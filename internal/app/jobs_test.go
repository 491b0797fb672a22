package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbot/internal/delivery"
	"taskbot/internal/routing"
	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/internal/transport/transporttest"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
)

func newRoutes(t *testing.T, sources ...int64) *routing.Graph {
	t.Helper()
	g, _ := routing.NewGraph(routing.Document{}, nil)
	for _, id := range sources {
		_, err := g.AddSource(id, "")
		require.NoError(t, err)
	}
	return g
}

func TestDigestJob(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "stats.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	out := transporttest.NewSender()
	d := delivery.New(out, delivery.Config{RetryMax: 0}, logx.Nop())
	now := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)

	job := digestJob(st, newRoutes(t, -100, -200), d, logx.Nop())
	require.NoError(t, job(context.Background(), now))
	for _, chat := range []int64{-100, -200} {
		p, ok := out.Last(chat)
		require.True(t, ok, "chat %d got no digest", chat)
		assert.Contains(t, p.Text, "01.05.2026")
	}

	out.FailChat(-100, true)
	out.FailChat(-200, true)
	assert.Error(t, job(context.Background(), now))
}

func TestDigestJobSkips(t *testing.T) {
	out := transporttest.NewSender()
	d := delivery.New(out, delivery.Config{}, logx.Nop())

	require.NoError(t, digestJob(nil, newRoutes(t, -100), d, logx.Nop())(context.Background(), time.Now()))
	assert.Empty(t, out.All())
}

type countSweeper struct{ calls int }

func (c *countSweeper) Sweep() int { c.calls++; return 0 }

func TestJanitorJob(t *testing.T) {
	reg := workflow.NewRegistry()
	w := workflow.Worker{ID: 42, Name: "@bob"}
	room := transport.ChatTarget{ChatID: -1}

	done := reg.Create(workflow.Simple, "finished", -100)
	_, err := reg.Claim(done.ID, w, room)
	require.NoError(t, err)
	_, err = reg.Attach(w.ID, workflow.Evidence{Kind: workflow.EvidenceAttachment, Attachment: transport.Attachment{Kind: transport.AttachmentPhoto, FileID: "f"}})
	require.NoError(t, err)
	_, err = reg.Verify(done.ID, workflow.Approve)
	require.NoError(t, err)
	open := reg.Create(workflow.Simple, "still open", -100)

	sw := &countSweeper{}
	retention := time.Hour
	job := janitorJob(reg, sw, func() time.Duration { return retention }, logx.Nop())

	require.NoError(t, job(context.Background(), time.Now()))
	_, ok := reg.Get(done.ID)
	assert.True(t, ok, "task pruned before retention elapsed")

	require.NoError(t, job(context.Background(), time.Now().Add(2*time.Hour)))
	_, ok = reg.Get(done.ID)
	assert.False(t, ok)
	_, ok = reg.Get(open.ID)
	assert.True(t, ok, "open tasks are never pruned")
	assert.Equal(t, 2, sw.calls)
}
