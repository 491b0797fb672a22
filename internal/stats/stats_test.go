package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"taskbot/internal/storage"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "stats.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecorderDrainsOnStop(t *testing.T) {
	st := newStore(t)
	rec := NewRecorder(st, 16, logx.Nop())
	rec.Start(context.Background())

	ann := workflow.Worker{ID: 7, Name: "@ann", Username: "ann"}
	rec.Record(ann, workflow.Simple, workflow.ActionTake)
	rec.Record(ann, workflow.Simple, workflow.ActionComplete)
	rec.Record(ann, workflow.Verified, workflow.ActionTake)
	rec.AppendHistory(workflow.HistoryEntry{TaskID: 3, Variant: workflow.Verified, Text: "check", Result: workflow.ResultCreated})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec.Stop(ctx)

	w, ok, err := st.WorkerStats(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ann", w.Username)
	assert.Equal(t, 1, w.SimpleTaken)
	assert.Equal(t, 1, w.SimpleCompleted)
	assert.Equal(t, 1, w.VerifiedTaken)

	h, err := st.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, "verified", h[0].Variant)
	assert.Zero(t, rec.Dropped())
	assert.Zero(t, rec.Failed())

	// Records after Stop are dropped, not written.
	rec.Record(ann, workflow.Simple, workflow.ActionFail)
	assert.Equal(t, uint64(1), rec.Dropped())
}

func TestRecorderWithoutStoreIsNoop(t *testing.T) {
	rec := NewRecorder(nil, 0, logx.Logger{})
	rec.Start(context.Background())
	rec.Record(workflow.Worker{ID: 1}, workflow.Simple, workflow.ActionTake)
	rec.Stop(context.Background())
	assert.Zero(t, rec.Dropped())
}

func seed(t *testing.T, st storage.Store, at time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, r := range []storage.ActionRecord{
		{WorkerID: 1, Username: "ann", Variant: storage.VariantSimple, Action: storage.ActionTake, At: at},
		{WorkerID: 1, Variant: storage.VariantSimple, Action: storage.ActionComplete, At: at},
		{WorkerID: 2, FirstName: "Bob", Variant: storage.VariantSimple, Action: storage.ActionTake, At: at},
		{WorkerID: 2, Variant: storage.VariantSimple, Action: storage.ActionFail, At: at},
		{WorkerID: 2, Variant: storage.VariantVerified, Action: storage.ActionTake, At: at},
	} {
		require.NoError(t, st.RecordAction(ctx, r))
	}
}

func TestSummarize(t *testing.T) {
	tot := Summarize([]storage.WorkerStats{
		{SimpleTaken: 3, SimpleCompleted: 2, VerifiedTaken: 1},
		{SimpleTaken: 1, SimpleFailed: 1, VerifiedTaken: 1, VerifiedCompleted: 1},
	})
	assert.Equal(t, 2, tot.Workers)
	assert.Equal(t, VariantTotals{Taken: 4, Completed: 2, Failed: 1}, tot.Simple)
	assert.InDelta(t, 50.0, tot.Simple.SuccessRate(), 0.001)
	assert.InDelta(t, 50.0, tot.Verified.SuccessRate(), 0.001)
	assert.Zero(t, VariantTotals{}.SuccessRate())
}

func TestReports(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	st := newStore(t)
	seed(t, st, now.Add(-2*time.Hour))
	ctx := context.Background()

	over, err := Overview(ctx, st, now)
	require.NoError(t, err)
	s := over.String()
	assert.Contains(t, s, "Workers: 2")
	assert.Contains(t, s, "Success: 50.0%")
	assert.Contains(t, s, "Today: 2 sms, 1 tests, 1 done, 1 failed")
	assert.Contains(t, s, "1. @ann: 1 done, 0 failed (2 hours ago)")
	assert.Contains(t, s, "2. Bob")

	mine, err := Personal(ctx, st, 2, now)
	require.NoError(t, err)
	assert.Contains(t, mine.String(), "Bob")
	assert.Contains(t, mine.String(), "Failed: 1")

	none, err := Personal(ctx, st, 99, now)
	require.NoError(t, err)
	assert.Contains(t, none.String(), "No activity")

	dig, err := Digest(ctx, st, now)
	require.NoError(t, err)
	assert.Contains(t, dig.String(), "01.05.2026")
	assert.Contains(t, dig.String(), "SMS taken: 2")

	_, err = Overview(ctx, nil, now)
	assert.ErrorIs(t, err, storage.ErrDisabled)
}

func TestWriteCSV(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	st := newStore(t)
	seed(t, st, now)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(context.Background(), st, &buf, now))
	require.True(t, strings.HasPrefix(buf.String(), utf8BOM))

	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), utf8BOM)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	find := func(first string) []string {
		for _, row := range rows {
			if len(row) > 0 && row[0] == first {
				return row
			}
		}
		return nil
	}
	assert.Equal(t, []string{"Workers", "2"}, find("Workers"))
	assert.Equal(t, []string{"SMS success", "50.0%"}, find("SMS success"))
	assert.Equal(t, "@ann", find("1")[1])
	assert.Equal(t, []string{"2026-05-01", "2", "1", "1", "1"}, find("2026-05-01"))
	assert.Equal(t, "statistics_20260501_180000.csv", ExportName(now))
}
