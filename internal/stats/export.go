package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"taskbot/internal/storage"
	"taskbot/internal/transport"
)

// ExportName is the file name used for a CSV export taken at now.
func ExportName(now time.Time) string {
	return "statistics_" + now.Format("20060102_150405") + ".csv"
}

// utf8BOM lets spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

// WriteCSV writes a summary section followed by one row per worker and the
// last 30 days of daily totals.
func WriteCSV(ctx context.Context, st storage.Store, w io.Writer, now time.Time) error {
	if st == nil {
		return storage.ErrDisabled
	}
	ws, err := st.AllWorkerStats(ctx)
	if err != nil {
		return err
	}
	days, err := st.Daily(ctx, now.AddDate(0, 0, -29).Format(storage.DayLayout), now.Format(storage.DayLayout))
	if err != nil {
		return err
	}
	t := Summarize(ws)

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"Statistics"},
		{"Generated", now.Format("02.01.2006 15:04:05")},
		{},
		{"Workers", strconv.Itoa(t.Workers)},
		{"SMS taken", strconv.Itoa(t.Simple.Taken)},
		{"SMS completed", strconv.Itoa(t.Simple.Completed)},
		{"SMS failed", strconv.Itoa(t.Simple.Failed)},
		{"SMS success", percent(t.Simple.SuccessRate())},
		{"Tests taken", strconv.Itoa(t.Verified.Taken)},
		{"Tests completed", strconv.Itoa(t.Verified.Completed)},
		{"Tests failed", strconv.Itoa(t.Verified.Failed)},
		{"Tests success", percent(t.Verified.SuccessRate())},
		{},
		{"worker_id", "name", "sms_taken", "sms_completed", "sms_failed",
			"tests_taken", "tests_completed", "tests_failed", "last_activity"},
	}
	for _, wk := range ws {
		last := ""
		if !wk.LastActivity.IsZero() {
			last = wk.LastActivity.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			strconv.FormatInt(wk.WorkerID, 10),
			transport.DisplayName(wk.Username, wk.FirstName, wk.WorkerID),
			strconv.Itoa(wk.SimpleTaken), strconv.Itoa(wk.SimpleCompleted), strconv.Itoa(wk.SimpleFailed),
			strconv.Itoa(wk.VerifiedTaken), strconv.Itoa(wk.VerifiedCompleted), strconv.Itoa(wk.VerifiedFailed),
			last,
		})
	}
	rows = append(rows, []string{}, []string{"day", "sms", "tests", "completed", "failed"})
	for _, d := range days {
		rows = append(rows, []string{d.Day,
			strconv.Itoa(d.Simple), strconv.Itoa(d.Verified), strconv.Itoa(d.Completed), strconv.Itoa(d.Failed)})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func percent(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "%" }
