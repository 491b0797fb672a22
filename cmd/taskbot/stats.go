package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"taskbot/internal/app"
	"taskbot/internal/config"
	"taskbot/internal/stats"
	"taskbot/internal/storage"
	"taskbot/pkg/logx"
)

var exportOut string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Statistics maintenance",
}

var statsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the statistics CSV that /stats_file sends",
	Args:  cobra.NoArgs,
	RunE:  runStatsExport,
}

func init() {
	statsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default statistics_<timestamp>.csv)")
	statsCmd.AddCommand(statsExportCmd)
}

func runStatsExport(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	if st == nil {
		return storage.ErrDisabled
	}
	defer st.Close()

	now := time.Now()
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	var buf bytes.Buffer
	if err := stats.WriteCSV(ctx, st, &buf, now); err != nil {
		return err
	}
	out := exportOut
	if out == "" {
		out = stats.ExportName(now)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, humanize.Bytes(uint64(buf.Len())))
	return nil
}
