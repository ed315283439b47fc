package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/evilsocket/islazy/tui"
	"github.com/spf13/cobra"

	"github.com/reideval/reid-eval/internal/metrics"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored evaluation runs",
		Long: `List the most recent evaluation runs kept in the configured history
backend (REID_HISTORY_TYPE=redis). The in-memory backend lives only as long
as one process, so it is always empty here.`,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", 20, "maximum number of runs to list")

	return cmd
}

func historyTTL(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return fmt.Errorf("--limit must be positive")
	}

	history, err := metrics.NewHistory(cfg.History.Type, cfg.History.RedisURL, historyTTL(cfg.History.TTLHours))
	if err != nil {
		return err
	}
	if history == nil {
		return fmt.Errorf("run history is disabled (history type %q)", cfg.History.Type)
	}
	defer history.Close()

	runs, err := history.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	tui.Table(out, historyColumns, historyRows(runs, time.Now()))
	return nil
}

var historyColumns = []string{"id", "when", "queries", "gallery", "top-1", "mAP", "took"}

// historyRows formats runs for the history table, relative to now.
func historyRows(runs []metrics.RunRecord, now time.Time) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		meanAP := "-"
		if r.MeanAP > 0 {
			meanAP = fmt.Sprintf("%.1f%%", r.MeanAP*100)
		}
		rows = append(rows, []string{
			r.ID,
			humanize.RelTime(r.Timestamp, now, "ago", "from now"),
			humanize.Comma(int64(r.Queries)),
			humanize.Comma(int64(r.Gallery)),
			fmt.Sprintf("%.1f%%", r.Score*100),
			meanAP,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
		})
	}
	return rows
}
