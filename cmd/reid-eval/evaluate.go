package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/reideval/reid-eval/internal/bus"
	"github.com/reideval/reid-eval/internal/evaluation"
	"github.com/reideval/reid-eval/internal/features"
	"github.com/reideval/reid-eval/internal/metrics"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate embeddings from a JSONL feature file",
		Long: `Read feature batches from a JSONL file (one {"ids": [...], "embeddings": [[...]]}
object per line, "-" for stdin), build the query/gallery distance matrix and
print CMC scores for every protocol.

Examples:
  reid-eval evaluate --features val.jsonl --split split.yaml
  reid-eval evaluate --features - --split split.yaml --protocol market1501 --format json`,
		RunE: runEvaluate,
	}

	cmd.Flags().String("features", "", `feature batches file (JSONL, "-" for stdin)`)
	_ = cmd.MarkFlagRequired("features")
	addEvalFlags(cmd)

	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ecfg, err := evalConfig(cmd, cfg)
	if err != nil {
		return err
	}

	splitPath, _ := cmd.Flags().GetString("split")
	split, err := evaluation.LoadSplit(splitPath)
	if err != nil {
		return err
	}

	featuresPath, _ := cmd.Flags().GetString("features")
	var r io.Reader = cmd.InOrStdin()
	if featuresPath != "-" {
		f, err := os.Open(featuresPath)
		if err != nil {
			return fmt.Errorf("opening features: %w", err)
		}
		defer f.Close()
		r = f
	}

	ctx, cancel := signalContext()
	defer cancel()

	e := evaluation.NewEvaluator(ecfg, log)

	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		b, err := bus.NewBus(cfg.Bus, log)
		if err != nil {
			return err
		}
		defer b.Close()
		e.WithPublisher(b)
	}

	if cfg.History.Type == "redis" {
		history, err := metrics.NewHistory(cfg.History.Type, cfg.History.RedisURL, historyTTL(cfg.History.TTLHours))
		if err != nil {
			log.Warn("Run history unavailable", "error", err)
		} else {
			defer history.Close()
			e.WithHistory(history)
		}
	}

	rep, err := e.EvaluateSource(ctx, features.NewJSONLSource(r), split.Query, split.Gallery)
	if err != nil {
		return err
	}

	return printReport(cmd, cmd.OutOrStdout(), rep)
}
