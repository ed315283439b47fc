package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reideval/reid-eval/internal/bus"
	"github.com/reideval/reid-eval/internal/evaluation"
	"github.com/reideval/reid-eval/internal/features"
)

func consumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Evaluate feature batches received on the event bus",
		Long: `Subscribe to features.batch and features.done on the configured bus,
aggregate the batches of one run and evaluate them once the producer marks
the run done. A new consumer group starts from the oldest retained offset,
so the producer may publish before or after the consumer starts; use --run
to pick one run out of the retained events.

With --replay the batches are read from a recorded event log instead and
delivered through an in-memory bus.

Examples:
  reid-eval consume --split split.yaml --run 5f2c...
  reid-eval consume --split split.yaml --replay events.jsonl
  reid-eval consume --split split.yaml --replay events.jsonl --since 2h`,
		RunE: runConsume,
	}

	cmd.Flags().String("run", "", "only accept batches with this correlation id")
	cmd.Flags().String("replay", "", "replay features from an event log file")
	cmd.Flags().Duration("since", 0, "with --replay, only replay events logged within this window (0 replays all)")
	cmd.Flags().Duration("timeout", 0, "give up after this long (0 waits forever)")
	addEvalFlags(cmd)

	return cmd
}

func runConsume(cmd *cobra.Command, _ []string) error {
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

	run, _ := cmd.Flags().GetString("run")
	replay, _ := cmd.Flags().GetString("replay")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	window, _ := cmd.Flags().GetDuration("since")

	ctx, cancel := signalContext()
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, timeout)
		defer tcancel()
	}

	var b bus.Bus
	if replay != "" {
		b = bus.NewMemoryBus().WithLogger(log)
	} else {
		b, err = bus.NewBus(cfg.Bus, log)
		if err != nil {
			return err
		}
	}
	defer b.Close()

	src, err := features.NewBusSource(ctx, b, run)
	if err != nil {
		return err
	}

	if replay != "" {
		var since time.Time
		if window > 0 {
			since = time.Now().Add(-window)
		}
		n, err := bus.ReplayFile(ctx, b, replay, since)
		if err != nil {
			return fmt.Errorf("replaying %s: %w", replay, err)
		}
		log.Info("Event log replayed", "path", replay, "events", n)
	} else {
		log.Info("Waiting for feature batches", "bus", cfg.Bus.Type, "run", run)
	}

	e := evaluation.NewEvaluator(ecfg, log)
	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		e.WithPublisher(b)
	}

	rep, err := e.EvaluateSource(ctx, src, split.Query, split.Gallery)
	if err != nil {
		return err
	}

	return printReport(cmd, cmd.OutOrStdout(), rep)
}
