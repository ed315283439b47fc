// Package main provides the reid-eval command line tool.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reideval/reid-eval/internal/config"
	"github.com/reideval/reid-eval/internal/evaluation"
	"github.com/reideval/reid-eval/internal/pkg/logger"
	"github.com/reideval/reid-eval/internal/report"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reid-eval",
		Short: "Person re-identification retrieval evaluation",
		Long: `reid-eval scores person re-identification embeddings with CMC curves
under the new, cuhk03 and market1501 protocols, plus mean average precision.

Run 'reid-eval evaluate --features f.jsonl --split split.yaml' to score a model.
Run 'reid-eval --help' for available commands.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		evaluateCmd(),
		consumeCmd(),
		historyCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reid-eval %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// loadConfig loads the configuration named by --config and builds the
// logger. --verbose forces debug logging.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return cfg, logger.New(level, cfg.Log.Format), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// addEvalFlags registers the evaluation overrides shared by evaluate and consume.
func addEvalFlags(cmd *cobra.Command) {
	cmd.Flags().String("split", "", "query/gallery split file (YAML or JSON)")
	cmd.Flags().StringSlice("protocol", nil, "protocol to evaluate (new, cuhk03, market1501); repeatable, default all")
	cmd.Flags().Int("top-k", 0, "length of the CMC curves (overrides config)")
	cmd.Flags().Int("num-repeats", 0, "single-gallery-shot trials per query (overrides config)")
	cmd.Flags().Uint64("seed", 0, "sampling seed (overrides config)")
	cmd.Flags().Int("workers", 0, "parallel workers (overrides config)")
	cmd.Flags().Bool("no-map", false, "skip mean average precision")
	cmd.Flags().Bool("publish", false, "publish an eval.completed event on the configured bus")
	_ = cmd.MarkFlagRequired("split")
}

// evalConfig applies the command's flags to the configured defaults.
func evalConfig(cmd *cobra.Command, cfg *config.Config) (evaluation.Config, error) {
	ecfg := evaluation.ConfigFrom(cfg.Eval)
	flags := cmd.Flags()

	names, _ := flags.GetStringSlice("protocol")
	protocols, err := evaluation.ParseProtocols(names)
	if err != nil {
		return ecfg, err
	}
	ecfg.Protocols = protocols

	if flags.Changed("top-k") {
		ecfg.CMC.TopK, _ = flags.GetInt("top-k")
	}
	if flags.Changed("num-repeats") {
		ecfg.CMC.NumRepeats, _ = flags.GetInt("num-repeats")
	}
	if flags.Changed("seed") {
		ecfg.CMC.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("workers") {
		ecfg.CMC.Workers, _ = flags.GetInt("workers")
	}
	if noMAP, _ := flags.GetBool("no-map"); noMAP {
		ecfg.MeanAP = false
	}
	return ecfg, nil
}

// printReport renders r in the --format selected on cmd.
func printReport(cmd *cobra.Command, w io.Writer, r *evaluation.Report) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "json":
		return report.JSON(w, r)
	case "text", "":
		return report.TextReport(w, r)
	default:
		return fmt.Errorf("unknown format %q (must be text or json)", format)
	}
}
