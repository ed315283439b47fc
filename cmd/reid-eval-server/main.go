// Package main provides the reid-eval HTTP server binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reideval/reid-eval/internal/config"
	"github.com/reideval/reid-eval/internal/pkg/logger"
	"github.com/reideval/reid-eval/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reid-eval-server",
		Short: "reid-eval server - CMC evaluation over HTTP",
		Long: `reid-eval-server evaluates person re-identification embeddings over HTTP.

The server exposes:
  - POST /v1/evaluation/cmc        feature batches + split -> CMC report
  - POST /v1/evaluation/distances  precomputed distance matrix -> CMC report
  - GET  /v1/evaluation/history    stored runs, newest first
  - GET  /healthz, GET /metrics

Examples:
  reid-eval-server                      # Start with defaults
  reid-eval-server --port 9090          # Custom HTTP port
  reid-eval-server --rate-limit 5       # 5 requests/second per client`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("rate-limit", 0, "requests per second per client (0 disables)")
	rootCmd.Flags().String("bus", "", "event bus type (memory, kafka)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reid-eval-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if cmd.Flags().Changed("port") {
		appCfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		appCfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("rate-limit") {
		appCfg.Server.RateLimit, _ = cmd.Flags().GetInt("rate-limit")
	}
	if cmd.Flags().Changed("bus") {
		appCfg.Bus.Type, _ = cmd.Flags().GetString("bus")
	}
	if err := appCfg.Validate(); err != nil {
		return err
	}

	logLevel := appCfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, appCfg.Log.Format)

	log.Info("Starting reid-eval server",
		"version", version,
		"addr", appCfg.Address(),
		"bus", appCfg.Bus.Type,
		"history", appCfg.History.Type,
	)
	if appCfg.Server.RateLimit > 0 {
		log.Info("Rate limiting enabled", "requests_per_second", appCfg.Server.RateLimit)
	}

	srv, err := server.New(server.ConfigFrom(appCfg.Server, version), *appCfg, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server error", "error", err)
			_ = srv.Stop(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
