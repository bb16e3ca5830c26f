// Package main implements agentd, the autonomous operations agent daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsagent/signalops/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataDir     string
		redisAddr   string
		postgresDSN string
		development bool
		grace       time.Duration
	)

	rootCmd := &cobra.Command{
		Use:     "agentd",
		Short:   "Autonomous operations agent",
		Long:    "agentd ingests signals, classifies and decides on them with an LLM, and executes or escalates the resulting actions.",
		Version: "dev",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), app.Options{
				DataDir:     dataDir,
				RedisAddr:   redisAddr,
				PostgresDSN: postgresDSN,
				Development: development,
			}, grace)
		},
	}

	rootCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for snapshot and audit state")
	rootCmd.Flags().StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "Redis address for the response cache")
	rootCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "Postgres DSN for audit/review persistence (empty disables it)")
	rootCmd.Flags().BoolVar(&development, "dev", false, "Use development logging (console encoder, debug level)")
	rootCmd.Flags().DurationVar(&grace, "shutdown-grace", 30*time.Second, "Grace period for in-flight work to drain on shutdown")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func runAgent(ctx context.Context, opts app.Options, grace time.Duration) error {
	a, err := app.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return a.Shutdown(shutdownCtx, grace)
}
