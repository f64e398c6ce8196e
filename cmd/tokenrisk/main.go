// Command tokenrisk runs the token risk analysis service.
//
//	tokenrisk serve     HTTP API, in-process workers, watchdog and scheduled jobs
//	tokenrisk worker    workers and watchdog only, consuming the redis queue
//	tokenrisk analyze   one-shot analysis of a single token, printed as JSON
//	tokenrisk migrate   apply embedded postgres and clickhouse migrations
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "v0.4.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tokenrisk",
		Short:         "Token risk analysis service",
		Long:          "Analyzes token contracts for scam indicators by combining rule-based checks, a risk model and smart-money signals.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default $TOKENRISK_CONFIG)")

	root.AddCommand(
		newServeCmd(&configPath),
		newWorkerCmd(&configPath),
		newAnalyzeCmd(&configPath),
		newMigrateCmd(&configPath),
	)
	return root
}
