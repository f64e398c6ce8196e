package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/orchestrator"
)

func newAnalyzeCmd(configPath *string) *cobra.Command {
	var chainID int64

	cmd := &cobra.Command{
		Use:   "analyze <token-address>",
		Short: "Analyze one token and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log, appOptions{withQueue: false})
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.orchestrator.Submit(ctx, args[0], chainID)
			if err != nil {
				return err
			}

			runErr := a.orchestrator.Run(ctx, task.ID)

			final, err := a.orchestrator.Result(ctx, task.ID)
			if errors.Is(err, orchestrator.ErrNotReady) {
				status, serr := a.orchestrator.Status(ctx, task.ID)
				if serr == nil && status.Status == domain.TaskFailed {
					return fmt.Errorf("analysis failed at %s: %s", status.FailedStep, status.Error)
				}
				if runErr != nil {
					return runErr
				}
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(final)
		},
	}

	cmd.Flags().Int64Var(&chainID, "chain", domain.ChainEthereum, "chain id (1, 10, 56, 137, 501, 8453, 42161)")
	return cmd
}
