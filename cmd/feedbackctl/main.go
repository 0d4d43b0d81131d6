// Command feedbackctl is the operator CLI: token issuing, migrations and
// manual sentiment sweeps.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/config"
	"github.com/spec-kit/feedback-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Keep stdout for command output.
	cfg.Logger.Level = "warn"
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := newRootCmd(cfg, logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "feedbackctl",
		Short:        "Operate the hospital feedback service",
		SilenceUsage: true,
	}
	root.AddCommand(tokenCmd(cfg))
	root.AddCommand(migrateCmd(cfg, logger))
	root.AddCommand(sweepCmd(cfg, logger))
	root.AddCommand(classifyCmd(cfg, logger))
	return root
}
