// Package cmd defines the command line interface of the webaudit executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/config"
	"github.com/JakeFAU/webaudit/internal/logging"
)

var cfgFile string

type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs: loaded configuration and a logger.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newEnv loads configuration and builds the logger. It is a variable so tests
// can inject a fixed environment.
var newEnv = func(path string) (*env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webaudit",
		Short: "Single-page web audits over HTTP or from the command line.",
		Long: `webaudit fetches a web page once, runs a catalog of on-page rules against it
and enriches the result with screenshots, the favicon and PageSpeed scores.

Run "webaudit serve" for the HTTP API or "webaudit audit <url>" for a one-off report.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, e))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/webaudit, $HOME/.webaudit)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newRulesCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
