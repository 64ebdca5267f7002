// Package main is the trialmatch command line client. It runs matches and registry
// lookups in-process and manages database migrations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trialmatch",
		Short:         "Match patients to recruiting clinical trials",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default: ./config.yaml or /etc/trialmatch/config.yaml)")

	root.AddCommand(newMatchCmd(), newSearchCmd(), newTrialCmd(), newMigrateCmd(), newSetupCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration, honoring --config
func loadConfig(cmd *cobra.Command) (*config.Manager, error) {
	var opts []config.Option
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	m, err := config.NewManager(opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return m, nil
}

// withApp builds the application with logs on stderr, runs fn and closes it
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	m, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := m.GetConfig()
	cfg.Logging.Output = "stderr"

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(cmd.Context()))
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
