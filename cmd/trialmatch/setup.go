package main

import (
	"fmt"
	"strings"

	"github.com/clinical-trial-matcher/internal/setup"
	"github.com/spf13/cobra"
)

func newSetupCmd() *cobra.Command {
	var (
		configPath string
		binaryPath string
		env        []string
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
		Long: `Setup adds a clinical-trial-matcher entry to the client's mcpServers
configuration, pointing at the trialmatch-mcp binary. Other entries are kept.`,
		Example: "  trialmatch setup --env TRIALMATCH_DATABASE_DRIVER=sqlite",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vars := make(map[string]string, len(env))
			for _, kv := range env {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", kv)
				}
				vars[k] = v
			}
			written, err := setup.Register(setup.Options{ConfigPath: configPath, BinaryPath: binaryPath, Env: vars})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s in %s\n", setup.ServerName, written)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "client-config", "", "client config file (default: platform location)")
	cmd.Flags().StringVar(&binaryPath, "binary", "", "path to trialmatch-mcp (default: looked up on PATH)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE passed to the server (repeatable)")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show how the MCP server is registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				var err error
				if path, err = setup.DefaultConfigPath(); err != nil {
					return err
				}
			}
			status, err := setup.Check(path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	})
	return cmd
}
