package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/unalkalkan/pdftools-offline/internal/config"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

const defaultConfigPath = "config/dev.example.yaml"

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the server.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "pdftools-offline",
		Short: "Offline cache controller for the PDFTools app",
		Long: `pdftools-offline sits in front of the PDFTools web app and keeps it usable
offline. It caches the app shell at install time, serves page navigations
network-first and other assets cache-first, and falls back to the cache or a
synthesized offline response when the app origin is unreachable.

Configuration is read from a YAML file; every key can be overridden with a
PDFTOOLS_ environment variable, e.g. PDFTOOLS_CONTROLLER_SHELL_CACHE=pdftools-v3.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newCachesCmd(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pdftools-offline %s\n", version)
		},
	})

	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the controller server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

// loadConfig loads the configuration and applies its logging section
func loadConfig(configPath string) (*types.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.FromTypes(cfg.Logging))
	return cfg, nil
}
