package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/unalkalkan/pdftools-offline/internal/cachestore"
	"github.com/unalkalkan/pdftools-offline/internal/controller"
	"github.com/unalkalkan/pdftools-offline/internal/storage"
)

func newCachesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caches",
		Short: "Inspect and maintain cache generations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cache generations in the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachesList(cmd, *configPath)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete every generation except the configured shell and API caches",
		Long: `Delete every cache generation whose name is neither the configured shell
cache nor the configured API cache. This is the same sweep a controller runs
when it activates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachesSweep(cmd, *configPath)
		},
	})

	return cmd
}

func runCachesList(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	adapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage adapter: %w", err)
	}
	defer adapter.Close()

	infos, err := cachestore.New(adapter).Generations(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No cache generations")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tROLE")
	for _, info := range infos {
		created := "-"
		if !info.CreatedAt.IsZero() {
			created = info.CreatedAt.UTC().Format(time.RFC3339)
		}
		role := "stale"
		switch info.Name {
		case cfg.Controller.ShellCache:
			role = "shell"
		case cfg.Controller.APICache:
			role = "api"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, created, role)
	}
	return w.Flush()
}

func runCachesSweep(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	adapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage adapter: %w", err)
	}
	defer adapter.Close()

	deleted, err := controller.Sweep(cmd.Context(), cachestore.New(adapter), nil,
		cfg.Controller.ShellCache, cfg.Controller.APICache)
	for _, name := range deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
	}
	if err != nil {
		return fmt.Errorf("sweep incomplete: %w", err)
	}
	if len(deleted) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sweep")
	}
	return nil
}
