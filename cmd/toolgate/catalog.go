package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rhuss/toolgate/pkg/config"
	"github.com/rhuss/toolgate/pkg/tools/manager"
)

func newCatalogCmd() *cobra.Command {
	var showProviders bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Connect the providers once and print the action catalog as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withManager(cmd.Context(), cfg, func(mgr *manager.Manager) error {
				if showProviders {
					return printJSON(cmd.OutOrStdout(), mgr.Providers())
				}
				return printJSON(cmd.OutOrStdout(), mgr.Catalog())
			})
		},
	}
	cmd.Flags().BoolVar(&showProviders, "providers", false, "Print provider status instead of actions")
	return cmd
}

// withManager starts a Manager, runs fn, and shuts the Manager down.
func withManager(ctx context.Context, cfg *config.Config, fn func(*manager.Manager) error) error {
	mgr, src, err := newManager(cfg)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx, src); err != nil {
		return fmt.Errorf("starting tool manager: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(closeCtx); err != nil {
			slog.Warn("tool manager shutdown", "error", err)
		}
	}()
	return fn(mgr)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
