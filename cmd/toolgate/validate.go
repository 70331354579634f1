package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rhuss/toolgate/pkg/tools/catalog"
	"github.com/rhuss/toolgate/pkg/tools/httptool"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and provider catalog without connecting anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := httptool.NewAllowList(cfg.Tools.AllowedDomains); err != nil {
				return fmt.Errorf("tools.allowed_domains: %w", err)
			}
			if !cfg.Tools.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "tool integration disabled; catalog not checked")
				return nil
			}

			res, err := (&catalog.Loader{}).LoadFile(cfg.Tools.ConfigFile)
			if err != nil {
				return err
			}
			return reportLoad(cmd, cfg.Tools.ConfigFile, res)
		},
	}
}

func reportLoad(cmd *cobra.Command, path string, res *catalog.LoadResult) error {
	out := cmd.OutOrStdout()
	for _, p := range res.Providers {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "ok       %-24s %-8s %s\n", p.Name, p.Kind, state)
	}
	for _, ce := range res.Skipped {
		fmt.Fprintf(out, "skipped  %v\n", ce)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning  %s\n", w)
	}
	if len(res.Skipped) > 0 {
		return fmt.Errorf("%s: %d of %d entries rejected", path, len(res.Skipped), len(res.Skipped)+len(res.Providers))
	}
	return nil
}
