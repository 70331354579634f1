// Command toolgate runs the tool integration layer: it loads a provider
// catalog, connects stdio MCP and HTTP providers, and serves the action
// catalog and invocation API over HTTP.
//
// Subcommands:
//
//	serve     run the HTTP server with scheduled and SIGHUP reloads
//	catalog   connect the providers once and print the action catalog
//	invoke    run a single action and print its result
//	validate  parse a provider catalog without starting anything
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolgate",
		Short: "Tool integration and invocation layer for agent loops",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to config.yaml (default: $TOOLGATE_CONFIG, ./config.yaml, /etc/toolgate/config.yaml)")
	root.PersistentFlags().String("catalog", "", "Path to the provider catalog (overrides tools.config_file)")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("toolgate version %s\n", version))

	root.AddCommand(newServeCmd())
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newInvokeCmd())
	root.AddCommand(newValidateCmd())
	return root
}
