package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rhuss/toolgate/pkg/tools/manager"
)

func newInvokeCmd() *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "invoke <action>",
		Short: "Invoke one action and print its result as JSON",
		Example: `  toolgate invoke echo --args '{"text":"hello"}'
  toolgate --catalog providers.yaml invoke get_weather --args '{"city":"Berlin"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseArgs(rawArgs)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withManager(cmd.Context(), cfg, func(mgr *manager.Manager) error {
				res, err := mgr.Invoke(cmd.Context(), args[0], params)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.IsError {
					return fmt.Errorf("action %q reported a tool error", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "Action arguments as a JSON object")
	return cmd
}

func parseArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
