/*
PURPOSE:
  Defines the 'list-models' and 'locate' subcommands.
  Helps debug connectivity and model discovery.

REQUIREMENTS:
  Implementation-discovered:
  - Useful validation step before a diagnosis or a full sweep.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine Locator and Catalog

IMPLEMENTATION RULES:
  - Tables to stdout, logs to stderr.

USAGE:
  stream-probe list-models
  stream-probe locate
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daryltucker/stream-probe/internal/engine"
	"github.com/daryltucker/stream-probe/internal/output"
)

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List the models the located server offers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		e := engine.New(cfg)
		defer e.Close()

		status, err := e.Locator().Locate(cmd.Context())
		if err != nil {
			return err
		}
		models, err := e.Catalog(status.BaseURL).ListModels(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Server: %s\n\n", status.BaseURL)
		output.PrintModels(out, models)
		return nil
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Find the running inference server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		e := engine.New(cfg)
		defer e.Close()

		status, err := e.Locator().Locate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (via %s)\n", status.BaseURL, status.Source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listModelsCmd)
	rootCmd.AddCommand(locateCmd)
}
