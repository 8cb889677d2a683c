package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rpe/policy"
)

var policiesEngine string

// policiesCmd represents the policies command
var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the policies of every configured engine",
	Example: `  rpe policies                    # All engines
  rpe policies --engine builtin   # One engine
  rpe policies -c rpe.yaml        # Engines from a config file`,
	Args: cobra.NoArgs,
	RunE: runPolicies,
}

func init() {
	rootCmd.AddCommand(policiesCmd)

	policiesCmd.Flags().StringVar(&policiesEngine, "engine", "", "Only list policies of this engine")
}

func runPolicies(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	if err := a.loadEngines(ctx); err != nil {
		return err
	}

	if policiesEngine != "" {
		if _, ok := policy.FindEngine(a.engines, policiesEngine); !ok {
			return fmt.Errorf("unknown engine %q", policiesEngine)
		}
	}
	return writeYAML(cmd.OutOrStdout(), viewPolicies(a.engines, policiesEngine))
}
