package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/rpe/policy"
)

var (
	remediateExtractor string
	remediateApply     bool
)

// remediateCmd represents the remediate command
var remediateCmd = &cobra.Command{
	Use:   "remediate [FILE]",
	Short: "Evaluate a payload and remediate the findings",
	Long: `Evaluate the resources of a payload and run the remediation of every
remediable finding. Without --apply nothing is changed and the planned
remediations are reported as dry runs.

Attempts are recorded in the finding store when storage.path is configured.`,
	Example: `  rpe remediate entry.json           # Show what would be remediated
  rpe remediate --apply entry.json   # Patch the non-compliant resources`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRemediate,
}

func init() {
	rootCmd.AddCommand(remediateCmd)

	remediateCmd.Flags().StringVarP(&remediateExtractor, "extractor", "e", "auditlog", "Payload kind: auditlog, asset")
	remediateCmd.Flags().BoolVar(&remediateApply, "apply", false, "Apply remediations instead of a dry run")
}

func runRemediate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, batch, store, err := extractAndEvaluate(ctx, cmd, args, remediateExtractor)
	if err != nil {
		return err
	}
	emit := a.emitters(store)
	defer func() { _ = emit.Close() }()

	if err := emit.Emit(ctx, batch); err != nil {
		return err
	}

	rems := policy.NewEnforcer(!remediateApply).Enforce(ctx, batch.Evaluations())
	if store != nil {
		for _, rem := range rems {
			if err := store.RecordRemediation(ctx, rem); err != nil {
				return err
			}
		}
	}

	if err := writeYAML(cmd.OutOrStdout(), viewRemediations(rems)); err != nil {
		return err
	}
	return policy.RemediationErrors(rems)
}
