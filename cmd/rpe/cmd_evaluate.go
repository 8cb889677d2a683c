package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/storage"
)

// ErrFindings is returned with --fail-on-findings when a finding is open
var ErrFindings = errors.New("policy findings detected")

var (
	evaluateExtractor    string
	evaluateFindingsOnly bool
	evaluateFailOn       bool
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate [FILE]",
	Short: "Evaluate the resources of a payload against every policy",
	Long: `Extract the resources named by a payload, fetch their live state and
evaluate them against every configured engine. The report lists each
verdict plus the policies that were skipped or failed.

When storage.path is configured the verdicts are recorded in the finding store.`,
	Example: `  rpe evaluate entry.json                     # Evaluate an audit log entry
  rpe evaluate --findings-only entry.json     # Only non-compliant verdicts
  rpe evaluate --fail-on-findings entry.json  # Exit non-zero on findings
  rpe evaluate -c rpe.yaml -e asset rec.json  # Asset record, custom engines`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateExtractor, "extractor", "e", "auditlog", "Payload kind: auditlog, asset")
	evaluateCmd.Flags().BoolVar(&evaluateFindingsOnly, "findings-only", false, "Only report non-compliant verdicts")
	evaluateCmd.Flags().BoolVar(&evaluateFailOn, "fail-on-findings", false, "Exit with an error when findings are detected")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, batch, store, err := extractAndEvaluate(ctx, cmd, args, evaluateExtractor)
	if err != nil {
		return err
	}
	emit := a.emitters(store)
	defer func() { _ = emit.Close() }()

	if err := emit.Emit(ctx, batch); err != nil {
		return err
	}

	report := viewReport(batch, evaluateFindingsOnly)
	if err := writeYAML(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if evaluateFailOn && report.Findings > 0 {
		return fmt.Errorf("%w: %d", ErrFindings, report.Findings)
	}
	return nil
}

// extractAndEvaluate is the shared front half of evaluate and remediate
func extractAndEvaluate(ctx context.Context, cmd *cobra.Command, args []string, kind string) (*app, *policy.Batch, *storage.FindingStore, error) {
	payload, err := readPayload(args, cmd.InOrStdin())
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := a.loadEngines(ctx); err != nil {
		return nil, nil, nil, err
	}

	ex, err := a.extractor(kind)
	if err != nil {
		return nil, nil, nil, err
	}
	out, err := ex.Extract(ctx, payload)
	if err != nil {
		return nil, nil, nil, err
	}

	batch, err := a.evaluate(ctx, out.Resources)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := a.openStore()
	if err != nil {
		return nil, nil, nil, err
	}
	return a, batch, store, nil
}
