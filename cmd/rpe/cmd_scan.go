package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/scanner"
)

var (
	scanParent       string
	scanAssetTypes   []string
	scanFindingsOnly bool
	scanListOnly     bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Evaluate every resource in an organization, folder or project",
	Long: `List the asset inventory under a parent, keep the resources the scan
filters admit, and evaluate them against every configured engine.

Asset types default to every type rpe can model. Labels are read from the
live resource, so label filters fetch data for each candidate.`,
	Example: `  rpe scan --parent projects/my-project
  rpe scan --parent organizations/123 --asset-type storage.googleapis.com/Bucket
  rpe scan --parent folders/456 --list   # Only list the resources`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanParent, "parent", "p", "", "Scan parent (overrides scan.parent)")
	scanCmd.Flags().StringSliceVarP(&scanAssetTypes, "asset-type", "t", nil, "Asset types to scan (overrides scan.asset_types)")
	scanCmd.Flags().BoolVar(&scanFindingsOnly, "findings-only", false, "Only report non-compliant verdicts")
	scanCmd.Flags().BoolVar(&scanListOnly, "list", false, "List resources without evaluating them")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	scanCfg := cfg.Scan
	if scanParent != "" {
		scanCfg.Parent = scanParent
	}
	if len(scanAssetTypes) > 0 {
		scanCfg.AssetTypes = scanAssetTypes
	}
	if scanCfg.Parent == "" {
		return errors.New("scan parent is required (--parent or scan.parent)")
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}

	lister, err := scanner.NewInventoryLister(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = lister.Close() }()

	result, err := scanner.New(lister, a.registry, scanCfg).Scan(ctx)
	if err != nil {
		return err
	}

	if scanListOnly {
		views := make([]resourceView, 0, len(result.Resources))
		for _, r := range result.Resources {
			views = append(views, viewResource(r))
		}
		return writeYAML(cmd.OutOrStdout(), views)
	}

	if err := a.loadEngines(ctx); err != nil {
		return err
	}
	batch, err := a.evaluate(ctx, result.Resources)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	emit := a.emitters(store)
	defer func() { _ = emit.Close() }()

	if err := emit.Emit(ctx, batch); err != nil {
		return fmt.Errorf("emit scan results: %w", err)
	}

	return writeYAML(cmd.OutOrStdout(), scanReport{
		Parent:      scanCfg.Parent,
		Listed:      result.Listed,
		Unsupported: result.Unsupported,
		Filtered:    result.Filtered,
		ByType:      result.ByType,
		Report:      viewReport(batch, scanFindingsOnly),
	})
}

type scanReport struct {
	Parent      string                `yaml:"parent"`
	Listed      int                   `yaml:"listed"`
	Unsupported int                   `yaml:"unsupported"`
	Filtered    int                   `yaml:"filtered"`
	ByType      map[resource.Type]int `yaml:"by_type"`
	Report      reportView            `yaml:"report"`
}
