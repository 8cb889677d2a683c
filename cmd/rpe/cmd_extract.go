package main

import (
	"github.com/spf13/cobra"
)

var extractFormat string

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract [FILE]",
	Short: "Extract canonical resources from a payload",
	Long: `Extract the resources named by an audit log entry or an asset inventory
record. The payload is read from FILE, or from stdin when FILE is "-" or
omitted. No live data is fetched.`,
	Example: `  rpe extract entry.json                       # Audit log entry
  rpe extract --extractor asset record.json    # Asset inventory record
  gcloud logging read ... --format json | jq -c '.[0]' | rpe extract`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractFormat, "extractor", "e", "auditlog", "Payload kind: auditlog, asset")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	payload, err := readPayload(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	ex, err := a.extractor(extractFormat)
	if err != nil {
		return err
	}

	out, err := ex.Extract(ctx, payload)
	if err != nil {
		return err
	}
	return writeYAML(cmd.OutOrStdout(), viewExtraction(out))
}
