package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crimeapps/drc-integration/cli/pkg/output"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditBatchCmd = &cobra.Command{
	Use:   "batch <batch-id>",
	Short: "Show every audit event of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid batch id %q", args[0])
		}

		summary, err := newClient(cmd).BatchSummary(batchID)
		if err != nil {
			return fmt.Errorf("failed to load batch: %w", err)
		}

		if jsonOutput(cmd) {
			return output.JSON(summary)
		}

		output.Info("Batch %d: %d events over %d records", summary.BatchID, len(summary.Events), len(summary.Records))
		types := make([]string, 0, len(summary.ByType))
		for t := range summary.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			output.Info("  %-12s %d", t, summary.ByType[t])
		}

		table := output.NewTable([]string{"ID", "Event", "Record", "Trace", "Status", "Created"})
		for _, e := range summary.Events {
			trace, status := "", ""
			if e.TraceID != nil {
				trace = strconv.FormatInt(*e.TraceID, 10)
			}
			if e.HTTPStatus != nil {
				status = strconv.Itoa(*e.HTTPStatus)
			}
			table.AddRow([]string{
				strconv.FormatInt(e.ID, 10),
				output.Outcome(e.EventType),
				strconv.FormatInt(e.RecordID(), 10),
				trace,
				status,
				e.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditBatchCmd)
}
