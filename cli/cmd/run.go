package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimeapps/drc-integration/cli/internal/client"
	"github.com/crimeapps/drc-integration/cli/pkg/output"
)

var errRunFailed = errors.New("run did not deliver every record")

var runCmd = &cobra.Command{
	Use:   "run <category>...",
	Short: "Trigger a reconciliation run",
	Long: `Trigger a reconciliation run for each category (contribution, fdc) and
print its report. Runs are synchronous; the command waits for each one.`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"contribution", "fdc"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)

		var reports []*client.RunReport
		failed := false
		for _, category := range args {
			report, err := c.TriggerRun(category)
			if err != nil {
				return fmt.Errorf("run %s: %w", category, err)
			}
			reports = append(reports, report)
			if !succeeded(report) {
				failed = true
			}
		}

		if jsonOutput(cmd) {
			if err := output.JSON(reports); err != nil {
				return err
			}
		} else {
			for _, r := range reports {
				printReport(r)
			}
		}

		if failed {
			return errRunFailed
		}
		return nil
	},
}

func succeeded(r *client.RunReport) bool {
	return !r.Aborted && r.Rejected == 0 && r.Unavailable == 0 && r.EnvelopeErrors == 0
}

func printReport(r *client.RunReport) {
	if succeeded(r) {
		output.Success("%s run %d: %d extracted, %d accepted, %d conflict",
			r.Category, r.BatchID, r.Extracted, r.Accepted, r.Conflict)
	} else {
		output.Warn("%s run %d: %d extracted, %d accepted, %d conflict, %d rejected, %d unavailable, %d envelope errors",
			r.Category, r.BatchID, r.Extracted, r.Accepted, r.Conflict, r.Rejected, r.Unavailable, r.EnvelopeErrors)
	}
	if r.FileName != "" {
		output.Info("Envelope: %s", r.FileName)
	}
	if !r.FinishedAt.IsZero() {
		output.Info("Duration: %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}

	if len(r.Failed) == 0 {
		return
	}
	table := output.NewTable([]string{"Record", "MAAT", "Reason", "Status", "Detail"})
	for _, f := range r.Failed {
		status := ""
		if f.StatusCode > 0 {
			status = strconv.Itoa(f.StatusCode)
		}
		table.AddRow([]string{
			strconv.FormatInt(f.RecordID, 10),
			strconv.FormatInt(f.MaatID, 10),
			output.Outcome(f.Reason),
			status,
			f.Detail,
		})
	}
	table.Render()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
