package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimeapps/drc-integration/cli/pkg/output"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old audit rows",
	Long: `Delete audit events created before a cutoff. With --errors, delete
submission errors instead. The cutoff is an RFC 3339 timestamp or a date
(2006-01-02), or use --older-than with a duration such as 2160h.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		beforeStr, _ := cmd.Flags().GetString("before")
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		errorsOnly, _ := cmd.Flags().GetBool("errors")

		before, err := purgeCutoff(beforeStr, olderThan, time.Now())
		if err != nil {
			return err
		}

		res, err := newClient(cmd).PurgeAudit(before, errorsOnly)
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}

		if jsonOutput(cmd) {
			return output.JSON(res)
		}
		what := "audit events"
		if errorsOnly {
			what = "submission errors"
		}
		output.Success("Deleted %d %s created before %s", res.Deleted, what, res.Before.Format(time.RFC3339))
		return nil
	},
}

func purgeCutoff(before string, olderThan time.Duration, now time.Time) (time.Time, error) {
	switch {
	case before != "" && olderThan > 0:
		return time.Time{}, fmt.Errorf("use either --before or --older-than, not both")
	case olderThan > 0:
		return now.Add(-olderThan), nil
	case before == "":
		return time.Time{}, fmt.Errorf("--before or --older-than is required")
	}
	if t, err := time.Parse(time.RFC3339, before); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, before)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: want RFC 3339 or YYYY-MM-DD", before)
	}
	return t, nil
}

func init() {
	rootCmd.AddCommand(purgeCmd)

	purgeCmd.Flags().String("before", "", "delete rows created before this time")
	purgeCmd.Flags().Duration("older-than", 0, "delete rows older than this duration")
	purgeCmd.Flags().Bool("errors", false, "purge submission errors instead of audit events")
}
