package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimeapps/drc-integration/cli/internal/client"
	"github.com/crimeapps/drc-integration/cli/pkg/output"
	"github.com/crimeapps/drc-integration/common/tokens"
)

var ackCmd = &cobra.Command{
	Use:   "ack <category>",
	Short: "Send an acknowledgement",
	Long: `Send an acknowledgement to the reconcile service as the DRC would, for
replaying lost acknowledgements or testing. A title of "Success" reports a
successful delivery; any other title is recorded as an error.

When the profile has an ack_secret, the request carries a bearer token
signed with it.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"contribution", "fdc"},
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID, _ := cmd.Flags().GetInt64("record")
		maatID, _ := cmd.Flags().GetInt64("maat")
		title, _ := cmd.Flags().GetString("title")
		detail, _ := cmd.Flags().GetString("detail")
		token, _ := cmd.Flags().GetString("token")

		if recordID <= 0 {
			return fmt.Errorf("--record is required")
		}

		if token == "" {
			profile, _ := cmd.Flags().GetString("profile")
			if p, err := cfg.GetProfile(profile); err == nil && p.AckSecret != "" {
				token, err = tokens.NewManager(p.AckSecret).Issue("drcctl", tokens.ScopeAcks, 5*time.Minute)
				if err != nil {
					return fmt.Errorf("failed to sign token: %w", err)
				}
			}
		}

		text, err := newClient(cmd).SendAck(client.Ack{
			Category: args[0],
			RecordID: recordID,
			MaatID:   maatID,
			Title:    title,
			Detail:   detail,
		}, token)
		if err != nil {
			return fmt.Errorf("acknowledgement failed: %w", err)
		}

		output.Success("%s acknowledgement for %s %d recorded: %s", output.Outcome(title), args[0], recordID, text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ackCmd)

	ackCmd.Flags().Int64("record", 0, "record id being acknowledged")
	ackCmd.Flags().Int64("maat", 0, "MAAT id of the record")
	ackCmd.Flags().String("title", "Success", "report title")
	ackCmd.Flags().String("detail", "", "report detail")
	ackCmd.Flags().String("token", "", "bearer token (default: signed with the profile's ack_secret)")
}
