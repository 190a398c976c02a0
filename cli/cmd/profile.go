package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crimeapps/drc-integration/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("url")
		ackSecret, _ := cmd.Flags().GetString("ack-secret")
		if serverURL == "" {
			return fmt.Errorf("--url is required")
		}

		if err := cfg.SaveProfile(args[0], serverURL, ackSecret); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' saved and selected", args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Profiles) == 0 {
			output.Info("No profiles configured; using %s", cfg.GetServerURL(""))
			return nil
		}

		table := output.NewTable([]string{"", "Name", "Server", "Signed acks"})
		for name, p := range cfg.Profiles {
			current, signed := "", "no"
			if name == cfg.CurrentProfile {
				current = "*"
			}
			if p.AckSecret != "" {
				signed = "yes"
			}
			table.AddRow([]string{current, name, p.ServerURL, signed})
		}
		table.Render()
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileListCmd, profileRemoveCmd)

	profileSetCmd.Flags().String("url", "", "reconcile service URL")
	profileSetCmd.Flags().String("ack-secret", "", "the service's HS256 secret, used to sign acknowledgement and operator tokens")
}
