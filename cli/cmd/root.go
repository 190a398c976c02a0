package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimeapps/drc-integration/cli/internal/client"
	"github.com/crimeapps/drc-integration/cli/internal/config"
	"github.com/crimeapps/drc-integration/common/tokens"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "drcctl",
	Short: "DRC reconciliation CLI",
	Long: `drcctl operates the DRC reconciliation service.

Trigger runs, inspect a run's audit trail, replay acknowledgements and
purge old audit rows from your terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.drcctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
	rootCmd.PersistentFlags().String("server", "", "reconcile service URL (overrides the profile)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// newClient builds a client for the selected server. When the profile has
// an ack_secret, requests carry an operator token signed with it.
func newClient(cmd *cobra.Command) *client.ReconcileClient {
	profile, _ := cmd.Flags().GetString("profile")
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = cfg.GetServerURL(profile)
	}
	c := client.NewReconcileClient(server)

	if p, err := cfg.GetProfile(profile); err == nil && p.AckSecret != "" {
		token, err := tokens.NewManager(p.AckSecret).Issue("drcctl", tokens.ScopeOperator, 5*time.Minute)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not sign operator token: %v\n", err)
			return c
		}
		c.WithToken(token)
	}
	return c
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}
