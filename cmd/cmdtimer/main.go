package main

import (
	"os"

	"github.com/spf13/cobra"
)

// cfgPath is shared by every subcommand.
var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "cmdtimer",
	Short: "Run shell actions on weekly wall-clock schedules",
	Long: `cmdtimer runs groups of shell actions at wall-clock times in one timezone.

Each entry fires at most once per scheduled occurrence, across DST changes,
clock jitter and config reloads, and can announce itself on a chat webhook.
`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./cmdtimer.yaml", "path to config (yaml or json)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(triggerCmd())
}
