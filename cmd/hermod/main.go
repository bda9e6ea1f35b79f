package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "hermod",
	Short:   "Autonomous email agents with guardrailed self-tuning",
	Version: version,
	Long: `hermod runs a fixed roster of email agents on their own schedules:
triage, VIP monitoring, briefings, cleanup, and more. Agents record every
run, learn from thumbs up/down feedback, and may propose changes to their
own configuration; a guardrail engine decides what gets applied.

Start the server with "hermod start", then drive it with the client
subcommands or over MCP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(proposeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
