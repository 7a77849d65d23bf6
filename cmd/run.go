package cmd

import (
	"os"

	"github.com/encodeous/overlay/core"
	"github.com/spf13/cobra"
)

var logPath string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a node",
	Long: `Runs a node over UDP on the addresses assigned to it in the network config.
Operator commands (JOIN, LEAVE, PUBLISH, SEARCH, PING, DUMP...) are read from stdin, one per line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		cmd.SilenceUsage = true
		return core.BootstrapNode(centralConfigPath, nodeConfigPath, logPath, verbose, os.Stdin, os.Stdout)
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().StringVarP(&logPath, "log", "l", "", "Also write logs to this file")
}
