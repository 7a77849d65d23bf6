package cmd

import (
	"fmt"

	"github.com/encodeous/overlay/state"
	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key <name>...",
	Short: "Prints the ring key of node ids or terms",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range args {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", a, state.HashKey(a))
		}
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(keyCmd)
}
