package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	centralConfigPath = "central.yaml"
	nodeConfigPath    = "node.yaml"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Link-state routed Chord overlay with distributed keyword search",
	Long: `overlay runs a node of a peer-to-peer network. Nodes discover their neighbours and route with a
link-state protocol, organize into a Chord ring, and store an inverted index of published documents on the ring.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Configuration",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ny",
		Title: "Node Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&nodeConfigPath, "node-config", "n", nodeConfigPath, "node-specific config")
	rootCmd.PersistentFlags().StringVarP(&centralConfigPath, "central-config", "c", centralConfigPath, "network-wide config")
}
