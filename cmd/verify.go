package cmd

import (
	"fmt"

	"github.com/encodeous/overlay/core"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the network and node configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		central, local, err := core.LoadConfig(centralConfigPath, nodeConfigPath)
		if err != nil {
			return err
		}
		cfgYaml, err := yaml.Marshal(struct {
			Network any
			Node    any
		}{central, local})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Config is valid")
		fmt.Fprint(cmd.OutOrStdout(), string(cfgYaml))
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
