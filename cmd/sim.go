package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/encodeous/overlay/sim"
	"github.com/encodeous/overlay/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var holdSim bool

var simCmd = &cobra.Command{
	Use:   "sim <scenario.yaml>",
	Short: "Run a scripted scenario over an in-memory network",
	Long: `Starts every node of the scenario inside this process, connects them according to the graph,
then runs the script. Each step either waits or runs an operator command on a node.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var cfg state.SimCfg
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}
		if err := state.SimConfigValidator(&cfg); err != nil {
			return err
		}
		cmd.SilenceUsage = true
		cfg.Timers.ApplyTimers()

		v := sim.FromConfig(&cfg)
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			v.Level = slog.LevelDebug
		}
		errs, err := v.Start()
		if err != nil {
			return err
		}
		defer v.Stop()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		go func() {
			select {
			case err := <-errs:
				slog.Error("node stopped", "error", err)
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := sim.RunScript(ctx, v, cfg.Script, cmd.OutOrStdout()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if holdSim {
			slog.Info("scenario complete, press Ctrl+C to exit")
			<-ctx.Done()
		}
		return nil
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	simCmd.Flags().BoolVar(&holdSim, "hold", false, "Keep the network running after the script completes")
}
