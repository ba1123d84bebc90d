package cmd

import (
	"github.com/gantryci/gantry/local"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runOpts local.RunOptions

var runCmd = &cobra.Command{
	Use:   "run [workflow file]",
	Short: "Run a workflow on this machine",
	Long: `Run compiles the workflow, simulates the chosen trigger event and
executes every matrix cell locally, printing step output to the terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runOpts.File = args[0]
		run, err := local.Run(&runOpts)
		if err != nil {
			return err
		}
		return local.Verdict(run)
	},
}

func init() {
	gantryCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runOpts.Event, "event", workflow.EventPullRequest, "Event kind to simulate")
	runCmd.Flags().StringVar(&runOpts.Branch, "branch", "master", "Branch the simulated event targets")
	runCmd.Flags().StringVar(&runOpts.SHA, "sha", "", "Commit for the checkout step")
	runCmd.Flags().BoolVar(&runOpts.InPlace, "in-place", false, "Run in the current directory instead of a scratch workspace")
	runCmd.Flags().IntVar(&runOpts.MaxCells, "max-cells", 2, "Matrix cells to execute in parallel")
	runCmd.Flags().StringVar(&runOpts.LogLevel, "log-level", "warn", "Log verbosity")
	viper.BindPFlags(runCmd.Flags())
}
