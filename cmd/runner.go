package cmd

import (
	"github.com/gantryci/gantry/server/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runnerConfigFile string

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Start a runner that executes dispatched runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runnerRun()
	},
}

func init() {
	gantryCmd.AddCommand(runnerCmd)
	runnerCmd.PersistentFlags().StringVar(&runnerConfigFile, "config", "gantry-runner.yaml", "Runner config file")
	viper.BindPFlags(runnerCmd.Flags())
}

func runnerRun() error {
	conf, err := runner.SetConfig(runnerConfigFile)
	if err != nil {
		return err
	}
	r, err := runner.New(conf, Version)
	if err != nil {
		return err
	}
	return r.Start()
}
