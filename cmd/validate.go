package cmd

import (
	"fmt"
	"os"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow file]",
	Short: "Check that a workflow file compiles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateRun(args[0])
	},
}

func init() {
	gantryCmd.AddCommand(validateCmd)
}

func validateRun(file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	wf, err := workflow.CompileBytes(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	order, err := wf.JobOrder()
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok\n", wf.Name)
	for _, id := range order {
		job := wf.Jobs.Get(id)
		cells := workflow.Expand(job.Strategy)
		fmt.Printf("  job %-20s %d cells, %d steps\n", id, len(cells), len(job.Steps))
	}
	return nil
}
