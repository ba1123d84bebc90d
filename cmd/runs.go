package cmd

import (
	"fmt"
	"time"

	"github.com/gantryci/gantry/local"
	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run id]",
	Short: "Show past local runs",
	Long: `Without arguments, list recent local runs. With a run id, or any
unambiguous prefix of one, show the run's cells and steps.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runsShow(args[0])
		}
		return runsList()
	},
}

func init() {
	gantryCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Runs to show")
}

func openHistory() (*local.History, error) {
	return local.OpenHistory(local.HistoryPath(), logger.InitLogger("error", "local"))
}

func runsList() error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.List(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no local runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%-36s  %-20s  %-9s  %s\n",
			r.ID, r.WorkflowName, r.Status, time.Unix(r.CreatedAt, 0).Format(time.RFC3339))
	}
	return nil
}

func runsShow(id string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	run, err := h.Get(id)
	if err != nil {
		return err
	}
	fmt.Printf("run %s  workflow %s  %s\n", run.ID, run.WorkflowName, run.Status)
	for _, jr := range run.Jobs {
		fmt.Printf("  job %s: %s\n", jr.Name, jr.Status)
		for _, cr := range jr.Cells {
			fmt.Printf("    %s: %s%s\n", cr.Name, cr.Status, failureSuffix(cr.FailureClass))
			for _, sr := range cr.Steps {
				fmt.Printf("      [%d] %-30s %s\n", sr.Index, sr.Name, sr.Status)
			}
		}
	}
	return nil
}

func failureSuffix(class workflow.FailureClass) string {
	if class == workflow.FailureNone {
		return ""
	}
	return fmt.Sprintf(" (%s)", class)
}
