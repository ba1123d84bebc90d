package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build; the default marks a source
// build.
var Version = "0.1.0-dev"

var gantryCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Matrix CI runner",
	Long: `Gantry runs CI workflows: YAML documents that fan jobs out over a
matrix of interpreter versions and execute their steps on runners.`,
}

func Execute() {
	if err := gantryCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
