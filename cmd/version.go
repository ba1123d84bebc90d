package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gantry version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gantry %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	gantryCmd.AddCommand(versionCmd)
}
