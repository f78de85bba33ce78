package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set during build time
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of ephemera",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ephemera version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
