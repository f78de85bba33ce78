package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/ephemera/pkg/logs"
)

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs CONTAINER...",
	Short: "Follow container logs",
	Long: `Follow the logs of one or more containers started by ephemera.
Containers are given by ID or name, as printed by "ephemera up".
Each line is prefixed with the container it came from.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	rt, closeRuntime, err := newRuntime(logger)
	if err != nil {
		return fmt.Errorf("failed to connect to the container runtime: %w", err)
	}
	defer closeRuntime()

	if err := logs.NewLogger(rt).Follow(cmd.Context(), args); err != nil {
		return fmt.Errorf("failed to follow logs: %w", err)
	}
	return nil
}
