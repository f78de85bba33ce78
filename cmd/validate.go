package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/ephemera/pkg/config"
	"github.com/yarlson/ephemera/pkg/console"
	"github.com/yarlson/ephemera/pkg/docker"
	"github.com/yarlson/ephemera/pkg/runner/local"
	"github.com/yarlson/ephemera/pkg/stack"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a stack file",
	Long: `Validate checks a stack file for errors without starting anything.
This command performs validation checks including:
- Required fields presence
- Port and mount syntax
- Environment variable resolution
- Container name uniqueness
- Builder arguments of every container`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&stackFile, "file", "f", defaultStackFile, "Path to the stack file")
}

func runValidate(_ *cobra.Command, _ []string) error {
	spinner := console.NewSpinner("Validating stack file")

	cfg, err := config.Load(stackFile)
	if err != nil {
		spinner.Fail("Stack file validation failed")
		return err
	}

	logger, err := newLogger()
	if err != nil {
		spinner.Fail("Invalid log level")
		return err
	}

	// Building needs a runtime but never calls it.
	rt := docker.NewCLIRuntime(local.NewRunner(), logger)
	s, err := stack.New(cfg, rt, logger)
	if err != nil {
		spinner.Fail("Stack validation failed")
		return err
	}

	spinner.Success(fmt.Sprintf("Stack %s is valid", s.Name()))
	console.Success(fmt.Sprintf("%d containers checked", len(s.Members())))
	return nil
}
