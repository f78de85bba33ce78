package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/yarlson/ephemera/pkg/config"
	"github.com/yarlson/ephemera/pkg/console"
	"github.com/yarlson/ephemera/pkg/stack"
)

const terminateTimeout = 2 * time.Minute

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start every container of a stack file",
	Long: `Up starts every container described in the stack file, prints the host
addresses of their published ports and keeps them running until interrupted.
On Ctrl+C or SIGTERM every container is stopped and removed.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().StringVarP(&stackFile, "file", "f", defaultStackFile, "Path to the stack file")
}

func runUp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(stackFile)
	if err != nil {
		return fmt.Errorf("failed to parse stack file: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}

	rt, closeRuntime, err := newRuntime(logger)
	if err != nil {
		return fmt.Errorf("failed to connect to the container runtime: %w", err)
	}
	defer closeRuntime()

	s, err := stack.New(cfg, rt, logger)
	if err != nil {
		return fmt.Errorf("invalid stack: %w", err)
	}

	ctx := cmd.Context()

	spinner := console.NewSpinner(fmt.Sprintf("Starting stack %s", s.Name()))
	if err := s.Start(ctx); err != nil {
		spinner.Fail(fmt.Sprintf("Failed to start stack %s", s.Name()))
		return terminate(s, err)
	}
	spinner.Success(fmt.Sprintf("Stack %s is ready", s.Name()))

	if err := printMembers(s); err != nil {
		return terminate(s, err)
	}

	console.Info("Press Ctrl+C to stop and remove the stack")
	<-ctx.Done()

	return terminate(s, nil)
}

// terminate removes the stack on a fresh context so it still runs after an
// interrupt, and returns cause when set.
func terminate(s *stack.Stack, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()

	spinner := console.NewSpinner(fmt.Sprintf("Removing stack %s", s.Name()))
	if err := s.Terminate(ctx); err != nil {
		spinner.Fail(fmt.Sprintf("Failed to remove stack %s: %v", s.Name(), err))
		if cause != nil {
			return cause
		}
		return err
	}
	spinner.Success(fmt.Sprintf("Stack %s removed", s.Name()))
	return cause
}

func printMembers(s *stack.Stack) error {
	endpoints, err := s.Endpoints()
	if err != nil {
		return err
	}

	byMember := make(map[string][]stack.Endpoint)
	for _, e := range endpoints {
		byMember[e.Member] = append(byMember[e.Member], e)
	}

	data := pterm.TableData{{"Container", "ID", "Port", "Address"}}
	for _, m := range s.Members() {
		id := m.Container.ID()
		if len(id) > 12 {
			id = id[:12]
		}
		if len(byMember[m.Name]) == 0 {
			data = append(data, []string{m.Name, id, "-", "-"})
			continue
		}
		for _, e := range byMember[m.Name] {
			data = append(data, []string{m.Name, id, string(e.Port), e.Address})
		}
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
