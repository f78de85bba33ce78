package compose

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yarlson/ephemera/pkg/container"
)

// composeFileMode is the mode of the compose file inside the container.
const composeFileMode os.FileMode = 0o644

// Container is a running compose stack.
type Container struct {
	*container.Container
	config Config
	stack  *stackState
}

// stackState is the domain value the startup callback sees. It records
// whether "up" was ever issued so teardown knows to bring the stack down.
type stackState struct {
	config      Config
	upAttempted bool
}

// ComposeConfig returns the compose configuration the container was built
// from.
func (c *Container) ComposeConfig() Config {
	var empty Config
	return c.config.Merge(empty)
}

// Stop brings the stack down inside the container, then stops the container.
// The stack is left alone for local compose or when "up" was never issued.
// The container is stopped even when "down" fails.
func (c *Container) Stop(ctx context.Context) error {
	downErr := c.down(ctx)
	return errors.Join(downErr, c.Container.Stop(ctx))
}

// Terminate brings the stack down, stops the container and removes it. Every
// step is attempted and all failures are reported.
func (c *Container) Terminate(ctx context.Context) error {
	downErr := c.down(ctx)
	return errors.Join(downErr, c.Container.Terminate(ctx))
}

func (c *Container) down(ctx context.Context) error {
	if c.config.IsLocal() || !c.stack.upAttempted {
		return nil
	}
	switch c.State() {
	case container.StateRunning, container.StateReady, container.StateStartupFailed:
	default:
		return nil
	}

	if err := execChecked(ctx, c.Container, c.config.StopCommand()); err != nil {
		return fmt.Errorf("failed to bring compose stack down: %w", err)
	}
	c.stack.upAttempted = false
	return nil
}

// configureCompose copies the compose file into the container and brings the
// stack up. It does nothing when a local compose binary is configured.
func configureCompose(ctx context.Context, c *container.Container) error {
	var state *stackState
	switch domain := c.Domain().(type) {
	case *stackState:
		state = domain
	case Config:
		state = &stackState{config: domain}
	default:
		return &container.ConfigurationError{
			Reason: fmt.Sprintf("compose startup callback attached to a %T container", c.Domain()),
		}
	}
	config := state.config

	if config.IsLocal() {
		return nil
	}

	info, err := os.Stat(config.ComposeFile)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return &container.FileNotFoundError{Path: config.ComposeFile}
	}
	if err != nil {
		return fmt.Errorf("failed to stat compose file: %w", err)
	}

	if err := c.CopyInto(ctx, config.ComposeFile, ".", composeFileMode); err != nil {
		return fmt.Errorf("failed to copy compose file: %w", err)
	}

	// A failed or cancelled "up" may already have created services.
	state.upAttempted = true
	if err := execChecked(ctx, c, config.StartCommand()); err != nil {
		return fmt.Errorf("failed to bring compose stack up: %w", err)
	}

	c.Logger().Info("compose stack up", "file", filepath.Base(config.ComposeFile))
	return nil
}

func execChecked(ctx context.Context, c *container.Container, cmd []string) error {
	result, err := c.Exec(ctx, cmd...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &container.ExecError{
			Command:  cmd,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return nil
}
