package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/yarlson/ephemera/pkg/runner"
)

var _ runner.Runner = (*Runner)(nil)

type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

func (e *Runner) Run(ctx context.Context, command string, args ...string) (runner.Result, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return runner.Result{}, ctxErr
	}

	result := runner.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return runner.Result{}, fmt.Errorf("command execution failed: %w", err)
	}

	return result, nil
}

func (e *Runner) RunCommand(ctx context.Context, command string, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.Stderr = writer

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("command execution failed: %w", err)
	}

	go func() {
		_ = writer.CloseWithError(cmd.Wait())
	}()

	return &commandOutput{reader: reader, cmd: cmd}, nil
}

func (e *Runner) CopyFile(_ context.Context, src, dst string, mode os.FileMode) error {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer source.Close()

	dest, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}

	if _, err := io.Copy(dest, source); err != nil {
		_ = dest.Close()
		return fmt.Errorf("copying file: %w", err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("closing destination file: %w", err)
	}

	// The umask may have narrowed the mode at creation.
	return os.Chmod(dst, mode.Perm())
}

func (e *Runner) Host() string {
	return "localhost"
}

// commandOutput ends the command when the reader is closed.
type commandOutput struct {
	reader *io.PipeReader
	cmd    *exec.Cmd
}

func (c *commandOutput) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (c *commandOutput) Close() error {
	_ = c.cmd.Process.Kill()
	return c.reader.Close()
}
