// Package runner defines how commands are run on the machine that hosts the
// Docker daemon, either locally or over SSH.
package runner

import (
	"context"
	"io"
	"os"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs commands and stages files on a Docker host.
type Runner interface {
	// Run runs a command and waits for it. A non-zero exit code is reported
	// in the Result; the error is reserved for commands that could not run.
	Run(ctx context.Context, command string, args ...string) (Result, error)

	// RunCommand starts a command and streams its combined output. The
	// caller must close the returned ReadCloser, which ends the command.
	RunCommand(ctx context.Context, command string, args ...string) (io.ReadCloser, error)

	// CopyFile copies the local file src to dst on the Docker host.
	CopyFile(ctx context.Context, src, dst string, mode os.FileMode) error

	// Host returns the host through which published ports are reachable.
	Host() string
}
