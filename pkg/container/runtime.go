package container

import (
	"context"
	"io"
	"os"

	"github.com/docker/go-connections/nat"
)

// Runtime is the container runtime a Container delegates to. Every call is
// independent: a failure between two calls leaves the effects of the first.
type Runtime interface {
	// Create creates a container from the configuration and returns its ID.
	Create(ctx context.Context, config ContainerConfig) (string, error)

	// Start starts a created container.
	Start(ctx context.Context, id string) error

	// Stop stops a running container. Stopping a missing container is not an error.
	Stop(ctx context.Context, id string) error

	// Remove deletes a container. Removing a missing container is not an error.
	Remove(ctx context.Context, id string) error

	// Exec runs cmd inside the container and waits for it to exit.
	Exec(ctx context.Context, id string, cmd []string) (ExecResult, error)

	// CopyInto copies the host file at hostPath into containerDir, keeping
	// its base name and applying mode. A relative containerDir is resolved
	// against the container's working directory.
	CopyInto(ctx context.Context, id, hostPath, containerDir string, mode os.FileMode) error

	// MappedPort returns the host port published for a container port.
	MappedPort(ctx context.Context, id string, port nat.Port) (nat.Port, error)

	// Hostname returns the host through which published ports are reachable.
	Hostname(ctx context.Context, id string) (string, error)

	// Logs opens a new follow stream of the container's combined output.
	// The caller must close it.
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}
