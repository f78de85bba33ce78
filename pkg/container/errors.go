package container

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

var (
	// ErrNotRunning is returned when a runtime fact is requested from a
	// container that has not reached the running state.
	ErrNotRunning = errors.New("container is not running")

	// ErrInvalidState is returned when a lifecycle operation is not allowed
	// from the container's current state.
	ErrInvalidState = errors.New("invalid container state")
)

// ValidationError reports a required or malformed configuration field found
// when building a container.
type ValidationError struct {
	Field string
	Tag   string
}

func (e *ValidationError) Error() string {
	if e.Tag == "required" {
		return fmt.Sprintf("validation error: %s is required", e.Field)
	}
	return fmt.Sprintf("validation error: %s failed on %q", e.Field, e.Tag)
}

// ArgumentError reports a structurally invalid argument passed to a builder
// method.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Name, e.Reason)
}

// ConfigurationError reports a broken internal invariant, such as a startup
// callback attached to a container of the wrong kind.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// FileNotFoundError reports a host resource missing at startup.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

// Is makes FileNotFoundError match fs.ErrNotExist.
func (e *FileNotFoundError) Is(target error) bool {
	return target == fs.ErrNotExist
}

// ExecError reports a command that exited non-zero inside a container.
type ExecError struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Command, " "), e.ExitCode)
	if output := strings.TrimSpace(e.Stderr); output != "" {
		msg += ": " + output
	}
	return msg
}

// MappingError reports a port lookup for a port that was never declared.
type MappingError struct {
	Port string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("port %s is not declared as a port binding", e.Port)
}
