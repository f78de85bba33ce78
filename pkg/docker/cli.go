package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/yarlson/ephemera/pkg/container"
	"github.com/yarlson/ephemera/pkg/runner"
)

// CLIRuntime drives containers through the docker binary on the Docker host.
// With a local runner that is this machine; with a remote runner it is the
// SSH target.
type CLIRuntime struct {
	runner runner.Runner
	logger *slog.Logger
}

var _ container.Runtime = (*CLIRuntime)(nil)

// NewCLIRuntime creates a CLIRuntime running docker through r.
func NewCLIRuntime(r runner.Runner, logger *slog.Logger) *CLIRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRuntime{runner: r, logger: logger}
}

func (c *CLIRuntime) Create(ctx context.Context, config container.ContainerConfig) (string, error) {
	if len(config.Resource.Modifiers) > 0 {
		c.logger.Warn("create modifiers are not supported by the docker CLI driver and are ignored",
			"image", config.Image, "count", len(config.Resource.Modifiers))
	}

	id, err := c.docker(ctx, createArgs(config)...)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	lines := strings.Split(id, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

func (c *CLIRuntime) Start(ctx context.Context, id string) error {
	if _, err := c.docker(ctx, "start", id); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

func (c *CLIRuntime) Stop(ctx context.Context, id string) error {
	if _, err := c.docker(ctx, "stop", id); err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

func (c *CLIRuntime) Remove(ctx context.Context, id string) error {
	if _, err := c.docker(ctx, "rm", "--force", "--volumes", id); err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

func (c *CLIRuntime) Exec(ctx context.Context, id string, cmd []string) (container.ExecResult, error) {
	result, err := c.runner.Run(ctx, "docker", append([]string{"exec", id}, cmd...)...)
	if err != nil {
		return container.ExecResult{}, fmt.Errorf("failed to exec in container %s: %w", id, err)
	}
	return container.ExecResult{ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}, nil
}

// CopyInto stages the file on the Docker host with the requested mode and
// copies it from there with "docker cp", which keeps the mode.
func (c *CLIRuntime) CopyInto(ctx context.Context, id, hostPath, containerDir string, mode os.FileMode) error {
	dir, err := c.resolveDir(ctx, id, containerDir)
	if err != nil {
		return err
	}

	tmp, err := c.stagingDir(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := c.runner.Run(context.WithoutCancel(ctx), "rm", "-rf", tmp); err != nil {
			c.logger.Debug("failed to remove staging directory", "dir", tmp, "error", err)
		}
	}()

	staged := path.Join(tmp, filepath.Base(hostPath))
	if err := c.runner.CopyFile(ctx, hostPath, staged, mode); err != nil {
		return fmt.Errorf("failed to stage %s: %w", hostPath, err)
	}

	if _, err := c.docker(ctx, "cp", staged, id+":"+strings.TrimSuffix(dir, "/")+"/"); err != nil {
		return fmt.Errorf("failed to copy %s into container %s: %w", hostPath, id, err)
	}
	return nil
}

func (c *CLIRuntime) MappedPort(ctx context.Context, id string, port nat.Port) (nat.Port, error) {
	out, err := c.docker(ctx, "port", id, string(port))
	if err != nil {
		return "", fmt.Errorf("failed to resolve port %s of container %s: %w", port, id, err)
	}
	return parsePortOutput(port, out)
}

func (c *CLIRuntime) Hostname(context.Context, string) (string, error) {
	return c.runner.Host(), nil
}

func (c *CLIRuntime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return c.runner.RunCommand(ctx, "docker", "logs", "--follow", id)
}

func (c *CLIRuntime) resolveDir(ctx context.Context, id, dir string) (string, error) {
	if path.IsAbs(dir) {
		return dir, nil
	}
	workDir, err := c.docker(ctx, "inspect", "--format", "{{.Config.WorkingDir}}", id)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	if workDir == "" {
		workDir = "/"
	}
	return path.Join(workDir, dir), nil
}

func (c *CLIRuntime) stagingDir(ctx context.Context) (string, error) {
	result, err := c.runner.Run(ctx, "mktemp", "-d")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("failed to create staging directory: %s", strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// docker runs a docker command and returns its trimmed stdout. A non-zero exit
// code is an ExecError carrying the command output.
func (c *CLIRuntime) docker(ctx context.Context, args ...string) (string, error) {
	result, err := c.runner.Run(ctx, "docker", args...)
	if err != nil {
		return "", fmt.Errorf("failed to run command: %w", err)
	}
	if result.ExitCode != 0 {
		return "", &container.ExecError{
			Command:  append([]string{"docker"}, args...),
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return strings.TrimSpace(result.Stdout), nil
}

func createArgs(config container.ContainerConfig) []string {
	args := []string{"create"}

	if config.Name != "" {
		args = append(args, "--name", config.Name)
	}
	if config.WorkingDir != "" {
		args = append(args, "--workdir", config.WorkingDir)
	}
	for _, key := range sortedKeys(config.Resource.Labels) {
		args = append(args, "--label", key+"="+config.Resource.Labels[key])
	}
	for _, key := range sortedKeys(config.Env) {
		args = append(args, "--env", key+"="+config.Env[key])
	}
	for _, m := range config.Mounts {
		args = append(args, "--volume", fmt.Sprintf("%s:%s:%s", m.HostPath, m.ContainerPath, m.AccessMode))
	}
	for _, binding := range config.PortBindings {
		switch {
		case binding.HostPort != "":
			args = append(args, "--publish", binding.HostPort+":"+string(binding.Port))
		case binding.AssignRandomHostPort:
			args = append(args, "--publish", string(binding.Port))
		default:
			args = append(args, "--expose", string(binding.Port))
		}
	}

	// --entrypoint takes a single executable; the rest of it leads the command.
	command := config.Command
	if len(config.Entrypoint) > 0 {
		args = append(args, "--entrypoint", config.Entrypoint[0])
		command = append(append([]string(nil), config.Entrypoint[1:]...), config.Command...)
	}

	args = append(args, config.Image)
	return append(args, command...)
}

// parsePortOutput reads the first host binding from "docker port" output such
// as "0.0.0.0:49153\n[::]:49153".
func parsePortOutput(port nat.Port, out string) (nat.Port, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_, hostPort, err := net.SplitHostPort(line)
		if err != nil {
			continue
		}
		return nat.NewPort(port.Proto(), hostPort)
	}
	return "", fmt.Errorf("port %s is not published", port)
}

func isNoSuchContainer(err error) bool {
	return err != nil && strings.Contains(err.Error(), "No such container")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
