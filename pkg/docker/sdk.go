// Package docker implements container runtimes on top of the Docker Engine,
// either through its API or by driving the docker CLI.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	ephemera "github.com/yarlson/ephemera/pkg/container"
)

// defaultStopTimeout is the grace period, in seconds, before a stopped
// container is killed.
const defaultStopTimeout = 10

// SDKRuntime manages containers through the Docker Engine API.
type SDKRuntime struct {
	cli         client.APIClient
	logger      *slog.Logger
	stopTimeout int
}

var _ ephemera.Runtime = (*SDKRuntime)(nil)

// NewSDKRuntime connects to the daemon configured by the environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH, DOCKER_API_VERSION).
func NewSDKRuntime(logger *slog.Logger) (*SDKRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewSDKRuntimeWithClient(cli, logger), nil
}

// NewSDKRuntimeWithClient wraps an existing API client.
func NewSDKRuntimeWithClient(cli client.APIClient, logger *slog.Logger) *SDKRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &SDKRuntime{cli: cli, logger: logger, stopTimeout: defaultStopTimeout}
}

// Close releases the API client.
func (r *SDKRuntime) Close() error {
	return r.cli.Close()
}

func (r *SDKRuntime) Create(ctx context.Context, config ephemera.ContainerConfig) (string, error) {
	if err := r.ensureImage(ctx, config.Image); err != nil {
		return "", err
	}

	cfg, hostCfg := createConfig(config)
	for _, modify := range config.Resource.Modifiers {
		modify(cfg, hostCfg)
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, config.Name)
	if err != nil {
		return "", fmt.Errorf("docker ContainerCreate: %w", err)
	}
	for _, warning := range resp.Warnings {
		r.logger.Warn("docker create warning", "image", config.Image, "warning", warning)
	}
	return resp.ID, nil
}

func (r *SDKRuntime) Start(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker ContainerStart: %w", err)
	}
	return nil
}

func (r *SDKRuntime) Stop(ctx context.Context, id string) error {
	timeout := r.stopTimeout
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker ContainerStop: %w", err)
	}
	return nil
}

func (r *SDKRuntime) Remove(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker ContainerRemove: %w", err)
	}
	return nil
}

func (r *SDKRuntime) Exec(ctx context.Context, id string, cmd []string) (ephemera.ExecResult, error) {
	created, err := r.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ephemera.ExecResult{}, fmt.Errorf("docker ContainerExecCreate: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ephemera.ExecResult{}, fmt.Errorf("docker ContainerExecAttach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ephemera.ExecResult{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return ephemera.ExecResult{}, fmt.Errorf("reading exec output: %w", err)
		}
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ephemera.ExecResult{}, fmt.Errorf("docker ContainerExecInspect: %w", err)
	}

	return ephemera.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

func (r *SDKRuntime) CopyInto(ctx context.Context, id, hostPath, containerDir string, mode os.FileMode) error {
	dir := containerDir
	if !path.IsAbs(dir) {
		info, err := r.cli.ContainerInspect(ctx, id)
		if err != nil {
			return fmt.Errorf("docker ContainerInspect: %w", err)
		}
		workDir := "/"
		if info.Config != nil && info.Config.WorkingDir != "" {
			workDir = info.Config.WorkingDir
		}
		dir = path.Join(workDir, dir)
	}

	archive, err := tarFile(hostPath, mode)
	if err != nil {
		return err
	}

	if err := r.cli.CopyToContainer(ctx, id, dir, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("docker CopyToContainer: %w", err)
	}
	return nil
}

func (r *SDKRuntime) MappedPort(ctx context.Context, id string, port nat.Port) (nat.Port, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("docker ContainerInspect: %w", err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", id)
	}

	for _, binding := range info.NetworkSettings.Ports[port] {
		if binding.HostPort != "" {
			return nat.NewPort(port.Proto(), binding.HostPort)
		}
	}
	return "", fmt.Errorf("port %s is not published", port)
}

// Hostname is the daemon host for TCP daemons and localhost for socket ones.
func (r *SDKRuntime) Hostname(context.Context, string) (string, error) {
	u, err := client.ParseHostURL(r.cli.DaemonHost())
	if err != nil {
		return "", fmt.Errorf("failed to parse docker host: %w", err)
	}
	switch u.Scheme {
	case "tcp", "http", "https":
		if host := u.Hostname(); host != "" {
			return host, nil
		}
	}
	return "localhost", nil
}

func (r *SDKRuntime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("docker ContainerLogs: %w", err)
	}

	reader, writer := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(writer, writer, rc)
		_ = writer.CloseWithError(err)
	}()

	return &logStream{PipeReader: reader, source: rc}, nil
}

// ensureImage pulls the image unless the daemon already has it.
func (r *SDKRuntime) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := r.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker ImageInspect %s: %w", ref, err)
	}

	r.logger.Info("pulling image", "image", ref)
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker ImagePull %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("docker ImagePull %s: %w", ref, err)
	}
	return nil
}

func createConfig(config ephemera.ContainerConfig) (*container.Config, *container.HostConfig) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, binding := range config.PortBindings {
		exposed[binding.Port] = struct{}{}
		if binding.Published() {
			bindings[binding.Port] = []nat.PortBinding{{HostPort: binding.HostPort}}
		}
	}

	binds := make([]string, 0, len(config.Mounts))
	for _, m := range config.Mounts {
		binds = append(binds, fmt.Sprintf("%s:%s:%s", m.HostPath, m.ContainerPath, m.AccessMode))
	}

	labels := make(map[string]string, len(config.Resource.Labels))
	for k, v := range config.Resource.Labels {
		labels[k] = v
	}

	env := make([]string, 0, len(config.Env))
	for k, v := range config.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	cfg := &container.Config{
		Image:        config.Image,
		Entrypoint:   config.Entrypoint,
		Cmd:          config.Command,
		WorkingDir:   config.WorkingDir,
		Env:          env,
		Labels:       labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
	}
	return cfg, hostCfg
}

// tarFile wraps a single host file in a tar archive for CopyToContainer.
func tarFile(hostPath string, mode os.FileMode) (io.Reader, error) {
	content, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", hostPath, err)
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", hostPath, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	header := &tar.Header{
		Name:    filepath.Base(hostPath),
		Mode:    int64(mode.Perm()),
		Size:    int64(len(content)),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write tar content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar archive: %w", err)
	}
	return &buf, nil
}

// logStream closes the daemon connection along with the demultiplexed pipe.
type logStream struct {
	*io.PipeReader
	source io.Closer
}

func (s *logStream) Close() error {
	err := s.source.Close()
	_ = s.PipeReader.Close()
	return err
}
