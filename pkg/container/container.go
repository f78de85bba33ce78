package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"

	"github.com/docker/go-connections/nat"

	"github.com/yarlson/ephemera/pkg/wait"
)

// State is a container lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStartupFailed
	StateReady
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStartupFailed:
		return "startup-failed"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Container is a handle to a runtime-managed container bound to a finalized
// configuration. It is owned by one caller and is not safe for concurrent use.
type Container struct {
	config  ContainerConfig
	domain  any
	runtime Runtime
	logger  *slog.Logger

	id    string
	state State
	host  string
	ports map[nat.Port]nat.Port
}

// New binds a container handle to config. domain is the full domain
// configuration the container was built from; startup callbacks read it back
// through Domain.
func New(config ContainerConfig, domain any) *Container {
	logger := config.Resource.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Container{
		config:  FromContainerConfig(config),
		domain:  domain,
		runtime: config.Resource.Runtime,
		logger:  logger.With("image", config.Image),
		state:   StateCreated,
	}
}

// ID returns the runtime ID, empty until the container has been created.
func (c *Container) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Container) State() State {
	return c.state
}

// Config returns a copy of the configuration the container was built from.
func (c *Container) Config() ContainerConfig {
	return FromContainerConfig(c.config)
}

// Domain returns the domain configuration passed to New.
func (c *Container) Domain() any {
	return c.domain
}

// Logger returns the container's logger.
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// Start creates and starts the container, runs the startup callbacks in
// order and then waits for readiness. On any failure the container is left in
// StateStartupFailed; nothing is cleaned up.
func (c *Container) Start(ctx context.Context) error {
	if c.state != StateCreated {
		return fmt.Errorf("%w: cannot start a container that is %s", ErrInvalidState, c.state)
	}

	c.setState(StateStarting)

	if err := ctx.Err(); err != nil {
		return c.fail(fmt.Errorf("startup cancelled: %w", err))
	}

	id, err := c.runtime.Create(ctx, c.config)
	if err != nil {
		return c.fail(fmt.Errorf("failed to create container: %w", err))
	}
	c.id = id
	c.logger = c.logger.With("id", shortID(id))

	if err := c.runtime.Start(ctx, id); err != nil {
		return c.fail(fmt.Errorf("failed to start container: %w", err))
	}

	if err := c.resolve(ctx); err != nil {
		return c.fail(err)
	}
	c.setState(StateRunning)

	if err := RunStartupCallbacks(ctx, c, c.config.StartupCallbacks); err != nil {
		return c.fail(err)
	}

	if strategy := c.config.WaitStrategy; strategy != nil {
		c.logger.Debug("waiting for container", "strategy", fmt.Sprint(strategy))
		if err := strategy.WaitUntilReady(ctx, waitTarget{c}); err != nil {
			return c.fail(fmt.Errorf("container did not become ready: %w", err))
		}
	}

	c.setState(StateReady)
	c.logger.Info("container ready", "host", c.host)
	return nil
}

// Stop stops the container and forgets its resolved host and ports.
func (c *Container) Stop(ctx context.Context) error {
	switch c.state {
	case StateStopped:
		return nil
	case StateCreated, StateStarting, StateStopping:
		return fmt.Errorf("%w: cannot stop a container that is %s", ErrInvalidState, c.state)
	}

	previous := c.state
	c.setState(StateStopping)

	if c.id != "" {
		if err := c.runtime.Stop(ctx, c.id); err != nil {
			c.setState(previous)
			return fmt.Errorf("failed to stop container %s: %w", shortID(c.id), err)
		}
	}

	c.host = ""
	c.ports = nil
	c.setState(StateStopped)
	return nil
}

// Terminate stops the container if needed and removes it from the runtime.
// Removal is forced, so it is attempted even when the stop failed.
func (c *Container) Terminate(ctx context.Context) error {
	var stopErr error
	if c.state != StateStopped && c.state != StateCreated {
		stopErr = c.Stop(ctx)
		if errors.Is(stopErr, ErrInvalidState) {
			return stopErr
		}
	}
	if c.id == "" {
		return stopErr
	}
	if err := c.runtime.Remove(ctx, c.id); err != nil {
		return errors.Join(stopErr, fmt.Errorf("failed to remove container %s: %w", shortID(c.id), err))
	}
	if stopErr != nil {
		c.logger.Warn("container removed after failed stop", "error", stopErr)
		c.host = ""
		c.ports = nil
		c.setState(StateStopped)
	}
	return nil
}

// Exec runs cmd inside the container. A non-zero exit code is reported in the
// result, not as an error.
func (c *Container) Exec(ctx context.Context, cmd ...string) (ExecResult, error) {
	if err := c.live(); err != nil {
		return ExecResult{}, err
	}
	c.logger.Debug("exec", "cmd", cmd)
	return c.runtime.Exec(ctx, c.id, cmd)
}

// CopyInto copies a host file into containerDir with the given mode.
func (c *Container) CopyInto(ctx context.Context, hostPath, containerDir string, mode os.FileMode) error {
	if err := c.live(); err != nil {
		return err
	}
	c.logger.Debug("copy into container", "src", hostPath, "dst", containerDir, "mode", mode)
	return c.runtime.CopyInto(ctx, c.id, hostPath, containerDir, mode)
}

// Logs opens a new follow stream of the container output.
func (c *Container) Logs(ctx context.Context) (io.ReadCloser, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return c.runtime.Logs(ctx, c.id)
}

// Hostname returns the host through which published ports are reachable.
func (c *Container) Hostname() (string, error) {
	if c.ports == nil {
		return "", ErrNotRunning
	}
	return c.host, nil
}

// MappedPort returns the host port published for a declared container port,
// given as "9020/tcp" or "9020". Ports that were never declared as published
// fail immediately with a MappingError.
func (c *Container) MappedPort(port string) (nat.Port, error) {
	p, err := parsePort(port)
	if err != nil {
		return "", &MappingError{Port: port}
	}
	if !c.declares(p) {
		return "", &MappingError{Port: string(p)}
	}
	if c.ports == nil {
		return "", ErrNotRunning
	}
	return c.ports[p], nil
}

// Endpoint composes scheme, hostname and the mapped host port of port into a
// URL such as "http://localhost:49153/".
func (c *Container) Endpoint(scheme, port string) (string, error) {
	mapped, err := c.MappedPort(port)
	if err != nil {
		return "", err
	}
	host, err := c.Hostname()
	if err != nil {
		return "", err
	}

	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, mapped.Port()), Path: "/"}
	return u.String(), nil
}

// resolve caches the hostname and every declared port mapping.
func (c *Container) resolve(ctx context.Context) error {
	host, err := c.runtime.Hostname(ctx, c.id)
	if err != nil {
		return fmt.Errorf("failed to resolve hostname: %w", err)
	}

	ports := make(map[nat.Port]nat.Port, len(c.config.PortBindings))
	for _, binding := range c.config.PortBindings {
		if !binding.Published() {
			continue
		}
		mapped, err := c.runtime.MappedPort(ctx, c.id, binding.Port)
		if err != nil {
			return fmt.Errorf("failed to resolve mapped port %s: %w", binding.Port, err)
		}
		ports[binding.Port] = mapped
	}

	c.host = host
	c.ports = ports
	return nil
}

func (c *Container) declares(port nat.Port) bool {
	for _, binding := range c.config.PortBindings {
		if binding.Port == port && binding.Published() {
			return true
		}
	}
	return false
}

func (c *Container) live() error {
	if c.id == "" {
		return ErrNotRunning
	}
	switch c.state {
	case StateRunning, StateReady, StateStartupFailed:
		return nil
	default:
		return fmt.Errorf("%w: container is %s", ErrNotRunning, c.state)
	}
}

func (c *Container) setState(state State) {
	c.logger.Debug("container state changed", "from", c.state, "to", state)
	c.state = state
}

func (c *Container) fail(err error) error {
	c.setState(StateStartupFailed)
	c.logger.Warn("container startup failed", "error", err)
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// waitTarget exposes a container to wait strategies.
type waitTarget struct {
	c *Container
}

var _ wait.StrategyTarget = waitTarget{}

func (t waitTarget) Host(context.Context) (string, error) {
	return t.c.Hostname()
}

func (t waitTarget) MappedPort(_ context.Context, port nat.Port) (nat.Port, error) {
	return t.c.MappedPort(string(port))
}

func (t waitTarget) Logs(ctx context.Context) (io.ReadCloser, error) {
	return t.c.Logs(ctx)
}
