package container

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/yarlson/ephemera/pkg/wait"
)

// Base is the fluent machinery shared by all builders. B is the concrete
// builder type returned by every method and C its configuration type.
//
// A Base is an immutable value: each method returns a new builder holding a
// newly merged configuration, so one base may be branched into any number of
// independent chains. The first invalid argument is kept and turns every later
// call into a no-op; it is reported by Err and by Build.
type Base[B any, C Config[C]] struct {
	config C
	err    error
	wrap   func(Base[B, C]) B
}

// NewBase starts a chain from config. wrap turns a Base into the concrete
// builder type.
func NewBase[B any, C Config[C]](config C, wrap func(Base[B, C]) B) Base[B, C] {
	return Base[B, C]{config: config, wrap: wrap}
}

// Config returns a copy of the accumulated configuration.
func (b Base[B, C]) Config() C {
	var empty C
	return b.config.Merge(empty)
}

// Err returns the first argument error recorded on the chain.
func (b Base[B, C]) Err() error {
	return b.err
}

// Merge returns a builder holding the accumulated configuration merged with
// delta.
func (b Base[B, C]) Merge(delta C) B {
	if b.err != nil {
		return b.wrap(b)
	}
	return b.wrap(Base[B, C]{config: b.config.Merge(delta), wrap: b.wrap})
}

// Fail records an argument error and returns a builder carrying it.
func (b Base[B, C]) Fail(name, reason string) B {
	if b.err != nil {
		return b.wrap(b)
	}
	return b.wrap(Base[B, C]{config: b.config, err: &ArgumentError{Name: name, Reason: reason}, wrap: b.wrap})
}

// Finalize returns the validated configuration.
func (b Base[B, C]) Finalize() (C, error) {
	if b.err != nil {
		var zero C
		return zero, b.err
	}
	if err := b.config.Validate(); err != nil {
		var zero C
		return zero, err
	}
	return b.config, nil
}

func (b Base[B, C]) withResource(delta ResourceConfig) B {
	return b.Merge(b.config.CloneResource(delta))
}

func (b Base[B, C]) withContainer(delta ContainerConfig) B {
	return b.Merge(b.config.CloneContainer(delta))
}

// WithRuntime sets the runtime that will manage the container.
func (b Base[B, C]) WithRuntime(runtime Runtime) B {
	if runtime == nil {
		return b.Fail("runtime", "must not be nil")
	}
	return b.withResource(ResourceConfig{Runtime: runtime})
}

// WithLogger sets the logger lifecycle events are written to.
func (b Base[B, C]) WithLogger(logger *slog.Logger) B {
	if logger == nil {
		return b.Fail("logger", "must not be nil")
	}
	return b.withResource(ResourceConfig{Logger: logger})
}

// WithLabel adds a label to the container.
func (b Base[B, C]) WithLabel(key, value string) B {
	if key == "" {
		return b.Fail("label", "key must not be empty")
	}
	return b.withResource(ResourceConfig{Labels: map[string]string{key: value}})
}

// WithCreateModifier registers a function adjusting the Docker create
// parameters.
func (b Base[B, C]) WithCreateModifier(modifier CreateModifier) B {
	if modifier == nil {
		return b.Fail("modifier", "must not be nil")
	}
	return b.withResource(ResourceConfig{Modifiers: []CreateModifier{modifier}})
}

// WithName sets the container name.
func (b Base[B, C]) WithName(name string) B {
	if strings.TrimSpace(name) == "" {
		return b.Fail("name", "must not be empty")
	}
	return b.withContainer(ContainerConfig{Name: name})
}

// WithImage sets the image to run.
func (b Base[B, C]) WithImage(image string) B {
	if strings.TrimSpace(image) == "" {
		return b.Fail("image", "must not be empty")
	}
	return b.withContainer(ContainerConfig{Image: image})
}

// WithEntrypoint overrides the image entrypoint.
func (b Base[B, C]) WithEntrypoint(entrypoint ...string) B {
	if len(entrypoint) == 0 {
		return b.Fail("entrypoint", "must not be empty")
	}
	return b.withContainer(ContainerConfig{Entrypoint: entrypoint})
}

// WithCommand overrides the image command.
func (b Base[B, C]) WithCommand(command ...string) B {
	if len(command) == 0 {
		return b.Fail("command", "must not be empty")
	}
	return b.withContainer(ContainerConfig{Command: command})
}

// WithWorkingDir sets the working directory of the container process.
func (b Base[B, C]) WithWorkingDir(dir string) B {
	if !strings.HasPrefix(dir, "/") {
		return b.Fail("working dir", "must be an absolute path")
	}
	return b.withContainer(ContainerConfig{WorkingDir: dir})
}

// WithEnv sets an environment variable.
func (b Base[B, C]) WithEnv(key, value string) B {
	if key == "" || strings.Contains(key, "=") {
		return b.Fail("env", "key must be non-empty and must not contain '='")
	}
	return b.withContainer(ContainerConfig{Env: map[string]string{key: value}})
}

// WithBindMount mounts hostPath at containerPath.
func (b Base[B, C]) WithBindMount(hostPath, containerPath string, mode AccessMode) B {
	if hostPath == "" {
		return b.Fail("host path", "must not be empty")
	}
	if !strings.HasPrefix(containerPath, "/") {
		return b.Fail("container path", "must be an absolute path")
	}
	if !filepath.IsAbs(hostPath) {
		abs, err := filepath.Abs(hostPath)
		if err != nil {
			return b.Fail("host path", err.Error())
		}
		hostPath = abs
	}
	return b.withContainer(ContainerConfig{Mounts: []Mount{{
		HostPath:      hostPath,
		ContainerPath: containerPath,
		AccessMode:    mode,
	}}})
}

// WithPortBinding declares a container port such as "8080/tcp" or "8080".
// With assignRandomHostPort the runtime publishes it on a free host port.
func (b Base[B, C]) WithPortBinding(port string, assignRandomHostPort bool) B {
	p, err := parsePort(port)
	if err != nil {
		return b.Fail("port", err.Error())
	}
	return b.withContainer(ContainerConfig{PortBindings: []PortBinding{{
		Port:                 p,
		AssignRandomHostPort: assignRandomHostPort,
	}}})
}

// WithFixedPortBinding publishes a container port on a specific host port.
func (b Base[B, C]) WithFixedPortBinding(port, hostPort string) B {
	p, err := parsePort(port)
	if err != nil {
		return b.Fail("port", err.Error())
	}
	if _, err := nat.ParsePort(hostPort); err != nil || hostPort == "" {
		return b.Fail("host port", "must be a port number")
	}
	return b.withContainer(ContainerConfig{PortBindings: []PortBinding{{Port: p, HostPort: hostPort}}})
}

// WithStartupCallback appends a callback to the startup sequence.
func (b Base[B, C]) WithStartupCallback(callback StartupCallback) B {
	if callback == nil {
		return b.Fail("startup callback", "must not be nil")
	}
	return b.withContainer(ContainerConfig{StartupCallbacks: []StartupCallback{callback}})
}

// WithWaitStrategy sets the readiness condition checked after start.
func (b Base[B, C]) WithWaitStrategy(strategy wait.Strategy) B {
	if strategy == nil {
		return b.Fail("wait strategy", "must not be nil")
	}
	return b.withContainer(ContainerConfig{WaitStrategy: strategy})
}

// Builder builds plain containers from any image.
type Builder struct {
	Base[Builder, ContainerConfig]
}

// NewBuilder returns a builder starting from the default configuration.
func NewBuilder() Builder {
	return Builder{NewBase(Default(), wrapBuilder)}
}

func wrapBuilder(b Base[Builder, ContainerConfig]) Builder {
	return Builder{b}
}

// Build validates the configuration and returns a container in the Created
// state. No runtime call is made.
func (b Builder) Build() (*Container, error) {
	config, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	return New(config, config), nil
}

// parsePort normalizes "8080" and "8080/udp" style port specs.
func parsePort(port string) (nat.Port, error) {
	proto, number := nat.SplitProtoPort(port)
	if number == "" {
		return "", errors.New("must not be empty")
	}
	value, err := nat.ParsePort(number)
	if err != nil || value == 0 {
		return "", fmt.Errorf("invalid port %q", port)
	}
	return nat.NewPort(proto, number)
}
