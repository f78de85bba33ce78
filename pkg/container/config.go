package container

import (
	"context"
	"log/slog"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/yarlson/ephemera/pkg/wait"
)

// AccessMode controls whether a bind mount is writable from the container.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

func (m AccessMode) String() string {
	if m == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Mount binds a host path into the container.
type Mount struct {
	HostPath      string `validate:"required"`
	ContainerPath string `validate:"required,startswith=/"`
	AccessMode    AccessMode
}

// PortBinding declares a container port to publish on the host. Either a
// fixed HostPort is requested or, with AssignRandomHostPort, the runtime picks
// a free one.
type PortBinding struct {
	Port                 nat.Port `validate:"required"`
	HostPort             string   `validate:"omitempty,numeric"`
	AssignRandomHostPort bool
}

// Published reports whether the port is reachable from the host. Bindings
// with neither a fixed nor a random host port are only exposed.
func (b PortBinding) Published() bool {
	return b.AssignRandomHostPort || b.HostPort != ""
}

// StartupCallback runs once the container is running. Callbacks run in
// registration order and the first error aborts startup.
type StartupCallback func(ctx context.Context, c *Container) error

// CreateModifier adjusts the Docker create parameters right before a container
// is created by the Docker Engine driver.
type CreateModifier func(config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig)

// ResourceConfig holds settings shared by every runtime-managed resource.
type ResourceConfig struct {
	Runtime   Runtime      `validate:"-"`
	Logger    *slog.Logger `validate:"-"`
	Labels    map[string]string
	Modifiers []CreateModifier `validate:"-"`
}

// ContainerConfig describes the desired state of a container. Values are never
// modified after construction; Merge returns a new value.
type ContainerConfig struct {
	Resource         ResourceConfig
	Name             string
	Image            string `validate:"required"`
	Entrypoint       []string
	Command          []string
	WorkingDir       string
	Env              map[string]string
	Mounts           []Mount           `validate:"dive"`
	PortBindings     []PortBinding     `validate:"dive"`
	StartupCallbacks []StartupCallback `validate:"-"`
	WaitStrategy     wait.Strategy     `validate:"-"`
}

// Config is the capability set every domain configuration provides so the
// shared builder machinery can thread generic changes through it.
type Config[C any] interface {
	// Container returns the generic part of the configuration.
	Container() ContainerConfig
	// CloneResource lifts a resource delta into a domain delta.
	CloneResource(delta ResourceConfig) C
	// CloneContainer lifts a container delta into a domain delta.
	CloneContainer(delta ContainerConfig) C
	// Merge combines the receiver with a newer delta.
	Merge(newer C) C
	// Validate checks generic and domain specific requirements.
	Validate() error
}

var _ Config[ContainerConfig] = ContainerConfig{}

// Default returns the baseline configuration. Merging it into any
// configuration changes nothing.
func Default() ContainerConfig {
	return ContainerConfig{}
}

// FromResourceConfig lifts a resource configuration into a container
// configuration that carries no container settings of its own.
func FromResourceConfig(resource ResourceConfig) ContainerConfig {
	return Merge(Default(), ContainerConfig{Resource: resource})
}

// FromContainerConfig returns an independent copy of config.
func FromContainerConfig(config ContainerConfig) ContainerConfig {
	return Merge(Default(), config)
}

func (c ContainerConfig) Container() ContainerConfig {
	return FromContainerConfig(c)
}

func (c ContainerConfig) CloneResource(delta ResourceConfig) ContainerConfig {
	return FromResourceConfig(delta)
}

func (c ContainerConfig) CloneContainer(delta ContainerConfig) ContainerConfig {
	return FromContainerConfig(delta)
}

func (c ContainerConfig) Merge(newer ContainerConfig) ContainerConfig {
	return Merge(c, newer)
}

// Validate checks the generic fields every container needs.
func (c ContainerConfig) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return err
	}
	if c.Resource.Runtime == nil {
		return &ValidationError{Field: "Runtime", Tag: "required"}
	}
	for _, binding := range c.PortBindings {
		if _, err := nat.ParsePort(binding.Port.Port()); err != nil {
			return &ValidationError{Field: "PortBindings", Tag: "port"}
		}
	}
	return nil
}

// Merge combines two configurations. Scalars take newer's value when set,
// otherwise old's. Collections are concatenated old then newer; port bindings
// are keyed by container port and maps by key, newer winning. The result
// shares no backing storage with either input.
func Merge(old, newer ContainerConfig) ContainerConfig {
	return ContainerConfig{
		Resource:         mergeResource(old.Resource, newer.Resource),
		Name:             pick(old.Name, newer.Name),
		Image:            pick(old.Image, newer.Image),
		Entrypoint:       pickSlice(old.Entrypoint, newer.Entrypoint),
		Command:          pickSlice(old.Command, newer.Command),
		WorkingDir:       pick(old.WorkingDir, newer.WorkingDir),
		Env:              mergeMaps(old.Env, newer.Env),
		Mounts:           concat(old.Mounts, newer.Mounts),
		PortBindings:     mergePortBindings(old.PortBindings, newer.PortBindings),
		StartupCallbacks: concat(old.StartupCallbacks, newer.StartupCallbacks),
		WaitStrategy:     pickStrategy(old.WaitStrategy, newer.WaitStrategy),
	}
}

func mergeResource(old, newer ResourceConfig) ResourceConfig {
	merged := ResourceConfig{
		Runtime:   old.Runtime,
		Logger:    pick(old.Logger, newer.Logger),
		Labels:    mergeMaps(old.Labels, newer.Labels),
		Modifiers: concat(old.Modifiers, newer.Modifiers),
	}
	if newer.Runtime != nil {
		merged.Runtime = newer.Runtime
	}
	return merged
}

func pick[T comparable](old, newer T) T {
	var zero T
	if newer != zero {
		return newer
	}
	return old
}

func pickStrategy(old, newer wait.Strategy) wait.Strategy {
	if newer != nil {
		return newer
	}
	return old
}

func pickSlice[T any](old, newer []T) []T {
	if len(newer) > 0 {
		return concat(nil, newer)
	}
	return concat(old, nil)
}

func concat[T any](old, newer []T) []T {
	if len(old)+len(newer) == 0 {
		return nil
	}
	merged := make([]T, 0, len(old)+len(newer))
	merged = append(merged, old...)
	return append(merged, newer...)
}

func mergeMaps(old, newer map[string]string) map[string]string {
	if len(old)+len(newer) == 0 {
		return nil
	}
	merged := make(map[string]string, len(old)+len(newer))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range newer {
		merged[k] = v
	}
	return merged
}

// mergePortBindings keeps first-declaration order; a newer binding for an
// already declared port replaces it in place.
func mergePortBindings(old, newer []PortBinding) []PortBinding {
	merged := concat(old, nil)
	for _, binding := range newer {
		replaced := false
		for i := range merged {
			if merged[i].Port == binding.Port {
				merged[i] = binding
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, binding)
		}
	}
	return merged
}
