// Package compose runs a Docker Compose stack from inside a throwaway
// container that talks to the host daemon through its control socket.
package compose

import (
	"strings"

	"github.com/yarlson/ephemera/pkg/container"
)

const (
	// Image ships the docker CLI with the compose plugin.
	Image = "docker:24-cli"

	// DockerSocketPath is bind-mounted so compose drives the host daemon.
	DockerSocketPath = "/var/run/docker.sock"
)

// keepAlive keeps the container running until it is stopped.
var keepAlive = []string{"/bin/sh", "-c", "trap : TERM INT; sleep infinity & wait"}

// Builder builds compose containers.
type Builder struct {
	container.Base[Builder, Config]
}

// NewBuilder returns a builder preconfigured with the compose image, a
// keep-alive entrypoint, the docker socket mount and the startup callback that
// brings the stack up.
func NewBuilder() Builder {
	return Builder{container.NewBase(Config{}, wrap)}.
		WithImage(Image).
		WithEntrypoint(keepAlive...).
		WithBindMount(DockerSocketPath, DockerSocketPath, container.ReadWrite).
		WithStartupCallback(configureCompose)
}

func wrap(b container.Base[Builder, Config]) Builder {
	return Builder{b}
}

// WithComposeFile sets the host path of the compose file.
func (b Builder) WithComposeFile(path string) Builder {
	if strings.TrimSpace(path) == "" {
		return b.Fail("compose file", "must not be empty")
	}
	return b.Merge(Config{ComposeFile: path})
}

// WithLocalCompose selects a compose binary installed on the host instead of
// the one in the container.
func (b Builder) WithLocalCompose(local bool) Builder {
	return b.Merge(Config{LocalCompose: &local})
}

// WithOptions appends global compose options such as "--compatibility".
func (b Builder) WithOptions(options ...string) Builder {
	if len(options) == 0 {
		return b.Fail("options", "must not be empty")
	}
	for _, option := range options {
		if strings.TrimSpace(option) == "" {
			return b.Fail("options", "must not contain empty values")
		}
	}
	return b.Merge(Config{Options: append([]string(nil), options...)})
}

// WithRemoveImages sets which images are removed when the stack goes down.
func (b Builder) WithRemoveImages(removeImages RemoveImages) Builder {
	if removeImages == RemoveImagesUnset || !removeImages.valid() {
		return b.Fail("remove images", "must be one of none, local or all")
	}
	return b.Merge(Config{RemoveImages: removeImages})
}

// Build validates the configuration and returns a compose container in the
// Created state.
func (b Builder) Build() (*Container, error) {
	config, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	state := &stackState{config: config}
	return &Container{
		Container: container.New(config.ContainerConfig, state),
		config:    config,
		stack:     state,
	}, nil
}
