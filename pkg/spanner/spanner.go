// Package spanner runs the Cloud Spanner emulator.
package spanner

import (
	"net"

	"github.com/yarlson/ephemera/pkg/container"
	"github.com/yarlson/ephemera/pkg/wait"
)

const (
	Image = "gcr.io/cloud-spanner-emulator/emulator:latest"

	RESTPort = "9020/tcp"
	GRPCPort = "9010/tcp"

	readyPattern = "(?s).*listening.*$"
)

// Config is the emulator configuration. The emulator has no settings beyond
// the generic container ones.
type Config struct {
	container.ContainerConfig
}

var _ container.Config[Config] = Config{}

func (c Config) Container() container.ContainerConfig {
	return container.FromContainerConfig(c.ContainerConfig)
}

func (c Config) CloneResource(delta container.ResourceConfig) Config {
	return Config{container.FromResourceConfig(delta)}
}

func (c Config) CloneContainer(delta container.ContainerConfig) Config {
	return Config{container.FromContainerConfig(delta)}
}

func (c Config) Merge(newer Config) Config {
	return Config{container.Merge(c.ContainerConfig, newer.ContainerConfig)}
}

func (c Config) Validate() error {
	return c.ContainerConfig.Validate()
}

// Builder builds emulator containers.
type Builder struct {
	container.Base[Builder, Config]
}

// NewBuilder returns a builder publishing the REST and gRPC ports on random
// host ports and waiting for the emulator to log that it is listening.
func NewBuilder() Builder {
	return Builder{container.NewBase(Config{}, wrap)}.
		WithImage(Image).
		WithPortBinding(RESTPort, true).
		WithPortBinding(GRPCPort, true).
		WithWaitStrategy(wait.ForLog(readyPattern))
}

func wrap(b container.Base[Builder, Config]) Builder {
	return Builder{b}
}

func (b Builder) Build() (*Container, error) {
	config, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	return &Container{container.New(config.ContainerConfig, config)}, nil
}

// Container is a running emulator.
type Container struct {
	*container.Container
}

// EmulatorEndpoint returns the REST endpoint, e.g. "http://localhost:49153/".
func (c *Container) EmulatorEndpoint() (string, error) {
	return c.Endpoint("http", RESTPort)
}

// EmulatorGRPCEndpoint returns the gRPC endpoint in URL form.
func (c *Container) EmulatorGRPCEndpoint() (string, error) {
	return c.Endpoint("http", GRPCPort)
}

// EmulatorHost returns host:port of the gRPC endpoint, the form client
// libraries expect in SPANNER_EMULATOR_HOST.
func (c *Container) EmulatorHost() (string, error) {
	port, err := c.MappedPort(GRPCPort)
	if err != nil {
		return "", err
	}
	host, err := c.Hostname()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port.Port()), nil
}
