// Package servercontainer starts a disposable HTTP server container with
// testcontainers-go for driver integration tests.
package servercontainer

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	Image    = "nginx:alpine"
	HTTPPort = "80/tcp"
)

type Container struct {
	Container testcontainers.Container
	Host      string
	HTTPPort  nat.Port
}

func NewContainer(t *testing.T) (*Container, error) {
	ctx := context.Background()

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        Image,
			ExposedPorts: []string{HTTPPort},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(HTTPPort),
				wait.ForHTTP("/").WithPort(HTTPPort),
			),
			Labels: map[string]string{"ephemera.test": t.Name()},
		},
		Started: true,
	}

	container, err := testcontainers.GenericContainer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start Container: %w", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, HTTPPort)
	if err != nil {
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &Container{
		Container: container,
		Host:      host,
		HTTPPort:  mappedPort,
	}, nil
}
