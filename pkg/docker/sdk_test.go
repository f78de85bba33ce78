package docker

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ephemera "github.com/yarlson/ephemera/pkg/container"
	"github.com/yarlson/ephemera/pkg/wait"
	"github.com/yarlson/ephemera/tests/servercontainer"
)

func TestCreateConfig(t *testing.T) {
	cfg, hostCfg := createConfig(ephemera.ContainerConfig{
		Resource:   ephemera.ResourceConfig{Labels: map[string]string{"purpose": "test"}},
		Image:      "gcr.io/cloud-spanner-emulator/emulator:latest",
		Entrypoint: []string{"/gateway_main"},
		Env:        map[string]string{"B": "2", "A": "1"},
		Mounts:     []ephemera.Mount{{HostPath: "/data", ContainerPath: "/data", AccessMode: ephemera.ReadWrite}},
		PortBindings: []ephemera.PortBinding{
			{Port: "9020/tcp", AssignRandomHostPort: true},
			{Port: "9010/tcp", HostPort: "19010"},
			{Port: "8080/tcp"},
		},
	})

	assert.Equal(t, []string{"A=1", "B=2"}, cfg.Env)
	assert.Equal(t, []string{"/gateway_main"}, []string(cfg.Entrypoint))
	assert.Equal(t, map[string]string{"purpose": "test"}, cfg.Labels)
	assert.Len(t, cfg.ExposedPorts, 3)
	assert.Equal(t, []string{"/data:/data:rw"}, hostCfg.Binds)
	assert.Equal(t, nat.PortMap{
		"9020/tcp": {{HostPort: ""}},
		"9010/tcp": {{HostPort: "19010"}},
	}, hostCfg.PortBindings)
}

func TestTarFile(t *testing.T) {
	hostPath := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(hostPath, []byte("services: {}\n"), 0o600))

	archive, err := tarFile(hostPath, 0o644)
	require.NoError(t, err)

	tr := tar.NewReader(archive)
	header, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "docker-compose.yml", header.Name)
	assert.Equal(t, int64(0o644), header.Mode)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "services: {}\n", string(content))

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestTarFile_Missing(t *testing.T) {
	_, err := tarFile(filepath.Join(t.TempDir(), "missing.yml"), 0o644)

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSDKRuntime(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	server, err := servercontainer.NewContainer(t)
	require.NoError(t, err)
	defer func() { _ = server.Container.Terminate(ctx) }()

	rt, err := NewSDKRuntime(nil)
	require.NoError(t, err)
	defer rt.Close()

	id := server.Container.GetContainerID()

	t.Run("MappedPortMatchesTestcontainers", func(t *testing.T) {
		mapped, err := rt.MappedPort(ctx, id, servercontainer.HTTPPort)
		require.NoError(t, err)
		assert.Equal(t, server.HTTPPort.Port(), mapped.Port())
	})

	t.Run("CopyIntoWorkingDirAndExec", func(t *testing.T) {
		hostPath := filepath.Join(t.TempDir(), "probe.txt")
		require.NoError(t, os.WriteFile(hostPath, []byte("probe\n"), 0o600))

		require.NoError(t, rt.CopyInto(ctx, id, hostPath, ".", 0o644))

		result, err := rt.Exec(ctx, id, []string{"stat", "-c", "%a", "/probe.txt"})
		require.NoError(t, err)
		assert.Equal(t, 0, result.ExitCode)
		assert.Equal(t, "644", strings.TrimSpace(result.Stdout))
	})

	t.Run("ExecNonZero", func(t *testing.T) {
		result, err := rt.Exec(ctx, id, []string{"sh", "-c", "echo oops >&2; exit 4"})
		require.NoError(t, err)
		assert.Equal(t, 4, result.ExitCode)
		assert.Equal(t, "oops\n", result.Stderr)
	})

	t.Run("StartWithWaitStrategy", func(t *testing.T) {
		c, err := ephemera.NewBuilder().
			WithRuntime(rt).
			WithImage(servercontainer.Image).
			WithCommand("sh", "-c", "echo ready; sleep 60").
			WithPortBinding("80", true).
			WithWaitStrategy(wait.ForLog("ready").WithStartupTimeout(time.Minute)).
			Build()
		require.NoError(t, err)
		defer func() { _ = c.Terminate(ctx) }()

		require.NoError(t, c.Start(ctx))
		assert.Equal(t, ephemera.StateReady, c.State())

		endpoint, err := c.Endpoint("http", "80")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(endpoint, "http://"))
	})

	t.Run("StopAndRemoveMissing", func(t *testing.T) {
		assert.NoError(t, rt.Stop(ctx, "ephemera-missing-container"))
		assert.NoError(t, rt.Remove(ctx, "ephemera-missing-container"))
	})
}
