package compose

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/yarlson/ephemera/pkg/container"
	"github.com/yarlson/ephemera/tests/fakeruntime"
)

const upCommand = "docker compose --compatibility -f docker-compose.yml up --detach"

type ComposeTestSuite struct {
	suite.Suite
	runtime *fakeruntime.Runtime
	wd      string
}

func TestComposeSuite(t *testing.T) {
	suite.Run(t, new(ComposeTestSuite))
}

func (suite *ComposeTestSuite) SetupTest() {
	wd, err := os.Getwd()
	require.NoError(suite.T(), err)
	suite.wd = wd
	require.NoError(suite.T(), os.Chdir(suite.T().TempDir()))

	suite.runtime = fakeruntime.New()
}

func (suite *ComposeTestSuite) TearDownTest() {
	require.NoError(suite.T(), os.Chdir(suite.wd))
}

func (suite *ComposeTestSuite) writeComposeFile() {
	content := []byte("services:\n  web:\n    image: nginx:alpine\n")
	require.NoError(suite.T(), os.WriteFile("docker-compose.yml", content, 0o600))
}

func (suite *ComposeTestSuite) builder() Builder {
	return NewBuilder().
		WithRuntime(suite.runtime).
		WithComposeFile("./docker-compose.yml").
		WithLocalCompose(false).
		WithOptions("--compatibility")
}

func (suite *ComposeTestSuite) TestEndToEnd() {
	suite.writeComposeFile()

	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), c.Start(context.Background()))

	assert.Equal(suite.T(), container.StateReady, c.State())
	assert.Equal(suite.T(), []string{"create", "start", "hostname", "copy", "exec"}, suite.runtime.Ops())

	copies := suite.runtime.Copies()
	require.Len(suite.T(), copies, 1)
	assert.Equal(suite.T(), ".", copies[0].ContainerDir)
	assert.Equal(suite.T(), os.FileMode(0o644), copies[0].Mode)
	assert.Equal(suite.T(), "rw-r--r--", copies[0].Mode.String()[1:])
	assert.Contains(suite.T(), string(copies[0].Content), "nginx:alpine")

	calls := suite.runtime.Calls()
	exec := calls[len(calls)-1]
	assert.Contains(suite.T(), exec.Args, "--compatibility")
	assert.Equal(suite.T(), []string{"docker", "compose", "--compatibility", "-f", "docker-compose.yml", "up", "--detach"}, exec.Args)
}

func (suite *ComposeTestSuite) TestEndToEnd_NonZeroExit() {
	suite.writeComposeFile()
	suite.runtime.OnExec(upCommand, container.ExecResult{ExitCode: 17, Stderr: "no such service\n"})

	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)

	err = c.Start(context.Background())

	var execErr *container.ExecError
	require.ErrorAs(suite.T(), err, &execErr)
	assert.Equal(suite.T(), 17, execErr.ExitCode)
	assert.Equal(suite.T(), "no such service\n", execErr.Stderr)
	assert.Contains(suite.T(), err.Error(), "no such service")
	assert.Equal(suite.T(), container.StateStartupFailed, c.State())
}

func (suite *ComposeTestSuite) TestMissingComposeFile() {
	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)

	err = c.Start(context.Background())

	var notFound *container.FileNotFoundError
	require.ErrorAs(suite.T(), err, &notFound)
	assert.Equal(suite.T(), "./docker-compose.yml", notFound.Path)
	assert.ErrorIs(suite.T(), err, fs.ErrNotExist)
	assert.NotContains(suite.T(), suite.runtime.Ops(), "copy")
	assert.NotContains(suite.T(), suite.runtime.Ops(), "exec")
	assert.Equal(suite.T(), container.StateStartupFailed, c.State())
}

func (suite *ComposeTestSuite) TestComposeFileIsDirectory() {
	require.NoError(suite.T(), os.Mkdir("docker-compose.yml", 0o755))
	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)

	err = c.Start(context.Background())

	var notFound *container.FileNotFoundError
	assert.ErrorAs(suite.T(), err, &notFound)
}

func (suite *ComposeTestSuite) TestLocalComposeSkipsOrchestration() {
	c, err := suite.builder().WithLocalCompose(true).Build()
	require.NoError(suite.T(), err)

	require.NoError(suite.T(), c.Start(context.Background()))

	assert.Equal(suite.T(), container.StateReady, c.State())
	assert.NotContains(suite.T(), suite.runtime.Ops(), "copy")
	assert.NotContains(suite.T(), suite.runtime.Ops(), "exec")
}

func (suite *ComposeTestSuite) TestLocalComposeWithoutComposeFile() {
	local := true
	config := Config{LocalCompose: &local}
	config.ContainerConfig = container.ContainerConfig{
		Resource: container.ResourceConfig{Runtime: suite.runtime},
		Image:    Image,
	}
	c := container.New(config.ContainerConfig, config)
	require.NoError(suite.T(), c.Start(context.Background()))

	assert.NoError(suite.T(), configureCompose(context.Background(), c))
	assert.NotContains(suite.T(), suite.runtime.Ops(), "copy")
}

func (suite *ComposeTestSuite) TestCallbackOnForeignContainer() {
	c, err := container.NewBuilder().
		WithRuntime(suite.runtime).
		WithImage("alpine").
		WithStartupCallback(configureCompose).
		Build()
	require.NoError(suite.T(), err)

	err = c.Start(context.Background())

	var configErr *container.ConfigurationError
	assert.ErrorAs(suite.T(), err, &configErr)
	assert.Equal(suite.T(), container.StateStartupFailed, c.State())
}

func (suite *ComposeTestSuite) TestStopBringsStackDown() {
	suite.writeComposeFile()
	c, err := suite.builder().WithRemoveImages(RemoveImagesLocal).Build()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), c.Start(context.Background()))

	require.NoError(suite.T(), c.Terminate(context.Background()))

	calls := suite.runtime.Calls()
	require.GreaterOrEqual(suite.T(), len(calls), 3)
	down := calls[len(calls)-3]
	assert.Equal(suite.T(), "exec", down.Op)
	assert.Equal(suite.T(),
		[]string{"docker", "compose", "--compatibility", "-f", "docker-compose.yml", "down", "--rmi", "local"},
		down.Args)
	assert.Equal(suite.T(), []string{"stop", "remove"}, []string{calls[len(calls)-2].Op, calls[len(calls)-1].Op})
	assert.Equal(suite.T(), container.StateStopped, c.State())
}

func (suite *ComposeTestSuite) TestStopAfterFailedStartupSkipsDown() {
	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)
	require.Error(suite.T(), c.Start(context.Background()))

	require.NoError(suite.T(), c.Stop(context.Background()))

	assert.NotContains(suite.T(), suite.runtime.Ops(), "exec")
	assert.Equal(suite.T(), container.StateStopped, c.State())
}

func (suite *ComposeTestSuite) TestTerminateAfterFailedUpBringsStackDown() {
	suite.writeComposeFile()
	suite.runtime.OnExec(upCommand, container.ExecResult{ExitCode: 1, Stderr: "pull access denied\n"})

	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)
	require.Error(suite.T(), c.Start(context.Background()))

	require.NoError(suite.T(), c.Terminate(context.Background()))

	calls := suite.runtime.Calls()
	var execs [][]string
	for _, call := range calls {
		if call.Op == "exec" {
			execs = append(execs, call.Args)
		}
	}
	require.Len(suite.T(), execs, 2)
	assert.Equal(suite.T(), []string{"docker", "compose", "--compatibility", "-f", "docker-compose.yml", "down"}, execs[1])
	assert.Equal(suite.T(), []string{"stop", "remove"}, []string{calls[len(calls)-2].Op, calls[len(calls)-1].Op})
	assert.Equal(suite.T(), container.StateStopped, c.State())
}

func (suite *ComposeTestSuite) TestTerminate_DownFailureStillRemoves() {
	suite.writeComposeFile()
	suite.runtime.OnExec("docker compose --compatibility -f docker-compose.yml down",
		container.ExecResult{ExitCode: 1, Stderr: "network in use\n"})

	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), c.Start(context.Background()))

	err = c.Terminate(context.Background())

	var execErr *container.ExecError
	require.ErrorAs(suite.T(), err, &execErr)
	assert.Contains(suite.T(), err.Error(), "network in use")
	ops := suite.runtime.Ops()
	assert.Equal(suite.T(), []string{"exec", "stop", "remove"}, ops[len(ops)-3:])
	assert.Equal(suite.T(), container.StateStopped, c.State())
}

func (suite *ComposeTestSuite) TestStop_DownRunsOnce() {
	suite.writeComposeFile()
	c, err := suite.builder().Build()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), c.Start(context.Background()))

	require.NoError(suite.T(), c.Stop(context.Background()))
	require.NoError(suite.T(), c.Terminate(context.Background()))

	downs := 0
	for _, call := range suite.runtime.Calls() {
		if call.Op == "exec" && call.Args[len(call.Args)-1] == "down" {
			downs++
		}
	}
	assert.Equal(suite.T(), 1, downs)
}

func TestNewBuilder_Defaults(t *testing.T) {
	config := NewBuilder().Config()

	assert.Equal(t, Image, config.Image)
	assert.Equal(t, keepAlive, config.Entrypoint)
	require.Len(t, config.Mounts, 1)
	assert.Equal(t, container.Mount{
		HostPath:      DockerSocketPath,
		ContainerPath: DockerSocketPath,
		AccessMode:    container.ReadWrite,
	}, config.Mounts[0])
	assert.Len(t, config.StartupCallbacks, 1)
	assert.False(t, config.IsLocal())
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name    string
		builder Builder
		field   string
	}{
		{"MissingComposeFile", NewBuilder().WithRuntime(fakeruntime.New()), "ComposeFile"},
		{"MissingRuntime", NewBuilder().WithComposeFile("docker-compose.yml"), "Runtime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.builder.Build()

			assert.Nil(t, c)
			var validationErr *container.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestBuilder_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder Builder
		arg     string
	}{
		{"EmptyComposeFile", NewBuilder().WithComposeFile(""), "compose file"},
		{"NoOptions", NewBuilder().WithOptions(), "options"},
		{"BlankOption", NewBuilder().WithOptions("--compatibility", " "), "options"},
		{"UnsetRemoveImages", NewBuilder().WithRemoveImages(RemoveImagesUnset), "remove images"},
		{"UnknownRemoveImages", NewBuilder().WithRemoveImages(RemoveImages(42)), "remove images"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var argErr *container.ArgumentError
			require.ErrorAs(t, tt.builder.Err(), &argErr)
			assert.Equal(t, tt.arg, argErr.Name)
		})
	}
}

func TestBuilder_GenericMutatorsKeepDomain(t *testing.T) {
	b := NewBuilder().
		WithEnv("COMPOSE_PROJECT_NAME", "ephemera").
		WithComposeFile("stack.yml").
		WithLabel("purpose", "test").
		WithOptions("--ansi", "never")

	config := b.Config()
	assert.Equal(t, "stack.yml", config.ComposeFile)
	assert.Equal(t, []string{"--ansi", "never"}, config.Options)
	assert.Equal(t, "ephemera", config.Env["COMPOSE_PROJECT_NAME"])
	assert.Equal(t, "test", config.Resource.Labels["purpose"])
	assert.Equal(t, Image, config.Image)
}

func TestBuilder_BranchesAreIndependent(t *testing.T) {
	base := NewBuilder().WithComposeFile("base.yml").WithOptions("--compatibility")

	local := base.WithLocalCompose(true)
	remote := base.WithOptions("--ansi", "never").WithComposeFile("remote.yml")

	assert.False(t, base.Config().IsLocal())
	assert.Equal(t, []string{"--compatibility"}, base.Config().Options)
	assert.Equal(t, "base.yml", base.Config().ComposeFile)

	assert.True(t, local.Config().IsLocal())
	assert.Equal(t, []string{"--compatibility"}, local.Config().Options)

	assert.False(t, remote.Config().IsLocal())
	assert.Equal(t, []string{"--compatibility", "--ansi", "never"}, remote.Config().Options)
	assert.Equal(t, "remote.yml", remote.Config().ComposeFile)
}

func TestConfig_Merge(t *testing.T) {
	yes, no := true, false
	old := Config{ComposeFile: "a.yml", LocalCompose: &yes, Options: []string{"--a"}, RemoveImages: RemoveImagesAll}
	newer := Config{LocalCompose: &no, Options: []string{"--b"}}

	merged := old.Merge(newer)

	assert.Equal(t, "a.yml", merged.ComposeFile)
	assert.False(t, merged.IsLocal())
	assert.Equal(t, []string{"--a", "--b"}, merged.Options)
	assert.Equal(t, RemoveImagesAll, merged.RemoveImages)

	*merged.LocalCompose = true
	merged.Options[0] = "--changed"
	assert.False(t, *newer.LocalCompose)
	assert.Equal(t, "--a", old.Options[0])

	identity := old.Merge(Config{})
	assert.Equal(t, old.ComposeFile, identity.ComposeFile)
	assert.Equal(t, old.IsLocal(), identity.IsLocal())
	assert.Equal(t, old.RemoveImages, identity.RemoveImages)
	assert.Equal(t, old.Options, identity.Options)
}

func TestConfig_Commands(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		start  []string
		stop   []string
	}{
		{
			name:   "Plain",
			config: Config{ComposeFile: "/srv/app/docker-compose.yml"},
			start:  []string{"docker", "compose", "-f", "docker-compose.yml", "up", "--detach"},
			stop:   []string{"docker", "compose", "-f", "docker-compose.yml", "down"},
		},
		{
			name:   "OptionsAndRemoveAll",
			config: Config{ComposeFile: "stack.yml", Options: []string{"--compatibility"}, RemoveImages: RemoveImagesAll},
			start:  []string{"docker", "compose", "--compatibility", "-f", "stack.yml", "up", "--detach"},
			stop:   []string{"docker", "compose", "--compatibility", "-f", "stack.yml", "down", "--rmi", "all"},
		},
		{
			name:   "RemoveNone",
			config: Config{ComposeFile: "stack.yml", RemoveImages: RemoveImagesNone},
			start:  []string{"docker", "compose", "-f", "stack.yml", "up", "--detach"},
			stop:   []string{"docker", "compose", "-f", "stack.yml", "down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.start, tt.config.StartCommand())
			assert.Equal(t, tt.stop, tt.config.StopCommand())
		})
	}
}

func TestParseRemoveImages(t *testing.T) {
	for input, want := range map[string]RemoveImages{
		"":      RemoveImagesUnset,
		"none":  RemoveImagesNone,
		"local": RemoveImagesLocal,
		"all":   RemoveImagesAll,
	} {
		got, err := ParseRemoveImages(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if input != "" {
			assert.Equal(t, input, got.String())
		}
	}

	_, err := ParseRemoveImages("everything")
	assert.Error(t, err)
}

func TestExecChecked_RuntimeFault(t *testing.T) {
	runtime := fakeruntime.New().Fail("exec", errors.New("connection reset"))
	c, err := container.NewBuilder().WithRuntime(runtime).WithImage(Image).Build()
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	err = execChecked(context.Background(), c, []string{"true"})

	assert.ErrorContains(t, err, "connection reset")
	assert.False(t, errors.As(err, new(*container.ExecError)))
}

func TestComposeFileResolvedRelativeToHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "compose.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("services: {}\n"), 0o600))

	runtime := fakeruntime.New()
	c, err := NewBuilder().WithRuntime(runtime).WithComposeFile(path).Build()
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	copies := runtime.Copies()
	require.Len(t, copies, 1)
	assert.Equal(t, path, copies[0].HostPath)
	calls := runtime.Calls()
	assert.Equal(t, []string{"docker", "compose", "-f", "compose.yaml", "up", "--detach"}, calls[len(calls)-1].Args)
}
