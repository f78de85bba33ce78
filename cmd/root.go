package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/yarlson/ephemera/pkg/console"
	"github.com/yarlson/ephemera/pkg/container"
	"github.com/yarlson/ephemera/pkg/docker"
	"github.com/yarlson/ephemera/pkg/runner"
	"github.com/yarlson/ephemera/pkg/runner/local"
	"github.com/yarlson/ephemera/pkg/runner/remote"
	"github.com/yarlson/ephemera/pkg/ssh"
)

const (
	driverSDK = "sdk"
	driverCLI = "cli"

	defaultStackFile = "stack.yaml"
)

var (
	driver      string
	logLevel    string
	remoteHost  string
	sshKey      string
	askPassword bool
	stackFile   string
)

var rootCmd = &cobra.Command{
	Use:   "ephemera",
	Short: "Disposable containers for integration tests",
	Long: `ephemera starts throwaway containers (plain images, a Docker Compose stack
run from a docker-in-docker helper, the Cloud Spanner emulator) described in a
stack file, prints where to reach them and removes them when you are done.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driver, "driver", driverSDK, "Container driver: sdk (Docker Engine API) or cli (docker binary)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&remoteHost, "host", "", "Run the docker binary on a remote host over SSH ([user@]host[:port]); requires --driver cli")
	rootCmd.PersistentFlags().StringVar(&sshKey, "ssh-key", "", "SSH private key used with --host (default: first key found in ~/.ssh)")
	rootCmd.PersistentFlags().BoolVar(&askPassword, "ask-password", false, "Prompt for an SSH password instead of using a key")
}

// Execute runs the root command until ctx is cancelled.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func newLogger() (*slog.Logger, error) {
	return console.Logger(logLevel)
}

// newRuntime returns the container runtime selected by the global flags and
// a function releasing it.
func newRuntime(logger *slog.Logger) (container.Runtime, func(), error) {
	switch driver {
	case driverSDK:
		if remoteHost != "" {
			return nil, nil, fmt.Errorf("--host requires --driver %s; point DOCKER_HOST at the remote daemon for the %s driver", driverCLI, driverSDK)
		}
		rt, err := docker.NewSDKRuntime(logger)
		if err != nil {
			return nil, nil, err
		}
		return rt, func() { _ = rt.Close() }, nil

	case driverCLI:
		r, closeRunner, err := newRunner()
		if err != nil {
			return nil, nil, err
		}
		return docker.NewCLIRuntime(r, logger), closeRunner, nil

	default:
		return nil, nil, fmt.Errorf("unknown driver %q (want %s or %s)", driver, driverSDK, driverCLI)
	}
}

func newRunner() (runner.Runner, func(), error) {
	if remoteHost == "" {
		if sshKey != "" || askPassword {
			console.Warning("--ssh-key and --ask-password are ignored without --host")
		}
		return local.NewRunner(), func() {}, nil
	}

	target, err := ssh.ParseTarget(remoteHost)
	if err != nil {
		return nil, nil, err
	}

	if askPassword {
		console.Input(fmt.Sprintf("Password for %s: ", target))
		password, err := console.ReadPassword()
		console.Print()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read password: %w", err)
		}
		client, err := ssh.NewSSHClientWithPassword(target.Host, target.Port, target.User, password)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to %s: %w", target, err)
		}
		r := remote.NewRunner(client)
		return r, func() { _ = r.Close() }, nil
	}

	client, err := ssh.Connect(target, sshKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	r := remote.NewRunner(client)
	return r, func() { _ = r.Close() }, nil
}
