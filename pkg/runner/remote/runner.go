package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"

	"github.com/yarlson/ephemera/pkg/runner"
)

// ErrNoClient is returned when attempting operations on a closed Runner.
var ErrNoClient = errors.New("ssh client is nil")

var _ runner.Runner = (*Runner)(nil)

// Runner executes commands and transfers files on a remote host via SSH.
// Once closed, a Runner cannot be reused.
type Runner struct {
	client *ssh.Client
}

// NewRunner creates a new Runner instance using the provided SSH client.
// It returns nil if the client is nil.
func NewRunner(client *ssh.Client) *Runner {
	if client == nil {
		return nil
	}
	return &Runner{client: client}
}

// Close releases all resources associated with the Runner.
// After Close, the Runner cannot be reused.
func (r *Runner) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// Run executes a command on the remote host and waits for it to finish.
func (r *Runner) Run(ctx context.Context, command string, args ...string) (runner.Result, error) {
	if r.client == nil {
		return runner.Result{}, ErrNoClient
	}

	session, err := r.client.NewSession()
	if err != nil {
		return runner.Result{}, fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(commandLine(command, args))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return runner.Result{}, ctx.Err()
	case err = <-done:
	}

	result := runner.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	if err != nil {
		return runner.Result{}, fmt.Errorf("running command: %w", err)
	}

	return result, nil
}

// RunCommand executes a single command with optional arguments on the remote host.
// Stdout and stderr arrive interleaved on one stream, as they are produced.
// The caller must close the returned ReadCloser when done.
func (r *Runner) RunCommand(ctx context.Context, command string, args ...string) (io.ReadCloser, error) {
	if r.client == nil {
		return nil, ErrNoClient
	}

	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	reader, writer := io.Pipe()
	session.Stdout = writer
	session.Stderr = writer

	if err := session.Start(commandLine(command, args)); err != nil {
		session.Close()
		return nil, fmt.Errorf("starting command: %w", err)
	}

	go func() {
		err := session.Wait()
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
		_ = writer.CloseWithError(err)
	}()

	return &commandOutput{
		reader:  reader,
		session: session,
		ctx:     ctx,
	}, nil
}

// Host returns the hostname of the remote server.
func (r *Runner) Host() string {
	if r.client == nil {
		return ""
	}
	addr := r.client.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// CopyFile copies a file from src on the local machine to dst on the remote host.
func (r *Runner) CopyFile(ctx context.Context, src, dst string, mode os.FileMode) error {
	if r.client == nil {
		return ErrNoClient
	}

	client, err := scp.NewClientBySSH(r.client)
	if err != nil {
		return fmt.Errorf("creating SCP client: %w", err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	if err := client.CopyFile(ctx, f, dst, fmt.Sprintf("%04o", mode.Perm())); err != nil {
		return fmt.Errorf("copying file: %w", err)
	}
	return nil
}

// commandOutput is the merged output of a remote command. Closing it ends
// the SSH session.
type commandOutput struct {
	reader  *io.PipeReader
	session *ssh.Session
	ctx     context.Context
}

func (c *commandOutput) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
		return c.reader.Read(p)
	}
}

func (c *commandOutput) Close() error {
	// Send SIGTERM first for graceful shutdown
	_ = c.session.Signal(ssh.SIGTERM)
	_ = c.reader.Close()

	if err := c.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

func commandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	escaped := make([]string, len(args))
	for i, arg := range args {
		escaped[i] = escapeArg(arg)
	}
	return command + " " + strings.Join(escaped, " ")
}

// escapeArg escapes a command-line argument for safe use in SSH commands.
func escapeArg(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
}
