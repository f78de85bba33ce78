package remote

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "docker", commandLine("docker", nil))
	assert.Equal(t,
		`docker 'exec' 'abc' 'sh' '-c' 'echo '\''hi'\'''`,
		commandLine("docker", []string{"exec", "abc", "sh", "-c", "echo 'hi'"}))
}

func TestNewRunner_NilClient(t *testing.T) {
	assert.Nil(t, NewRunner(nil))
}

func TestClosedRunner(t *testing.T) {
	r := &Runner{}

	_, err := r.Run(context.Background(), "true")
	assert.ErrorIs(t, err, ErrNoClient)

	_, err = r.RunCommand(context.Background(), "true")
	assert.ErrorIs(t, err, ErrNoClient)

	assert.ErrorIs(t, r.CopyFile(context.Background(), "a", "b", 0o644), ErrNoClient)
	assert.Empty(t, r.Host())
	assert.NoError(t, r.Close())
}

func TestRunCommand_InterleavesStderrWhileStdoutIsOpen(t *testing.T) {
	release := make(chan struct{})
	r := NewRunner(startServer(t, "127.0.0.1:0", func(_ string, ch ssh.Channel) {
		_, _ = io.WriteString(ch, "booting\n")
		_, _ = io.WriteString(ch.Stderr(), "server listening on 9010\n")
		<-release
		exit(ch, 0)
	}))

	out, err := r.RunCommand(context.Background(), "docker", "logs", "--follow", "abc")
	require.NoError(t, err)
	defer close(release)
	defer out.Close()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended early")
			got = append(got, line)
		case <-timeout:
			t.Fatalf("stderr line not delivered, got %q", got)
		}
	}

	assert.ElementsMatch(t, []string{"booting", "server listening on 9010"}, got)
}

func TestRunCommand_EndsWhenCommandExits(t *testing.T) {
	r := NewRunner(startServer(t, "127.0.0.1:0", func(cmd string, ch ssh.Channel) {
		_, _ = io.WriteString(ch, cmd+"\n")
		_, _ = io.WriteString(ch.Stderr(), "warning\n")
		exit(ch, 1)
	}))

	out, err := r.RunCommand(context.Background(), "docker", "logs", "abc")
	require.NoError(t, err)
	defer out.Close()

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "docker 'logs' 'abc'")
	assert.Contains(t, string(data), "warning")
}

func TestHost(t *testing.T) {
	noop := func(_ string, ch ssh.Channel) { exit(ch, 0) }

	r := NewRunner(startServer(t, "127.0.0.1:0", noop))
	assert.Equal(t, "127.0.0.1", r.Host())

	ln, err := net.Listen("tcp", "[::1]:0")
	if err != nil {
		t.Skip("IPv6 loopback unavailable")
	}
	require.NoError(t, ln.Close())

	r = NewRunner(startServer(t, "[::1]:0", noop))
	assert.Equal(t, "::1", r.Host())
}

// startServer runs an SSH server accepting any client. handle receives the
// command of every exec request.
func startServer(t *testing.T, addr string, handle func(cmd string, ch ssh.Channel)) *ssh.Client {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, config, handle)
		}
	}()

	client, err := ssh.Dial("tcp", ln.Addr().String(), &ssh.ClientConfig{
		User:            "test",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func serveConn(conn net.Conn, config *ssh.ServerConfig, handle func(cmd string, ch ssh.Channel)) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					_ = req.Reply(false, nil)
					continue
				}
				_ = req.Reply(true, nil)
				go handle(payload.Command, ch)
			}
		}()
	}
}

func exit(ch ssh.Channel, status uint32) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	_ = ch.Close()
}
