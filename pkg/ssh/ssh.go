package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const defaultPort = 22

// Target is a remote Docker host reached over SSH.
type Target struct {
	User string
	Host string
	Port int
}

// ParseTarget parses "[user@]host[:port]". The user defaults to root and the
// port to 22.
func ParseTarget(s string) (Target, error) {
	target := Target{User: "root", Port: defaultPort}

	if user, rest, ok := strings.Cut(s, "@"); ok {
		if user == "" {
			return Target{}, fmt.Errorf("invalid ssh target %q: empty user", s)
		}
		target.User = user
		s = rest
	}

	host := s
	if h, p, err := net.SplitHostPort(s); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("invalid ssh target %q: bad port %q", s, p)
		}
		host = h
		target.Port = port
	}
	if host == "" {
		return Target{}, fmt.Errorf("invalid ssh target %q: empty host", s)
	}
	target.Host = host

	return target, nil
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
}

// NewSSHClientWithKey creates a new ssh.Client using a private key
func NewSSHClientWithKey(host string, port int, user string, key []byte) (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", addr, config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial TCP connection: %v", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection: %v", err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// NewSSHClientWithPassword creates a new ssh.Client using a password
func NewSSHClientWithPassword(host string, port int, user string, password string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %v", err)
	}

	return client, nil
}

// sshKeyPath is used only for testing purposes
var sshKeyPath string

// FindSSHKey looks for an SSH key in the given path or in default locations
func FindSSHKey(keyPath string) ([]byte, error) {
	if keyPath != "" {
		if strings.HasPrefix(keyPath, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[1:])
		}

		return os.ReadFile(keyPath)
	}

	sshDir, err := getSSHDir()
	if err != nil {
		return nil, err
	}

	keyNames := []string{"id_rsa", "id_ecdsa", "id_ed25519"}
	for _, name := range keyNames {
		key, err := os.ReadFile(filepath.Join(sshDir, name))
		if err == nil {
			return key, nil
		}
	}

	return nil, fmt.Errorf("no suitable SSH key found in %s", sshDir)
}

// Connect finds an SSH key and connects to the target with it.
func Connect(target Target, keyPath string) (*ssh.Client, error) {
	key, err := FindSSHKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find SSH key: %w", err)
	}

	client, err := NewSSHClientWithKey(target.Host, target.Port, target.User, key)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}

	return client, nil
}

// getSSHDir returns the SSH directory path
func getSSHDir() (string, error) {
	if sshKeyPath != "" {
		return sshKeyPath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".ssh"), nil
}
