package wait

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/docker/go-connections/nat"
)

// PortStrategy waits until a declared container port accepts TCP connections
// on its mapped host port.
type PortStrategy struct {
	timing
	port        nat.Port
	dialTimeout time.Duration
}

var _ Strategy = PortStrategy{}

// ForListeningPort returns a strategy probing the host side of port.
func ForListeningPort(port nat.Port) PortStrategy {
	return PortStrategy{timing: defaultTiming(), port: port, dialTimeout: time.Second}
}

// WithStartupTimeout sets how long the port may take to accept connections.
func (s PortStrategy) WithStartupTimeout(d time.Duration) PortStrategy {
	if d > 0 {
		s.startupTimeout = d
	}
	return s
}

// WithPollInterval sets the delay between connection attempts.
func (s PortStrategy) WithPollInterval(d time.Duration) PortStrategy {
	if d > 0 {
		s.pollInterval = d
	}
	return s
}

func (s PortStrategy) String() string {
	return fmt.Sprintf("port %s to accept connections", s.port)
}

// WaitUntilReady resolves the mapped port once and dials it until it answers.
func (s PortStrategy) WaitUntilReady(parent context.Context, target StrategyTarget) error {
	ctx, cancel := s.deadline(parent)
	defer cancel()

	host, err := target.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve host: %w", err)
	}

	mapped, err := target.MappedPort(ctx, s.port)
	if err != nil {
		return fmt.Errorf("failed to resolve mapped port %s: %w", s.port, err)
	}

	address := net.JoinHostPort(host, mapped.Port())
	dialer := net.Dialer{Timeout: s.dialTimeout}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		conn, err := dialer.DialContext(ctx, mapped.Proto(), address)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return s.expired(parent, ctx, s.String())
		case <-ticker.C:
		}
	}
}
