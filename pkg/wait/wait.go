// Package wait polls readiness conditions against a running container.
//
// A Strategy is a plain value: it carries no state between evaluations, so the
// same strategy may be evaluated any number of times, against the same or
// different containers.
package wait

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-connections/nat"
)

const (
	defaultStartupTimeout = 60 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
)

// Strategy blocks until a readiness condition holds on the target.
type Strategy interface {
	WaitUntilReady(ctx context.Context, target StrategyTarget) error
}

// StrategyTarget is the view of a running container a strategy needs.
type StrategyTarget interface {
	Host(ctx context.Context) (string, error)
	MappedPort(ctx context.Context, port nat.Port) (nat.Port, error)
	Logs(ctx context.Context) (io.ReadCloser, error)
}

// TimeoutError is returned when a condition is not met before its deadline.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Condition)
}

// timing holds the deadline and poll interval shared by all strategies.
type timing struct {
	startupTimeout time.Duration
	pollInterval   time.Duration
}

func defaultTiming() timing {
	return timing{startupTimeout: defaultStartupTimeout, pollInterval: defaultPollInterval}
}

// deadline derives the evaluation context. The returned context expires at the
// startup timeout or earlier if the parent is cancelled first.
func (t timing) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.startupTimeout)
}

// expired converts a finished evaluation context into the error to surface:
// parent cancellation wins over the strategy's own deadline.
func (t timing) expired(parent, ctx context.Context, condition string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return &TimeoutError{Condition: condition, Timeout: t.startupTimeout}
	}
	return nil
}
