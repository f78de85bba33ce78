package wait

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxLogLine is the longest log line the strategy can scan.
const maxLogLine = 1024 * 1024

// LogStrategy waits until accumulated log output matches a pattern.
type LogStrategy struct {
	timing
	pattern    string
	occurrence int
}

var _ Strategy = LogStrategy{}

// ForLog returns a strategy matching pattern against the container log.
// The pattern is a Go regular expression evaluated on the whole output seen so
// far, so multi-line patterns such as "(?s).*listening.*$" work as expected.
func ForLog(pattern string) LogStrategy {
	return LogStrategy{timing: defaultTiming(), pattern: pattern, occurrence: 1}
}

// WithOccurrence requires the pattern to match n distinct times.
func (s LogStrategy) WithOccurrence(n int) LogStrategy {
	if n > 0 {
		s.occurrence = n
	}
	return s
}

// WithStartupTimeout sets how long the log may take to match.
func (s LogStrategy) WithStartupTimeout(d time.Duration) LogStrategy {
	if d > 0 {
		s.startupTimeout = d
	}
	return s
}

// WithPollInterval sets how often accumulated output is re-evaluated.
func (s LogStrategy) WithPollInterval(d time.Duration) LogStrategy {
	if d > 0 {
		s.pollInterval = d
	}
	return s
}

func (s LogStrategy) String() string {
	if s.occurrence > 1 {
		return fmt.Sprintf("log matching %q (%d times)", s.pattern, s.occurrence)
	}
	return fmt.Sprintf("log matching %q", s.pattern)
}

// WaitUntilReady opens a fresh log stream and polls the accumulated output.
func (s LogStrategy) WaitUntilReady(parent context.Context, target StrategyTarget) error {
	re, err := regexp.Compile(s.pattern)
	if err != nil {
		return fmt.Errorf("invalid log pattern %q: %w", s.pattern, err)
	}

	ctx, cancel := s.deadline(parent)
	defer cancel()

	logs, err := target.Logs(ctx)
	if err != nil {
		if expired := s.expired(parent, ctx, s.String()); expired != nil {
			return expired
		}
		return fmt.Errorf("failed to open log stream: %w", err)
	}
	defer logs.Close()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(logs)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			scanErr <- err
		}
	}()

	var output strings.Builder
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// A closed stream never matches later; the deadline decides.
				lines = nil
				continue
			}
			output.WriteString(line)
			output.WriteByte('\n')
		case err := <-scanErr:
			if len(re.FindAllStringIndex(output.String(), s.occurrence)) >= s.occurrence {
				return nil
			}
			return fmt.Errorf("failed to read log stream: %w", err)
		case <-ticker.C:
			if len(re.FindAllStringIndex(output.String(), s.occurrence)) >= s.occurrence {
				return nil
			}
		case <-ctx.Done():
			if len(re.FindAllStringIndex(output.String(), s.occurrence)) >= s.occurrence {
				return nil
			}
			return s.expired(parent, ctx, s.String())
		}
	}
}
