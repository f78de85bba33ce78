package logs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"

	"github.com/yarlson/ephemera/pkg/console"
)

var containerColors = []pterm.Color{
	pterm.FgLightBlue,
	pterm.FgLightGreen,
	pterm.FgLightCyan,
	pterm.FgLightMagenta,
	pterm.FgLightYellow,
	pterm.FgLightRed,
}

// Source opens a log stream for a container ID or name. Every
// container.Runtime is a Source.
type Source interface {
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
}

// Logger follows the logs of several containers at once, prefixing each line
// with the container it came from.
type Logger struct {
	source Source
	print  func(a ...any)
}

// NewLogger creates a new Logger printing to the console.
func NewLogger(source Source) *Logger {
	return &Logger{source: source, print: func(a ...any) { console.Print(a...) }}
}

// Follow streams the logs of the given containers until ctx is done or every
// stream has ended. A container whose stream cannot be opened is reported and
// skipped; the first such error is returned once all streams are done.
func (l *Logger) Follow(ctx context.Context, containers []string) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i, name := range containers {
		wg.Add(1)
		go func(name string, color pterm.Color) {
			defer wg.Done()
			if err := l.follow(ctx, name, color); err != nil {
				console.Error(err.Error())
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(name, containerColors[i%len(containerColors)])
	}

	wg.Wait()
	return firstErr
}

func (l *Logger) follow(ctx context.Context, name string, color pterm.Color) error {
	reader, err := l.source.Logs(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to fetch logs for %s: %w", name, err)
	}
	defer reader.Close()

	prefix := pterm.NewStyle(color).Sprint(fmt.Sprintf("[%s]", name))

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		l.print(fmt.Sprintf("%s %s", prefix, scanner.Text()))
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading logs for %s: %w", name, err)
	}
	return nil
}
