// Package stack turns a parsed stack file into containers and drives them as
// one unit.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/docker/go-connections/nat"
	"golang.org/x/sync/errgroup"

	"github.com/yarlson/ephemera/pkg/compose"
	"github.com/yarlson/ephemera/pkg/config"
	"github.com/yarlson/ephemera/pkg/container"
	"github.com/yarlson/ephemera/pkg/spanner"
	"github.com/yarlson/ephemera/pkg/wait"
)

const (
	LabelStack     = "ephemera.stack"
	LabelContainer = "ephemera.container"
)

type lifecycle interface {
	Start(ctx context.Context) error
	Terminate(ctx context.Context) error
}

// Member is one container of a stack.
type Member struct {
	Name      string
	Kind      string
	Container *container.Container

	lifecycle lifecycle
}

// Endpoint is a published port of a running member.
type Endpoint struct {
	Member  string
	Port    nat.Port
	Address string
}

// Stack is a set of containers sharing one runtime.
type Stack struct {
	name    string
	members []Member
	logger  *slog.Logger
}

// New builds every container described by cfg without touching the runtime.
// All build errors are reported together.
func New(cfg *config.Stack, runtime container.Runtime, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Stack{name: cfg.Name, logger: logger.With("stack", cfg.Name)}

	var errs []error
	for _, spec := range cfg.Containers {
		member, err := build(cfg.Name, spec, runtime, s.logger.With("container", spec.Name))
		if err != nil {
			errs = append(errs, fmt.Errorf("container %s: %w", spec.Name, err))
			continue
		}
		s.members = append(s.members, member)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stack) Name() string {
	return s.name
}

func (s *Stack) Members() []Member {
	return append([]Member(nil), s.members...)
}

// Member looks a member up by name.
func (s *Stack) Member(name string) (Member, bool) {
	for _, m := range s.members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// Start starts every member concurrently. The first failure cancels the
// members still starting; nothing is cleaned up, call Terminate for that.
func (s *Stack) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range s.members {
		m := m
		g.Go(func() error {
			if err := m.lifecycle.Start(gctx); err != nil {
				return fmt.Errorf("failed to start %s: %w", m.Name, err)
			}
			s.logger.Debug("member started", "container", m.Name, "id", m.Container.ID())
			return nil
		})
	}

	return g.Wait()
}

// Terminate stops and removes every member concurrently, whatever state it is
// in, and reports every failure.
func (s *Stack) Terminate(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, m := range s.members {
		wg.Add(1)
		go func(m Member) {
			defer wg.Done()
			if err := m.lifecycle.Terminate(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to terminate %s: %w", m.Name, err))
				mu.Unlock()
			}
		}(m)
	}

	wg.Wait()

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}

// Endpoints lists the published ports of every member as host:port addresses,
// ordered by member then port.
func (s *Stack) Endpoints() ([]Endpoint, error) {
	var endpoints []Endpoint

	for _, m := range s.members {
		for _, binding := range m.Container.Config().PortBindings {
			if !binding.Published() {
				continue
			}
			mapped, err := m.Container.MappedPort(string(binding.Port))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Name, err)
			}
			host, err := m.Container.Hostname()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Name, err)
			}
			endpoints = append(endpoints, Endpoint{
				Member:  m.Name,
				Port:    binding.Port,
				Address: net.JoinHostPort(host, mapped.Port()),
			})
		}
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		if endpoints[i].Member != endpoints[j].Member {
			return endpoints[i].Member < endpoints[j].Member
		}
		return endpoints[i].Port.Int() < endpoints[j].Port.Int()
	})
	return endpoints, nil
}

func build(stackName string, spec config.Container, runtime container.Runtime, logger *slog.Logger) (Member, error) {
	member := Member{Name: spec.Name, Kind: spec.Kind}

	switch spec.Kind {
	case config.KindSpanner:
		c, err := configure(spanner.NewBuilder(), stackName, spec, runtime, logger).Build()
		if err != nil {
			return Member{}, err
		}
		member.Container, member.lifecycle = c.Container, c

	case config.KindCompose:
		b := configure(compose.NewBuilder(), stackName, spec, runtime, logger).
			WithComposeFile(spec.ComposeFile).
			WithLocalCompose(spec.LocalCompose)
		if len(spec.Options) > 0 {
			b = b.WithOptions(spec.Options...)
		}
		if spec.RemoveImages != "" {
			removeImages, err := compose.ParseRemoveImages(spec.RemoveImages)
			if err != nil {
				return Member{}, err
			}
			b = b.WithRemoveImages(removeImages)
		}
		c, err := b.Build()
		if err != nil {
			return Member{}, err
		}
		member.Container, member.lifecycle = c.Container, c

	case config.KindGeneric, "":
		c, err := configure(container.NewBuilder(), stackName, spec, runtime, logger).Build()
		if err != nil {
			return Member{}, err
		}
		member.Container, member.lifecycle = c, c

	default:
		return Member{}, &container.ConfigurationError{Reason: fmt.Sprintf("unknown container kind %q", spec.Kind)}
	}

	return member, nil
}

// builder is the generic mutator set every domain builder exposes through
// container.Base.
type builder[B any] interface {
	Fail(name, reason string) B
	WithRuntime(runtime container.Runtime) B
	WithLogger(logger *slog.Logger) B
	WithLabel(key, value string) B
	WithImage(image string) B
	WithEntrypoint(entrypoint ...string) B
	WithCommand(command ...string) B
	WithWorkingDir(dir string) B
	WithEnv(key, value string) B
	WithBindMount(hostPath, containerPath string, mode container.AccessMode) B
	WithPortBinding(port string, assignRandomHostPort bool) B
	WithFixedPortBinding(port, hostPort string) B
	WithWaitStrategy(strategy wait.Strategy) B
}

func configure[B builder[B]](b B, stackName string, spec config.Container, runtime container.Runtime, logger *slog.Logger) B {
	b = b.WithRuntime(runtime).
		WithLogger(logger).
		WithLabel(LabelStack, stackName).
		WithLabel(LabelContainer, spec.Name)

	for _, key := range sortedKeys(spec.Labels) {
		b = b.WithLabel(key, spec.Labels[key])
	}
	if spec.Image != "" {
		b = b.WithImage(spec.Image)
	}
	if len(spec.Entrypoint) > 0 {
		b = b.WithEntrypoint(spec.Entrypoint...)
	}
	if len(spec.Command) > 0 {
		b = b.WithCommand(spec.Command...)
	}
	if spec.WorkingDir != "" {
		b = b.WithWorkingDir(spec.WorkingDir)
	}
	for _, line := range spec.Env {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			b = b.Fail("env", fmt.Sprintf("%q is not KEY=VALUE", line))
			continue
		}
		b = b.WithEnv(key, value)
	}
	for _, entry := range spec.Mounts {
		m, err := config.ParseMount(entry)
		if err != nil {
			b = b.Fail("mount", err.Error())
			continue
		}
		mode := container.ReadWrite
		if m.ReadOnly {
			mode = container.ReadOnly
		}
		b = b.WithBindMount(m.HostPath, m.ContainerPath, mode)
	}
	for _, entry := range spec.Ports {
		p, err := config.ParsePort(entry)
		if err != nil {
			b = b.Fail("port", err.Error())
			continue
		}
		if p.HostPort != "" {
			b = b.WithFixedPortBinding(string(p.Port), p.HostPort)
		} else {
			b = b.WithPortBinding(string(p.Port), true)
		}
	}

	strategy, err := waitStrategy(spec)
	if err != nil {
		return b.Fail("wait port", err.Error())
	}
	if strategy != nil {
		b = b.WithWaitStrategy(strategy)
	}
	return b
}

func waitStrategy(spec config.Container) (wait.Strategy, error) {
	var strategies []wait.Strategy

	if spec.WaitLog != "" {
		s := wait.ForLog(spec.WaitLog)
		if spec.StartupTimeout > 0 {
			s = s.WithStartupTimeout(spec.StartupTimeout)
		}
		strategies = append(strategies, s)
	}
	if spec.WaitPort != "" {
		p, err := config.ParsePort(spec.WaitPort)
		if err != nil {
			return nil, err
		}
		s := wait.ForListeningPort(p.Port)
		if spec.StartupTimeout > 0 {
			s = s.WithStartupTimeout(spec.StartupTimeout)
		}
		strategies = append(strategies, s)
	}

	switch len(strategies) {
	case 0:
		return nil, nil
	case 1:
		return strategies[0], nil
	}
	all := wait.ForAll(strategies...)
	if spec.StartupTimeout > 0 {
		all = all.WithStartupTimeout(spec.StartupTimeout)
	}
	return all, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
