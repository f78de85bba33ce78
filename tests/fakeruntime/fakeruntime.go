// Package fakeruntime provides an in-memory container runtime for tests.
package fakeruntime

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/go-connections/nat"

	"github.com/yarlson/ephemera/pkg/container"
)

// Call records one runtime invocation.
type Call struct {
	Op   string
	ID   string
	Args []string
}

// Copy records a CopyInto invocation.
type Copy struct {
	HostPath     string
	ContainerDir string
	Mode         os.FileMode
	Content      []byte
}

// Runtime is a container.Runtime keeping everything in memory. Port mappings
// are allocated from 49152 upwards unless the binding asks for a fixed port.
type Runtime struct {
	mu sync.Mutex

	Host     string
	LogText  string
	Results  map[string]container.ExecResult
	Failures map[string]error

	calls    []Call
	copies   []Copy
	configs  map[string]container.ContainerConfig
	ports    map[string]map[nat.Port]nat.Port
	nextID   int
	nextPort int
}

var _ container.Runtime = (*Runtime)(nil)

// New returns an empty runtime answering "localhost" as hostname.
func New() *Runtime {
	return &Runtime{
		Host:     "localhost",
		Results:  make(map[string]container.ExecResult),
		Failures: make(map[string]error),
		configs:  make(map[string]container.ContainerConfig),
		ports:    make(map[string]map[nat.Port]nat.Port),
		nextPort: 49152,
	}
}

// Fail makes every later call to op return err.
func (r *Runtime) Fail(op string, err error) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures[op] = err
	return r
}

// Heal undoes Fail for op.
func (r *Runtime) Heal(op string) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Failures, op)
	return r
}

// OnExec sets the result returned for the command whose joined form is cmd.
func (r *Runtime) OnExec(cmd string, result container.ExecResult) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results[cmd] = result
	return r
}

// Calls returns the recorded invocations in order.
func (r *Runtime) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns the names of the recorded invocations in order.
func (r *Runtime) Ops() []string {
	calls := r.Calls()
	ops := make([]string, 0, len(calls))
	for _, call := range calls {
		ops = append(ops, call.Op)
	}
	return ops
}

// Copies returns the recorded file copies.
func (r *Runtime) Copies() []Copy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Copy(nil), r.copies...)
}

// Created returns the configuration a container was created with.
func (r *Runtime) Created(id string) (container.ContainerConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	config, ok := r.configs[id]
	return config, ok
}

func (r *Runtime) record(op, id string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, ID: id, Args: args})
	return r.Failures[op]
}

func (r *Runtime) Create(ctx context.Context, config container.ContainerConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := r.record("create", "", config.Image); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("fake%060d", r.nextID)
	r.configs[id] = config

	ports := make(map[nat.Port]nat.Port, len(config.PortBindings))
	for _, binding := range config.PortBindings {
		if !binding.Published() {
			continue
		}
		hostPort := binding.HostPort
		if hostPort == "" {
			hostPort = strconv.Itoa(r.nextPort)
			r.nextPort++
		}
		ports[binding.Port] = nat.Port(hostPort + "/" + binding.Port.Proto())
	}
	r.ports[id] = ports
	return id, nil
}

func (r *Runtime) Start(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.record("start", id)
}

func (r *Runtime) Stop(_ context.Context, id string) error {
	return r.record("stop", id)
}

func (r *Runtime) Remove(_ context.Context, id string) error {
	return r.record("remove", id)
}

func (r *Runtime) Exec(ctx context.Context, id string, cmd []string) (container.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return container.ExecResult{}, err
	}
	if err := r.record("exec", id, cmd...); err != nil {
		return container.ExecResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Results[strings.Join(cmd, " ")], nil
}

func (r *Runtime) CopyInto(ctx context.Context, id, hostPath, containerDir string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.record("copy", id, hostPath, containerDir); err != nil {
		return err
	}

	content, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.copies = append(r.copies, Copy{HostPath: hostPath, ContainerDir: containerDir, Mode: mode, Content: content})
	return nil
}

func (r *Runtime) MappedPort(_ context.Context, id string, port nat.Port) (nat.Port, error) {
	if err := r.record("port", id, string(port)); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	mapped, ok := r.ports[id][port]
	if !ok {
		return "", fmt.Errorf("port %s is not published", port)
	}
	return mapped, nil
}

func (r *Runtime) Hostname(_ context.Context, id string) (string, error) {
	if err := r.record("hostname", id); err != nil {
		return "", err
	}
	return r.Host, nil
}

func (r *Runtime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.record("logs", id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return io.NopCloser(strings.NewReader(r.LogText)), nil
}
