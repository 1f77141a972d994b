// Package command defines the invocation contract shared by built-ins and
// the job-control commands, and the name-keyed registry the engine
// dispatches through.
package command

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coralsh/coral/internal/events"
	"github.com/coralsh/coral/internal/infrastructure/monitoring"
	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/process"
	"github.com/coralsh/coral/internal/state"
	"github.com/coralsh/coral/internal/types"
)

// Context carries everything one invocation may touch. It is created per
// invocation and must not outlive it.
type Context struct {
	Ctx    context.Context
	State  *state.State
	Jobs   *job.Table
	Proc   *process.Controller
	Events *events.Bus
	Log    *zap.Logger

	// Input is the value piped from the previous in-process stage, nil for
	// the first stage or after an external stage with an unlocked format.
	Input types.Value
}

// Command is one dispatchable operation. Execute's side effects are
// limited to what it reaches through the context.
type Command interface {
	Name() string
	Description() string
	Execute(args []string, cctx *Context) (types.Value, error)
}

// Registry resolves command names to implementations. Built once at
// startup; lookups after that are lock-free reads.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *monitoring.Metrics, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		commands: make(map[string]Command),
		metrics:  metrics,
		log:      log,
	}
}

// Register adds commands, replacing same-named entries.
func (r *Registry) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range cmds {
		r.commands[cmd.Name()] = cmd
	}
}

// Lookup resolves a command by name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names lists registered commands sorted by name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches one invocation with timing and outcome metrics.
func (r *Registry) Execute(name string, args []string, cctx *Context) (types.Value, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		return nil, types.CommandNotFound(name)
	}

	start := time.Now()
	result, err := cmd.Execute(args, cctx)
	status := "ok"
	if err != nil {
		status = types.KindOf(err).String()
	}
	r.metrics.RecordCommand(name, status, time.Since(start))
	if err != nil {
		r.log.Debug("command failed",
			zap.String("command", name),
			zap.String("kind", types.KindOf(err).String()),
			zap.Error(err))
	}
	return result, err
}
