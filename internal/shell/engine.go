// Package shell drives pipeline execution: it resolves stages to
// in-process commands or external processes, wires the descriptor plumbing
// with a pump tapping every external output stream, and applies the job
// lifecycle rules for foreground and background pipelines.
package shell

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/command"
	"github.com/coralsh/coral/internal/events"
	"github.com/coralsh/coral/internal/infrastructure/monitoring"
	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/process"
	"github.com/coralsh/coral/internal/pump"
	"github.com/coralsh/coral/internal/state"
	"github.com/coralsh/coral/internal/types"
)

// Engine executes parsed pipelines against the session state.
type Engine struct {
	registry *command.Registry
	jobs     *job.Table
	proc     *process.Controller
	state    *state.State
	bus      *events.Bus

	log     *zap.Logger
	metrics *monitoring.Metrics
	pumpCfg pump.Config
}

// EngineOption customizes an engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithMetrics wires execution metrics.
func WithMetrics(m *monitoring.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithPumpConfig tunes the per-stage pumps.
func WithPumpConfig(cfg pump.Config) EngineOption {
	return func(e *Engine) { e.pumpCfg = cfg }
}

// NewEngine assembles an engine over its collaborators.
func NewEngine(reg *command.Registry, jobs *job.Table, proc *process.Controller, st *state.State, bus *events.Bus, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: reg,
		jobs:     jobs,
		proc:     proc,
		state:    st,
		bus:      bus,
		log:      zap.NewNop(),
		pumpCfg:  pump.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one command line to completion. In-process stages pass
// Values directly; external stages pass bytes through pumped pipes, with
// the last external stream reparsed into a Value when its format locks on
// something structured. A stage failure aborts the remaining stages.
func (e *Engine) Run(ctx context.Context, line string) (types.Value, error) {
	e.proc.Reap()

	pipeline, err := Parse(line)
	if err != nil {
		return nil, err
	}
	if pipeline == nil {
		return types.Unit{}, nil
	}
	e.state.History().Append(pipeline.Line)

	if pipeline.Background {
		for _, argv := range pipeline.Stages {
			if _, ok := e.registry.Lookup(argv[0]); ok {
				return nil, types.Parsef("cannot background in-process command %q", argv[0])
			}
		}
	}

	var value types.Value
	i := 0
	for i < len(pipeline.Stages) {
		argv := pipeline.Stages[i]
		if _, ok := e.registry.Lookup(argv[0]); ok {
			cctx := &command.Context{
				Ctx:    ctx,
				State:  e.state,
				Jobs:   e.jobs,
				Proc:   e.proc,
				Events: e.bus,
				Log:    e.log,
				Input:  value,
			}
			value, err = e.registry.Execute(argv[0], argv[1:], cctx)
			if err != nil {
				return nil, err
			}
			i++
			continue
		}

		// Gather the maximal run of external stages into one job.
		j := i
		for j < len(pipeline.Stages) {
			if _, ok := e.registry.Lookup(pipeline.Stages[j][0]); ok {
				break
			}
			j++
		}
		value, err = e.runExternal(ctx, pipeline, pipeline.Stages[i:j], value)
		if err != nil {
			return nil, err
		}
		i = j
	}
	return value, nil
}

// stageWiring tracks the parent-side files for one spawned stage.
type stageWiring struct {
	outR       *os.File
	errR       *os.File
	downstream *os.File // write end of the next stage's stdin, nil for the last
}

// runExternal spawns one run of external stages as a single job and pumps
// every output descriptor. A foreground segment blocks until the job
// stops or finishes; a background one returns its job id immediately.
func (e *Engine) runExternal(ctx context.Context, pipeline *Pipeline, stages [][]string, input types.Value) (types.Value, error) {
	background := pipeline.Background

	specs := make([]process.Stage, len(stages))
	wirings := make([]stageWiring, len(stages))
	var prevRead *os.File
	closeAll := func() {
		closeFile(prevRead)
		for _, spec := range specs {
			closeFile(spec.Stdin)
			closeFile(spec.Stdout)
			closeFile(spec.Stderr)
		}
		for _, w := range wirings {
			closeFile(w.outR)
			closeFile(w.errR)
			closeFile(w.downstream)
		}
	}

	if input != nil {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, types.IO("pipe", err)
		}
		go func() {
			text := input.Text()
			if text != "" && !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
			_, _ = w.WriteString(text)
			_ = w.Close()
		}()
		prevRead = r
	}

	for idx := range stages {
		outR, outW, err := os.Pipe()
		if err != nil {
			closeAll()
			return nil, types.IO("pipe", err)
		}
		errR, errW, err := os.Pipe()
		if err != nil {
			closeFile(outR)
			closeFile(outW)
			closeAll()
			return nil, types.IO("pipe", err)
		}
		specs[idx] = process.Stage{
			Argv:   stages[idx],
			Stdin:  prevRead,
			Stdout: outW,
			Stderr: errW,
		}
		wirings[idx] = stageWiring{outR: outR, errR: errR}
		prevRead = nil

		if idx < len(stages)-1 {
			nextR, nextW, err := os.Pipe()
			if err != nil {
				closeAll()
				return nil, types.IO("pipe", err)
			}
			wirings[idx].downstream = nextW
			prevRead = nextR
		}
	}

	j, spawnErr := e.proc.SpawnPipeline(specs, e.state.Cwd(), e.state.Environ(), pipeline.Line, !background)

	// The children own their descriptor copies now; release ours so EOF
	// propagates when they exit.
	for _, spec := range specs {
		closeFile(spec.Stdin)
		closeFile(spec.Stdout)
		closeFile(spec.Stderr)
	}
	if spawnErr != nil && j == nil {
		for _, w := range wirings {
			closeFile(w.outR)
			closeFile(w.errR)
			closeFile(w.downstream)
		}
		return nil, spawnErr
	}

	var pumps []*pump.Pump
	var final *pump.Pump
	for idx, w := range wirings {
		opts := []pump.Option{
			pump.WithJob(j.ID()),
			pump.WithLogger(e.log),
			pump.WithMetrics(e.metrics),
		}
		if w.downstream != nil {
			opts = append(opts, pump.WithDownstream(w.downstream))
		}
		p := pump.Attach(w.outR, e.pumpCfg, opts...)
		e.observe(p)
		pumps = append(pumps, p)
		if idx == len(wirings)-1 {
			final = p
		}

		ep := pump.Attach(w.errR, e.pumpCfg,
			pump.WithJob(j.ID()),
			pump.WithStderr(),
			pump.WithLogger(e.log),
			pump.WithMetrics(e.metrics))
		e.observe(ep)
		pumps = append(pumps, ep)
	}

	if spawnErr != nil {
		e.detachAll(pumps)
		return nil, spawnErr
	}

	if background {
		return types.String(fmt.Sprintf("[%d] %d", j.ID(), j.PGID())), nil
	}

	info, err := e.jobs.WaitNotRunning(ctx, j.ID())
	if err != nil {
		// Session interrupt: pass it to the group, take the terminal back
		// and leave the job tracked through to reap.
		_ = e.proc.Signal(j, unix.SIGINT)
		_ = e.proc.ClaimTerminal()
		e.detachAll(pumps)
		return nil, err
	}
	if claimErr := e.proc.ClaimTerminal(); claimErr != nil {
		e.log.Warn("terminal reclaim failed", zap.Error(claimErr))
	}

	if info.State == job.Stopped.String() {
		// Pumps stay attached; the stream resumes with the job.
		return types.String(fmt.Sprintf("[%d] stopped: %s", info.ID, info.Command)), nil
	}

	e.state.SetLastExit(info.ExitStatus)
	e.detachAll(pumps)

	if v, ok := final.Result(); ok {
		return v, nil
	}
	return types.String(strings.TrimRight(string(final.Captured()), "\n")), nil
}

// RunPTY executes a single external command on a fresh pseudo-terminal,
// for callers with no real terminal to grant (the observer API). The
// returned pump streams the terminal output.
func (e *Engine) RunPTY(ctx context.Context, line string) (*job.Job, *pump.Pump, error) {
	pipeline, err := Parse(line)
	if err != nil {
		return nil, nil, err
	}
	if pipeline == nil || len(pipeline.Stages) != 1 {
		return nil, nil, types.Parsef("pty execution takes exactly one external command")
	}
	argv := pipeline.Stages[0]
	if _, ok := e.registry.Lookup(argv[0]); ok {
		return nil, nil, types.Parsef("%q is an in-process command", argv[0])
	}

	j, master, err := e.proc.SpawnPTY(argv, e.state.Cwd(), e.state.Environ(), pipeline.Line)
	if err != nil {
		return nil, nil, err
	}

	p := pump.Attach(master, e.pumpCfg,
		pump.WithJob(j.ID()),
		pump.WithLogger(e.log),
		pump.WithMetrics(e.metrics))
	e.observe(p)

	// A pty master does not EOF like a pipe; detach once the job is done
	// so buffered output still flushes as the final event.
	go func() {
		select {
		case <-j.Exited():
		case <-ctx.Done():
			_ = e.proc.Signal(j, unix.SIGTERM)
		}
		p.Detach()
	}()
	return j, p, nil
}

// observe republishes a pump's chunks as engine events until the final
// chunk arrives.
func (e *Engine) observe(p *pump.Pump) {
	ch, cancel := p.Subscribe()
	go func() {
		defer cancel()
		for chunk := range ch {
			typ := types.EventStageOutput
			if chunk.Final {
				typ = types.EventStageFinished
			}
			e.bus.Publish(types.Event{Type: typ, Time: time.Now(), Chunk: &chunk})
			if chunk.Final {
				return
			}
		}
	}()
}

// detachAll force-finishes pumps whose source may never EOF. Pumps that
// already finished return immediately.
func (e *Engine) detachAll(pumps []*pump.Pump) {
	for _, p := range pumps {
		p.Detach()
	}
	for _, p := range pumps {
		<-p.Done()
	}
}

func closeFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
