package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralsh/coral/internal/command"
	"github.com/coralsh/coral/internal/events"
	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/process"
	"github.com/coralsh/coral/internal/state"
	"github.com/coralsh/coral/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	jobs := job.NewTable(job.WithBus(bus))
	ctrl := process.NewController(jobs)
	t.Cleanup(ctrl.Close)

	st, err := state.New(jobs)
	require.NoError(t, err)

	reg := command.NewRegistry(nil, nil)
	reg.Register(command.Builtins()...)
	reg.Register(command.JobControl()...)
	reg.Register(command.FileCommands()...)
	reg.Register(command.DataCommands()...)

	return NewEngine(reg, jobs, ctrl, st, bus), bus
}

func run(t *testing.T, e *Engine, line string) types.Value {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := e.Run(ctx, line)
	require.NoError(t, err, "line: %s", line)
	return v
}

func TestRunBuiltinOnly(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, "echo hello world")
	assert.Equal(t, types.String("hello world"), v)
}

func TestRunBlankLine(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, "   ")
	assert.Equal(t, types.Unit{}, v)
	assert.Zero(t, e.state.History().Len())
}

func TestRunExternalJSONReparsedToValue(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, `printf {"a":1}`)

	rec, ok := v.(types.Record)
	require.True(t, ok, "json output becomes a record, got %T", v)
	require.Len(t, rec, 1)
	assert.Equal(t, "a", rec[0].Name)
	assert.Equal(t, types.Int(1), rec[0].Value)
}

func TestRunExternalPlainTextBecomesString(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, "printf hello")
	assert.Equal(t, types.String("hello"), v)
	assert.Equal(t, 0, e.state.LastExit())
}

func TestRunExternalIntoBuiltin(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, `printf 1\n2\n3 | math sum`)
	assert.Equal(t, types.Int(6), v)
}

func TestRunBuiltinIntoExternal(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, "echo hello | tr a-z A-Z")
	assert.Equal(t, types.String("HELLO"), v)
}

func TestRunExternalPipelinePreservesBytes(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, `printf a,b\n1,2\n3,4 | cat`)

	table, ok := v.(types.Table)
	require.True(t, ok, "csv output becomes a table, got %T", v)
	assert.Equal(t, []string{"a", "b"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, types.Int(3), table.Rows[1][0])
}

func TestRunRecordsExitStatus(t *testing.T) {
	e, _ := newTestEngine(t)

	// A nonzero external exit is a status, not an engine error.
	_, err := e.Run(context.Background(), "false")
	require.NoError(t, err)
	assert.Equal(t, 1, e.state.LastExit())

	run(t, e, "true")
	assert.Equal(t, 0, e.state.LastExit())
}

func TestRunUnknownCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Run(context.Background(), "definitely-not-a-command-xyz")
	require.Error(t, err)
	assert.Equal(t, types.ErrCommandNotFound, types.KindOf(err))
}

func TestRunBackgroundJob(t *testing.T) {
	e, _ := newTestEngine(t)
	v := run(t, e, "sleep 30 &")
	assert.Contains(t, v.Text(), "[1]")

	infos := e.jobs.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "running", infos[0].State)
	assert.False(t, infos[0].Foreground)

	run(t, e, "kill -KILL %1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := e.jobs.WaitExit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 128+9, status)
}

func TestRunBackgroundRejectsBuiltins(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Run(context.Background(), "pwd &")
	require.Error(t, err)
	assert.Equal(t, types.ErrParse, types.KindOf(err))
}

// Killing a running job still yields the stream's final event with the
// bytes that made it out.
func TestKilledJobFlushesFinalEvent(t *testing.T) {
	e, bus := newTestEngine(t)
	ch, cancel := bus.Subscribe()
	defer cancel()

	run(t, e, "yes | sleep 30 &")

	deadline := time.After(10 * time.Second)
	var jobID uint64
waitOutput:
	for {
		select {
		case ev := <-ch:
			if ev.Type == types.EventStageOutput && ev.Chunk != nil && len(ev.Chunk.Data) > 0 {
				jobID = ev.Chunk.JobID
				break waitOutput
			}
		case <-deadline:
			t.Fatal("no output event before kill")
		}
	}

	run(t, e, "kill -KILL %1")

	for {
		select {
		case ev := <-ch:
			if ev.Type == types.EventStageFinished && ev.Chunk != nil && ev.Chunk.JobID == jobID && !ev.Chunk.Stderr {
				require.True(t, ev.Chunk.Final)
				return
			}
		case <-deadline:
			t.Fatal("no final event after kill")
		}
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	e, bus := newTestEngine(t)
	ch, cancel := bus.Subscribe()
	defer cancel()

	run(t, e, "printf hi")

	var sawCreated, sawDone, sawOutput, sawFinished bool
	deadline := time.After(5 * time.Second)
	for !(sawCreated && sawDone && sawOutput && sawFinished) {
		select {
		case ev := <-ch:
			switch ev.Type {
			case types.EventJobCreated:
				sawCreated = true
			case types.EventJobState:
				if ev.Job != nil && ev.Job.State == "done" {
					sawDone = true
				}
			case types.EventStageOutput:
				if ev.Chunk != nil && len(ev.Chunk.Data) > 0 {
					sawOutput = true
				}
			case types.EventStageFinished:
				sawFinished = true
			}
		case <-deadline:
			t.Fatalf("missing events: created=%v done=%v output=%v finished=%v",
				sawCreated, sawDone, sawOutput, sawFinished)
		}
	}
}

func TestRunHistoryRecorded(t *testing.T) {
	e, _ := newTestEngine(t)
	run(t, e, "echo one")
	run(t, e, "echo two")
	assert.Equal(t, []string{"echo one", "echo two"}, e.state.History().Entries(0))
}
