package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/process"
	"github.com/coralsh/coral/internal/state"
	"github.com/coralsh/coral/internal/types"
)

func newTestContext(t *testing.T) (*Context, *Registry) {
	t.Helper()
	jobs := job.NewTable()
	ctrl := process.NewController(jobs)
	t.Cleanup(ctrl.Close)

	st, err := state.New(jobs)
	require.NoError(t, err)

	reg := NewRegistry(nil, nil)
	reg.Register(Builtins()...)
	reg.Register(JobControl()...)
	reg.Register(FileCommands()...)
	reg.Register(DataCommands()...)

	return &Context{
		Ctx:   context.Background(),
		State: st,
		Jobs:  jobs,
		Proc:  ctrl,
	}, reg
}

func spawn(t *testing.T, cctx *Context, script string) *job.Job {
	t.Helper()
	j, err := cctx.Proc.SpawnPipeline(
		[]process.Stage{{Argv: []string{"sh", "-c", script}}},
		cctx.State.Cwd(), cctx.State.Environ(), "sh -c '"+script+"'", false)
	require.NoError(t, err)
	return j
}

func TestRegistryDispatch(t *testing.T) {
	cctx, reg := newTestContext(t)

	v, err := reg.Execute("pwd", nil, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.String(cctx.State.Cwd()), v)

	_, err = reg.Execute("no-such-command", nil, cctx)
	assert.Equal(t, types.ErrCommandNotFound, types.KindOf(err))

	names := reg.Names()
	assert.Contains(t, names, "jobs")
	assert.Contains(t, names, "kill")
	assert.IsIncreasing(t, names)
}

func TestCdPwdRoundTrip(t *testing.T) {
	cctx, reg := newTestContext(t)
	orig := cctx.State.Cwd()
	t.Cleanup(func() { _ = os.Chdir(orig) })

	dir := t.TempDir()
	_, err := reg.Execute("cd", []string{dir}, cctx)
	require.NoError(t, err)

	v, err := reg.Execute("pwd", nil, cctx)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(v.Text())
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// cd - returns to the previous directory.
	v, err = reg.Execute("cd", []string{"-"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.String(orig), v)
}

func TestEchoPipesInputThrough(t *testing.T) {
	cctx, reg := newTestContext(t)

	v, err := reg.Execute("echo", []string{"hello", "world"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.String("hello world"), v)

	cctx.Input = types.Int(42)
	v, err = reg.Execute("echo", nil, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.Int(42), v)
}

func TestEnvSetListUnset(t *testing.T) {
	cctx, reg := newTestContext(t)

	_, err := reg.Execute("env", []string{"CORAL_X=1"}, cctx)
	require.NoError(t, err)
	v, ok := cctx.State.Getenv("CORAL_X")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	listed, err := reg.Execute("env", nil, cctx)
	require.NoError(t, err)
	assert.Contains(t, listed.Text(), "CORAL_X\t1")

	_, err = reg.Execute("env", []string{"-u", "CORAL_X"}, cctx)
	require.NoError(t, err)
	_, ok = cctx.State.Getenv("CORAL_X")
	assert.False(t, ok)
}

func TestHistoryCommand(t *testing.T) {
	cctx, reg := newTestContext(t)
	cctx.State.History().Append("ls")
	cctx.State.History().Append("pwd")

	v, err := reg.Execute("history", []string{"1"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.List{types.String("pwd")}, v)

	_, err = reg.Execute("history", []string{"-2"}, cctx)
	assert.Equal(t, types.ErrSyntax, types.KindOf(err))
}

func TestJobsListsAndEvicts(t *testing.T) {
	cctx, reg := newTestContext(t)
	j := spawn(t, cctx, "exit 0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cctx.Jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)

	v, err := reg.Execute("jobs", nil, cctx)
	require.NoError(t, err)
	table, ok := v.(types.Table)
	require.True(t, ok)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, types.String("done"), table.Rows[0][3])

	// The done entry was evicted by the report.
	assert.Empty(t, cctx.Jobs.List())
}

func TestWaitCollectsStatuses(t *testing.T) {
	cctx, reg := newTestContext(t)
	a := spawn(t, cctx, "exit 2")
	b := spawn(t, cctx, "exit 0")

	v, err := reg.Execute("wait", nil, cctx)
	require.NoError(t, err)
	table, ok := v.(types.Table)
	require.True(t, ok)
	require.Len(t, table.Rows, 2)

	got := map[types.Value]types.Value{}
	for _, row := range table.Rows {
		got[row[0]] = row[1]
	}
	assert.Equal(t, types.Int(2), got[types.Int(a.ID())])
	assert.Equal(t, types.Int(0), got[types.Int(b.ID())])
}

func TestWaitIsCancellable(t *testing.T) {
	cctx, reg := newTestContext(t)
	spawn(t, cctx, "sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	cctx.Ctx = ctx

	_, err := reg.Execute("wait", nil, cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	j, resolveErr := cctx.Jobs.Resolve("%1")
	require.NoError(t, resolveErr)
	require.NoError(t, cctx.Proc.Signal(j, unix.SIGKILL))
}

func TestFgOnFinishedJobIsNoSuchJob(t *testing.T) {
	cctx, reg := newTestContext(t)
	j := spawn(t, cctx, "exit 0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cctx.Jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)

	_, err = reg.Execute("fg", []string{"%1"}, cctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such job")
}

func TestFgReturnsExitStatus(t *testing.T) {
	cctx, reg := newTestContext(t)
	spawn(t, cctx, "sleep 0.2; exit 7")

	v, err := reg.Execute("fg", []string{"%1"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.Int(7), v)
	assert.Equal(t, 7, cctx.State.LastExit())
}

func TestBgThenFgAfterStop(t *testing.T) {
	cctx, reg := newTestContext(t)
	j := spawn(t, cctx, "sleep 30")

	require.NoError(t, cctx.Proc.Signal(j, unix.SIGSTOP))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := cctx.Jobs.WaitNotRunning(ctx, j.ID())
	require.NoError(t, err)
	require.Equal(t, "stopped", info.State)

	v, err := reg.Execute("bg", []string{"%1"}, cctx)
	require.NoError(t, err)
	assert.Contains(t, v.Text(), "continued")
	assert.Equal(t, "running", cctx.Jobs.List()[0].State)

	require.NoError(t, cctx.Proc.Signal(j, unix.SIGKILL))
	_, err = cctx.Jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)
}

func TestKillSemantics(t *testing.T) {
	cctx, reg := newTestContext(t)
	j := spawn(t, cctx, "sleep 30")

	v, err := reg.Execute("kill", []string{"-KILL", "%1"}, cctx)
	require.NoError(t, err)
	assert.Contains(t, v.Text(), "signaled")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := cctx.Jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, 128+9, status)

	// Killing a finished job reports a no-op instead of failing.
	v, err = reg.Execute("kill", []string{"%1"}, cctx)
	require.NoError(t, err)
	assert.Contains(t, v.Text(), "already finished")

	// Unknown targets are errors.
	_, err = reg.Execute("kill", []string{"%99"}, cctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such job")

	// -l lists signal names.
	v, err = reg.Execute("kill", []string{"-l"}, cctx)
	require.NoError(t, err)
	assert.Contains(t, v.Text(), "KILL")
}

func TestMathAggregates(t *testing.T) {
	cctx, reg := newTestContext(t)

	v, err := reg.Execute("math", []string{"sum", "1", "2", "3.5"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.Float(6.5), v)

	v, err = reg.Execute("math", []string{"mean", "2", "4", "6"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.Float(4), v)

	cctx.Input = types.List{types.Int(10), types.Int(20)}
	v, err = reg.Execute("math", []string{"max"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, types.Int(20), v)

	_, err = reg.Execute("math", []string{"frobnicate", "1"}, cctx)
	assert.Equal(t, types.ErrSyntax, types.KindOf(err))
}

func TestHashIsStable(t *testing.T) {
	cctx, reg := newTestContext(t)

	a, err := reg.Execute("hash", []string{"coral"}, cctx)
	require.NoError(t, err)
	b, err := reg.Execute("hash", []string{"coral"}, cctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a.Text(), 64)

	cctx.Input = types.String("coral")
	c, err := reg.Execute("hash", nil, cctx)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestLsAndFind(t *testing.T) {
	cctx, reg := newTestContext(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644))

	v, err := reg.Execute("ls", []string{dir}, cctx)
	require.NoError(t, err)
	list, ok := v.(types.List)
	require.True(t, ok)
	require.Len(t, list, 2)

	v, err = reg.Execute("find", []string{"**/*.txt", dir}, cctx)
	require.NoError(t, err)
	found, ok := v.(types.List)
	require.True(t, ok)
	require.Len(t, found, 2)
	assert.Equal(t, types.String(filepath.Join(dir, "a.txt")), found[0])
	assert.Equal(t, types.String(filepath.Join(dir, "sub", "b.txt")), found[1])
}
