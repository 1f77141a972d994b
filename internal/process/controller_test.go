package process

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/job"
)

func newTestController(t *testing.T) (*Controller, *job.Table) {
	t.Helper()
	jobs := job.NewTable()
	ctrl := NewController(jobs)
	t.Cleanup(ctrl.Close)
	return ctrl, jobs
}

func TestSpawnPipelineReapsExit(t *testing.T) {
	ctrl, jobs := newTestController(t)

	j, err := ctrl.SpawnPipeline(
		[]Stage{{Argv: []string{"sh", "-c", "exit 3"}}},
		"", os.Environ(), "sh -c 'exit 3'", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, status)
}

func TestSpawnPipelineSharedProcessGroup(t *testing.T) {
	ctrl, jobs := newTestController(t)

	j, err := ctrl.SpawnPipeline(
		[]Stage{
			{Argv: []string{"sleep", "5"}},
			{Argv: []string{"sleep", "5"}},
		},
		"", os.Environ(), "sleep 5 | sleep 5", false)
	require.NoError(t, err)

	infos := jobs.List()
	require.Len(t, infos, 1)
	require.Len(t, infos[0].PIDs, 2)
	assert.Equal(t, infos[0].PIDs[0], infos[0].PGID, "first stage leads the group")

	for _, pid := range infos[0].PIDs {
		pgid, err := unix.Getpgid(pid)
		require.NoError(t, err)
		assert.Equal(t, j.PGID(), pgid)
	}

	require.NoError(t, ctrl.Signal(j, unix.SIGKILL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, 128+int(unix.SIGKILL), status)
}

func TestSpawnPipelineUnknownCommand(t *testing.T) {
	ctrl, _ := newTestController(t)

	_, err := ctrl.SpawnPipeline(
		[]Stage{{Argv: []string{"definitely-not-a-command-xyz"}}},
		"", os.Environ(), "definitely-not-a-command-xyz", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command not found")
}

func TestStopAndContinueTransitions(t *testing.T) {
	ctrl, jobs := newTestController(t)

	j, err := ctrl.SpawnPipeline(
		[]Stage{{Argv: []string{"sleep", "5"}}},
		"", os.Environ(), "sleep 5", false)
	require.NoError(t, err)

	require.NoError(t, ctrl.Signal(j, unix.SIGSTOP))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := jobs.WaitNotRunning(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, "stopped", info.State)

	require.NoError(t, ctrl.Continue(j, false))
	got, ok := jobs.Get(j.ID())
	require.True(t, ok)
	assert.Equal(t, j.ID(), got.ID())

	require.NoError(t, ctrl.Signal(j, unix.SIGKILL))
	status, err := jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, 128+int(unix.SIGKILL), status)
}

func TestSignalOnGoneGroupIsNoOp(t *testing.T) {
	ctrl, jobs := newTestController(t)

	j, err := ctrl.SpawnPipeline(
		[]Stage{{Argv: []string{"true"}}},
		"", os.Environ(), "true", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = jobs.WaitExit(ctx, j.ID())
	require.NoError(t, err)

	assert.NoError(t, ctrl.Signal(j, unix.SIGTERM))
}
