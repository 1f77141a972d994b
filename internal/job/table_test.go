package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralsh/coral/internal/events"
	"github.com/coralsh/coral/internal/types"
)

func TestTableAddAssignsMonotonicIDs(t *testing.T) {
	table := NewTable()

	a := table.Add(100, []int{100}, "sleep 10", false)
	b := table.Add(200, []int{200, 201}, "cat | wc -l", false)

	assert.Equal(t, uint64(1), a.ID())
	assert.Equal(t, uint64(2), b.ID())

	infos := table.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "running", infos[0].State)
	assert.Equal(t, []int{200, 201}, infos[1].PIDs)
}

// At most one job holds the foreground; granting it to another revokes the
// previous holder in the same step.
func TestTableForegroundExclusivity(t *testing.T) {
	table := NewTable()

	a := table.Add(100, []int{100}, "vim", true)
	fg, ok := table.Foreground()
	require.True(t, ok)
	assert.Equal(t, a.ID(), fg.ID())

	b := table.Add(200, []int{200}, "less", true)
	fg, ok = table.Foreground()
	require.True(t, ok)
	assert.Equal(t, b.ID(), fg.ID())

	holders := 0
	for _, info := range table.List() {
		if info.Foreground {
			holders++
			assert.Equal(t, b.ID(), info.ID)
		}
	}
	assert.Equal(t, 1, holders)

	// Returning the grant to the shell leaves nobody in the foreground.
	require.NoError(t, table.SetForeground(0))
	_, ok = table.Foreground()
	assert.False(t, ok)
}

func TestTableSetForegroundUnknownJob(t *testing.T) {
	table := NewTable()
	err := table.SetForeground(42)
	assert.Equal(t, "no such job: 42", err.Error())
}

func TestTableStopRevokesForeground(t *testing.T) {
	table := NewTable()
	j := table.Add(100, []int{100}, "vim", true)

	table.MarkStopped(100)

	infos := table.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "stopped", infos[0].State)
	assert.False(t, infos[0].Foreground)
	_, ok := table.Foreground()
	assert.False(t, ok)

	table.MarkContinued(100)
	infos = table.List()
	assert.Equal(t, "running", infos[0].State)
	assert.Equal(t, j.ID(), infos[0].ID)
}

func TestTableExitRequiresAllMembersReaped(t *testing.T) {
	table := NewTable()
	table.Add(100, []int{100, 101}, "cat | wc -l", false)

	table.MarkExited(100, 0)
	assert.Equal(t, "running", table.List()[0].State)

	// Exit status of the last member wins, pipeline convention.
	table.MarkExited(101, 3)
	info := table.List()[0]
	assert.Equal(t, "done", info.State)
	assert.Equal(t, 3, info.ExitStatus)
}

func TestTableMarkExitedUnknownPIDIsNoOp(t *testing.T) {
	table := NewTable()
	table.Add(100, []int{100}, "sleep 1", false)

	table.MarkExited(999, 1)
	assert.Equal(t, "running", table.List()[0].State)
}

// wait on a finished job returns immediately with the recorded status.
func TestTableWaitExitAlreadyDone(t *testing.T) {
	table := NewTable()
	j := table.Add(100, []int{100}, "true", false)
	table.MarkExited(100, 7)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := table.WaitExit(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, 7, status)
}

func TestTableWaitExitBlocksUntilReap(t *testing.T) {
	table := NewTable()
	j := table.Add(100, []int{100}, "sleep 1", false)

	go func() {
		time.Sleep(20 * time.Millisecond)
		table.MarkExited(100, 0)
	}()

	status, err := table.WaitExit(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestTableWaitExitCancellable(t *testing.T) {
	table := NewTable()
	j := table.Add(100, []int{100}, "sleep 999", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := table.WaitExit(ctx, j.ID())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTableWaitAll(t *testing.T) {
	table := NewTable()
	a := table.Add(100, []int{100}, "true", false)
	b := table.Add(200, []int{200}, "false", false)

	go func() {
		table.MarkExited(100, 0)
		table.MarkExited(200, 1)
	}()

	statuses, err := table.WaitAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{a.ID(): 0, b.ID(): 1}, statuses)
}

func TestTableWaitNotRunning(t *testing.T) {
	table := NewTable()
	j := table.Add(100, []int{100}, "vim", true)

	go func() {
		time.Sleep(20 * time.Millisecond)
		table.MarkStopped(100)
	}()

	info, err := table.WaitNotRunning(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Equal(t, "stopped", info.State)
}

func TestTableEvictDone(t *testing.T) {
	table := NewTable()
	table.Add(100, []int{100}, "true", false)
	table.Add(200, []int{200}, "sleep 10", false)
	table.MarkExited(100, 0)

	evicted := table.EvictDone()
	require.Len(t, evicted, 1)
	assert.Equal(t, uint64(1), evicted[0].ID)

	infos := table.List()
	require.Len(t, infos, 1)
	assert.Equal(t, uint64(2), infos[0].ID)

	// Ids are never reused after eviction.
	c := table.Add(300, []int{300}, "date", false)
	assert.Equal(t, uint64(3), c.ID())
}

func TestTableResolveSpecs(t *testing.T) {
	table := NewTable()
	a := table.Add(100, []int{100}, "sleep 10", false)
	b := table.Add(200, []int{200}, "vim notes.txt", false)

	tests := []struct {
		spec string
		want uint64
	}{
		{"%1", a.ID()},
		{"%2", b.ID()},
		{"%%", b.ID()},
		{"%+", b.ID()},
		{"%-", a.ID()},
		{"%vim", b.ID()},
		{"1", a.ID()},
		{"200", b.ID()}, // no job id 200, falls through to the pid index
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			j, err := table.Resolve(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, j.ID())
		})
	}

	for _, spec := range []string{"%9", "%missing", "999"} {
		_, err := table.Resolve(spec)
		assert.Errorf(t, err, "spec %q should not resolve", spec)
	}
}

func TestTableResolveEmptyPrefersCurrent(t *testing.T) {
	table := NewTable()
	table.Add(100, []int{100}, "sleep 10", false)
	b := table.Add(200, []int{200}, "vim", false)

	j, err := table.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, b.ID(), j.ID())
}

func TestTablePublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	table := NewTable(WithBus(bus))
	table.Add(100, []int{100}, "sleep 1", false)
	table.MarkStopped(100)
	table.MarkContinued(100)
	table.MarkExited(100, 0)

	wantStates := []string{"running", "stopped", "running", "done"}
	wantTypes := []types.EventType{
		types.EventJobCreated, types.EventJobState,
		types.EventJobState, types.EventJobState,
	}
	for i := range wantStates {
		select {
		case ev := <-ch:
			assert.Equal(t, wantTypes[i], ev.Type)
			require.NotNil(t, ev.Job)
			assert.Equal(t, wantStates[i], ev.Job.State)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}
