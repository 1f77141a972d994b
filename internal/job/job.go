// Package job owns the shell's job table: the mapping from job ids to
// process groups, their lifecycle state, and the foreground grant. The
// table is the single piece of shared mutable state in the engine; every
// mutation takes one short-held lock and never holds it across a wait.
package job

import (
	"github.com/coralsh/coral/internal/types"
)

// State is a job's position in the lifecycle machine.
// Running and Stopped interchange; Done is terminal.
type State int

const (
	Running State = iota
	Stopped
	Done
)

// String returns the observer-facing state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Job tracks one process group through its lifecycle. All fields are
// guarded by the owning table's lock; readers go through the table's
// snapshot methods.
type Job struct {
	id      uint64
	pgid    int
	command string

	pids     []int
	live     map[int]struct{}
	state    State
	exitCode int
	fg       bool

	// changed is replaced on every transition so waiters can observe the
	// next one; exited is closed exactly once, when state reaches Done.
	changed chan struct{}
	exited  chan struct{}
}

// ID returns the table-assigned job id. Stable for the job's lifetime.
func (j *Job) ID() uint64 { return j.id }

// PGID returns the OS process group the job's members share.
func (j *Job) PGID() int { return j.pgid }

// Exited is closed once the job reaches Done.
func (j *Job) Exited() <-chan struct{} { return j.exited }

// infoLocked snapshots the job. Caller holds the table lock.
func (j *Job) infoLocked() types.JobInfo {
	pids := make([]int, len(j.pids))
	copy(pids, j.pids)
	return types.JobInfo{
		ID:         j.id,
		PGID:       j.pgid,
		PIDs:       pids,
		Command:    j.command,
		State:      j.state.String(),
		ExitStatus: j.exitCode,
		Foreground: j.fg,
	}
}

// notifyLocked wakes transition waiters. Caller holds the table lock.
func (j *Job) notifyLocked() {
	close(j.changed)
	j.changed = make(chan struct{})
}
