package job

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coralsh/coral/internal/events"
	"github.com/coralsh/coral/internal/infrastructure/monitoring"
	"github.com/coralsh/coral/internal/types"
)

// Table is the session-scoped job registry. Job ids increase monotonically
// and are never reused within a session. Entries leave the table only
// through explicit eviction, never implicitly on exit.
type Table struct {
	mu     sync.Mutex
	nextID uint64
	jobs   map[uint64]*Job
	byPID  map[int]*Job
	fg     *Job

	bus     *events.Bus
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// Option customizes a table.
type Option func(*Table)

// WithBus publishes job lifecycle events to the given bus.
func WithBus(bus *events.Bus) Option {
	return func(t *Table) { t.bus = bus }
}

// WithMetrics wires job lifecycle metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(t *Table) { t.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Table) { t.log = log }
}

// NewTable creates an empty job table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		nextID: 1,
		jobs:   make(map[uint64]*Job),
		byPID:  make(map[int]*Job),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers a freshly spawned process group as a Running job. When
// foreground is requested the grant is revoked from any previous holder.
func (t *Table) Add(pgid int, pids []int, command string, foreground bool) *Job {
	t.mu.Lock()
	j := &Job{
		id:      t.nextID,
		pgid:    pgid,
		command: command,
		pids:    append([]int(nil), pids...),
		live:    make(map[int]struct{}, len(pids)),
		state:   Running,
		changed: make(chan struct{}),
		exited:  make(chan struct{}),
	}
	t.nextID++
	for _, pid := range pids {
		j.live[pid] = struct{}{}
		t.byPID[pid] = j
	}
	t.jobs[j.id] = j
	if foreground {
		t.grantForegroundLocked(j)
	}
	info := j.infoLocked()
	t.mu.Unlock()

	t.metrics.RecordJobCreated()
	t.log.Debug("job created",
		zap.Uint64("job", j.id),
		zap.Int("pgid", pgid),
		zap.String("command", command),
		zap.Bool("foreground", foreground))
	t.publish(types.EventJobCreated, info)
	return j
}

// Get looks up a job by id.
func (t *Table) Get(id uint64) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	return j, ok
}

// ByPID looks up the job owning a member pid, including already-reaped
// members of live jobs.
func (t *Table) ByPID(pid int) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byPID[pid]
	return j, ok
}

// Resolve maps a user-supplied job spec to a tracked job:
//
//	%N        job id N
//	%% or %+  the current job (highest-numbered job not yet done)
//	%-        the previous job
//	%prefix   unique command-line prefix match
//	N         job id N, falling back to a member pid
func (t *Table) Resolve(spec string) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if spec == "" {
		if j := t.currentLocked(0); j != nil {
			return j, nil
		}
		return nil, types.NoSuchJob(spec)
	}

	if strings.HasPrefix(spec, "%") {
		body := spec[1:]
		switch body {
		case "%", "+":
			if j := t.currentLocked(0); j != nil {
				return j, nil
			}
			return nil, types.NoSuchJob(spec)
		case "-":
			if j := t.currentLocked(1); j != nil {
				return j, nil
			}
			return nil, types.NoSuchJob(spec)
		}
		if id, err := strconv.ParseUint(body, 10, 64); err == nil {
			if j, ok := t.jobs[id]; ok {
				return j, nil
			}
			return nil, types.NoSuchJob(spec)
		}
		if j := t.byPrefixLocked(body); j != nil {
			return j, nil
		}
		return nil, types.NoSuchJob(spec)
	}

	if n, err := strconv.ParseUint(spec, 10, 64); err == nil {
		if j, ok := t.jobs[n]; ok {
			return j, nil
		}
		if j, ok := t.byPID[int(n)]; ok {
			return j, nil
		}
	}
	return nil, types.NoSuchJob(spec)
}

// currentLocked returns the nth most recent job that has not finished,
// ordered by descending job id. Caller holds the lock.
func (t *Table) currentLocked(nth int) *Job {
	ids := make([]uint64, 0, len(t.jobs))
	for id, j := range t.jobs {
		if j.state != Done {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] > ids[b] })
	if nth >= len(ids) {
		return nil
	}
	return t.jobs[ids[nth]]
}

// byPrefixLocked returns the unique live job whose command line starts
// with prefix, nil when ambiguous or absent. Caller holds the lock.
func (t *Table) byPrefixLocked(prefix string) *Job {
	var found *Job
	for _, j := range t.jobs {
		if j.state == Done || !strings.HasPrefix(j.command, prefix) {
			continue
		}
		if found != nil {
			return nil
		}
		found = j
	}
	return found
}

// SetForeground grants the terminal foreground to the given job, revoking
// it from the previous holder in the same step. Passing id 0 returns the
// grant to the shell itself.
func (t *Table) SetForeground(id uint64) error {
	t.mu.Lock()
	if id == 0 {
		if prev := t.fg; prev != nil {
			prev.fg = false
			prev.notifyLocked()
		}
		t.fg = nil
		t.mu.Unlock()
		return nil
	}
	j, ok := t.jobs[id]
	if !ok || j.state == Done {
		t.mu.Unlock()
		return types.NoSuchJob(strconv.FormatUint(id, 10))
	}
	if prev := t.fg; prev != nil && prev != j {
		prev.fg = false
		prev.notifyLocked()
	}
	j.fg = true
	t.fg = j
	j.notifyLocked()
	t.mu.Unlock()
	return nil
}

// Foreground returns the job currently holding the terminal grant.
func (t *Table) Foreground() (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fg, t.fg != nil
}

// grantForegroundLocked is SetForeground's body for callers already
// holding the lock.
func (t *Table) grantForegroundLocked(j *Job) {
	if prev := t.fg; prev != nil && prev != j {
		prev.fg = false
		prev.notifyLocked()
	}
	j.fg = true
	t.fg = j
}

// MarkStopped records a stop notification for a member pid. The first
// stopped member moves the whole job to Stopped; a stopped foreground job
// returns the terminal grant to the shell.
func (t *Table) MarkStopped(pid int) {
	t.mu.Lock()
	j, ok := t.byPID[pid]
	if !ok || j.state != Running {
		t.mu.Unlock()
		return
	}
	j.state = Stopped
	if j.fg {
		j.fg = false
		t.fg = nil
	}
	j.notifyLocked()
	info := j.infoLocked()
	t.mu.Unlock()

	t.log.Debug("job stopped", zap.Uint64("job", info.ID), zap.Int("pid", pid))
	t.publish(types.EventJobState, info)
}

// MarkContinued records a continue notification for a member pid.
func (t *Table) MarkContinued(pid int) {
	t.mu.Lock()
	j, ok := t.byPID[pid]
	if !ok || j.state != Stopped {
		t.mu.Unlock()
		return
	}
	j.state = Running
	j.notifyLocked()
	info := j.infoLocked()
	t.mu.Unlock()

	t.log.Debug("job continued", zap.Uint64("job", info.ID), zap.Int("pid", pid))
	t.publish(types.EventJobState, info)
}

// MarkExited records a reaped member pid with its exit status. The job
// reaches Done once every member has been reaped; the recorded status is
// that of the last member to exit, pipeline convention.
func (t *Table) MarkExited(pid int, status int) {
	t.mu.Lock()
	j, ok := t.byPID[pid]
	if !ok {
		// Reap race with an untracked process; tolerated.
		t.mu.Unlock()
		return
	}
	delete(j.live, pid)
	if len(j.live) > 0 {
		t.mu.Unlock()
		return
	}
	j.state = Done
	j.exitCode = status
	if j.fg {
		j.fg = false
		t.fg = nil
	}
	j.notifyLocked()
	close(j.exited)
	info := j.infoLocked()
	t.mu.Unlock()

	statusClass := "ok"
	if status != 0 {
		statusClass = "error"
	}
	t.metrics.RecordJobExit(statusClass)
	t.log.Debug("job done", zap.Uint64("job", info.ID), zap.Int("status", status))
	t.publish(types.EventJobState, info)
}

// List snapshots every tracked job, ordered by id.
func (t *Table) List() []types.JobInfo {
	t.mu.Lock()
	infos := make([]types.JobInfo, 0, len(t.jobs))
	for _, j := range t.jobs {
		infos = append(infos, j.infoLocked())
	}
	t.mu.Unlock()

	sort.Slice(infos, func(a, b int) bool { return infos[a].ID < infos[b].ID })
	return infos
}

// EvictDone removes finished jobs from the table and returns their final
// snapshots. This is the only path that shrinks the table.
func (t *Table) EvictDone() []types.JobInfo {
	t.mu.Lock()
	var evicted []types.JobInfo
	for id, j := range t.jobs {
		if j.state != Done {
			continue
		}
		evicted = append(evicted, j.infoLocked())
		for _, pid := range j.pids {
			delete(t.byPID, pid)
		}
		delete(t.jobs, id)
	}
	t.mu.Unlock()

	for range evicted {
		t.metrics.RecordJobRemoved()
	}
	sort.Slice(evicted, func(a, b int) bool { return evicted[a].ID < evicted[b].ID })
	return evicted
}

// WaitExit blocks until the job reaches Done and returns its exit status.
// A job that already finished returns immediately with the recorded
// status. Cancelling ctx abandons the wait without touching the job.
func (t *Table) WaitExit(ctx context.Context, id uint64) (int, error) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return 0, types.NoSuchJob(strconv.FormatUint(id, 10))
	}

	select {
	case <-j.exited:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return j.exitCode, nil
}

// WaitAll blocks until every currently tracked job reaches Done and
// returns their exit statuses keyed by job id.
func (t *Table) WaitAll(ctx context.Context) (map[uint64]int, error) {
	t.mu.Lock()
	pending := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		pending = append(pending, j)
	}
	t.mu.Unlock()

	statuses := make(map[uint64]int, len(pending))
	for _, j := range pending {
		select {
		case <-j.exited:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		t.mu.Lock()
		statuses[j.id] = j.exitCode
		t.mu.Unlock()
	}
	return statuses, nil
}

// WaitNotRunning blocks until the job leaves the Running state and returns
// the snapshot taken at that moment. Used by fg to block until the
// resumed job stops again or finishes.
func (t *Table) WaitNotRunning(ctx context.Context, id uint64) (types.JobInfo, error) {
	for {
		t.mu.Lock()
		j, ok := t.jobs[id]
		if !ok {
			t.mu.Unlock()
			return types.JobInfo{}, types.NoSuchJob(strconv.FormatUint(id, 10))
		}
		if j.state != Running {
			info := j.infoLocked()
			t.mu.Unlock()
			return info, nil
		}
		changed := j.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return types.JobInfo{}, ctx.Err()
		}
	}
}

func (t *Table) publish(typ types.EventType, info types.JobInfo) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(types.Event{
		Type: typ,
		Time: time.Now(),
		Job:  &info,
	})
}
