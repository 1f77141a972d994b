package command

import (
	"strconv"
	"strings"

	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/process"
	"github.com/coralsh/coral/internal/types"
)

// JobControl returns the job-control command set.
func JobControl() []Command {
	return []Command{jobsCmd{}, fgCmd{}, bgCmd{}, waitCmd{}, killCmd{}}
}

// jobInfoRow renders one table row for the jobs listing.
func jobInfoRow(info types.JobInfo) []types.Value {
	marker := ""
	if info.Foreground {
		marker = "+"
	}
	return []types.Value{
		types.Int(info.ID),
		types.String(marker),
		types.Int(info.PGID),
		types.String(info.State),
		types.String(info.Command),
	}
}

type jobsCmd struct{}

func (jobsCmd) Name() string        { return "jobs" }
func (jobsCmd) Description() string { return "list tracked jobs and evict finished entries" }

// Execute lists the table including entries that just finished, then
// evicts the finished ones. Eviction through this report is the only way
// done jobs leave the table.
func (jobsCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	cctx.Proc.Reap()

	table := types.Table{Columns: []string{"job", "fg", "pgid", "state", "command"}}
	for _, info := range cctx.Jobs.List() {
		table.Rows = append(table.Rows, jobInfoRow(info))
	}
	cctx.Jobs.EvictDone()
	return table, nil
}

type fgCmd struct{}

func (fgCmd) Name() string        { return "fg" }
func (fgCmd) Description() string { return "resume a job in the foreground" }

// Execute resumes the job, hands it the terminal and blocks until it
// stops again or finishes. The terminal returns to the shell either way.
func (fgCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	if len(args) > 1 {
		return nil, types.Syntaxf("usage: fg [job]")
	}
	j, err := resolveOne(cctx, args)
	if err != nil {
		return nil, err
	}

	if err := cctx.Proc.Continue(j, true); err != nil {
		return nil, err
	}
	info, err := cctx.Jobs.WaitNotRunning(cctx.Ctx, j.ID())
	if claimErr := cctx.Proc.ClaimTerminal(); claimErr != nil && err == nil {
		err = claimErr
	}
	if err != nil {
		return nil, err
	}

	if info.State == job.Done.String() {
		cctx.State.SetLastExit(info.ExitStatus)
		return types.Int(info.ExitStatus), nil
	}
	return types.String("[" + strconv.FormatUint(info.ID, 10) + "] stopped: " + info.Command), nil
}

type bgCmd struct{}

func (bgCmd) Name() string        { return "bg" }
func (bgCmd) Description() string { return "resume a stopped job in the background" }

func (bgCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	if len(args) > 1 {
		return nil, types.Syntaxf("usage: bg [job]")
	}
	j, err := resolveOne(cctx, args)
	if err != nil {
		return nil, err
	}

	if err := cctx.Proc.Continue(j, false); err != nil {
		return nil, err
	}
	return types.String("[" + strconv.FormatUint(j.ID(), 10) + "] continued"), nil
}

type waitCmd struct{}

func (waitCmd) Name() string        { return "wait" }
func (waitCmd) Description() string { return "block until jobs finish and collect exit statuses" }

// Execute waits for the named jobs, or every tracked job when none are
// named. The wait suspends on exit notification and honors cancellation
// of the invocation context.
func (waitCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	table := types.Table{Columns: []string{"job", "status"}}

	if len(args) == 0 {
		statuses, err := cctx.Jobs.WaitAll(cctx.Ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range cctx.Jobs.List() {
			if status, ok := statuses[info.ID]; ok {
				table.Rows = append(table.Rows, []types.Value{types.Int(info.ID), types.Int(status)})
			}
		}
		return table, nil
	}

	for _, spec := range args {
		j, err := cctx.Jobs.Resolve(spec)
		if err != nil {
			return nil, err
		}
		status, err := cctx.Jobs.WaitExit(cctx.Ctx, j.ID())
		if err != nil {
			return nil, err
		}
		table.Rows = append(table.Rows, []types.Value{types.Int(j.ID()), types.Int(status)})
	}
	return table, nil
}

type killCmd struct{}

func (killCmd) Name() string        { return "kill" }
func (killCmd) Description() string { return "send a signal to a job's process group" }

// Execute handles kill [-l] [-SIGNAL | -s SIGNAL] target... where targets
// are job specs or pids. Killing an already-finished job reports a no-op
// rather than failing.
func (killCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	sigSpec := "TERM"
	var targets []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-l":
			var list types.List
			for _, name := range process.SignalNames() {
				list = append(list, types.String(name))
			}
			return list, nil
		case arg == "-s":
			if i+1 >= len(args) {
				return nil, types.Syntaxf("kill: -s needs a signal")
			}
			i++
			sigSpec = args[i]
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			sigSpec = arg[1:]
		default:
			targets = append(targets, arg)
		}
	}
	if len(targets) == 0 {
		return nil, types.Syntaxf("usage: kill [-l] [-SIGNAL] job...")
	}

	sig, err := process.ParseSignal(sigSpec)
	if err != nil {
		return nil, err
	}

	var reports types.List
	for _, spec := range targets {
		j, err := cctx.Jobs.Resolve(spec)
		if err != nil {
			return nil, err
		}
		if _, done := isDone(cctx, j); done {
			reports = append(reports, types.String("kill: job "+strconv.FormatUint(j.ID(), 10)+" already finished"))
			continue
		}
		if err := cctx.Proc.Signal(j, sig); err != nil {
			return nil, err
		}
		reports = append(reports, types.String("["+strconv.FormatUint(j.ID(), 10)+"] signaled"))
	}
	if len(reports) == 1 {
		return reports[0], nil
	}
	return reports, nil
}

// resolveOne resolves the optional single job-spec argument, defaulting to
// the current job.
func resolveOne(cctx *Context, args []string) (*job.Job, error) {
	spec := ""
	if len(args) == 1 {
		spec = args[0]
	}
	j, err := cctx.Jobs.Resolve(spec)
	if err != nil {
		return nil, err
	}
	if _, done := isDone(cctx, j); done {
		return nil, types.NoSuchJob(spec)
	}
	return j, nil
}

// isDone reads the job's current snapshot from the table.
func isDone(cctx *Context, j *job.Job) (types.JobInfo, bool) {
	for _, info := range cctx.Jobs.List() {
		if info.ID == j.ID() {
			return info, info.State == job.Done.String()
		}
	}
	return types.JobInfo{}, true
}
