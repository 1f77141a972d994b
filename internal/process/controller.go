package process

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/infrastructure/monitoring"
	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/types"
)

// Stage describes one external pipeline member: its argv and the
// descriptors the engine wired for it. Nil descriptors inherit nothing;
// the child gets /dev/null semantics from os/exec.
type Stage struct {
	Argv   []string
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Controller spawns pipeline stages into one process group per job,
// delivers signals to whole groups and drives foreground transitions.
type Controller struct {
	jobs    *job.Table
	reaper  *Reaper
	tty     *Terminal
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// ControllerOption customizes a controller.
type ControllerOption func(*Controller)

// WithTerminal enables real terminal foreground handoff.
func WithTerminal(t *Terminal) ControllerOption {
	return func(c *Controller) { c.tty = t }
}

// WithControllerLogger sets the structured logger.
func WithControllerLogger(log *zap.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

// WithControllerMetrics wires signal metrics.
func WithControllerMetrics(m *monitoring.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a controller bound to a job table and starts its
// reaper.
func NewController(jobs *job.Table, opts ...ControllerOption) *Controller {
	c := &Controller{
		jobs: jobs,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reaper = NewReaper(jobs, c.log)
	c.reaper.Run()
	return c
}

// Reap requests an opportunistic reap pass.
func (c *Controller) Reap() { c.reaper.Kick() }

// Close stops the reaper and returns the terminal to the shell.
func (c *Controller) Close() {
	c.reaper.Stop()
	_ = c.tty.Claim()
}

// SpawnPipeline starts every stage inside one new process group led by the
// first stage. When foreground is set the group also receives terminal
// control. A mid-pipeline start failure still registers the already
// started stages as a job so they are tracked through to reap; the error
// is returned alongside.
func (c *Controller) SpawnPipeline(stages []Stage, dir string, env []string, commandLine string, foreground bool) (*job.Job, error) {
	if len(stages) == 0 {
		return nil, types.Otherf("empty pipeline")
	}

	var pids []int
	pgid := 0
	var startErr error
	for _, stage := range stages {
		path, err := exec.LookPath(stage.Argv[0])
		if err != nil {
			startErr = types.CommandNotFound(stage.Argv[0])
			break
		}
		cmd := exec.Command(path, stage.Argv[1:]...)
		cmd.Dir = dir
		cmd.Env = env
		cmd.Stdin = stage.Stdin
		cmd.Stdout = stage.Stdout
		cmd.Stderr = stage.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
		if err := cmd.Start(); err != nil {
			startErr = types.IO("spawn "+stage.Argv[0], err)
			break
		}
		pids = append(pids, cmd.Process.Pid)
		if pgid == 0 {
			pgid = cmd.Process.Pid
		}
	}

	if len(pids) == 0 {
		return nil, startErr
	}
	if startErr != nil {
		// Abort the stages that did start; the reaper records their exits.
		_ = unix.Kill(-pgid, unix.SIGTERM)
	}

	j := c.jobs.Add(pgid, pids, commandLine, foreground && startErr == nil)
	if foreground && startErr == nil {
		if err := c.tty.Grant(pgid); err != nil {
			c.log.Warn("terminal grant failed", zap.Uint64("job", j.ID()), zap.Error(err))
		}
	}
	return j, startErr
}

// SpawnPTY starts a single command on a fresh pseudo-terminal and returns
// the master side for a pump to tap. Used when the caller has no real
// terminal to hand over, such as the observer API.
func (c *Controller) SpawnPTY(argv []string, dir string, env []string, commandLine string) (*job.Job, *os.File, error) {
	if len(argv) == 0 {
		return nil, nil, types.Otherf("empty command")
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, nil, types.CommandNotFound(argv[0])
	}
	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env

	master, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, types.IO("allocate pty for "+argv[0], err)
	}
	pid := cmd.Process.Pid
	// pty.Start gives the child its own session; its pgid is its pid.
	j := c.jobs.Add(pid, []int{pid}, commandLine, false)
	return j, master, nil
}

// Signal delivers a signal to the job's whole process group. A group that
// is already gone is a benign no-op, not an error.
func (c *Controller) Signal(j *job.Job, sig unix.Signal) error {
	err := unix.Kill(-j.PGID(), sig)
	if err != nil && err != unix.ESRCH {
		return types.Signalf("signal %s to job %d: %v", SignalName(sig), j.ID(), err)
	}
	c.metrics.RecordSignal(SignalName(sig))
	c.log.Debug("signal delivered",
		zap.Uint64("job", j.ID()),
		zap.String("signal", SignalName(sig)))
	c.reaper.Kick()
	return nil
}

// Continue resumes a stopped job with SIGCONT. Foreground resumption also
// transfers terminal control before the group wakes.
func (c *Controller) Continue(j *job.Job, foreground bool) error {
	if foreground {
		if err := c.jobs.SetForeground(j.ID()); err != nil {
			return err
		}
		if err := c.tty.Grant(j.PGID()); err != nil {
			return err
		}
	}
	if err := c.Signal(j, unix.SIGCONT); err != nil {
		return err
	}
	// Mark the transition directly so callers observe Running without
	// waiting on the next WCONTINUED notification.
	c.jobs.MarkContinued(j.PGID())
	return nil
}

// ClaimTerminal returns terminal foreground control to the shell.
func (c *Controller) ClaimTerminal() error {
	if err := c.jobs.SetForeground(0); err != nil {
		return err
	}
	return c.tty.Claim()
}
