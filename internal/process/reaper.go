package process

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/job"
)

// Reaper collects child state changes into the job table. It runs one
// goroutine that waits on SIGCHLD and on explicit kicks, then drains every
// pending notification non-blockingly so zombies never accumulate.
type Reaper struct {
	jobs *job.Table
	log  *zap.Logger

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewReaper creates a stopped reaper; call Run to start it.
func NewReaper(jobs *job.Table, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{
		jobs: jobs,
		log:  log,
		kick: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run starts the reap loop in its own goroutine.
func (r *Reaper) Run() {
	sigch := make(chan os.Signal, 8)
	signal.Notify(sigch, syscall.SIGCHLD)

	go func() {
		defer close(r.done)
		defer signal.Stop(sigch)
		for {
			select {
			case <-sigch:
			case <-r.kick:
			case <-r.quit:
				r.drain()
				return
			}
			r.drain()
		}
	}()
}

// Kick requests an opportunistic reap pass, used before each new command
// so finished background jobs are recorded promptly.
func (r *Reaper) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stop shuts the loop down after one final drain.
func (r *Reaper) Stop() {
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
	<-r.done
}

// drain consumes every pending child notification. Stop and continue
// notifications are requested alongside exits so the state machine sees
// Running/Stopped transitions without polling.
func (r *Reaper) drain() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD || pid <= 0 {
			// No children, or someone else reaped first. Both benign.
			return
		}
		if err != nil {
			r.log.Warn("wait4 failed", zap.Error(err))
			return
		}

		switch {
		case ws.Stopped():
			r.jobs.MarkStopped(pid)
		case ws.Continued():
			r.jobs.MarkContinued(pid)
		case ws.Exited():
			r.jobs.MarkExited(pid, ws.ExitStatus())
		case ws.Signaled():
			// Shell convention for signal deaths.
			r.jobs.MarkExited(pid, 128+int(ws.Signal()))
		}
	}
}
