// Command coral is the interactive shell session: a REPL over the command
// engine with POSIX job control, per-stage output taps and an optional
// HTTP observer API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/command"
	"github.com/coralsh/coral/internal/events"
	"github.com/coralsh/coral/internal/infrastructure/config"
	"github.com/coralsh/coral/internal/infrastructure/logging"
	"github.com/coralsh/coral/internal/infrastructure/monitoring"
	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/process"
	"github.com/coralsh/coral/internal/pump"
	"github.com/coralsh/coral/internal/server"
	"github.com/coralsh/coral/internal/shell"
	"github.com/coralsh/coral/internal/state"
	"github.com/coralsh/coral/internal/types"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (CORAL_* env vars override)")
	oneShot := flag.String("c", "", "run one command line and exit")
	serve := flag.Bool("serve", false, "enable the observer API regardless of config")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *serve {
		cfg.Server.Enabled = true
	}

	log := logging.NewOrNop(cfg.Logging)
	defer log.Sync()

	metrics := monitoring.NewMetrics()
	bus := events.NewBus()
	defer bus.Close()

	jobs := job.NewTable(
		job.WithBus(bus),
		job.WithMetrics(metrics),
		job.WithLogger(log),
	)
	ctrl := process.NewController(jobs,
		process.WithTerminal(process.OpenTerminal(os.Stdin)),
		process.WithControllerLogger(log),
		process.WithControllerMetrics(metrics),
	)
	defer ctrl.Close()

	st, err := state.New(jobs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coral: %v\n", err)
		os.Exit(1)
	}

	histPath := historyPath(cfg.History)
	if histPath != "" {
		if err := st.History().Load(histPath); err != nil {
			log.Warn("load history", zap.String("path", histPath), zap.Error(err))
		}
	}

	reg := command.NewRegistry(metrics, log)
	reg.Register(command.Builtins()...)
	reg.Register(command.JobControl()...)
	reg.Register(command.FileCommands()...)
	reg.Register(command.DataCommands()...)

	engine := shell.NewEngine(reg, jobs, ctrl, st, bus,
		shell.WithLogger(log),
		shell.WithMetrics(metrics),
		shell.WithPumpConfig(pump.Config{
			RingCapacity: cfg.Pump.RingCapacity,
			SniffBudget:  cfg.Pump.SniffBudget,
			DetachGrace:  cfg.Pump.DetachGrace,
			CaptureLimit: cfg.Pump.CaptureLimit,
		}),
	)

	var api *server.Server
	if cfg.Server.Enabled {
		api = server.New(cfg.Server, cfg.RateLimit, engine, jobs, bus, log, metrics)
		go func() {
			if err := api.Run(); err != nil {
				log.Error("observer api", zap.Error(err))
			}
		}()
	}

	code := 0
	if *oneShot != "" {
		code = runLine(engine, st, *oneShot)
	} else {
		code = repl(engine, st, jobs, ctrl)
	}

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = api.Shutdown(ctx)
		cancel()
	}
	if histPath != "" {
		if err := st.History().Save(histPath); err != nil {
			log.Warn("save history", zap.String("path", histPath), zap.Error(err))
		}
	}
	os.Exit(code)
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.LoadOrDefault()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coral: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// historyPath resolves the configured path, defaulting under the home
// directory. Empty means history is not persisted.
func historyPath(cfg config.HistoryConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".coral", "history.gz")
}

func runLine(engine *shell.Engine, st *state.State, line string) int {
	value, err := engine.Run(context.Background(), line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coral: %v\n", err)
		return 1
	}
	render(value)
	return st.LastExit()
}

// repl reads lines until EOF or the exit builtin. Interrupts while a
// foreground job owns the terminal are delivered to the job by the
// kernel; interrupts at the prompt just redraw it.
func repl(engine *shell.Engine, st *state.State, jobs *job.Table, ctrl *process.Controller) int {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		prompt(st)
		select {
		case <-interrupts:
			if fg, ok := jobs.Foreground(); ok {
				_ = ctrl.Signal(fg, unix.SIGINT)
				continue
			}
			fmt.Fprintln(os.Stderr)
		case err := <-scanErr:
			if err != nil {
				fmt.Fprintf(os.Stderr, "coral: %v\n", err)
				return 1
			}
			return st.LastExit()
		case line := <-lines:
			if line == "exit" {
				return st.LastExit()
			}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				for {
					select {
					case <-interrupts:
						if fg, ok := jobs.Foreground(); ok {
							_ = ctrl.Signal(fg, unix.SIGINT)
						} else {
							cancel()
						}
					case <-done:
						return
					}
				}
			}()
			value, err := engine.Run(ctx, line)
			close(done)
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "coral: %v\n", err)
				continue
			}
			render(value)
		}
	}
}

func prompt(st *state.State) {
	dir := st.Cwd()
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if rel, err := filepath.Rel(home, dir); err == nil && rel != ".." && !filepath.IsAbs(rel) && (rel == "." || rel[0] != '.') {
			if rel == "." {
				dir = "~"
			} else {
				dir = "~/" + rel
			}
		}
	}
	fmt.Fprintf(os.Stderr, "%s> ", dir)
}

func render(value types.Value) {
	if _, ok := value.(types.Unit); ok {
		return
	}
	if text := value.Text(); text != "" {
		fmt.Println(text)
	}
}
