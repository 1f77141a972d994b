// Package process owns the OS side of job control: spawning stages into
// process groups, delivering signals to whole groups, handing the terminal
// foreground back and forth, and reaping child exits into the job table.
package process

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/types"
)

// signalNames covers the signals job control and kill accept by name.
var signalNames = map[string]unix.Signal{
	"HUP":    unix.SIGHUP,
	"INT":    unix.SIGINT,
	"QUIT":   unix.SIGQUIT,
	"ILL":    unix.SIGILL,
	"TRAP":   unix.SIGTRAP,
	"ABRT":   unix.SIGABRT,
	"BUS":    unix.SIGBUS,
	"FPE":    unix.SIGFPE,
	"KILL":   unix.SIGKILL,
	"USR1":   unix.SIGUSR1,
	"SEGV":   unix.SIGSEGV,
	"USR2":   unix.SIGUSR2,
	"PIPE":   unix.SIGPIPE,
	"ALRM":   unix.SIGALRM,
	"TERM":   unix.SIGTERM,
	"CHLD":   unix.SIGCHLD,
	"CONT":   unix.SIGCONT,
	"STOP":   unix.SIGSTOP,
	"TSTP":   unix.SIGTSTP,
	"TTIN":   unix.SIGTTIN,
	"TTOU":   unix.SIGTTOU,
	"URG":    unix.SIGURG,
	"XCPU":   unix.SIGXCPU,
	"XFSZ":   unix.SIGXFSZ,
	"VTALRM": unix.SIGVTALRM,
	"PROF":   unix.SIGPROF,
	"WINCH":  unix.SIGWINCH,
	"IO":     unix.SIGIO,
	"SYS":    unix.SIGSYS,
}

// ParseSignal resolves a user-supplied signal spec: a number ("9"), a bare
// name ("KILL", case-insensitive) or a prefixed name ("SIGKILL").
func ParseSignal(spec string) (unix.Signal, error) {
	if spec == "" {
		return 0, types.Signalf("empty signal")
	}
	if n, err := strconv.Atoi(spec); err == nil {
		if n <= 0 || n > 64 {
			return 0, types.Signalf("invalid signal number: %d", n)
		}
		return unix.Signal(n), nil
	}
	name := strings.ToUpper(spec)
	name = strings.TrimPrefix(name, "SIG")
	if sig, ok := signalNames[name]; ok {
		return sig, nil
	}
	return 0, types.Signalf("unknown signal: %s", spec)
}

// SignalName returns the canonical short name for a signal, or its number
// when it has no name here.
func SignalName(sig unix.Signal) string {
	for name, s := range signalNames {
		if s == sig {
			return name
		}
	}
	return strconv.Itoa(int(sig))
}

// SignalNames lists the known signal names sorted by number, for kill -l.
func SignalNames() []string {
	names := make([]string, 0, len(signalNames))
	for name := range signalNames {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		sa, sb := signalNames[names[a]], signalNames[names[b]]
		if sa != sb {
			return sa < sb
		}
		return names[a] < names[b]
	})
	return names
}
