// Package state holds the session-scoped shell state: working directory,
// environment snapshot, job table handle, history and last exit status.
// One State value is created at session start and passed by reference into
// every command context; there are no ambient globals.
package state

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/types"
)

// State is the per-session shell state. Safe for concurrent use; commands
// run sequentially but observers read snapshots concurrently.
type State struct {
	mu       sync.RWMutex
	cwd      string
	env      map[string]string
	lastExit int

	jobs    *job.Table
	history *History
}

// New captures the process environment and working directory as the
// session's starting state.
func New(jobs *job.Table) (*State, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, types.IO("resolve working directory", err)
	}
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return &State{
		cwd:     cwd,
		env:     env,
		jobs:    jobs,
		history: NewHistory(DefaultHistoryLimit),
	}, nil
}

// Jobs returns the session job table.
func (s *State) Jobs() *job.Table { return s.jobs }

// History returns the session command history.
func (s *State) History() *History { return s.history }

// Cwd returns the current working directory.
func (s *State) Cwd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

// Chdir resolves dir against the current directory and makes it current.
// The process working directory follows so spawned stages inherit it.
func (s *State) Chdir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := dir
	if target == "" {
		target = s.env["HOME"]
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.cwd, target)
	}
	target = filepath.Clean(target)

	info, err := os.Stat(target)
	if err != nil {
		return types.IO("cd "+dir, err)
	}
	if !info.IsDir() {
		return types.Syntaxf("cd: not a directory: %s", dir)
	}
	if err := os.Chdir(target); err != nil {
		return types.IO("cd "+dir, err)
	}
	s.env["OLDPWD"] = s.cwd
	s.env["PWD"] = target
	s.cwd = target
	return nil
}

// Getenv looks a variable up in the session snapshot.
func (s *State) Getenv(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.env[key]
	return v, ok
}

// Setenv sets a variable in the session snapshot. Spawned stages see the
// snapshot, not the process environment.
func (s *State) Setenv(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env[key] = value
}

// Unsetenv removes a variable from the session snapshot.
func (s *State) Unsetenv(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.env, key)
}

// Environ renders the snapshot as KEY=VALUE pairs sorted by key, the form
// spawn and the env command consume.
func (s *State) Environ() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.env))
	for k, v := range s.env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// LastExit returns the status of the most recent foreground pipeline.
func (s *State) LastExit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastExit
}

// SetLastExit records a pipeline's exit status.
func (s *State) SetLastExit(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastExit = code
}
