package command

import (
	"strconv"
	"strings"

	"github.com/coralsh/coral/internal/types"
)

// Builtins returns the core in-process command set.
func Builtins() []Command {
	return []Command{
		cdCmd{}, pwdCmd{}, echoCmd{}, envCmd{}, historyCmd{}, psCmd{},
	}
}

type cdCmd struct{}

func (cdCmd) Name() string        { return "cd" }
func (cdCmd) Description() string { return "change the working directory" }

func (cdCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	switch len(args) {
	case 0:
		return types.Unit{}, cctx.State.Chdir("")
	case 1:
		if args[0] == "-" {
			old, ok := cctx.State.Getenv("OLDPWD")
			if !ok {
				return nil, types.Syntaxf("cd: OLDPWD not set")
			}
			if err := cctx.State.Chdir(old); err != nil {
				return nil, err
			}
			return types.String(cctx.State.Cwd()), nil
		}
		return types.Unit{}, cctx.State.Chdir(args[0])
	default:
		return nil, types.Syntaxf("usage: cd [dir]")
	}
}

type pwdCmd struct{}

func (pwdCmd) Name() string        { return "pwd" }
func (pwdCmd) Description() string { return "print the working directory" }

func (pwdCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	return types.String(cctx.State.Cwd()), nil
}

type echoCmd struct{}

func (echoCmd) Name() string        { return "echo" }
func (echoCmd) Description() string { return "print arguments, or the piped value" }

func (echoCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	if len(args) == 0 && cctx.Input != nil {
		return cctx.Input, nil
	}
	return types.String(strings.Join(args, " ")), nil
}

type envCmd struct{}

func (envCmd) Name() string        { return "env" }
func (envCmd) Description() string { return "list, set or unset session environment variables" }

// Execute with no arguments lists the snapshot; KEY=VALUE arguments set,
// -u KEY unsets. Mutations touch the session snapshot only.
func (envCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	if len(args) == 0 {
		table := types.Table{Columns: []string{"name", "value"}}
		for _, kv := range cctx.State.Environ() {
			k, v, _ := strings.Cut(kv, "=")
			table.Rows = append(table.Rows, []types.Value{types.String(k), types.String(v)})
		}
		return table, nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-u" {
			if i+1 >= len(args) {
				return nil, types.Syntaxf("env: -u needs a name")
			}
			i++
			cctx.State.Unsetenv(args[i])
			continue
		}
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, types.Syntaxf("env: expected KEY=VALUE, got %q", arg)
		}
		cctx.State.Setenv(k, v)
	}
	return types.Unit{}, nil
}

type historyCmd struct{}

func (historyCmd) Name() string        { return "history" }
func (historyCmd) Description() string { return "show recent command history" }

func (historyCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	limit := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return nil, types.Syntaxf("history: bad count %q", args[0])
		}
		limit = n
	} else if len(args) > 1 {
		return nil, types.Syntaxf("usage: history [n]")
	}

	var list types.List
	for _, line := range cctx.State.History().Entries(limit) {
		list = append(list, types.String(line))
	}
	return list, nil
}

type psCmd struct{}

func (psCmd) Name() string        { return "ps" }
func (psCmd) Description() string { return "list processes of tracked jobs" }

func (psCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	cctx.Proc.Reap()

	var list types.List
	for _, info := range cctx.Jobs.List() {
		for _, pid := range info.PIDs {
			list = append(list, types.ProcessInfo{
				PID:     pid,
				PGID:    info.PGID,
				JobID:   info.ID,
				Command: info.Command,
				State:   info.State,
			})
		}
	}
	return list, nil
}
