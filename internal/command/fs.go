package command

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/coralsh/coral/internal/types"
)

// FileCommands returns the filesystem command set.
func FileCommands() []Command {
	return []Command{lsCmd{}, findCmd{}}
}

type lsCmd struct{}

func (lsCmd) Name() string        { return "ls" }
func (lsCmd) Description() string { return "list directory entries" }

func (lsCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	dir := cctx.State.Cwd()
	if len(args) == 1 {
		dir = args[0]
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cctx.State.Cwd(), dir)
		}
	} else if len(args) > 1 {
		return nil, types.Syntaxf("usage: ls [dir]")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, types.IO("ls "+dir, err)
	}

	var list types.List
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Raced with a concurrent unlink; skip the entry.
			continue
		}
		list = append(list, types.FileEntry{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Dir:     entry.IsDir(),
			Size:    info.Size(),
			Mode:    uint32(info.Mode()),
			ModTime: info.ModTime(),
		})
	}
	return list, nil
}

type findCmd struct{}

func (findCmd) Name() string        { return "find" }
func (findCmd) Description() string { return "walk a tree matching a glob pattern" }

// Execute walks root (default: the working directory) in parallel and
// returns paths whose root-relative form matches the doublestar pattern.
func (findCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, types.Syntaxf("usage: find pattern [root]")
	}
	pattern := args[0]
	if !doublestar.ValidatePattern(pattern) {
		return nil, types.Syntaxf("find: bad pattern %q", pattern)
	}
	root := cctx.State.Cwd()
	if len(args) == 2 {
		root = args[1]
		if !filepath.IsAbs(root) {
			root = filepath.Join(cctx.State.Cwd(), root)
		}
	}

	var mu sync.Mutex
	var matches []string
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree; report what we can reach.
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		ok, matchErr := doublestar.Match(pattern, filepath.ToSlash(rel))
		if matchErr == nil && ok {
			mu.Lock()
			matches = append(matches, path)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, types.IO("find "+root, err)
	}

	sort.Strings(matches)
	var list types.List
	for _, m := range matches {
		list = append(list, types.String(m))
	}
	return list, nil
}
