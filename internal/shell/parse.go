package shell

import (
	"strings"

	"github.com/coralsh/coral/internal/types"
)

// Pipeline is one parsed command line: stages separated by |, optionally
// marked for background execution by a trailing &. Stage words are
// whitespace-split; quoting and globbing are not part of this grammar.
type Pipeline struct {
	Line       string
	Stages     [][]string
	Background bool
}

// Parse splits a command line into a pipeline. An all-whitespace line
// returns nil with no error.
func Parse(line string) (*Pipeline, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}

	p := &Pipeline{Line: trimmed}
	if strings.HasSuffix(trimmed, "&") {
		p.Background = true
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "&"))
		if trimmed == "" {
			return nil, types.Parsef("nothing to background")
		}
	}

	for _, part := range strings.Split(trimmed, "|") {
		argv := strings.Fields(part)
		if len(argv) == 0 {
			return nil, types.Parsef("empty pipeline stage")
		}
		p.Stages = append(p.Stages, argv)
	}
	return p, nil
}
