package state

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/coralsh/coral/internal/types"
)

// DefaultHistoryLimit bounds in-memory history entries.
const DefaultHistoryLimit = 10000

// History is the session command history. Entries past the limit fall off
// the front; consecutive duplicates and blank lines are not recorded.
type History struct {
	mu      sync.Mutex
	entries []string
	limit   int
}

// NewHistory creates an empty history with the given entry limit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Append records one executed command line.
func (h *History) Append(line string) {
	if line == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

// Entries returns up to the last n entries, oldest first. n <= 0 returns
// everything.
func (h *History) Entries(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := 0
	if n > 0 && len(h.entries) > n {
		start = len(h.entries) - n
	}
	out := make([]string, len(h.entries)-start)
	copy(out, h.entries[start:])
	return out
}

// Len reports the recorded entry count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Save writes the history to path as gzip-compressed lines, creating
// parent directories as needed.
func (h *History) Save(path string) error {
	entries := h.Entries(0)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.IO("create history directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return types.IO("write history", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	w := bufio.NewWriter(zw)
	for _, line := range entries {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return types.IO("write history", err)
		}
	}
	if err := w.Flush(); err != nil {
		return types.IO("write history", err)
	}
	if err := zw.Close(); err != nil {
		return types.IO("write history", err)
	}
	return f.Close()
}

// Load replaces the history with the contents of a Save file. A missing
// file leaves the history empty without error.
func (h *History) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.IO("read history", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return types.IO("read history", err)
	}
	defer zr.Close()

	var entries []string
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			entries = append(entries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return types.IO("read history", err)
	}
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}

	h.mu.Lock()
	h.entries = entries
	h.mu.Unlock()
	return nil
}
