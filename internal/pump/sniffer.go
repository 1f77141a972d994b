package pump

import (
	"bytes"
	"sync"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"

	"github.com/coralsh/coral/internal/types"
)

// DefaultSniffBudget caps how much of a stream's prefix is inspected before
// the verdict locks.
const DefaultSniffBudget = 4096

// Sniffer incrementally classifies a byte stream from its prefix. The
// verdict is a pure function of the accumulated prefix, so the same bytes
// produce the same verdict regardless of chunk boundaries. Once locked the
// verdict is immutable for the stream's lifetime.
//
// The pump's fill goroutine feeds while its drain goroutine reads the
// verdict, so all state sits behind one mutex.
type Sniffer struct {
	mu      sync.Mutex
	budget  int
	prefix  []byte
	verdict types.Format
	locked  bool
}

// NewSniffer creates a sniffer with the given inspection budget; a
// non-positive budget selects DefaultSniffBudget.
func NewSniffer(budget int) *Sniffer {
	if budget <= 0 {
		budget = DefaultSniffBudget
	}
	return &Sniffer{budget: budget, verdict: types.FormatUnknown}
}

// Feed offers newly buffered bytes and returns the current verdict. Bytes
// beyond the budget are ignored; reaching the budget locks the verdict.
func (s *Sniffer) Feed(p []byte) types.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return s.verdict
	}
	remain := s.budget - len(s.prefix)
	if remain > 0 {
		if len(p) > remain {
			p = p[:remain]
		}
		s.prefix = append(s.prefix, p...)
	}
	s.verdict = classify(s.prefix)
	if len(s.prefix) >= s.budget {
		s.locked = true
	}
	return s.verdict
}

// Finish locks the verdict at stream end.
func (s *Sniffer) Finish() types.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		s.verdict = classify(s.prefix)
		s.locked = true
	}
	return s.verdict
}

// Verdict returns the current format and whether it is locked.
func (s *Sniffer) Verdict() (types.Format, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict, s.locked
}

// classify derives a verdict from a stream prefix. Detection order: JSON
// structure, delimited lines, binary content, plain text.
func classify(prefix []byte) types.Format {
	trimmed := bytes.TrimLeft(prefix, " \t\r\n")
	if len(trimmed) == 0 {
		return types.FormatUnknown
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		if jsonConsistent(trimmed) {
			return types.FormatJSON
		}
	}

	if f, ok := delimited(trimmed); ok {
		return f
	}

	if binary(prefix) {
		return types.FormatBinary
	}

	return types.FormatPlainText
}

// jsonConsistent runs a structural balance scan: braces, brackets and
// string/escape state must stay consistent over the prefix. A prefix that
// is merely incomplete still passes; contradictions fail.
func jsonConsistent(p []byte) bool {
	var depth int
	inString := false
	escaped := false
	for _, b := range p {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return false
			}
		case ' ', '\t', '\r', '\n', ':', ',':
		default:
			// Literals, numbers. Anything non-printable disqualifies.
			if b < 0x20 {
				return false
			}
		}
	}
	return true
}

// delimited checks whether the first few complete lines share the same
// nonzero count of a delimiter. Comma wins over tab when both qualify.
func delimited(p []byte) (types.Format, bool) {
	const maxLines = 5
	lines := completeLines(p, maxLines)
	if len(lines) < 2 {
		return types.FormatUnknown, false
	}
	if consistentCount(lines, ',') {
		return types.FormatCSV, true
	}
	if consistentCount(lines, '\t') {
		return types.FormatTable, true
	}
	return types.FormatUnknown, false
}

// completeLines returns up to n newline-terminated lines. A trailing
// partial line is ignored so chunk boundaries cannot change the verdict.
func completeLines(p []byte, n int) [][]byte {
	var lines [][]byte
	for len(p) > 0 && len(lines) < n {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(p[:idx], "\r")
		if len(line) > 0 {
			lines = append(lines, line)
		}
		p = p[idx+1:]
	}
	return lines
}

func consistentCount(lines [][]byte, delim byte) bool {
	want := bytes.Count(lines[0], []byte{delim})
	if want == 0 {
		return false
	}
	for _, line := range lines[1:] {
		if bytes.Count(line, []byte{delim}) != want {
			return false
		}
	}
	return true
}

// binary reports whether the prefix contains non-printable non-whitespace
// content. Known magic numbers short-circuit; otherwise suspicious bytes in
// valid UTF-8 or a detectable legacy text charset stay text.
func binary(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	suspicious := false
	for _, b := range p {
		if b < 0x09 || (b > 0x0D && b < 0x20 && b != 0x1B) || b == 0x7F {
			suspicious = true
			break
		}
	}
	if !suspicious {
		if utf8.Valid(p) {
			return false
		}
		// Non-UTF8 but no control garbage: accept legacy text encodings.
		det := chardet.NewTextDetector()
		if res, err := det.DetectBest(p); err == nil && res.Confidence >= 50 {
			return false
		}
		return true
	}
	mt := mimetype.Detect(p)
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return true
}
