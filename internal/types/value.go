package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates Value variants.
type Kind int

const (
	KindUnit Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindRecord
	KindTable
	KindProcess
	KindFile
)

// Value is the structured result type produced by in-process commands and
// by reparsing external output once a structured format locks. External
// stages otherwise yield raw bytes, not Values.
type Value interface {
	Kind() Kind
	// Text flattens the value for piping into an external stage.
	Text() string
}

// Unit is the absence of a result.
type Unit struct{}

// Bool wraps a boolean result.
type Bool bool

// Int wraps a signed integer result.
type Int int64

// Float wraps a floating point result.
type Float float64

// String wraps a text result.
type String string

// List is an ordered sequence of values.
type List []Value

// Field is one entry of a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered set of named fields (the target of JSON object
// reparse).
type Record []Field

// Table is tabular data with named columns.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// ProcessInfo describes one shell-tracked process.
type ProcessInfo struct {
	PID     int
	PGID    int
	JobID   uint64
	Command string
	State   string
}

// FileEntry describes a filesystem entry.
type FileEntry struct {
	Name    string
	Path    string
	Dir     bool
	Size    int64
	Mode    uint32
	ModTime time.Time
}

func (Unit) Kind() Kind        { return KindUnit }
func (Bool) Kind() Kind        { return KindBool }
func (Int) Kind() Kind         { return KindInt }
func (Float) Kind() Kind       { return KindFloat }
func (String) Kind() Kind      { return KindString }
func (List) Kind() Kind        { return KindList }
func (Record) Kind() Kind      { return KindRecord }
func (Table) Kind() Kind       { return KindTable }
func (ProcessInfo) Kind() Kind { return KindProcess }
func (FileEntry) Kind() Kind   { return KindFile }

func (Unit) Text() string     { return "" }
func (b Bool) Text() string   { return strconv.FormatBool(bool(b)) }
func (i Int) Text() string    { return strconv.FormatInt(int64(i), 10) }
func (f Float) Text() string  { return strconv.FormatFloat(float64(f), 'g', -1, 64) }
func (s String) Text() string { return string(s) }

func (l List) Text() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.Text()
	}
	return strings.Join(parts, "\n")
}

func (r Record) Text() string {
	var sb strings.Builder
	for _, f := range r {
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (t Table) Text() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(t.Columns, "\t"))
	sb.WriteByte('\n')
	for _, row := range t.Rows {
		for i, cell := range row {
			if i > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(cell.Text())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (p ProcessInfo) Text() string {
	return fmt.Sprintf("%d\t%d\t%s\t%s", p.PID, p.PGID, p.State, p.Command)
}

func (f FileEntry) Text() string { return f.Name }

// Plain converts a Value to plain Go data for JSON encoding.
func Plain(v Value) any {
	switch val := v.(type) {
	case Unit:
		return nil
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case String:
		return string(val)
	case List:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Plain(item)
		}
		return out
	case Record:
		out := make(map[string]any, len(val))
		for _, f := range val {
			out[f.Name] = Plain(f.Value)
		}
		return out
	case Table:
		rows := make([]map[string]any, len(val.Rows))
		for i, row := range val.Rows {
			m := make(map[string]any, len(val.Columns))
			for j, col := range val.Columns {
				if j < len(row) {
					m[col] = Plain(row[j])
				}
			}
			rows[i] = m
		}
		return map[string]any{"columns": val.Columns, "rows": rows}
	case ProcessInfo:
		return map[string]any{
			"pid": val.PID, "pgid": val.PGID, "job_id": val.JobID,
			"command": val.Command, "state": val.State,
		}
	case FileEntry:
		return map[string]any{
			"name": val.Name, "path": val.Path, "dir": val.Dir,
			"size": val.Size, "mode": val.Mode, "mod_time": val.ModTime,
		}
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FromPlain converts decoded JSON data into a Value. Object key order is
// not preserved beyond what the decoder provides.
func FromPlain(data any) Value {
	switch d := data.(type) {
	case nil:
		return Unit{}
	case bool:
		return Bool(d)
	case float64:
		if d == float64(int64(d)) {
			return Int(int64(d))
		}
		return Float(d)
	case int64:
		return Int(d)
	case string:
		return String(d)
	case []any:
		list := make(List, len(d))
		for i, item := range d {
			list[i] = FromPlain(item)
		}
		return list
	case map[string]any:
		rec := make(Record, 0, len(d))
		for k, v := range d {
			rec = append(rec, Field{Name: k, Value: FromPlain(v)})
		}
		sortRecord(rec)
		return rec
	default:
		return String(fmt.Sprintf("%v", d))
	}
}

func sortRecord(r Record) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].Name < r[j-1].Name; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}
