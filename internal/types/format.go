package types

// Format is the sniffed structure of a byte stream.
type Format int

const (
	FormatUnknown Format = iota
	FormatPlainText
	FormatJSON
	FormatCSV
	FormatTable
	FormatBinary
)

// String returns the wire name of the format.
func (f Format) String() string {
	switch f {
	case FormatPlainText:
		return "text"
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	case FormatTable:
		return "table"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Structured reports whether a locked verdict can be reparsed into a Value.
func (f Format) Structured() bool {
	return f == FormatJSON || f == FormatCSV || f == FormatTable
}
