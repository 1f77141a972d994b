package pump

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/coralsh/coral/internal/types"
)

// Reparse converts a captured stream with a locked structured verdict into
// a Value: JSON becomes Record/List trees, delimited text becomes a Table
// whose first row is taken as the header.
func Reparse(format types.Format, data []byte) (types.Value, bool) {
	switch format {
	case types.FormatJSON:
		var decoded any
		if err := sonic.Unmarshal(data, &decoded); err != nil {
			return nil, false
		}
		return types.FromPlain(decoded), true
	case types.FormatCSV:
		return reparseDelimited(data, ',')
	case types.FormatTable:
		return reparseDelimited(data, '\t')
	default:
		return nil, false
	}
}

func reparseDelimited(data []byte, delim rune) (types.Value, bool) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, false
	}

	table := types.Table{Columns: records[0]}
	for _, record := range records[1:] {
		row := make([]types.Value, len(record))
		for i, cell := range record {
			row[i] = cellValue(cell)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, true
}

// cellValue narrows a delimited cell to Int or Float when it parses
// cleanly, String otherwise.
func cellValue(cell string) types.Value {
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return types.Int(n)
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return types.Float(f)
	}
	return types.String(cell)
}
