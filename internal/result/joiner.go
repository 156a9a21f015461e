package result

import (
	"strings"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

// JoinInputResults concatenates per-batch partitions in the order given.
// Callers pass partitions in submission order, not completion order.
func JoinInputResults(parts []Partition) Partition {
	var success, failed int
	for _, p := range parts {
		success += len(p.Success)
		failed += len(p.Error)
	}

	out := Partition{
		Success: make([]record.Row, 0, success),
		Error:   make([]record.Row, 0, failed),
	}
	for _, p := range parts {
		out.Success = append(out.Success, p.Success...)
		out.Error = append(out.Error, p.Error...)
	}
	return out
}

// JoinQueryResults flattens query result parts in listed order and renames
// the primary-key field of each row to "id". The key keeps its position
// and value; other fields are untouched.
func JoinQueryResults(parts [][]record.Row) []record.Row {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	rows := make([]record.Row, 0, n)
	for _, p := range parts {
		for _, row := range p {
			rows = append(rows, normalizeID(row))
		}
	}
	return rows
}

func normalizeID(row record.Row) record.Row {
	for _, f := range row {
		if f.Name != FieldID && strings.EqualFold(f.Name, FieldID) {
			return row.Renamed(f.Name, FieldID)
		}
	}
	return row.Clone()
}
