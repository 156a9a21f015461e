// Package csvutil converts between CSV text and ordered records.
//
// The first CSV line is the header; every following line becomes one
// record.Row whose field names are the header cells and whose values are the
// raw cell strings. The same dialect is used for batch request bodies,
// batch results and query result parts, which keeps positional
// reconciliation of request and response rows sound.
package csvutil

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

// ReadRows parses CSV from r into rows. Blank lines are skipped, but a line
// of empty cells such as "," is a row. An empty input yields no rows and no
// error.
func ReadRows(r io.Reader) ([]record.Row, error) {
	cr := csv.NewReader(NewCleanReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []record.Row
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		row := make(record.Row, 0, len(header))
		for i, name := range header {
			value := ""
			if i < len(rec) {
				value = rec[i]
			}
			row = append(row, record.Field{Name: name, Value: value})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseRows parses a CSV document held in memory.
func ParseRows(data []byte) ([]record.Row, error) {
	return ReadRows(bytes.NewReader(data))
}

// ReadFile opens path and parses it into rows.
func ReadFile(path string) ([]record.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadRows(f)
}

// WriteRows writes rows as CSV to w. The header is the union of field names
// in first-seen order; missing fields are written as empty cells.
func WriteRows(w io.Writer, rows []record.Row) error {
	cols := record.Columns(rows)
	cw := csv.NewWriter(w)

	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	line := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			line[i] = row.String(col)
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Encode renders rows as a CSV document.
func Encode(rows []record.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteRows(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
