// Package split partitions bulk input into size-bounded batches.
package split

import (
	"fmt"

	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/record"
)

// DefaultMaxBatchSize is used when Options.MaxBatchSize is not positive.
const DefaultMaxBatchSize = 2000

// Content types reported by a Source.
const (
	ContentTypeCSV  = "CSV"
	ContentTypeJSON = "JSON"
)

// Options controls how input is split.
type Options struct {
	MaxBatchSize int
}

func (o Options) maxBatchSize() int {
	if o.MaxBatchSize <= 0 {
		return DefaultMaxBatchSize
	}
	return o.MaxBatchSize
}

// Source is the input to a load: either a CSV file on disk or rows already
// in memory. Use File or Rows to construct one.
type Source interface {
	ContentType() string
	load() ([]record.Row, error)
}

type fileSource string

// File returns a Source reading the CSV file at path.
func File(path string) Source { return fileSource(path) }

func (f fileSource) ContentType() string { return ContentTypeCSV }

func (f fileSource) load() ([]record.Row, error) {
	rows, err := csvutil.ReadFile(string(f))
	if err != nil {
		return nil, &SplitError{Path: string(f), Err: err}
	}
	return rows, nil
}

func (f fileSource) String() string { return string(f) }

type rowSource []record.Row

// Rows returns a Source over in-memory rows.
func Rows(rows []record.Row) Source { return rowSource(rows) }

func (r rowSource) ContentType() string { return ContentTypeJSON }

func (r rowSource) load() ([]record.Row, error) { return r, nil }

// SplitError reports that the input could not be read or parsed.
type SplitError struct {
	Path string
	Err  error
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("unable to split data into batches due to error: %v", e.Err)
}

func (e *SplitError) Unwrap() error { return e.Err }

// Split loads src and cuts it into ordered chunks of at most
// opts.MaxBatchSize rows. Every row appears in exactly one chunk and chunk
// order follows input order. Empty input yields no chunks.
func Split(opts Options, src Source) ([][]record.Row, error) {
	rows, err := src.load()
	if err != nil {
		return nil, err
	}
	return Chunk(rows, opts.maxBatchSize()), nil
}

// Chunk cuts rows into consecutive slices of at most size rows. The chunks
// share the backing array of rows.
func Chunk(rows []record.Row, size int) [][]record.Row {
	if size <= 0 {
		size = DefaultMaxBatchSize
	}

	chunks := make([][]record.Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end:end])
	}
	return chunks
}
