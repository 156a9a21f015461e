package split

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

func makeRows(n int) []record.Row {
	rows := make([]record.Row, n)
	for i := range rows {
		rows[i] = record.Row{{Name: "Name", Value: fmt.Sprintf("row-%d", i)}}
	}
	return rows
}

func TestSplit_Partition(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		max     int
		batches int
	}{
		{"exact multiple", 10, 5, 2},
		{"remainder", 11, 5, 3},
		{"single row batches", 2, 1, 2},
		{"max larger than input", 3, 10, 1},
		{"empty input", 0, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := makeRows(tt.rows)

			chunks, err := Split(Options{MaxBatchSize: tt.max}, Rows(rows))
			require.NoError(t, err)
			require.Len(t, chunks, tt.batches)

			var joined []record.Row
			for i, c := range chunks {
				assert.NotEmpty(t, c)
				assert.LessOrEqual(t, len(c), tt.max)
				if i < len(chunks)-1 {
					assert.Len(t, c, tt.max, "all but the last chunk are full")
				}
				joined = append(joined, c...)
			}
			assert.Equal(t, len(rows), len(joined))
			for i := range rows {
				assert.Equal(t, rows[i], joined[i])
			}
		})
	}
}

func TestSplit_DefaultSize(t *testing.T) {
	rows := makeRows(DefaultMaxBatchSize + 1)

	withDefault, err := Split(Options{}, Rows(rows))
	require.NoError(t, err)
	explicit, err := Split(Options{MaxBatchSize: DefaultMaxBatchSize}, Rows(rows))
	require.NoError(t, err)

	require.Len(t, withDefault, 2)
	assert.Len(t, withDefault[0], DefaultMaxBatchSize)
	assert.Equal(t, explicit, withDefault)

	small, err := Split(Options{MaxBatchSize: -3}, Rows(makeRows(7)))
	require.NoError(t, err)
	assert.Len(t, small, 1)
}

func TestSplit_ChunksDoNotAlias(t *testing.T) {
	chunks, err := Split(Options{MaxBatchSize: 2}, Rows(makeRows(4)))
	require.NoError(t, err)

	first := append(chunks[0], record.Row{{Name: "Name", Value: "extra"}})
	assert.Len(t, first, 3)
	assert.Equal(t, "row-2", chunks[1][0].String("Name"), "appending to a chunk must not clobber the next one")
}

func TestSplit_CSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	require.NoError(t, os.WriteFile(path, []byte("Name,Phone\na,1\nb,2\nc,3\n"), 0o600))

	src := File(path)
	assert.Equal(t, ContentTypeCSV, src.ContentType())

	chunks, err := Split(Options{MaxBatchSize: 2}, src)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0][0].String("Name"))
	assert.Equal(t, "3", chunks[1][0].String("Phone"))
}

func TestSplit_CSVFileMissing(t *testing.T) {
	_, err := Split(Options{}, File(filepath.Join(t.TempDir(), "missing.csv")))

	var splitErr *SplitError
	require.True(t, errors.As(err, &splitErr))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "unable to split data into batches")
}

func TestRows_ContentType(t *testing.T) {
	assert.Equal(t, ContentTypeJSON, Rows(nil).ContentType())
}
