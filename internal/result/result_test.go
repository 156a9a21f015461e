package result

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

func row(kv ...string) record.Row {
	r := make(record.Row, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		r = append(r, record.Field{Name: kv[i], Value: kv[i+1]})
	}
	return r
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		request  []record.Row
		outcomes []Outcome
		want     Partition
	}{
		{
			name:     "success gets id",
			request:  []record.Row{row("Name", "a")},
			outcomes: []Outcome{{Success: true, ID: "001"}},
			want:     Partition{Success: []record.Row{row("Name", "a", "id", "001")}},
		},
		{
			name:    "structured error",
			request: []record.Row{row("Name", "a")},
			outcomes: []Outcome{{Errors: []OutcomeError{
				{StatusCode: "400", Message: "bad"},
				{StatusCode: "500", Message: "ignored"},
			}}},
			want: Partition{Error: []record.Row{row("Name", "a", "error", "400: bad")}},
		},
		{
			name:     "flat error",
			request:  []record.Row{row("Name", "a")},
			outcomes: []Outcome{{Error: "REQUIRED_FIELD_MISSING:Required fields are missing"}},
			want:     Partition{Error: []record.Row{row("Name", "a", "error", "REQUIRED_FIELD_MISSING:Required fields are missing")}},
		},
		{
			name:    "mixed keeps encounter order per side",
			request: []record.Row{row("Name", "a"), row("Name", "b"), row("Name", "c")},
			outcomes: []Outcome{
				{Error: "x"},
				{Success: true, ID: "002"},
				{Success: true, ID: "003"},
			},
			want: Partition{
				Success: []record.Row{row("Name", "b", "id", "002"), row("Name", "c", "id", "003")},
				Error:   []record.Row{row("Name", "a", "error", "x")},
			},
		},
		{
			name: "empty batch",
			want: Partition{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(tt.request, tt.outcomes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.request), got.Len())
		})
	}
}

func TestBuild_DoesNotMutateRequest(t *testing.T) {
	req := []record.Row{row("Name", "a", "id", "stale")}

	got, err := Build(req, []Outcome{{Success: true, ID: "001"}})

	require.NoError(t, err)
	assert.Equal(t, "stale", req[0].String("id"))
	assert.Equal(t, row("Name", "a", "id", "001"), got.Success[0])
}

func TestBuild_LengthMismatch(t *testing.T) {
	_, err := Build([]record.Row{row("Name", "a")}, nil)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, 1, buildErr.Requested)
	assert.Equal(t, 0, buildErr.Returned)
	assert.Contains(t, err.Error(), "1 rows submitted but 0 results returned")
}

func TestJoinInputResults(t *testing.T) {
	a, b, c, d := row("n", "a"), row("n", "b"), row("n", "c"), row("n", "d")

	got := JoinInputResults([]Partition{
		{Success: []record.Row{a}, Error: []record.Row{b}},
		{},
		{Success: []record.Row{c}, Error: []record.Row{d}},
	})

	assert.Equal(t, []record.Row{a, c}, got.Success)
	assert.Equal(t, []record.Row{b, d}, got.Error)
}

func TestJoinInputResults_Empty(t *testing.T) {
	got := JoinInputResults(nil)
	assert.Empty(t, got.Success)
	assert.Empty(t, got.Error)
}

func TestJoinQueryResults(t *testing.T) {
	parts := [][]record.Row{
		{row("Id", "X1", "Name", "n")},
		{row("Name", "m", "ID", "X2")},
		{},
	}

	got := JoinQueryResults(parts)

	require.Len(t, got, 2)
	assert.Equal(t, row("id", "X1", "Name", "n"), got[0])
	assert.Equal(t, row("Name", "m", "id", "X2"), got[1])
	assert.Equal(t, "Id", parts[0][0][0].Name, "input rows are not modified")
}

func TestJoinQueryResults_NoPrimaryKey(t *testing.T) {
	got := JoinQueryResults([][]record.Row{{row("Name", "n")}, {row("id", "X3")}})

	assert.Equal(t, []record.Row{row("Name", "n"), row("id", "X3")}, got)
}
