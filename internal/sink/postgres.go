package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

// DefaultTable holds archived result rows.
const DefaultTable = "bulk_results"

// copier is the subset of *pgxpool.Pool used by PostgresSink.
type copier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

var archiveColumns = []string{"run_id", "job_id", "object", "kind", "row_num", "record"}

// PostgresSink archives every result row as JSONB, tagged with the run id
// so all sets from one invocation can be selected together.
type PostgresSink struct {
	db    copier
	table pgx.Identifier
	runID uuid.UUID
}

// NewPostgresSink creates a sink writing to table ("schema.table" or
// "table"; DefaultTable when empty) under runID.
func NewPostgresSink(db copier, table string, runID uuid.UUID) *PostgresSink {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresSink{db: db, table: splitIdentifier(table), runID: runID}
}

// RunID returns the id stamped on every archived row.
func (s *PostgresSink) RunID() uuid.UUID { return s.runID }

// EnsureTable creates the archive table if it does not exist.
func (s *PostgresSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id     uuid        NOT NULL,
	job_id     text        NOT NULL,
	object     text        NOT NULL,
	kind       text        NOT NULL,
	row_num    integer     NOT NULL,
	record     jsonb       NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`, s.table.Sanitize())

	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table.Sanitize(), err)
	}
	return nil
}

// Save implements Sink. The returned location is "table#run_id".
func (s *PostgresSink) Save(ctx context.Context, out Output, rows []record.Row) (string, error) {
	loc := s.table.Sanitize() + "#" + s.runID.String()

	data, err := s.copyRows(out, rows)
	if err != nil {
		return "", &PersistError{Kind: out.Kind, Dest: loc, Err: err}
	}

	n, err := s.db.CopyFrom(ctx, s.table, archiveColumns, pgx.CopyFromRows(data))
	if err != nil {
		return "", &PersistError{Kind: out.Kind, Dest: loc, Err: err}
	}
	if n != int64(len(rows)) {
		return "", &PersistError{Kind: out.Kind, Dest: loc, Err: fmt.Errorf("copied %d of %d rows", n, len(rows))}
	}
	return loc, nil
}

func (s *PostgresSink) copyRows(out Output, rows []record.Row) ([][]any, error) {
	runID := pgtype.UUID{Bytes: s.runID, Valid: true}

	data := make([][]any, len(rows))
	for i, r := range rows {
		doc, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i+1, err)
		}
		data[i] = []any{runID, out.JobID, out.Object, out.Kind, int32(i + 1), doc}
	}
	return data, nil
}

func splitIdentifier(name string) pgx.Identifier {
	parts := strings.Split(name, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
