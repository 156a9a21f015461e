// Package sink persists result row sets as CSV files, S3 objects or
// Postgres rows.
package sink

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

// Result set kinds.
const (
	KindSuccess = "success"
	KindError   = "error"
	KindQuery   = "query"
)

// Output describes one result set to persist.
type Output struct {
	// Dest is a local path or an s3://bucket/key URL. Archive sinks may
	// ignore it.
	Dest   string
	JobID  string
	Object string
	Kind   string
}

// Sink stores a result set and returns where it was written.
type Sink interface {
	Save(ctx context.Context, out Output, rows []record.Row) (string, error)
}

// PersistError reports a failed write of a result set.
type PersistError struct {
	Kind string
	Dest string
	Err  error
}

func (e *PersistError) Error() string {
	name := e.Kind
	if name == "" || name == KindQuery {
		name = "result"
	}
	return fmt.Sprintf("unable to save %s file %s: %v", name, e.Dest, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsObjectURL reports whether dest addresses the object store.
func IsObjectURL(dest string) bool {
	return strings.HasPrefix(dest, "s3://")
}

// Join appends name to a directory path or object URL prefix.
func Join(dir, name string) string {
	if IsObjectURL(dir) {
		return "s3://" + path.Join(strings.TrimPrefix(dir, "s3://"), name)
	}
	return filepath.Join(dir, name)
}

// Router sends s3:// destinations to Objects and everything else to Files.
type Router struct {
	Files   Sink
	Objects Sink
}

// Save implements Sink.
func (r Router) Save(ctx context.Context, out Output, rows []record.Row) (string, error) {
	if IsObjectURL(out.Dest) {
		if r.Objects == nil {
			return "", &PersistError{Kind: out.Kind, Dest: out.Dest, Err: fmt.Errorf("object storage is not configured")}
		}
		return r.Objects.Save(ctx, out, rows)
	}
	files := r.Files
	if files == nil {
		files = FileSink{}
	}
	return files.Save(ctx, out, rows)
}
