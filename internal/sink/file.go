package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/record"
)

// FileSink writes result sets as CSV files on the local disk. Files are
// written to a temporary name and renamed into place.
type FileSink struct {
	// Perm is the file mode for new files; 0644 when zero.
	Perm os.FileMode
}

// Save implements Sink.
func (s FileSink) Save(_ context.Context, out Output, rows []record.Row) (string, error) {
	if err := s.write(out.Dest, rows); err != nil {
		return "", &PersistError{Kind: out.Kind, Dest: out.Dest, Err: err}
	}
	return out.Dest, nil
}

func (s FileSink) write(dest string, rows []record.Row) error {
	if dest == "" {
		return fmt.Errorf("destination path is empty")
	}
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := csvutil.WriteRows(w, rows); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
