// Package auditlog appends one CSV line per mapped menu name to a daily
// output file for offline review.
package auditlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Header is written verbatim once when a day's file is created.
const Header = "User Input, Spell Correction, Vector Tokens, Response\n"

// Entry is one audited mapping.
type Entry struct {
	UserInput    string
	Corrected    string
	VectorTokens string
	Response     string
}

// Writer appends entries to <dir>/output_YYYY-MM-DD.csv.
type Writer struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Path returns the file the next Append would write to.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, "output_"+w.now().Format("2006-01-02")+".csv")
}

// Append writes e, creating the directory and the day's file with its header
// when needed.
func (w *Writer) Append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	path := w.Path()
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit file: %w", err)
	}
	defer f.Close()

	if fresh {
		if _, err := f.WriteString(Header); err != nil {
			return fmt.Errorf("writing audit header: %w", err)
		}
	}
	cw := csv.NewWriter(f)
	if err := cw.Write([]string{e.UserInput, e.Corrected, e.VectorTokens, e.Response}); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing audit entry: %w", err)
	}
	return nil
}
