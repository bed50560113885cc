package appendlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/facebench/internal/types"
)

// Log is an append-only text file shared between components.
// Each entry is written with a single Write call on an O_APPEND handle, under a mutex,
// so concurrent adapters never interleave partial lines.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a Log targeting path. The file is created on first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// Append writes entry as-is.
func (l *Log) Append(entry string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}

	_, werr := f.Write([]byte(entry))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("%w: append to %s: %v", types.ErrPersistence, l.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("%w: close %s: %v", types.ErrPersistence, l.path, cerr)
	}
	return nil
}

// Appendf formats and appends a single entry.
func (l *Log) Appendf(format string, args ...any) error {
	return l.Append(fmt.Sprintf(format, args...))
}
