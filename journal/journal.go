// Package journal appends flushed change events to a JSON-lines file, the
// durable form of the broadcast notification path.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/larder-db/larder/report"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp   time.Time  `json:"timestamp"`
	Table       string     `json:"table"`
	PrimaryKeys [][]string `json:"primary_keys,omitempty"`
	Columns     []string   `json:"columns,omitempty"`
	AllRows     bool       `json:"all_rows"`
	AllColumns  bool       `json:"all_columns"`
}

// Writer writes JSON-lines journal entries to a file.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	enc       *json.Encoder
	path      string
	maxSizeMB int
}

// New creates a journal Writer. It creates parent directories (0o700) and
// opens the file in append mode (0o600). If maxSizeMB > 0, the file is
// rotated when it exceeds that size.
func New(path string, maxSizeMB int) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open file: %w", err)
	}

	return &Writer{
		f:         f,
		enc:       json.NewEncoder(f),
		path:      path,
		maxSizeMB: maxSizeMB,
	}, nil
}

// Log appends one change event. It is safe for concurrent use. Calling
// Log on a nil Writer is a no-op.
func (w *Writer) Log(c report.Change) {
	if w == nil {
		return
	}
	e := Entry{
		Timestamp:  time.Now().UTC(),
		Table:      c.Table,
		Columns:    c.Columns,
		AllRows:    c.AllRows(),
		AllColumns: c.AllColumns(),
	}
	for _, pk := range c.PrimaryKeys {
		tuple := make([]string, len(pk))
		for i, v := range pk {
			tuple[i] = v.String()
		}
		e.PrimaryKeys = append(e.PrimaryKeys, tuple)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.enc.Encode(e)

	if w.maxSizeMB > 0 {
		w.rotateIfNeeded()
	}
}

// Close closes the underlying file. Calling Close on a nil Writer is a
// no-op.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func (w *Writer) rotateIfNeeded() {
	info, err := w.f.Stat()
	if err != nil {
		return
	}
	if info.Size() < int64(w.maxSizeMB)*1024*1024 {
		return
	}
	w.rotate()
}

func (w *Writer) rotate() {
	_ = w.f.Close()
	_ = os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	w.f = f
	w.enc = json.NewEncoder(f)
}
