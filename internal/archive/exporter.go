// Package archive renders daily snapshots of the observation store and
// publishes them to a git-hosted archive repository.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alpineclim/climsync/internal/obstore"
)

// Exporter renders the current store contents as one snapshot document.
type Exporter struct {
	Store *obstore.Store

	now func() time.Time
}

// NewExporter wires an Exporter over the given store.
func NewExporter(store *obstore.Store) *Exporter {
	return &Exporter{Store: store, now: time.Now}
}

// Snapshot scans the store, drops expired rows and returns the remaining
// records as compact JSON sorted by station then date.
func (e *Exporter) Snapshot() ([]byte, int, error) {
	rows, err := e.Store.Scan(true, e.now())
	if err != nil {
		return nil, 0, fmt.Errorf("archive: scan store: %w", err)
	}
	if rows == nil {
		rows = []obstore.Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("archive: encode snapshot: %w", err)
	}
	return data, len(rows), nil
}

// WriteFile renders the snapshot to path, creating parent directories.
func (e *Exporter) WriteFile(path string) (int, error) {
	data, n, err := e.Snapshot()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("archive: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("archive: write %s: %w", path, err)
	}
	return n, nil
}
