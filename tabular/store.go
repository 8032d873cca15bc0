package tabular

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Workbook wraps one xlsx file holding the logical tables. A Workbook with an
// empty path lives purely in memory, which the tests rely on.
type Workbook struct {
	mu   sync.Mutex
	f    *excelize.File
	path string
}

// OpenWorkbook opens the workbook at path, creating it (and any parent
// directories) if it does not exist yet.
func OpenWorkbook(path string) (*Workbook, error) {
	if path == "" {
		return NewWorkbook(), nil
	}

	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
		}
		return &Workbook{f: f, path: path}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workbook directory %s: %w", dir, err)
		}
	}
	w := &Workbook{f: excelize.NewFile(), path: path}
	if err := w.Save(); err != nil {
		return nil, err
	}
	return w, nil
}

// NewWorkbook creates an in-memory workbook that is never written to disk.
func NewWorkbook() *Workbook {
	return &Workbook{f: excelize.NewFile()}
}

// Save writes the workbook back to its path. In-memory workbooks are a no-op.
func (w *Workbook) Save() error {
	if w.path == "" {
		return nil
	}
	if err := w.f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", w.path, err)
	}
	return nil
}

// Close releases the underlying file handle.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// Table returns a handle on the named sheet, creating the sheet if needed.
func (w *Workbook) Table(sheet string) *Table {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureSheet(sheet)
	return &Table{wb: w, sheet: sheet}
}

// ensureSheet creates the sheet if absent. Caller must hold w.mu.
func (w *Workbook) ensureSheet(sheet string) {
	idx, err := w.f.GetSheetIndex(sheet)
	if err == nil && idx >= 0 {
		return
	}
	w.f.NewSheet(sheet)
}

// persist saves after a mutation. Caller must hold w.mu.
func (w *Workbook) persist() error {
	if w.path == "" {
		return nil
	}
	if err := w.f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", w.path, err)
	}
	return nil
}
