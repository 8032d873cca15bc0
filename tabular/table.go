package tabular

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Table is a handle on one sheet of a Workbook. All lookups are linear scans
// starting at row 2; row 1 is reserved for the header. This is a deliberate
// simplicity/scale tradeoff: the store holds hundreds to low thousands of
// rows.
type Table struct {
	wb    *Workbook
	sheet string
}

// Name returns the sheet name backing this table.
func (t *Table) Name() string {
	return t.sheet
}

// Header returns the live header row. An empty sheet has an empty header.
func (t *Table) Header() ([]string, error) {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()
	return t.header()
}

func (t *Table) header() ([]string, error) {
	rows, err := t.wb.f.GetRows(t.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", t.sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// EnsureHeader makes sure every given column exists in the header, writing
// the header row if the sheet is empty and appending any missing columns.
// The header only ever grows.
func (t *Table) EnsureHeader(columns []string) error {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()
	if _, err := t.columnIndex(columns); err != nil {
		return err
	}
	return t.wb.persist()
}

// ColumnIndex resolves the live header into a canonical column-index map,
// first appending any required columns that are missing. The map is rebuilt
// on every call so that header growth by other writers is picked up.
func (t *Table) ColumnIndex(required ...string) (Columns, error) {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()
	cols, err := t.columnIndex(required)
	if err != nil {
		return nil, err
	}
	if len(required) > 0 {
		if err := t.wb.persist(); err != nil {
			return nil, err
		}
	}
	return cols, nil
}

func (t *Table) columnIndex(required []string) (Columns, error) {
	header, err := t.header()
	if err != nil {
		return nil, err
	}

	cols := make(Columns, len(header))
	for i, name := range header {
		key := Canon(name)
		if key == "" {
			continue
		}
		if _, exists := cols[key]; !exists {
			cols[key] = i
		}
	}

	// Append any missing required columns to the header.
	for _, name := range required {
		key := Canon(name)
		if _, exists := cols[key]; exists {
			continue
		}
		idx := len(header)
		cell, err := excelize.CoordinatesToCellName(idx+1, 1)
		if err != nil {
			return nil, err
		}
		if err := t.wb.f.SetCellValue(t.sheet, cell, name); err != nil {
			return nil, fmt.Errorf("failed to grow header of %s: %w", t.sheet, err)
		}
		header = append(header, name)
		cols[key] = idx
	}

	return cols, nil
}

// AllRows returns every data row as a map keyed by canonical column name.
func (t *Table) AllRows() ([]map[string]string, error) {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()
	return t.allRows()
}

func (t *Table) allRows() ([]map[string]string, error) {
	rows, err := t.wb.f.GetRows(t.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", t.sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols, err := t.columnIndex(nil)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, rowToMap(cols, row))
	}
	return out, nil
}

// FindRow scans for the first data row whose column exactly equals value.
// It returns the 1-based sheet row number, or 0 when no row matches or the
// column does not exist yet.
func (t *Table) FindRow(column, value string) (int, map[string]string, error) {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()

	cols, err := t.columnIndex(nil)
	if err != nil {
		return 0, nil, err
	}
	idx, ok := cols.Col(column)
	if !ok {
		return 0, nil, nil
	}

	rows, err := t.wb.f.GetRows(t.sheet)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read sheet %s: %w", t.sheet, err)
	}
	for i := 1; i < len(rows); i++ {
		if idx < len(rows[i]) && rows[i][idx] == value {
			return i + 1, rowToMap(cols, rows[i]), nil
		}
	}
	return 0, nil, nil
}

// AppendRow appends a full new row, growing the header for any columns it
// has not seen before. Unsupplied columns stay blank. It returns the 1-based
// sheet row number of the new row.
func (t *Table) AppendRow(values map[string]string) (int, error) {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()

	required := make([]string, 0, len(values))
	for name := range values {
		required = append(required, name)
	}
	cols, err := t.columnIndex(required)
	if err != nil {
		return 0, err
	}

	rows, err := t.wb.f.GetRows(t.sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read sheet %s: %w", t.sheet, err)
	}
	rowNum := len(rows) + 1
	if rowNum < 2 {
		rowNum = 2 // row 1 is the header
	}

	width := 0
	for _, i := range cols {
		if i+1 > width {
			width = i + 1
		}
	}
	out := make([]interface{}, width)
	for i := range out {
		out[i] = ""
	}
	for name, value := range values {
		if i, ok := cols.Col(name); ok {
			out[i] = value
		}
	}

	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return 0, err
	}
	if err := t.wb.f.SetSheetRow(t.sheet, cell, &out); err != nil {
		return 0, fmt.Errorf("failed to append row to %s: %w", t.sheet, err)
	}
	return rowNum, t.wb.persist()
}

// UpdateRow overwrites only the supplied columns of an existing row,
// growing the header as needed.
func (t *Table) UpdateRow(row int, values map[string]string) error {
	if row < 2 {
		return fmt.Errorf("row %d is not a data row", row)
	}
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()

	required := make([]string, 0, len(values))
	for name := range values {
		required = append(required, name)
	}
	cols, err := t.columnIndex(required)
	if err != nil {
		return err
	}

	for name, value := range values {
		i, ok := cols.Col(name)
		if !ok {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := t.wb.f.SetCellValue(t.sheet, cell, value); err != nil {
			return fmt.Errorf("failed to update row %d of %s: %w", row, t.sheet, err)
		}
	}
	return t.wb.persist()
}

// RowCount returns the number of data rows (header excluded).
func (t *Table) RowCount() (int, error) {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()
	rows, err := t.wb.f.GetRows(t.sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read sheet %s: %w", t.sheet, err)
	}
	if len(rows) < 2 {
		return 0, nil
	}
	return len(rows) - 1, nil
}

func rowToMap(cols Columns, row []string) map[string]string {
	m := make(map[string]string, len(cols))
	for key, i := range cols {
		if i < len(row) {
			m[key] = row[i]
		} else {
			m[key] = ""
		}
	}
	return m
}
