// Package table provides the tabular dataset under edit and its file storage.
package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// Table is an in-memory tabular dataset: a header row plus string cells.
// Shape is unconstrained; edits may add or remove rows and columns.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty table with the given columns.
func New(columns []string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Clone returns a deep copy. Mutating tool calls run against a copy so a failed
// transform never corrupts the live dataset.
func (t *Table) Clone() *Table {
	c := &Table{Columns: append([]string(nil), t.Columns...)}
	c.Rows = make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		c.Rows[i] = append([]string(nil), row...)
	}
	return c
}

// ColumnIndex returns the index of a column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.Columns) }

// Normalize pads or trims every row to the column count. Rows shorter than the
// header get empty cells; longer rows keep their width by growing the header
// with generated names.
func (t *Table) Normalize() {
	width := len(t.Columns)
	for _, row := range t.Rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for len(t.Columns) < width {
		t.Columns = append(t.Columns, fmt.Sprintf("Column %d", len(t.Columns)+1))
	}
	for i, row := range t.Rows {
		for len(row) < width {
			row = append(row, "")
		}
		t.Rows[i] = row
	}
}

// Equal reports whether two tables have identical columns and cells.
func (t *Table) Equal(other *Table) bool {
	if other == nil || len(t.Columns) != len(other.Columns) || len(t.Rows) != len(other.Rows) {
		return false
	}
	for i, c := range t.Columns {
		if other.Columns[i] != c {
			return false
		}
	}
	for i, row := range t.Rows {
		if len(row) != len(other.Rows[i]) {
			return false
		}
		for j, cell := range row {
			if other.Rows[i][j] != cell {
				return false
			}
		}
	}
	return true
}

// MarshalCSV encodes the table as CSV bytes, header first.
func (t *Table) MarshalCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	for i, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseCSV decodes CSV bytes into a table. The first record is the header.
// Ragged records are tolerated and padded to the header width.
func ParseCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // edits can leave ragged rows; repair below

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	t := &Table{Columns: records[0], Rows: records[1:]}
	t.Normalize()
	return t, nil
}

// Describe renders the schema, shape, and sample rows as the text shown to the
// agents. Kept deliberately compact: it is embedded in every system prompt.
func (t *Table) Describe(sampleRows int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Columns: [%s]\n", strings.Join(t.Columns, ", ")))
	sb.WriteString(fmt.Sprintf("Shape: %d rows x %d columns\n", t.NumRows(), t.NumColumns()))

	if sampleRows > len(t.Rows) {
		sampleRows = len(t.Rows)
	}
	if sampleRows > 0 {
		sb.WriteString("Sample rows:\n")
		for _, row := range t.Rows[:sampleRows] {
			sb.WriteString("  ")
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// HasColumn reports whether a column exists, ignoring case and surrounding
// whitespace. The clarifier uses this to detect references to absent columns.
func (t *Table) HasColumn(name string) bool {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, c := range t.Columns {
		if strings.ToLower(strings.TrimSpace(c)) == want {
			return true
		}
	}
	return false
}
