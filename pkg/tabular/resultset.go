// Package tabular provides the cursor-based result set the query platform
// hands to resource adapters. Adapters add columns, walk rows with a cursor,
// update cells in place and append rows; they never replace the set itself.
package tabular

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DataType is the primitive type of a column.
type DataType string

const (
	String   DataType = "STRING"
	Integer  DataType = "INTEGER"
	Float    DataType = "FLOAT"
	DateTime DataType = "DATETIME"
)

// Column is a named, typed column.
type Column struct {
	Name     string   `json:"name"`
	DataType DataType `json:"dataType"`
}

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrColumnExists   = errors.New("column already exists")
	ErrNoCurrentRow   = errors.New("cursor is not positioned on a row")
)

// ResultSet is an ordered sequence of columns and rows with a row cursor.
// It is not safe for concurrent use.
type ResultSet struct {
	columns []Column
	index   map[string]int
	rows    [][]string
	cursor  int
}

// New returns an empty result set with the cursor before the first row.
func New() *ResultSet {
	return &ResultSet{index: make(map[string]int), cursor: -1}
}

// AppendColumn adds a column to the end of the schema. Existing rows get an
// empty cell for it.
func (rs *ResultSet) AppendColumn(col Column) error {
	if col.Name == "" {
		return fmt.Errorf("tabular: column name is required")
	}
	if _, ok := rs.index[col.Name]; ok {
		return fmt.Errorf("tabular: %q: %w", col.Name, ErrColumnExists)
	}
	if col.DataType == "" {
		col.DataType = String
	}
	rs.index[col.Name] = len(rs.columns)
	rs.columns = append(rs.columns, col)
	for i := range rs.rows {
		rs.rows[i] = append(rs.rows[i], "")
	}
	return nil
}

// Columns returns a copy of the schema.
func (rs *ResultSet) Columns() []Column {
	out := make([]Column, len(rs.columns))
	copy(out, rs.columns)
	return out
}

// HasColumn reports whether a column with the given name exists.
func (rs *ResultSet) HasColumn(name string) bool {
	_, ok := rs.index[name]
	return ok
}

// ColumnCount returns the number of columns.
func (rs *ResultSet) ColumnCount() int { return len(rs.columns) }

// Size returns the number of rows.
func (rs *ResultSet) Size() int { return len(rs.rows) }

// IsEmpty reports whether the set has neither columns nor rows.
func (rs *ResultSet) IsEmpty() bool { return len(rs.columns) == 0 && len(rs.rows) == 0 }

// BeforeFirst moves the cursor before the first row so that the next call to
// Next positions it on row zero.
func (rs *ResultSet) BeforeFirst() { rs.cursor = -1 }

// Next advances the cursor and reports whether it is on a row.
func (rs *ResultSet) Next() bool {
	if rs.cursor+1 >= len(rs.rows) {
		rs.cursor = len(rs.rows)
		return false
	}
	rs.cursor++
	return true
}

// Row returns the cursor position, or -1 when the cursor is not on a row.
func (rs *ResultSet) Row() int {
	if rs.cursor < 0 || rs.cursor >= len(rs.rows) {
		return -1
	}
	return rs.cursor
}

// GetString returns the value of the named column on the current row.
func (rs *ResultSet) GetString(column string) (string, error) {
	row, col, err := rs.locate(column)
	if err != nil {
		return "", err
	}
	return rs.rows[row][col], nil
}

// UpdateString sets the value of the named column on the current row.
func (rs *ResultSet) UpdateString(column, value string) error {
	row, col, err := rs.locate(column)
	if err != nil {
		return err
	}
	rs.rows[row][col] = value
	return nil
}

// AppendRow adds an empty row at the end and positions the cursor on it.
func (rs *ResultSet) AppendRow() {
	rs.rows = append(rs.rows, make([]string, len(rs.columns)))
	rs.cursor = len(rs.rows) - 1
}

// Clone returns a deep copy with the cursor before the first row.
func (rs *ResultSet) Clone() *ResultSet {
	out := &ResultSet{
		columns: append([]Column(nil), rs.columns...),
		index:   make(map[string]int, len(rs.index)),
		rows:    rs.Values(),
		cursor:  -1,
	}
	for k, v := range rs.index {
		out.index[k] = v
	}
	return out
}

// Values returns a copy of every row, cells ordered like Columns.
func (rs *ResultSet) Values() [][]string {
	out := make([][]string, len(rs.rows))
	for i, r := range rs.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

func (rs *ResultSet) locate(column string) (int, int, error) {
	col, ok := rs.index[column]
	if !ok {
		return 0, 0, fmt.Errorf("tabular: %q: %w", column, ErrColumnNotFound)
	}
	row := rs.Row()
	if row < 0 {
		return 0, 0, ErrNoCurrentRow
	}
	return row, col, nil
}

type wireResultSet struct {
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	w := wireResultSet{Columns: rs.columns, Rows: rs.rows}
	if w.Columns == nil {
		w.Columns = []Column{}
	}
	if w.Rows == nil {
		w.Rows = [][]string{}
	}
	return json.Marshal(w)
}

func (rs *ResultSet) UnmarshalJSON(data []byte) error {
	var w wireResultSet
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	fresh := New()
	for _, c := range w.Columns {
		if err := fresh.AppendColumn(c); err != nil {
			return err
		}
	}
	for i, r := range w.Rows {
		if len(r) != len(fresh.columns) {
			return fmt.Errorf("tabular: row %d has %d cells, want %d", i, len(r), len(fresh.columns))
		}
		fresh.rows = append(fresh.rows, append([]string(nil), r...))
	}
	*rs = *fresh
	return nil
}
