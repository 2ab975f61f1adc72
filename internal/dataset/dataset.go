// Package dataset provides the in-memory tabular dataset the ingestion
// pipeline operates on, plus loading and value-coercion helpers.
package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for dataset operations.
var (
	// ErrColumnNotFound is returned when a named column is absent.
	ErrColumnNotFound = errors.New("column not found")

	// ErrDataFormat is returned when a value cannot be coerced to the
	// requested type. Callers generally report it per-column and continue
	// rather than aborting the run.
	ErrDataFormat = errors.New("data format error")

	// ErrRaggedRow is returned when a row's cell count differs from the header.
	ErrRaggedRow = errors.New("row length does not match header")
)

// Dataset is a column-ordered tabular dataset. All cells are strings as read
// from the source file; coercion happens at normalization time.
//
// Operations on Dataset never mutate it in place; Normalize and friends return
// a copy. This keeps profiling and validation referentially transparent.
type Dataset struct {
	// Columns is the ordered header row.
	Columns []string

	// Rows holds the data cells, one slice per row, aligned with Columns.
	Rows [][]string
}

// RowCount returns the number of data rows.
func (d *Dataset) RowCount() int {
	return len(d.Rows)
}

// ColumnCount returns the number of columns.
func (d *Dataset) ColumnCount() int {
	return len(d.Columns)
}

// ColumnIndex returns the positional index of the named column, or
// ErrColumnNotFound if the dataset does not contain it.
func (d *Dataset) ColumnIndex(name string) (int, error) {
	for i, col := range d.Columns {
		if col == name {
			return i, nil
		}
	}

	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// HasColumn reports whether the dataset contains the named column.
func (d *Dataset) HasColumn(name string) bool {
	_, err := d.ColumnIndex(name)

	return err == nil
}

// Column returns all values of the named column in row order.
func (d *Dataset) Column(name string) ([]string, error) {
	idx, err := d.ColumnIndex(name)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(d.Rows))
	for i, row := range d.Rows {
		values[i] = row[idx]
	}

	return values, nil
}

// Clone returns a deep copy of the dataset. Used by transformations that must
// not mutate their input.
func (d *Dataset) Clone() *Dataset {
	columns := make([]string, len(d.Columns))
	copy(columns, d.Columns)

	rows := make([][]string, len(d.Rows))
	for i, row := range d.Rows {
		rows[i] = make([]string, len(row))
		copy(rows[i], row)
	}

	return &Dataset{Columns: columns, Rows: rows}
}

// ParseFloat coerces a single cell to float64.
//
// Accepts optional surrounding whitespace, thousands separators (commas) and
// accounting-style negatives in parentheses: "(1,234.50)" -> -1234.50.
// Returns ErrDataFormat for anything else non-empty; empty input is reported
// as (0, false, nil) so callers can distinguish blank from zero.
func ParseFloat(raw string) (float64, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ReplaceAll(s, ",", "")

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: cannot parse %q as numeric", ErrDataFormat, raw)
	}

	if negative {
		value = -value
	}

	return value, true, nil
}
