// Package dataset provides the column-oriented Table that flows through the
// analysis pipeline, plus the Excel loader that produces it.
//
// Tables follow a copy-on-write discipline: every pipeline transformation
// clones its input and returns a fresh Table, so robustness variations can
// never corrupt each other's base data.
package dataset

import (
	"fmt"
	"math"
	"time"

	"afpcli/internal/errors"
)

// Table is an in-memory tabular dataset keyed by a parsed time column.
// Numeric columns use NaN for missing values.
type Table struct {
	name string
	n    int

	timeCol string
	times   []time.Time

	num      map[string][]float64
	str      map[string][]string
	numOrder []string
	strOrder []string

	// Columns produced by centering in this pipeline run. Interactions may
	// only be built from columns registered here.
	centered map[string]bool
}

// New creates an empty table with the given source name and row count
func New(name string, rows int) *Table {
	return &Table{
		name:     name,
		n:        rows,
		num:      make(map[string][]float64),
		str:      make(map[string][]string),
		centered: make(map[string]bool),
	}
}

// Name returns the source name of the table
func (t *Table) Name() string { return t.name }

// NumRows returns the row count
func (t *Table) NumRows() int { return t.n }

// TimeColumn returns the name of the time column, or "" if none was set
func (t *Table) TimeColumn() string { return t.timeCol }

// Times returns the parsed time column
func (t *Table) Times() []time.Time { return t.times }

// NumericColumns returns numeric column names in insertion order
func (t *Table) NumericColumns() []string {
	out := make([]string, len(t.numOrder))
	copy(out, t.numOrder)
	return out
}

// StringColumns returns string column names in insertion order
func (t *Table) StringColumns() []string {
	out := make([]string, len(t.strOrder))
	copy(out, t.strOrder)
	return out
}

// HasColumn reports whether the table has a column of any kind with the name
func (t *Table) HasColumn(name string) bool {
	if name == t.timeCol && t.timeCol != "" {
		return true
	}
	_, numOK := t.num[name]
	_, strOK := t.str[name]
	return numOK || strOK
}

// Numeric returns a numeric column by name
func (t *Table) Numeric(name string) ([]float64, error) {
	col, ok := t.num[name]
	if !ok {
		return nil, errors.NewSchemaError(t.name, name)
	}
	return col, nil
}

// String returns a string column by name
func (t *Table) String(name string) ([]string, error) {
	col, ok := t.str[name]
	if !ok {
		return nil, errors.NewSchemaError(t.name, name)
	}
	return col, nil
}

// SetTimes installs the parsed time column
func (t *Table) SetTimes(column string, times []time.Time) error {
	if len(times) != t.n {
		return fmt.Errorf("time column %q has %d values, table has %d rows", column, len(times), t.n)
	}
	t.timeCol = column
	t.times = times
	return nil
}

// AddNumeric adds or replaces a numeric column
func (t *Table) AddNumeric(name string, values []float64) error {
	if len(values) != t.n {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), t.n)
	}
	if _, exists := t.num[name]; !exists {
		t.numOrder = append(t.numOrder, name)
	}
	t.num[name] = values
	return nil
}

// AddString adds or replaces a string column
func (t *Table) AddString(name string, values []string) error {
	if len(values) != t.n {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), t.n)
	}
	if _, exists := t.str[name]; !exists {
		t.strOrder = append(t.strOrder, name)
	}
	t.str[name] = values
	return nil
}

// MarkCentered registers a column as produced by centering in this run
func (t *Table) MarkCentered(name string) { t.centered[name] = true }

// IsCentered reports whether a column was produced by centering in this run
func (t *Table) IsCentered(name string) bool { return t.centered[name] }

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	out := New(t.name, t.n)
	out.timeCol = t.timeCol
	if t.times != nil {
		out.times = make([]time.Time, len(t.times))
		copy(out.times, t.times)
	}
	for _, name := range t.numOrder {
		vals := make([]float64, t.n)
		copy(vals, t.num[name])
		out.num[name] = vals
		out.numOrder = append(out.numOrder, name)
	}
	for _, name := range t.strOrder {
		vals := make([]string, t.n)
		copy(vals, t.str[name])
		out.str[name] = vals
		out.strOrder = append(out.strOrder, name)
	}
	for name := range t.centered {
		out.centered[name] = true
	}
	return out
}

// Select returns a new table containing only the rows where keep is true
func (t *Table) Select(keep []bool) *Table {
	count := 0
	for _, k := range keep {
		if k {
			count++
		}
	}

	out := New(t.name, count)
	out.timeCol = t.timeCol
	if t.times != nil {
		out.times = make([]time.Time, 0, count)
		for i, k := range keep {
			if k {
				out.times = append(out.times, t.times[i])
			}
		}
	}
	for _, name := range t.numOrder {
		src := t.num[name]
		vals := make([]float64, 0, count)
		for i, k := range keep {
			if k {
				vals = append(vals, src[i])
			}
		}
		out.num[name] = vals
		out.numOrder = append(out.numOrder, name)
	}
	for _, name := range t.strOrder {
		src := t.str[name]
		vals := make([]string, 0, count)
		for i, k := range keep {
			if k {
				vals = append(vals, src[i])
			}
		}
		out.str[name] = vals
		out.strOrder = append(out.strOrder, name)
	}
	for name := range t.centered {
		out.centered[name] = true
	}
	return out
}

// IsMissing reports whether a numeric value represents a missing observation
func IsMissing(v float64) bool { return math.IsNaN(v) }
