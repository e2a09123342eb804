// Package transform implements the variable-construction operations of the
// panel pipeline: exclusion filtering, time merges, centering, interaction
// terms, month dummies and missing-value drops.
//
// Every operation is pure: it returns a new Table and never mutates its
// input. Centering must happen before interactions are built; Interact only
// accepts the CenteredColumn type produced by Center and additionally checks
// the table's centering registry, so building an interaction from a raw
// column fails instead of silently degrading the moderation analysis.
package transform

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"afpcli/internal/dataset"
	"afpcli/internal/errors"
)

// CenteredColumn names a column produced by Center in this pipeline run
type CenteredColumn string

// FilterExclusions removes rows where the named binary column equals 1.
// An absent exclusion column is not an error: the table is returned as-is
// and the condition is logged.
func FilterExclusions(t *dataset.Table, exclusionColumn string, logger *slog.Logger) (*dataset.Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if exclusionColumn == "" || !t.HasColumn(exclusionColumn) {
		logger.Info("exclusion column absent, keeping all rows",
			slog.String("source", t.Name()),
			slog.String("column", exclusionColumn))
		return t, nil
	}

	col, err := t.Numeric(exclusionColumn)
	if err != nil {
		return nil, err
	}

	keep := make([]bool, t.NumRows())
	removed := 0
	for i, v := range col {
		keep[i] = v != 1
		if !keep[i] {
			removed++
		}
	}

	logger.Info("exclusion filter applied",
		slog.String("source", t.Name()),
		slog.String("column", exclusionColumn),
		slog.Int("removed", removed))

	return t.Select(keep), nil
}

// MergeOnTime inner-joins the secondary tables onto the base table by time.
// The base keeps its (entity, time) rows; each secondary contributes its
// columns for matching time periods. Rows whose time period is absent from
// any secondary are dropped. Secondary tables are expected to be pure time
// series with one row per period.
func MergeOnTime(base *dataset.Table, others ...*dataset.Table) (*dataset.Table, error) {
	type lookup struct {
		table *dataset.Table
		byKey map[int64]int
	}

	lookups := make([]lookup, 0, len(others))
	for _, other := range others {
		byKey := make(map[int64]int, other.NumRows())
		for i, ts := range other.Times() {
			byKey[ts.Unix()] = i
		}
		lookups = append(lookups, lookup{table: other, byKey: byKey})
	}

	keep := make([]bool, base.NumRows())
	kept := 0
	for i, ts := range base.Times() {
		ok := true
		for _, lk := range lookups {
			if _, found := lk.byKey[ts.Unix()]; !found {
				ok = false
				break
			}
		}
		keep[i] = ok
		if ok {
			kept++
		}
	}

	if kept == 0 {
		names := []string{base.Name()}
		for _, other := range others {
			names = append(names, other.Name())
		}
		return nil, errors.NewEmptyMergeError(names)
	}

	merged := base.Select(keep)

	for _, lk := range lookups {
		for _, col := range lk.table.NumericColumns() {
			if merged.HasColumn(col) {
				continue
			}
			src, err := lk.table.Numeric(col)
			if err != nil {
				return nil, err
			}
			vals := make([]float64, merged.NumRows())
			for i, ts := range merged.Times() {
				vals[i] = src[lk.byKey[ts.Unix()]]
			}
			if err := merged.AddNumeric(col, vals); err != nil {
				return nil, err
			}
		}
	}

	return merged, nil
}

// Center subtracts each column's sample mean over the current table and adds
// the result under a "_c" suffix. Centering happens over the full estimation
// sample, not per entity, and must run exactly once per raw column: centering
// an already-centered column is rejected.
func Center(t *dataset.Table, columns []string) (*dataset.Table, []CenteredColumn, error) {
	out := t.Clone()
	centered := make([]CenteredColumn, 0, len(columns))

	for _, col := range columns {
		if out.IsCentered(col) {
			return nil, nil, errors.NewAppError(errors.ErrTypeTypeMismatch,
				fmt.Sprintf("column %q is already centered; re-centering is a pipeline bug", col), nil)
		}
		src, err := out.Numeric(col)
		if err != nil {
			return nil, nil, err
		}

		observed := make([]float64, 0, len(src))
		for _, v := range src {
			if !dataset.IsMissing(v) {
				observed = append(observed, v)
			}
		}
		mean := stat.Mean(observed, nil)

		vals := make([]float64, len(src))
		for i, v := range src {
			if dataset.IsMissing(v) {
				vals[i] = math.NaN()
				continue
			}
			vals[i] = v - mean
		}

		name := col + "_c"
		if err := out.AddNumeric(name, vals); err != nil {
			return nil, nil, err
		}
		out.MarkCentered(name)
		centered = append(centered, CenteredColumn(name))
	}

	return out, centered, nil
}

// Interact builds the elementwise product of a centered column and the
// binary moderator. The moderator itself is never centered.
func Interact(t *dataset.Table, centered CenteredColumn, moderator string) (*dataset.Table, string, error) {
	col := string(centered)
	if !t.IsCentered(col) {
		return nil, "", errors.NewTypeMismatchError(col)
	}

	a, err := t.Numeric(col)
	if err != nil {
		return nil, "", err
	}
	b, err := t.Numeric(moderator)
	if err != nil {
		return nil, "", err
	}

	vals := make([]float64, len(a))
	for i := range a {
		vals[i] = a[i] * b[i]
	}

	out := t.Clone()
	name := fmt.Sprintf("Int_%s_%s", col, moderator)
	if err := out.AddNumeric(name, vals); err != nil {
		return nil, "", err
	}
	return out, name, nil
}

// MonthDummies one-hot encodes the calendar month of the time column,
// dropping the reference month to avoid perfect collinearity. Only months
// observed in the sample produce columns.
func MonthDummies(t *dataset.Table, referenceMonth int) (*dataset.Table, []string, error) {
	if referenceMonth < 1 || referenceMonth > 12 {
		return nil, nil, fmt.Errorf("reference month %d out of range", referenceMonth)
	}

	observed := make(map[int]bool)
	for _, ts := range t.Times() {
		observed[int(ts.Month())] = true
	}

	out := t.Clone()
	names := make([]string, 0, 11)
	for m := 1; m <= 12; m++ {
		if m == referenceMonth || !observed[m] {
			continue
		}
		vals := make([]float64, t.NumRows())
		for i, ts := range t.Times() {
			if int(ts.Month()) == m {
				vals[i] = 1
			}
		}
		name := fmt.Sprintf("Month_%d", m)
		if err := out.AddNumeric(name, vals); err != nil {
			return nil, nil, err
		}
		names = append(names, name)
	}

	return out, names, nil
}

// DropIncomplete removes rows with a missing value in any required column
// and reports how many were removed
func DropIncomplete(t *dataset.Table, required []string, logger *slog.Logger) (*dataset.Table, int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cols := make([][]float64, 0, len(required))
	for _, name := range required {
		col, err := t.Numeric(name)
		if err != nil {
			return nil, 0, err
		}
		cols = append(cols, col)
	}

	keep := make([]bool, t.NumRows())
	removed := 0
	for i := range keep {
		keep[i] = true
		for _, col := range cols {
			if dataset.IsMissing(col[i]) {
				keep[i] = false
				removed++
				break
			}
		}
	}

	logger.Info("incomplete rows dropped",
		slog.String("source", t.Name()),
		slog.Int("removed", removed),
		slog.Int("remaining", t.NumRows()-removed))

	return t.Select(keep), removed, nil
}

// CompositeEntity concatenates two identifier columns into a single entity
// key column and returns its name
func CompositeEntity(t *dataset.Table, colA, colB, sep string) (*dataset.Table, string, error) {
	a, err := t.String(colA)
	if err != nil {
		return nil, "", err
	}

	// the second key may be stored numerically (fund type 0..3)
	b := make([]string, t.NumRows())
	if sb, err := t.String(colB); err == nil {
		copy(b, sb)
	} else {
		nb, err := t.Numeric(colB)
		if err != nil {
			return nil, "", err
		}
		for i, v := range nb {
			b[i] = fmt.Sprintf("%g", v)
		}
	}

	vals := make([]string, t.NumRows())
	for i := range vals {
		vals[i] = a[i] + sep + b[i]
	}

	out := t.Clone()
	name := colA + "_" + colB
	if err := out.AddString(name, vals); err != nil {
		return nil, "", err
	}
	return out, name, nil
}

// SampleBefore keeps only rows strictly before the cutoff
func SampleBefore(t *dataset.Table, cutoff time.Time) *dataset.Table {
	keep := make([]bool, t.NumRows())
	for i, ts := range t.Times() {
		keep[i] = ts.Before(cutoff)
	}
	return t.Select(keep)
}

// ExcludeWindow drops rows with from <= time < to
func ExcludeWindow(t *dataset.Table, from, to time.Time) *dataset.Table {
	keep := make([]bool, t.NumRows())
	for i, ts := range t.Times() {
		inWindow := !ts.Before(from) && ts.Before(to)
		keep[i] = !inWindow
	}
	return t.Select(keep)
}

// RecomputeModerator rebuilds the binary moderator from an alternative onset
// date: 1 for periods at or after the onset, 0 before
func RecomputeModerator(t *dataset.Table, moderator string, onset time.Time) (*dataset.Table, error) {
	if _, err := t.Numeric(moderator); err != nil {
		return nil, err
	}
	vals := make([]float64, t.NumRows())
	for i, ts := range t.Times() {
		if !ts.Before(onset) {
			vals[i] = 1
		}
	}
	out := t.Clone()
	if err := out.AddNumeric(moderator, vals); err != nil {
		return nil, err
	}
	return out, nil
}
