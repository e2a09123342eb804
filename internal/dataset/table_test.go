package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T) *Table {
	t.Helper()
	tbl := New("panel", 4)
	require.NoError(t, tbl.SetTimes("Date", []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, tbl.AddNumeric("y", []float64{1, 2, 3, 4}))
	require.NoError(t, tbl.AddString("AFP", []string{"A", "A", "B", "B"}))
	return tbl
}

func TestCloneIsDeep(t *testing.T) {
	tbl := buildTable(t)
	clone := tbl.Clone()

	vals, err := clone.Numeric("y")
	require.NoError(t, err)
	vals[0] = 99

	orig, err := tbl.Numeric("y")
	require.NoError(t, err)
	assert.Equal(t, 1.0, orig[0])
}

func TestSelectKeepsAlignedRows(t *testing.T) {
	tbl := buildTable(t)
	sub := tbl.Select([]bool{true, false, false, true})

	assert.Equal(t, 2, sub.NumRows())
	y, err := sub.Numeric("y")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4}, y)

	afp, err := sub.String("AFP")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, afp)

	assert.Equal(t, time.Month(4), sub.Times()[1].Month())
}

func TestCenteredMarkSurvivesCloneAndSelect(t *testing.T) {
	tbl := buildTable(t)
	tbl.MarkCentered("y_c")

	assert.True(t, tbl.Clone().IsCentered("y_c"))
	assert.True(t, tbl.Select([]bool{true, true, false, false}).IsCentered("y_c"))
	assert.False(t, tbl.IsCentered("y"))
}

func TestMissingColumnIsSchemaError(t *testing.T) {
	tbl := buildTable(t)
	_, err := tbl.Numeric("absent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent")
}

func TestAddNumericRejectsLengthMismatch(t *testing.T) {
	tbl := buildTable(t)
	err := tbl.AddNumeric("bad", []float64{1, 2})
	assert.Error(t, err)
}

func TestIsMissing(t *testing.T) {
	assert.True(t, IsMissing(math.NaN()))
	assert.False(t, IsMissing(0))
}
