package exporter

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"afpcli/internal/config"
	"afpcli/internal/diagnostics"
	"afpcli/internal/robustness"
)

func testPaths(t *testing.T) *config.RunPaths {
	t.Helper()
	base := t.TempDir()
	return &config.RunPaths{
		RunID:          "test",
		BaseDir:        base,
		DiagnosticsDir: filepath.Join(base, "diagnostics"),
		TablesDir:      filepath.Join(base, "tables"),
		RobustnessDir:  filepath.Join(base, "robustness"),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "\xEF\xBB\xBF"), "missing UTF-8 BOM")

	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "\xEF\xBB\xBF"))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestScreeningTable(t *testing.T) {
	paths := testPaths(t)
	e := New(paths, nil)

	screens := []diagnostics.VariableScreen{
		{Variable: "PC1_Global", N: 96, Missing: 0, Variance: 1.02, P5: -1.6, P95: 1.7, Status: diagnostics.ScreenOK},
		{Variable: "flat", N: 96, Missing: 0, Variance: 0, Status: diagnostics.ScreenNullVariance},
	}
	alerts := []string{"flat: variance near zero"}
	require.NoError(t, e.ScreeningTable("panel1", screens, alerts))

	rows := readCSV(t, paths.DiagnosticsFile("panel1_screening.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "variable", rows[0][0])
	assert.Equal(t, "PC1_Global", rows[1][0])
	assert.Equal(t, "NULL_VARIANCE", rows[2][7])

	text, err := os.ReadFile(paths.DiagnosticsFile("panel1_screening_alerts.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "variance near zero")
}

func TestHypothesesTableHandlesMissing(t *testing.T) {
	paths := testPaths(t)
	e := New(paths, nil)

	results := []diagnostics.HypothesisResult{
		{
			Hypothesis: diagnostics.Hypothesis{Name: "H1", Coefficient: "PC1_Global_c", Direction: diagnostics.DirectionLess, Alpha: 0.05},
			Estimate:   -0.31, StdErr: 0.04, TStat: -7.5, PValue: 0.0001, Confirmed: true, Stars: "***",
		},
		{
			Hypothesis: diagnostics.Hypothesis{Name: "H9", Coefficient: "ghost", Direction: diagnostics.DirectionGreater, Alpha: 0.05},
			Missing:    true,
		},
	}
	require.NoError(t, e.HypothesesTable("panel1", results))

	rows := readCSV(t, paths.TablesFile("panel1_hypotheses.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "true", rows[1][8])
	assert.Equal(t, "NA", rows[2][3])
	assert.Equal(t, "false", rows[2][8])

	// the workbook mirrors the CSV
	f, err := excelize.OpenFile(paths.TablesFile("panel1_hypotheses.xlsx"))
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("Hypotheses", "A2")
	require.NoError(t, err)
	assert.Equal(t, "H1", v)
}

func TestRobustnessTable(t *testing.T) {
	paths := testPaths(t)
	e := New(paths, nil)

	summaries := []robustness.Summary{
		{
			Coefficient: "PC1_Global_c",
			SignStable:  true,
			AlwaysAt10:  false,
			Rows: []robustness.CoefficientRow{
				{Variation: "baseline", Estimate: -0.3, StdErr: 0.05, PValue: 0.001, Stars: "***", NumObs: 188, Status: "ok"},
				{Variation: "broken", Status: "failed"},
			},
		},
	}
	require.NoError(t, e.RobustnessTable("panel1", summaries))

	rows := readCSV(t, paths.RobustnessFile("panel1_variations.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "baseline", rows[1][1])
	assert.Equal(t, "failed", rows[2][7])
	assert.Equal(t, "NA", rows[2][2])

	stability := readCSV(t, paths.RobustnessFile("panel1_stability.csv"))
	require.Len(t, stability, 2)
	assert.Equal(t, []string{"PC1_Global_c", "true", "false"}, stability[1])
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "NA", formatEstimate(math.NaN()))
	assert.Equal(t, "Inf", formatEstimate(math.Inf(1)))
	assert.Equal(t, "0.300000", formatEstimate(0.3))
	assert.Equal(t, "0.0500", formatP(0.05))
	assert.Equal(t, "NA", formatP(math.NaN()))
}
