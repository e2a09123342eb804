package diagnostics

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpcli/internal/dataset"
	"afpcli/internal/panel"
)

func syntheticPanel(t *testing.T, entities int, periods int) *dataset.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	names := []string{"Habitat", "Integra", "Prima", "Profuturo", "Union", "Andina"}
	n := entities * periods
	tbl := dataset.New("synthetic", n)

	times := make([]time.Time, 0, n)
	entityCol := make([]string, 0, n)
	x1 := make([]float64, 0, n)
	x2 := make([]float64, 0, n)
	y := make([]float64, 0, n)

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for ei := 0; ei < entities; ei++ {
		alpha := float64(ei) * 2.0
		for p := 0; p < periods; p++ {
			times = append(times, start.AddDate(0, p, 0))
			entityCol = append(entityCol, names[ei%len(names)])
			a := rng.NormFloat64()
			b := rng.NormFloat64()
			x1 = append(x1, a)
			x2 = append(x2, b)
			y = append(y, 1.5*a-0.8*b+alpha+0.2*rng.NormFloat64())
		}
	}

	require.NoError(t, tbl.SetTimes("Date", times))
	require.NoError(t, tbl.AddString("AFP", entityCol))
	require.NoError(t, tbl.AddNumeric("x1", x1))
	require.NoError(t, tbl.AddNumeric("x2", x2))
	require.NoError(t, tbl.AddNumeric("y", y))
	return tbl
}

func fitFixed(t *testing.T, tbl *dataset.Table, regressors ...string) *panel.FittedModel {
	t.Helper()
	est := panel.NewEstimator(nil)
	model, err := est.Fit(tbl, panel.Request{
		Dependent:    "y",
		Regressors:   regressors,
		EntityColumn: "AFP",
		Effects:      panel.EffectsFixed,
	})
	require.NoError(t, err)
	return model
}

func TestWaldSingleRestrictionMatchesTStat(t *testing.T) {
	tbl := syntheticPanel(t, 4, 24)
	model := fitFixed(t, tbl, "x1", "x2")

	coef, ok := model.Coefficient("x1")
	require.True(t, ok)

	result, err := JointWaldTest(model, []string{"x1"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DFNum)
	assert.Equal(t, model.DFResid, result.DFDenom)
	assert.InDelta(t, math.Abs(coef.TStat), math.Sqrt(result.FStat), 1e-6)
	assert.True(t, result.RejectsNull)
}

func TestWaldJointRestrictions(t *testing.T) {
	tbl := syntheticPanel(t, 4, 24)
	model := fitFixed(t, tbl, "x1", "x2")

	result, err := JointWaldTest(model, []string{"x1", "x2"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DFNum)
	assert.Greater(t, result.FStat, 0.0)
	assert.Less(t, result.PValue, 0.01)
}

func TestWaldUnknownCoefficient(t *testing.T) {
	tbl := syntheticPanel(t, 4, 12)
	model := fitFixed(t, tbl, "x1")

	_, err := JointWaldTest(model, []string{"absent"})
	assert.Error(t, err)
}

func TestHausmanComparison(t *testing.T) {
	tbl := syntheticPanel(t, 6, 24)

	est := panel.NewEstimator(nil)
	fe, err := est.Fit(tbl, panel.Request{Dependent: "y", Regressors: []string{"x1", "x2"}, EntityColumn: "AFP", Effects: panel.EffectsFixed})
	require.NoError(t, err)
	re, err := est.Fit(tbl, panel.Request{Dependent: "y", Regressors: []string{"x1", "x2"}, EntityColumn: "AFP", Effects: panel.EffectsRandom})
	require.NoError(t, err)

	result, err := HausmanComparison(fe, re, 0.05)
	require.NoError(t, err)

	assert.Equal(t, 2, result.DF)
	assert.Len(t, result.Drift, 2)
	assert.Equal(t, "x1", result.Drift[0].Name)
	assert.InDelta(t, result.Drift[0].Fixed-result.Drift[0].Random, result.Drift[0].Difference, 1e-12)
	assert.Equal(t, fe.R2Within, result.R2WithinFixed)

	// argument order is enforced
	_, err = HausmanComparison(re, fe, 0.05)
	assert.Error(t, err)
}

func TestNormalityExpectedRejectionIsReportedNotThrown(t *testing.T) {
	// heavy-tailed residuals: normality must be rejected yet only recorded
	rng := rand.New(rand.NewSource(3))
	resid := make([]float64, 500)
	for i := range resid {
		v := rng.NormFloat64()
		resid[i] = v * v * v // strongly non-normal
	}

	result := NormalityTest(resid)
	assert.True(t, result.Rejected)
	assert.Greater(t, result.JBStat, 0.0)
	assert.Less(t, result.PValue, 0.05)
}

func TestNormalityOnGaussianSample(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	resid := make([]float64, 2000)
	for i := range resid {
		resid[i] = rng.NormFloat64()
	}

	result := NormalityTest(resid)
	assert.False(t, result.Rejected)
	assert.InDelta(t, 0, result.Skewness, 0.2)
}

func TestAutocorrelationProbe(t *testing.T) {
	// AR(1) residuals with rho ~ 0.8
	rng := rand.New(rand.NewSource(5))
	resid := make([]float64, 300)
	for i := 1; i < len(resid); i++ {
		resid[i] = 0.8*resid[i-1] + rng.NormFloat64()
	}

	result := AutocorrelationProbe(resid, 0.3)
	assert.True(t, result.Detected)
	assert.Greater(t, result.Lag1Correlation, 0.5)
	assert.Less(t, result.DurbinWatson, 1.0)

	// white noise is not flagged
	for i := range resid {
		resid[i] = rng.NormFloat64()
	}
	result = AutocorrelationProbe(resid, 0.3)
	assert.False(t, result.Detected)
	assert.InDelta(t, 2.0, result.DurbinWatson, 0.5)
}

func TestHeteroskedasticityProbe(t *testing.T) {
	// variance growing with the fitted value
	rng := rand.New(rand.NewSource(9))
	n := 400
	fitted := make([]float64, n)
	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted[i] = float64(i) / float64(n)
		resid[i] = fitted[i] * rng.NormFloat64()
	}

	result := HeteroskedasticityProbe(resid, fitted, 0.3)
	assert.True(t, result.Detected)

	// homoskedastic residuals are not flagged
	for i := 0; i < n; i++ {
		resid[i] = rng.NormFloat64()
	}
	result = HeteroskedasticityProbe(resid, fitted, 0.3)
	assert.False(t, result.Detected)
}

func TestVIFFlagsExactLinearCombination(t *testing.T) {
	tbl := syntheticPanel(t, 4, 24)

	x1, _ := tbl.Numeric("x1")
	x2, _ := tbl.Numeric("x2")
	combo := make([]float64, len(x1))
	for i := range combo {
		combo[i] = 2*x1[i] - 3*x2[i]
	}
	require.NoError(t, tbl.AddNumeric("combo", combo))

	results, err := VarianceInflation(tbl, []string{"x1", "x2", "combo", "Month_2"}, VIFThresholds{})
	require.NoError(t, err)

	// dummy columns are excluded up front
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, math.IsInf(r.VIF, 1) || r.VIF >= 10,
			"exact collinearity must inflate every involved regressor: %s=%.2f", r.Variable, r.VIF)
		assert.Equal(t, VIFProblematic, r.Status)
	}
}

func TestVIFIndependentRegressorsAreOK(t *testing.T) {
	tbl := syntheticPanel(t, 4, 24)

	results, err := VarianceInflation(tbl, []string{"x1", "x2"}, VIFThresholds{})
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, VIFOK, r.Status)
		assert.Less(t, r.VIF, 2.0)
	}
}

func TestOneSidedPConversion(t *testing.T) {
	tests := []struct {
		name      string
		estimate  float64
		twoSided  float64
		direction Direction
		want      float64
	}{
		{"negative estimate, less", -0.5, 0.04, DirectionLess, 0.02},
		{"positive estimate, less", 0.5, 0.04, DirectionLess, 0.98},
		{"positive estimate, greater", 0.5, 0.04, DirectionGreater, 0.02},
		{"negative estimate, greater", -0.5, 0.04, DirectionGreater, 0.98},
		{"two sided unchanged", -0.5, 0.04, DirectionTwoSided, 0.04},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OneSidedP(tt.estimate, tt.twoSided, tt.direction), 1e-12)
		})
	}
}

func TestEvaluateHypotheses(t *testing.T) {
	tbl := syntheticPanel(t, 4, 24)
	model := fitFixed(t, tbl, "x1", "x2")

	results := EvaluateHypotheses(model, []Hypothesis{
		{Name: "H1.1", Coefficient: "x1", Direction: DirectionGreater, Alpha: 0.05},
		{Name: "H1.2", Coefficient: "x2", Direction: DirectionLess, Alpha: 0.10},
		{Name: "H1.3", Coefficient: "ghost", Direction: DirectionTwoSided, Alpha: 0.10},
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Confirmed) // injected beta is +1.5
	assert.True(t, results[1].Confirmed) // injected beta is -0.8
	assert.True(t, results[2].Missing)
	assert.False(t, results[2].Confirmed)
	assert.Equal(t, "H1.1: beta(x1) > 0", results[0].Hypothesis.Describe())
}

func TestScreenVariables(t *testing.T) {
	tbl := dataset.New("panel", 100)
	times := make([]time.Time, 100)
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range times {
		times[i] = start.AddDate(0, i, 0)
	}
	require.NoError(t, tbl.SetTimes("Date", times))

	rng := rand.New(rand.NewSource(13))
	healthy := make([]float64, 100)
	flat := make([]float64, 100)
	holey := make([]float64, 100)
	for i := range healthy {
		healthy[i] = rng.NormFloat64()
		flat[i] = 4.2
		if i%5 == 0 {
			holey[i] = math.NaN()
		} else {
			holey[i] = rng.NormFloat64()
		}
	}
	require.NoError(t, tbl.AddNumeric("healthy", healthy))
	require.NoError(t, tbl.AddNumeric("flat", flat))
	require.NoError(t, tbl.AddNumeric("holey", holey))

	results, alerts := ScreenVariables(tbl, []string{"healthy", "flat", "holey", "absent"}, 0.001, 5)
	require.Len(t, results, 4)

	byName := make(map[string]VariableScreen)
	for _, r := range results {
		byName[r.Variable] = r
	}
	assert.Equal(t, ScreenOK, byName["healthy"].Status)
	assert.Equal(t, ScreenNullVariance, byName["flat"].Status)
	assert.Equal(t, ScreenHighMissingness, byName["holey"].Status)
	assert.Equal(t, ScreenAbsent, byName["absent"].Status)
	assert.Equal(t, 20, byName["holey"].Missing)
	assert.Len(t, alerts, 3)
}

func TestEntityVariances(t *testing.T) {
	tbl := dataset.New("panel", 6)
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{start, start.AddDate(0, 1, 0), start.AddDate(0, 2, 0), start, start.AddDate(0, 1, 0), start.AddDate(0, 2, 0)}
	require.NoError(t, tbl.SetTimes("Date", times))
	require.NoError(t, tbl.AddString("Entity", []string{"A", "A", "A", "B", "B", "B"}))
	require.NoError(t, tbl.AddNumeric("y", []float64{1, 2, 3, 5, 5, 5}))

	results, degenerate, err := EntityVariances(tbl, "Entity", "y", 0.001)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, []string{"B"}, degenerate)
	assert.Equal(t, "B", results[0].Entity) // sorted by ascending variance
	assert.True(t, results[0].Degenerate)
	assert.False(t, results[1].Degenerate)
}
