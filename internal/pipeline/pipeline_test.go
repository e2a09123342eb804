package pipeline

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpcli/internal/config"
	"afpcli/internal/dataset"
	"afpcli/internal/panel"
	"afpcli/internal/robustness"
)

var testThresholds = config.ThresholdsConfig{
	VarianceFloor:      0.001,
	MaxMissingPercent:  5,
	Alpha:              0.05,
	VIFModerate:        5,
	VIFProblematic:     10,
	AutocorrelationRho: 0.3,
}

// contributions-style fixture: four managers over 48 months, raw totals with
// a crisis dip, an exclusion dummy on one month, macro predictors in a
// separate time-series table
type fixture struct {
	base       *dataset.Table
	predictors *dataset.Table
	spec       PanelSpec
}

func buildFixture(t *testing.T) fixture {
	t.Helper()
	rng := rand.New(rand.NewSource(17))

	managers := []string{"Habitat", "Integra", "Prima", "Profuturo"}
	periods := 48
	start := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	onset := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

	// shared time series
	predTimes := make([]time.Time, periods)
	pc1 := make([]float64, periods)
	covid := make([]float64, periods)
	rate := make([]float64, periods)
	for p := 0; p < periods; p++ {
		ts := start.AddDate(0, p, 0)
		predTimes[p] = ts
		pc1[p] = rng.NormFloat64()
		if !ts.Before(onset) {
			covid[p] = 1
		}
		rate[p] = 2.5 + 0.5*rng.NormFloat64()
	}

	predictors := dataset.New("predictors", periods)
	require.NoError(t, predictors.SetTimes("Date", predTimes))
	require.NoError(t, predictors.AddNumeric("PC1_Global", pc1))
	require.NoError(t, predictors.AddNumeric("D_COVID", covid))
	require.NoError(t, predictors.AddNumeric("Policy_Rate", rate))

	n := len(managers) * periods
	base := dataset.New("contributions", n)
	times := make([]time.Time, 0, n)
	names := make([]string, 0, n)
	raw := make([]float64, 0, n)
	excl := make([]float64, 0, n)
	for ei, name := range managers {
		for p := 0; p < periods; p++ {
			times = append(times, predTimes[p])
			names = append(names, name)
			// ln(contributions) = -0.3*pc1 - 0.4*covid + entity effect + noise
			lnc := 10 - 0.3*pc1[p] - 0.4*covid[p] + 0.5*float64(ei) + 0.05*rng.NormFloat64()
			raw = append(raw, math.Exp(lnc))
			e := 0.0
			if p == 6 {
				e = 1 // one adjusted month per manager
			}
			excl = append(excl, e)
		}
	}
	require.NoError(t, base.SetTimes("Date", times))
	require.NoError(t, base.AddString("AFP", names))
	require.NoError(t, base.AddNumeric("Contributions_Total", raw))
	require.NoError(t, base.AddNumeric("Dummy_Adjustment", excl))

	return fixture{
		base:       base,
		predictors: predictors,
		spec: PanelSpec{
			Name:            "contributions",
			Dependent:       "ln_Contributions",
			RawDependent:    "Contributions_Total",
			EntityColumn:    "AFP",
			ExclusionColumn: "Dummy_Adjustment",
			Predictors:      []string{"PC1_Global"},
			Moderator:       "D_COVID",
			Controls:        []string{"Policy_Rate"},
			ReferenceMonth:  1,
			MonthDummies:    true,
		},
	}
}

func TestPrepareBuildsFullDesign(t *testing.T) {
	fx := buildFixture(t)
	p := New(testThresholds, nil)

	prep, err := p.Prepare(fx.base, []*dataset.Table{fx.predictors}, fx.spec)
	require.NoError(t, err)

	assert.Equal(t, "AFP", prep.EntityColumn)
	assert.True(t, prep.ModeratorIncluded)
	assert.Equal(t, []string{"PC1_Global_c"}, prep.CenteredPredictors)
	assert.Equal(t, []string{"Int_PC1_Global_c_D_COVID"}, prep.Interactions)
	assert.Equal(t, []string{"Policy_Rate_c"}, prep.CenteredControls)
	assert.Len(t, prep.MonthDummyNames, 11)

	// exclusion dummy removed one month per manager
	assert.Equal(t, 4*47, prep.Table.NumRows())

	// ln derivation happened
	dep, err := prep.Table.Numeric("ln_Contributions")
	require.NoError(t, err)
	assert.InDelta(t, 10, dep[0], 2)

	// design order: predictors, moderator, interactions, controls, dummies
	require.GreaterOrEqual(t, len(prep.Regressors), 4)
	assert.Equal(t, "PC1_Global_c", prep.Regressors[0])
	assert.Equal(t, "D_COVID", prep.Regressors[1])
	assert.Equal(t, "Int_PC1_Global_c_D_COVID", prep.Regressors[2])
	assert.Equal(t, "Policy_Rate_c", prep.Regressors[3])
}

func TestEstimateRecoversCoefficients(t *testing.T) {
	fx := buildFixture(t)
	p := New(testThresholds, nil)

	prep, err := p.Prepare(fx.base, []*dataset.Table{fx.predictors}, fx.spec)
	require.NoError(t, err)
	model, err := p.Estimate(prep, panel.EffectsFixed)
	require.NoError(t, err)

	pc1, ok := model.Coefficient("PC1_Global_c")
	require.True(t, ok)
	assert.InDelta(t, -0.3, pc1.Estimate, 0.05)

	covid, ok := model.Coefficient("D_COVID")
	require.True(t, ok)
	assert.InDelta(t, -0.4, covid.Estimate, 0.1)

	assert.Equal(t, 4, model.NumEntities)
	assert.Greater(t, model.R2Within, 0.8)
}

func TestDiagnoseReportsWithoutFailing(t *testing.T) {
	fx := buildFixture(t)
	p := New(testThresholds, nil)

	prep, err := p.Prepare(fx.base, []*dataset.Table{fx.predictors}, fx.spec)
	require.NoError(t, err)
	model, err := p.Estimate(prep, panel.EffectsFixed)
	require.NoError(t, err)

	report, err := p.Diagnose(prep, model, fx.spec)
	require.NoError(t, err)

	assert.Equal(t, "contributions", report.Panel)
	require.NotNil(t, report.JointSignificance)
	assert.Equal(t, 2, report.JointSignificance.DFNum) // predictor + interaction
	assert.True(t, report.JointSignificance.RejectsNull)

	// month dummies are excluded from the VIF screen
	for _, r := range report.VIF {
		assert.NotContains(t, r.Variable, "Month_")
	}
}

func TestConstantModeratorIsDropped(t *testing.T) {
	fx := buildFixture(t)
	p := New(testThresholds, nil)

	assembled, entity, err := p.Assemble(fx.base, []*dataset.Table{fx.predictors}, fx.spec)
	require.NoError(t, err)

	// restricting to the pre-crisis years leaves the moderator at zero
	preCrisis := assembledBefore(assembled, time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC))
	prep, err := p.Build(preCrisis, entity, fx.spec)
	require.NoError(t, err)

	assert.False(t, prep.ModeratorIncluded)
	assert.Empty(t, prep.Interactions)
	assert.NotContains(t, prep.Regressors, "D_COVID")

	model, err := p.Estimate(prep, panel.EffectsFixed)
	require.NoError(t, err)
	_, ok := model.Coefficient("PC1_Global_c")
	assert.True(t, ok)
}

func assembledBefore(t *dataset.Table, cutoff time.Time) *dataset.Table {
	keep := make([]bool, t.NumRows())
	for i, ts := range t.Times() {
		keep[i] = ts.Before(cutoff)
	}
	return t.Select(keep)
}

func TestStructuralBreak(t *testing.T) {
	fx := buildFixture(t)
	p := New(testThresholds, nil)

	prep, err := p.Prepare(fx.base, []*dataset.Table{fx.predictors}, fx.spec)
	require.NoError(t, err)
	restricted, err := p.Estimate(prep, panel.EffectsFixed)
	require.NoError(t, err)

	result, err := p.StructuralBreak(prep, restricted, fx.spec)
	require.NoError(t, err)

	require.NotNil(t, result.Wald)
	assert.Equal(t, 1, result.Wald.DFNum) // one control interaction
	assert.Equal(t, result.Wald.RejectsNull, result.BreakFound)
	_, ok := result.Unrestricted.Coefficient("Int_Policy_Rate_c_D_COVID")
	assert.True(t, ok)
}

func TestCompositeEntityKey(t *testing.T) {
	fx := buildFixture(t)

	// stamp a fund type onto the base panel to form a two-level key
	fundType := make([]string, fx.base.NumRows())
	for i := range fundType {
		fundType[i] = []string{"1", "2"}[i%2]
	}
	require.NoError(t, fx.base.AddString("FundType", fundType))

	spec := fx.spec
	spec.SecondEntityColumn = "FundType"

	p := New(testThresholds, nil)
	_, entity, err := p.Assemble(fx.base, []*dataset.Table{fx.predictors}, spec)
	require.NoError(t, err)
	assert.Equal(t, "AFP_FundType", entity)
}

func TestEstimateByGroup(t *testing.T) {
	fx := buildFixture(t)
	fundType := make([]string, fx.base.NumRows())
	for i := range fundType {
		fundType[i] = []string{"Conservative", "Growth"}[(i/48)%2]
	}
	require.NoError(t, fx.base.AddString("FundType", fundType))

	p := New(testThresholds, nil)
	assembled, entity, err := p.Assemble(fx.base, []*dataset.Table{fx.predictors}, fx.spec)
	require.NoError(t, err)

	fits, err := p.EstimateByGroup(assembled, entity, fx.spec, "FundType")
	require.NoError(t, err)
	require.Len(t, fits, 2)

	for _, fit := range fits {
		require.NoError(t, fit.Err, fit.Group)
		coef, ok := fit.Model.Coefficient("PC1_Global_c")
		require.True(t, ok, fit.Group)
		assert.InDelta(t, -0.3, coef.Estimate, 0.1, fit.Group)
	}
}

func TestVariationFitWithRunner(t *testing.T) {
	fx := buildFixture(t)
	p := New(testThresholds, nil)

	assembled, entity, err := p.Assemble(fx.base, []*dataset.Table{fx.predictors}, fx.spec)
	require.NoError(t, err)

	runner := robustness.NewRunner(fx.spec.Moderator, 2, nil)
	variations := robustness.StandardCatalogue(robustness.CatalogueOptions{
		Predictors:  fx.spec.Predictors,
		CrisisOnset: time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	results := runner.Run(context.Background(), assembled, variations, p.VariationFit(entity, fx.spec))
	require.Len(t, results, len(variations))

	for _, res := range results {
		require.NoError(t, res.Err, res.Variation.Name)
		require.False(t, res.Skipped, res.Variation.Name)
		require.NotNil(t, res.Model, res.Variation.Name)
	}

	summaries := robustness.Summarize(results, []string{"PC1_Global_c"})
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].SignStable)
}

func TestDeriveLogHandlesNonPositive(t *testing.T) {
	tbl := dataset.New("raw", 3)
	require.NoError(t, tbl.SetTimes("Date", []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, tbl.AddNumeric("Total", []float64{math.E, 0, -5}))

	out, err := deriveLog(tbl, "Total", "ln_Total")
	require.NoError(t, err)

	vals, err := out.Numeric("ln_Total")
	require.NoError(t, err)
	assert.InDelta(t, 1, vals[0], 1e-12)
	assert.True(t, math.IsNaN(vals[1]))
	assert.True(t, math.IsNaN(vals[2]))

	_, err = deriveLog(tbl, "absent", "x")
	assert.Error(t, err)
}
