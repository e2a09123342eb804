package diagnostics

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"afpcli/internal/dataset"
)

// VIFStatus bands a variance inflation factor
type VIFStatus string

const (
	VIFOK          VIFStatus = "OK"
	VIFModerate    VIFStatus = "MODERATE"
	VIFProblematic VIFStatus = "PROBLEMATIC"
)

// VIFResult is the variance inflation factor of one regressor
type VIFResult struct {
	Variable string    `json:"variable"`
	VIF      float64   `json:"vif"` // +Inf for exact collinearity
	Status   VIFStatus `json:"status"`
}

// VIFThresholds configures the banding cutoffs
type VIFThresholds struct {
	Moderate    float64 // default 5
	Problematic float64 // default 10
}

// VarianceInflation computes the VIF of every listed regressor by regressing
// it on all the others (with intercept): VIF = 1/(1-R^2). Dummy-set columns
// (prefix "Month_") are excluded from both sides. An exact linear combination
// yields +Inf and is flagged problematic, never a finite misleading number.
func VarianceInflation(t *dataset.Table, regressors []string, thresholds VIFThresholds) ([]VIFResult, error) {
	if thresholds.Moderate <= 0 {
		thresholds.Moderate = 5
	}
	if thresholds.Problematic <= 0 {
		thresholds.Problematic = 10
	}

	var names []string
	for _, name := range regressors {
		if strings.HasPrefix(name, "Month_") {
			continue
		}
		names = append(names, name)
	}

	cols := make(map[string][]float64, len(names))
	for _, name := range names {
		col, err := t.Numeric(name)
		if err != nil {
			return nil, err
		}
		cols[name] = col
	}

	results := make([]VIFResult, 0, len(names))
	for _, target := range names {
		r2 := auxiliaryR2(cols, names, target, t.NumRows())

		var vif float64
		switch {
		case math.IsNaN(r2):
			vif = math.NaN()
		case 1-r2 < 1e-12:
			vif = math.Inf(1)
		default:
			vif = 1 / (1 - r2)
		}

		status := VIFOK
		switch {
		case math.IsInf(vif, 1) || vif >= thresholds.Problematic:
			status = VIFProblematic
		case vif >= thresholds.Moderate:
			status = VIFModerate
		}

		results = append(results, VIFResult{Variable: target, VIF: vif, Status: status})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].VIF > results[j].VIF
	})
	return results, nil
}

// auxiliaryR2 regresses target on the remaining regressors plus an intercept
func auxiliaryR2(cols map[string][]float64, names []string, target string, n int) float64 {
	others := make([]string, 0, len(names)-1)
	for _, name := range names {
		if name != target {
			others = append(others, name)
		}
	}
	if len(others) == 0 || n <= len(others)+1 {
		return math.NaN()
	}

	x := mat.NewDense(n, len(others)+1, nil)
	y := cols[target]
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		for j, name := range others {
			x.Set(i, j+1, cols[name][i])
		}
	}

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(n, y)); err != nil {
		// singular design: target is an exact combination of the others
		return 1
	}

	mean := stat.Mean(y, nil)
	sst, ssr := 0.0, 0.0
	for i := 0; i < n; i++ {
		pred := 0.0
		for j := 0; j <= len(others); j++ {
			pred += x.At(i, j) * beta.AtVec(j)
		}
		e := y[i] - pred
		ssr += e * e
		d := y[i] - mean
		sst += d * d
	}
	if sst == 0 {
		return math.NaN()
	}
	r2 := 1 - ssr/sst
	if r2 < 0 {
		r2 = 0
	}
	if r2 > 1 {
		r2 = 1
	}
	return r2
}
