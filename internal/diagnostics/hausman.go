package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"afpcli/internal/errors"
	"afpcli/internal/panel"
)

// CoefficientDrift records how one coefficient moves between the fixed- and
// random-effects fits of the same specification
type CoefficientDrift struct {
	Name       string  `json:"name"`
	Fixed      float64 `json:"fixed"`
	Random     float64 `json:"random"`
	Difference float64 `json:"difference"`
}

// HausmanResult is the outcome of the fixed-vs-random specification test.
// H0: random effects are consistent. Rejection means the entity effects are
// correlated with the regressors and fixed effects are required, the
// expected outcome in this domain.
type HausmanResult struct {
	Stat           float64            `json:"stat"`
	PValue         float64            `json:"p_value"`
	DF             int                `json:"df"`
	FixedPreferred bool               `json:"fixed_preferred"`
	R2WithinFixed  float64            `json:"r2_within_fixed"`
	R2WithinRandom float64            `json:"r2_within_random"`
	Drift          []CoefficientDrift `json:"drift"`
}

// HausmanComparison compares a fixed-effects and a random-effects fit of the
// same specification. The statistic is d'(V_FE - V_RE)^-1 d over the shared
// slope coefficients, referred to chi-squared with one degree of freedom per
// coefficient.
func HausmanComparison(fixed, random *panel.FittedModel, alpha float64) (*HausmanResult, error) {
	if fixed.Effects != panel.EffectsFixed || random.Effects != panel.EffectsRandom {
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			"hausman comparison needs one fixed-effects and one random-effects fit", nil)
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.05
	}

	fixedNames := fixed.CoefficientNames()
	randomIndex := make(map[string]int)
	for i, name := range random.CoefficientNames() {
		randomIndex[name] = i
	}

	// shared slopes: every fixed-model coefficient present in the random
	// model (the random model's intercept has no fixed counterpart)
	var shared []string
	var fixedIdx, randIdx []int
	for i, name := range fixedNames {
		if j, ok := randomIndex[name]; ok {
			shared = append(shared, name)
			fixedIdx = append(fixedIdx, i)
			randIdx = append(randIdx, j)
		}
	}
	if len(shared) == 0 {
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			"no shared coefficients between fixed and random fits", nil)
	}

	k := len(shared)
	d := mat.NewVecDense(k, nil)
	vdiff := mat.NewDense(k, k, nil)
	drift := make([]CoefficientDrift, k)

	bF := fixed.CoefVector()
	bR := random.CoefVector()
	vF := fixed.Covariance()
	vR := random.Covariance()

	for a := 0; a < k; a++ {
		diff := bF.AtVec(fixedIdx[a]) - bR.AtVec(randIdx[a])
		d.SetVec(a, diff)
		drift[a] = CoefficientDrift{
			Name:       shared[a],
			Fixed:      bF.AtVec(fixedIdx[a]),
			Random:     bR.AtVec(randIdx[a]),
			Difference: diff,
		}
		for b := 0; b < k; b++ {
			vdiff.Set(a, b, vF.At(fixedIdx[a], fixedIdx[b])-vR.At(randIdx[a], randIdx[b]))
		}
	}

	result := &HausmanResult{
		DF:             k,
		R2WithinFixed:  fixed.R2Within,
		R2WithinRandom: random.R2Within,
		Drift:          drift,
	}

	var vinv mat.Dense
	if err := vinv.Inverse(vdiff); err != nil {
		// V_FE - V_RE can fail to be positive definite in finite samples;
		// fall back to the coefficient-divergence reading
		result.Stat = math.NaN()
		result.PValue = math.NaN()
		result.FixedPreferred = fixed.R2Within >= random.R2Within
		return result, nil
	}

	var tmp mat.VecDense
	tmp.MulVec(&vinv, d)
	h := mat.Dot(d, &tmp)
	if h < 0 {
		h = math.Abs(h)
	}

	chi2 := distuv.ChiSquared{K: float64(k)}
	p := 1 - chi2.CDF(h)

	result.Stat = h
	result.PValue = p
	result.FixedPreferred = p < alpha
	return result, nil
}
