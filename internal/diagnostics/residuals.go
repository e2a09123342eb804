package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NormalityResult is the Jarque-Bera test on the model residuals. Rejection
// is expected in financial panels (heavy tails) and is recorded, not raised.
type NormalityResult struct {
	JBStat       float64 `json:"jb_stat"`
	PValue       float64 `json:"p_value"`
	Skewness     float64 `json:"skewness"`
	Kurtosis     float64 `json:"kurtosis"` // excess kurtosis
	ResidualMean float64 `json:"residual_mean"`
	ResidualStd  float64 `json:"residual_std"`
	Rejected     bool    `json:"rejected"` // at the 5% level
}

// NormalityTest computes the Jarque-Bera statistic
// JB = n/6 * (S^2 + K^2/4) with K the excess kurtosis
func NormalityTest(residuals []float64) NormalityResult {
	n := float64(len(residuals))
	skew := stat.Skew(residuals, nil)
	exKurt := stat.ExKurtosis(residuals, nil)

	jb := n / 6 * (skew*skew + exKurt*exKurt/4)
	chi2 := distuv.ChiSquared{K: 2}
	p := 1 - chi2.CDF(jb)

	return NormalityResult{
		JBStat:       jb,
		PValue:       p,
		Skewness:     skew,
		Kurtosis:     exKurt,
		ResidualMean: stat.Mean(residuals, nil),
		ResidualStd:  stat.StdDev(residuals, nil),
		Rejected:     p < 0.05,
	}
}

// AutocorrelationResult is the lag-1 serial-correlation probe. Temporal
// correlation within entities is expected in panel residuals.
type AutocorrelationResult struct {
	Lag1Correlation float64 `json:"lag1_correlation"`
	DurbinWatson    float64 `json:"durbin_watson"`
	Detected        bool    `json:"detected"`
}

// AutocorrelationProbe computes the lag-1 residual correlation and the
// Durbin-Watson ratio. Detection uses |rho| > rhoThreshold.
func AutocorrelationProbe(residuals []float64, rhoThreshold float64) AutocorrelationResult {
	if rhoThreshold <= 0 {
		rhoThreshold = 0.3
	}
	if len(residuals) < 3 {
		return AutocorrelationResult{}
	}

	lagged := residuals[:len(residuals)-1]
	current := residuals[1:]
	rho := stat.Correlation(current, lagged, nil)

	num, denom := 0.0, 0.0
	for i, r := range residuals {
		denom += r * r
		if i > 0 {
			d := r - residuals[i-1]
			num += d * d
		}
	}
	dw := math.NaN()
	if denom > 0 {
		dw = num / denom
	}

	return AutocorrelationResult{
		Lag1Correlation: rho,
		DurbinWatson:    dw,
		Detected:        math.Abs(rho) > rhoThreshold,
	}
}

// HeteroskedasticityResult is the squared-residual-vs-fitted probe, a
// lightweight stand-in for a formal Breusch-Pagan test
type HeteroskedasticityResult struct {
	Correlation float64 `json:"correlation"` // corr(e^2, fitted)
	Detected    bool    `json:"detected"`
}

// HeteroskedasticityProbe correlates squared residuals with fitted values.
// Detection uses |corr| > threshold.
func HeteroskedasticityProbe(residuals, fitted []float64, threshold float64) HeteroskedasticityResult {
	if threshold <= 0 {
		threshold = 0.3
	}
	if len(residuals) != len(fitted) || len(residuals) < 3 {
		return HeteroskedasticityResult{}
	}

	sq := make([]float64, len(residuals))
	for i, r := range residuals {
		sq[i] = r * r
	}
	corr := stat.Correlation(sq, fitted, nil)
	if math.IsNaN(corr) {
		corr = 0
	}

	return HeteroskedasticityResult{
		Correlation: corr,
		Detected:    math.Abs(corr) > threshold,
	}
}
