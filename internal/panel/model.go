// Package panel estimates linear panel-data models with entity fixed effects
// (within transformation) or random effects (Swamy-Arora feasible GLS), with
// heteroskedasticity-robust standard errors throughout.
package panel

import (
	"gonum.org/v1/gonum/mat"
)

// Effects selects the panel estimator
type Effects string

const (
	// EffectsFixed demeans within entities before the OLS solve
	EffectsFixed Effects = "fixed"
	// EffectsRandom quasi-demeans using the Swamy-Arora variance components
	EffectsRandom Effects = "random"
)

// Request describes one model specification
type Request struct {
	Dependent    string
	Regressors   []string
	EntityColumn string
	Effects      Effects
}

// Coefficient is one estimated regression coefficient with its robust
// inference statistics
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	TStat    float64 `json:"t_stat"`
	PValue   float64 `json:"p_value"` // two-sided
}

// Stars returns the conventional significance marker for the two-sided p
func (c Coefficient) Stars() string {
	switch {
	case c.PValue < 0.01:
		return "***"
	case c.PValue < 0.05:
		return "**"
	case c.PValue < 0.10:
		return "*"
	default:
		return ""
	}
}

// FittedModel holds the immutable result of one estimation
type FittedModel struct {
	Dependent    string        `json:"dependent"`
	Effects      Effects       `json:"effects"`
	Coefficients []Coefficient `json:"coefficients"`

	Residuals []float64 `json:"-"`
	Fitted    []float64 `json:"-"`

	R2Within  float64 `json:"r2_within"`
	R2Between float64 `json:"r2_between"`
	R2Overall float64 `json:"r2_overall"`

	NumObs      int `json:"num_obs"`
	NumEntities int `json:"num_entities"`
	NumPeriods  int `json:"num_periods"`
	DFResid     int `json:"df_resid"`

	// robust sandwich covariance of the coefficient vector
	cov *mat.SymDense
}

// Coefficient returns the named coefficient, if estimated
func (m *FittedModel) Coefficient(name string) (Coefficient, bool) {
	for _, c := range m.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// CoefficientNames returns the coefficient names in estimation order
func (m *FittedModel) CoefficientNames() []string {
	names := make([]string, len(m.Coefficients))
	for i, c := range m.Coefficients {
		names[i] = c.Name
	}
	return names
}

// CoefVector returns the coefficient estimates as a vector
func (m *FittedModel) CoefVector() *mat.VecDense {
	v := mat.NewVecDense(len(m.Coefficients), nil)
	for i, c := range m.Coefficients {
		v.SetVec(i, c.Estimate)
	}
	return v
}

// Covariance returns the robust covariance matrix of the coefficients
func (m *FittedModel) Covariance() *mat.SymDense {
	return m.cov
}
