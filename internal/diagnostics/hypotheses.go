package diagnostics

import (
	"fmt"

	"afpcli/internal/panel"
)

// Direction is the hypothesized sign of a coefficient
type Direction string

const (
	DirectionLess     Direction = "less"     // H1: beta < 0
	DirectionGreater  Direction = "greater"  // H1: beta > 0
	DirectionTwoSided Direction = "twosided" // H1: beta != 0
)

// OneSidedP converts a two-sided p-value into a one-sided one: halved when
// the estimate's sign matches the hypothesized direction, complemented
// otherwise.
func OneSidedP(estimate, twoSidedP float64, direction Direction) float64 {
	switch direction {
	case DirectionLess:
		if estimate < 0 {
			return twoSidedP / 2
		}
		return 1 - twoSidedP/2
	case DirectionGreater:
		if estimate > 0 {
			return twoSidedP / 2
		}
		return 1 - twoSidedP/2
	default:
		return twoSidedP
	}
}

// Hypothesis is one directional research hypothesis about a coefficient
type Hypothesis struct {
	Name        string    `json:"name"`
	Coefficient string    `json:"coefficient"`
	Direction   Direction `json:"direction"`
	Alpha       float64   `json:"alpha"`
}

// HypothesisResult records the evaluation of one hypothesis against a fit
type HypothesisResult struct {
	Hypothesis Hypothesis `json:"hypothesis"`
	Estimate   float64    `json:"estimate"`
	StdErr     float64    `json:"std_err"`
	TStat      float64    `json:"t_stat"`
	PValue     float64    `json:"p_value"` // adjusted for direction
	Confirmed  bool       `json:"confirmed"`
	Stars      string     `json:"stars"`
	Missing    bool       `json:"missing"` // coefficient absent from the model
}

// EvaluateHypothesis tests one directional hypothesis on a fitted model
func EvaluateHypothesis(model *panel.FittedModel, h Hypothesis) HypothesisResult {
	if h.Alpha <= 0 || h.Alpha >= 1 {
		h.Alpha = 0.05
	}

	coef, ok := model.Coefficient(h.Coefficient)
	if !ok {
		return HypothesisResult{Hypothesis: h, Missing: true}
	}

	p := OneSidedP(coef.Estimate, coef.PValue, h.Direction)

	return HypothesisResult{
		Hypothesis: h,
		Estimate:   coef.Estimate,
		StdErr:     coef.StdErr,
		TStat:      coef.TStat,
		PValue:     p,
		Confirmed:  p < h.Alpha,
		Stars:      starsFor(p),
	}
}

// EvaluateHypotheses tests a catalogue of hypotheses against a fitted model
func EvaluateHypotheses(model *panel.FittedModel, hypotheses []Hypothesis) []HypothesisResult {
	results := make([]HypothesisResult, len(hypotheses))
	for i, h := range hypotheses {
		results[i] = EvaluateHypothesis(model, h)
	}
	return results
}

// Describe renders the direction as the alternative hypothesis it encodes
func (h Hypothesis) Describe() string {
	switch h.Direction {
	case DirectionLess:
		return fmt.Sprintf("%s: beta(%s) < 0", h.Name, h.Coefficient)
	case DirectionGreater:
		return fmt.Sprintf("%s: beta(%s) > 0", h.Name, h.Coefficient)
	default:
		return fmt.Sprintf("%s: beta(%s) != 0", h.Name, h.Coefficient)
	}
}

func starsFor(p float64) string {
	switch {
	case p < 0.01:
		return "***"
	case p < 0.05:
		return "**"
	case p < 0.10:
		return "*"
	default:
		return ""
	}
}
