// Package diagnostics implements post-estimation hypothesis tests and
// residual diagnostics for fitted panel models.
//
// Statistical violations that are expected in financial panels (residual
// non-normality, autocorrelation, heteroskedasticity) are reported as
// result records and never surfaced as errors: the robust standard errors of
// the estimator already carry the inferential weight.
package diagnostics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"afpcli/internal/errors"
	"afpcli/internal/panel"
)

// WaldResult is the outcome of a joint-significance test
type WaldResult struct {
	Restrictions []string `json:"restrictions"`
	FStat        float64  `json:"f_stat"`
	PValue       float64  `json:"p_value"`
	DFNum        int      `json:"df_num"`
	DFDenom      int      `json:"df_denom"`
	RejectsNull  bool     `json:"rejects_null"` // at the 5% level
}

// JointWaldTest tests H0: all named coefficients are simultaneously zero,
// using the model's robust covariance. With a single restriction the F
// statistic is the square of that coefficient's t statistic.
func JointWaldTest(model *panel.FittedModel, coefficients []string) (*WaldResult, error) {
	if len(coefficients) == 0 {
		return nil, errors.NewAppError(errors.ErrTypeEstimation, "wald test needs at least one restriction", nil)
	}

	names := model.CoefficientNames()
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	q := len(coefficients)
	r := mat.NewDense(q, len(names), nil)
	for i, name := range coefficients {
		j, ok := index[name]
		if !ok {
			return nil, errors.NewAppError(errors.ErrTypeEstimation,
				fmt.Sprintf("coefficient %q not in model", name), nil)
		}
		r.Set(i, j, 1)
	}

	b := model.CoefVector()
	var rb mat.VecDense
	rb.MulVec(r, b)

	// middle = R V R'
	var rv, middle mat.Dense
	rv.Mul(r, model.Covariance())
	middle.Mul(&rv, r.T())

	var middleInv mat.Dense
	if err := middleInv.Inverse(&middle); err != nil {
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			"restricted covariance block is singular", err)
	}

	var tmp mat.VecDense
	tmp.MulVec(&middleInv, &rb)
	f := mat.Dot(&rb, &tmp) / float64(q)

	fdist := distuv.F{D1: float64(q), D2: float64(model.DFResid)}
	p := 1 - fdist.CDF(f)

	return &WaldResult{
		Restrictions: coefficients,
		FStat:        f,
		PValue:       p,
		DFNum:        q,
		DFDenom:      model.DFResid,
		RejectsNull:  p < 0.05,
	}, nil
}
