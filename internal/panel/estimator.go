package panel

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"afpcli/internal/dataset"
	"afpcli/internal/errors"
)

// DefaultVarianceFloor is the within-variance below which an entity cannot
// identify a fixed effect
const DefaultVarianceFloor = 1e-9

// Estimator fits panel models. It is pure over its inputs; the caller owns
// persistence of the results.
type Estimator struct {
	varianceFloor float64
	logger        *slog.Logger
}

// NewEstimator creates an estimator with the default degeneracy floor
func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{varianceFloor: DefaultVarianceFloor, logger: logger}
}

// SetVarianceFloor overrides the within-variance floor of the degeneracy guard
func (e *Estimator) SetVarianceFloor(floor float64) {
	e.varianceFloor = floor
}

// Fit estimates the requested model on the table. The table must be complete
// in the dependent and regressor columns; entities must have at least two
// observations with non-degenerate variance in the dependent variable when
// fixed effects are requested.
func (e *Estimator) Fit(t *dataset.Table, req Request) (*FittedModel, error) {
	y, err := t.Numeric(req.Dependent)
	if err != nil {
		return nil, err
	}

	cols := make([][]float64, len(req.Regressors))
	for i, name := range req.Regressors {
		col, err := t.Numeric(name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	entities, err := t.String(req.EntityColumn)
	if err != nil {
		return nil, err
	}

	n := t.NumRows()
	if n == 0 {
		return nil, errors.NewAppError(errors.ErrTypeEstimation, "empty estimation sample", nil)
	}
	for i := 0; i < n; i++ {
		if dataset.IsMissing(y[i]) {
			return nil, errors.NewAppError(errors.ErrTypeEstimation,
				fmt.Sprintf("missing value in %q at row %d; drop incomplete rows first", req.Dependent, i), nil)
		}
		for j, col := range cols {
			if dataset.IsMissing(col[i]) {
				return nil, errors.NewAppError(errors.ErrTypeEstimation,
					fmt.Sprintf("missing value in %q at row %d; drop incomplete rows first", req.Regressors[j], i), nil)
			}
		}
	}

	groups := groupByEntity(entities)

	e.logger.Info("fitting panel model",
		slog.String("dependent", req.Dependent),
		slog.String("effects", string(req.Effects)),
		slog.Int("observations", n),
		slog.Int("entities", len(groups)),
		slog.Int("regressors", len(req.Regressors)),
	)

	switch req.Effects {
	case EffectsFixed, "":
		return e.fitFixed(t, req, y, cols, groups)
	case EffectsRandom:
		return e.fitRandom(t, req, y, cols, groups)
	default:
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			fmt.Sprintf("unknown effects type %q", req.Effects), nil)
	}
}

type entityGroup struct {
	name string
	rows []int
}

func groupByEntity(entities []string) []entityGroup {
	index := make(map[string]int)
	var groups []entityGroup
	for i, name := range entities {
		gi, ok := index[name]
		if !ok {
			gi = len(groups)
			index[name] = gi
			groups = append(groups, entityGroup{name: name})
		}
		groups[gi].rows = append(groups[gi].rows, i)
	}
	return groups
}

// checkDegenerate returns the entities that cannot identify a fixed effect:
// fewer than two observations or no within variance in the dependent variable
func (e *Estimator) checkDegenerate(y []float64, groups []entityGroup) []string {
	var degenerate []string
	for _, g := range groups {
		if len(g.rows) < 2 {
			degenerate = append(degenerate, g.name)
			continue
		}
		vals := make([]float64, len(g.rows))
		for i, r := range g.rows {
			vals[i] = y[r]
		}
		if stat.Variance(vals, nil) <= e.varianceFloor {
			degenerate = append(degenerate, g.name)
		}
	}
	sort.Strings(degenerate)
	return degenerate
}

func (e *Estimator) fitFixed(t *dataset.Table, req Request, y []float64, cols [][]float64, groups []entityGroup) (*FittedModel, error) {
	if degenerate := e.checkDegenerate(y, groups); len(degenerate) > 0 {
		return nil, errors.NewDegenerateEntityError(degenerate)
	}

	n := len(y)
	k := len(cols)
	df := n - k - len(groups)
	if df <= 0 {
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			fmt.Sprintf("insufficient degrees of freedom: %d obs, %d regressors, %d entities", n, k, len(groups)), nil)
	}

	// within transformation: demean y and X per entity
	ydm := make([]float64, n)
	xdm := mat.NewDense(n, k, nil)
	yMeans := make([]float64, len(groups))
	xMeans := make([][]float64, len(groups))

	for gi, g := range groups {
		ym := 0.0
		for _, r := range g.rows {
			ym += y[r]
		}
		ym /= float64(len(g.rows))
		yMeans[gi] = ym

		xm := make([]float64, k)
		for j, col := range cols {
			s := 0.0
			for _, r := range g.rows {
				s += col[r]
			}
			xm[j] = s / float64(len(g.rows))
		}
		xMeans[gi] = xm

		for _, r := range g.rows {
			ydm[r] = y[r] - ym
			for j, col := range cols {
				xdm.Set(r, j, col[r]-xm[j])
			}
		}
	}

	beta, err := solveOLS(xdm, ydm)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			"singular regressor matrix after within transformation", err)
	}

	// residuals, fitted values (entity mean plus within prediction)
	resid := make([]float64, n)
	fitted := make([]float64, n)
	for gi, g := range groups {
		for _, r := range g.rows {
			within := 0.0
			for j := 0; j < k; j++ {
				within += xdm.At(r, j) * beta[j]
			}
			fitted[r] = yMeans[gi] + within
			resid[r] = y[r] - fitted[r]
		}
	}

	cov, err := robustCovariance(xdm, resid, float64(n)/float64(df))
	if err != nil {
		return nil, errors.NewAppError(errors.ErrTypeEstimation, "robust covariance failed", err)
	}

	model := &FittedModel{
		Dependent:   req.Dependent,
		Effects:     EffectsFixed,
		Residuals:   resid,
		Fitted:      fitted,
		NumObs:      n,
		NumEntities: len(groups),
		NumPeriods:  countPeriods(t),
		DFResid:     df,
		cov:         cov,
	}
	model.Coefficients = buildCoefficients(req.Regressors, beta, cov, df)

	model.R2Within = rSquared(ydm, func(r int) float64 {
		s := 0.0
		for j := 0; j < k; j++ {
			s += xdm.At(r, j) * beta[j]
		}
		return s
	})
	model.R2Between = betweenR2(yMeans, xMeans, beta)
	model.R2Overall = overallR2(y, cols, beta)

	return model, nil
}

// fitRandom implements Swamy-Arora feasible GLS: a within regression for the
// idiosyncratic variance, a between regression for the entity variance, then
// OLS on quasi-demeaned data with an intercept.
func (e *Estimator) fitRandom(t *dataset.Table, req Request, y []float64, cols [][]float64, groups []entityGroup) (*FittedModel, error) {
	n := len(y)
	k := len(cols)
	nG := len(groups)

	if n-k-1 <= 0 || nG <= k+1 {
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			fmt.Sprintf("sample too small for random effects: %d obs, %d entities, %d regressors", n, nG, k), nil)
	}

	// within step for sigma_e^2
	ydm := make([]float64, n)
	xdm := mat.NewDense(n, k, nil)
	yMeans := make([]float64, nG)
	xMeans := make([][]float64, nG)
	for gi, g := range groups {
		ym := 0.0
		for _, r := range g.rows {
			ym += y[r]
		}
		ym /= float64(len(g.rows))
		yMeans[gi] = ym

		xm := make([]float64, k)
		for j, col := range cols {
			s := 0.0
			for _, r := range g.rows {
				s += col[r]
			}
			xm[j] = s / float64(len(g.rows))
		}
		xMeans[gi] = xm

		for _, r := range g.rows {
			ydm[r] = y[r] - ym
			for j, col := range cols {
				xdm.Set(r, j, col[r]-xm[j])
			}
		}
	}

	betaW, err := solveOLS(xdm, ydm)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrTypeEstimation, "within step failed", err)
	}
	ssrW := 0.0
	for r := 0; r < n; r++ {
		pred := 0.0
		for j := 0; j < k; j++ {
			pred += xdm.At(r, j) * betaW[j]
		}
		d := ydm[r] - pred
		ssrW += d * d
	}
	sigmaE2 := ssrW / float64(n-nG-k)

	// between step for sigma_u^2
	xb := mat.NewDense(nG, k+1, nil)
	yb := make([]float64, nG)
	for gi := range groups {
		xb.Set(gi, 0, 1)
		for j := 0; j < k; j++ {
			xb.Set(gi, j+1, xMeans[gi][j])
		}
		yb[gi] = yMeans[gi]
	}
	betaB, err := solveOLS(xb, yb)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrTypeEstimation, "between step failed", err)
	}
	ssrB := 0.0
	for gi := 0; gi < nG; gi++ {
		pred := 0.0
		for j := 0; j < k+1; j++ {
			pred += xb.At(gi, j) * betaB[j]
		}
		d := yb[gi] - pred
		ssrB += d * d
	}
	tBar := float64(n) / float64(nG)
	sigmaB2 := ssrB / float64(nG-k-1)
	sigmaU2 := math.Max(0, sigmaB2-sigmaE2/tBar)

	// quasi-demeaning with per-entity theta
	xStar := mat.NewDense(n, k+1, nil)
	yStar := make([]float64, n)
	for gi, g := range groups {
		ti := float64(len(g.rows))
		theta := 1 - math.Sqrt(sigmaE2/(ti*sigmaU2+sigmaE2))
		for _, r := range g.rows {
			yStar[r] = y[r] - theta*yMeans[gi]
			xStar.Set(r, 0, 1-theta)
			for j, col := range cols {
				xStar.Set(r, j+1, col[r]-theta*xMeans[gi][j])
			}
		}
	}

	beta, err := solveOLS(xStar, yStar)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrTypeEstimation, "GLS step failed", err)
	}

	df := n - k - 1
	resid := make([]float64, n)
	fitted := make([]float64, n)
	for r := 0; r < n; r++ {
		pred := beta[0]
		for j := 0; j < k; j++ {
			pred += cols[j][r] * beta[j+1]
		}
		fitted[r] = pred
		resid[r] = y[r] - pred
	}

	// robust covariance from the transformed regression residuals
	residStar := make([]float64, n)
	for r := 0; r < n; r++ {
		pred := 0.0
		for j := 0; j < k+1; j++ {
			pred += xStar.At(r, j) * beta[j]
		}
		residStar[r] = yStar[r] - pred
	}
	cov, err := robustCovariance(xStar, residStar, float64(n)/float64(df))
	if err != nil {
		return nil, errors.NewAppError(errors.ErrTypeEstimation, "robust covariance failed", err)
	}

	names := append([]string{"const"}, req.Regressors...)
	model := &FittedModel{
		Dependent:   req.Dependent,
		Effects:     EffectsRandom,
		Residuals:   resid,
		Fitted:      fitted,
		NumObs:      n,
		NumEntities: nG,
		NumPeriods:  countPeriods(t),
		DFResid:     df,
		cov:         cov,
	}
	model.Coefficients = buildCoefficients(names, beta, cov, df)

	slopes := beta[1:]
	model.R2Within = rSquared(ydm, func(r int) float64 {
		s := 0.0
		for j := 0; j < k; j++ {
			s += xdm.At(r, j) * slopes[j]
		}
		return s
	})
	model.R2Between = betweenR2(yMeans, xMeans, slopes)
	model.R2Overall = overallR2(y, cols, slopes)

	return model, nil
}

// solveOLS solves min ||y - Xb|| via QR
func solveOLS(x *mat.Dense, y []float64) ([]float64, error) {
	_, k := x.Dims()
	var qr mat.QR
	qr.Factorize(x)

	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, mat.NewVecDense(len(y), y)); err != nil {
		return nil, err
	}

	beta := make([]float64, k)
	for j := 0; j < k; j++ {
		beta[j] = sol.AtVec(j)
	}
	return beta, nil
}

// robustCovariance computes the White sandwich (X'X)^-1 (sum e_i^2 x_i x_i')
// (X'X)^-1 scaled by the small-sample factor
func robustCovariance(x *mat.Dense, resid []float64, scale float64) (*mat.SymDense, error) {
	n, k := x.Dims()

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var bread mat.Dense
	if err := bread.Inverse(&xtx); err != nil {
		return nil, err
	}

	meat := mat.NewDense(k, k, nil)
	for i := 0; i < n; i++ {
		w := resid[i] * resid[i]
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				meat.Set(a, b, meat.At(a, b)+w*x.At(i, a)*x.At(i, b))
			}
		}
	}

	var tmp, v mat.Dense
	tmp.Mul(&bread, meat)
	v.Mul(&tmp, &bread)

	cov := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			cov.SetSym(a, b, scale*0.5*(v.At(a, b)+v.At(b, a)))
		}
	}
	return cov, nil
}

func buildCoefficients(names []string, beta []float64, cov *mat.SymDense, df int) []Coefficient {
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	coefs := make([]Coefficient, len(names))
	for i, name := range names {
		se := math.Sqrt(cov.At(i, i))
		tstat := beta[i] / se
		coefs[i] = Coefficient{
			Name:     name,
			Estimate: beta[i],
			StdErr:   se,
			TStat:    tstat,
			PValue:   2 * (1 - tdist.CDF(math.Abs(tstat))),
		}
	}
	return coefs
}

func rSquared(y []float64, predict func(i int) float64) float64 {
	n := len(y)
	mean := stat.Mean(y, nil)
	sst, ssr := 0.0, 0.0
	for i := 0; i < n; i++ {
		d := y[i] - mean
		sst += d * d
		e := y[i] - predict(i)
		ssr += e * e
	}
	if sst == 0 {
		return 0
	}
	return 1 - ssr/sst
}

func betweenR2(yMeans []float64, xMeans [][]float64, beta []float64) float64 {
	pred := make([]float64, len(yMeans))
	for gi, xm := range xMeans {
		s := 0.0
		for j, b := range beta {
			s += xm[j] * b
		}
		pred[gi] = s
	}
	c := stat.Correlation(yMeans, pred, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c * c
}

func overallR2(y []float64, cols [][]float64, beta []float64) float64 {
	pred := make([]float64, len(y))
	for i := range y {
		s := 0.0
		for j, col := range cols {
			s += col[i] * beta[j]
		}
		pred[i] = s
	}
	c := stat.Correlation(y, pred, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c * c
}

func countPeriods(t *dataset.Table) int {
	seen := make(map[int64]bool)
	for _, ts := range t.Times() {
		seen[ts.Unix()] = true
	}
	return len(seen)
}
