// Package robustness re-estimates the baseline specification under a
// catalogue of sample and specification variations. Failures in one
// variation never abort the batch: each result carries its own error and
// the comparison table reports what succeeded.
package robustness

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"afpcli/internal/dataset"
	"afpcli/internal/errors"
	"afpcli/internal/panel"
	"afpcli/internal/transform"
)

// Variation describes one robustness check as a delta against the baseline.
// Zero-valued fields leave the corresponding baseline choice untouched.
type Variation struct {
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	SampleBefore    time.Time `json:"sample_before,omitempty"`
	ExcludeFrom     time.Time `json:"exclude_from,omitempty"`
	ExcludeTo       time.Time `json:"exclude_to,omitempty"`
	ModeratorOnset  time.Time `json:"moderator_onset,omitempty"`
	Predictors      []string  `json:"predictors,omitempty"` // nil keeps the baseline set
	MinObservations int       `json:"min_observations,omitempty"`
}

// Result is the outcome of one variation. Exactly one of Model and Err is
// meaningful; Skipped marks variations whose restricted sample fell below
// the observation floor before estimation was attempted.
type Result struct {
	Variation  Variation          `json:"variation"`
	Model      *panel.FittedModel `json:"-"`
	NumObs     int                `json:"num_obs"`
	Skipped    bool               `json:"skipped"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Err        error              `json:"-"`
}

// FitFunc prepares and estimates the baseline specification on the given
// raw table, honoring the variation's predictor subset. The runner handles
// sample restrictions and moderator recoding before calling it.
type FitFunc func(ctx context.Context, raw *dataset.Table, v Variation) (*panel.FittedModel, error)

// Runner executes a variation catalogue with bounded parallelism
type Runner struct {
	moderator   string
	concurrency int
	logger      *slog.Logger
}

// NewRunner builds a runner. Zero concurrency defaults to GOMAXPROCS.
func NewRunner(moderator string, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{moderator: moderator, concurrency: concurrency, logger: logger}
}

// Run estimates every variation against the raw (pre-preparation) table.
// Each worker operates on its own deep copy. The returned slice is ordered
// like the catalogue regardless of completion order.
func (r *Runner) Run(ctx context.Context, raw *dataset.Table, variations []Variation, fit FitFunc) []Result {
	results := make([]Result, len(variations))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, v := range variations {
		i, v := i, v
		g.Go(func() error {
			results[i] = r.runOne(ctx, raw.Clone(), v, fit)
			return nil
		})
	}
	g.Wait()

	ok := 0
	for _, res := range results {
		if res.Err == nil && !res.Skipped {
			ok++
		}
	}
	r.logger.Info("robustness batch complete",
		slog.Int("variations", len(variations)),
		slog.Int("succeeded", ok))

	return results
}

func (r *Runner) runOne(ctx context.Context, tbl *dataset.Table, v Variation, fit FitFunc) Result {
	res := Result{Variation: v}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if !v.SampleBefore.IsZero() {
		tbl = transform.SampleBefore(tbl, v.SampleBefore)
	}
	if !v.ExcludeFrom.IsZero() && !v.ExcludeTo.IsZero() {
		tbl = transform.ExcludeWindow(tbl, v.ExcludeFrom, v.ExcludeTo)
	}
	if !v.ModeratorOnset.IsZero() {
		var err error
		tbl, err = transform.RecomputeModerator(tbl, r.moderator, v.ModeratorOnset)
		if err != nil {
			res.Err = err
			r.logger.Warn("variation failed during moderator recoding",
				slog.String("variation", v.Name), slog.Any("error", err))
			return res
		}
	}

	res.NumObs = tbl.NumRows()
	if v.MinObservations > 0 && tbl.NumRows() < v.MinObservations {
		res.Skipped = true
		res.SkipReason = "restricted sample below observation floor"
		r.logger.Warn("variation skipped",
			slog.String("variation", v.Name),
			slog.Int("num_obs", tbl.NumRows()),
			slog.Int("floor", v.MinObservations))
		return res
	}

	model, err := fit(ctx, tbl, v)
	if err != nil {
		res.Err = errors.NewAppError(errors.ErrTypeEstimation, "variation "+v.Name+" failed", err)
		r.logger.Warn("variation failed during estimation",
			slog.String("variation", v.Name), slog.Any("error", err))
		return res
	}

	res.Model = model
	res.NumObs = model.NumObs
	r.logger.Info("variation estimated",
		slog.String("variation", v.Name),
		slog.Int("num_obs", model.NumObs))
	return res
}

// CoefficientRow tracks one coefficient across the variation catalogue
type CoefficientRow struct {
	Variation string  `json:"variation"`
	Estimate  float64 `json:"estimate"`
	StdErr    float64 `json:"std_err"`
	PValue    float64 `json:"p_value"`
	Stars     string  `json:"stars"`
	NumObs    int     `json:"num_obs"`
	Status    string  `json:"status"` // "ok", "skipped", "failed"
}

// Summary is the cross-variation stability reading for one coefficient
type Summary struct {
	Coefficient string           `json:"coefficient"`
	Rows        []CoefficientRow `json:"rows"`
	SignStable  bool             `json:"sign_stable"` // same sign in every successful fit
	AlwaysAt10  bool             `json:"always_at_10"`
}

// Summarize builds the comparison table for the tracked coefficients.
// Variations where a coefficient is absent (for example a predictor dropped
// by the variation itself) do not count against its stability.
func Summarize(results []Result, coefficients []string) []Summary {
	summaries := make([]Summary, 0, len(coefficients))

	for _, name := range coefficients {
		s := Summary{Coefficient: name, SignStable: true, AlwaysAt10: true}
		sign := 0.0

		for _, res := range results {
			row := CoefficientRow{Variation: res.Variation.Name, NumObs: res.NumObs, Status: "ok"}
			switch {
			case res.Skipped:
				row.Status = "skipped"
			case res.Err != nil:
				row.Status = "failed"
			default:
				coef, ok := res.Model.Coefficient(name)
				if !ok {
					continue
				}
				row.Estimate = coef.Estimate
				row.StdErr = coef.StdErr
				row.PValue = coef.PValue
				row.Stars = coef.Stars()

				if coef.PValue >= 0.10 {
					s.AlwaysAt10 = false
				}
				cur := math.Copysign(1, coef.Estimate)
				if sign == 0 {
					sign = cur
				} else if cur != sign {
					s.SignStable = false
				}
			}
			s.Rows = append(s.Rows, row)
		}

		if sign == 0 {
			// never observed: nothing to claim stability about
			s.SignStable = false
			s.AlwaysAt10 = false
		}
		summaries = append(summaries, s)
	}

	return summaries
}
