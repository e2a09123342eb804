// Package pipeline wires the prepare, estimate and diagnose stages into one
// parameterized flow. Each outcome panel is described by a PanelSpec; the
// phase binaries differ only in the spec they pass in.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"afpcli/internal/config"
	"afpcli/internal/dataset"
	"afpcli/internal/diagnostics"
	"afpcli/internal/errors"
	"afpcli/internal/panel"
	"afpcli/internal/robustness"
	"afpcli/internal/transform"
)

// PanelSpec describes one outcome panel's specification
type PanelSpec struct {
	Name string

	// Dependent is the estimation target. When it is absent from the input
	// and RawDependent is set, the natural log of the raw column is derived
	// in its place (non-positive values become missing).
	Dependent    string
	RawDependent string

	// EntityColumn keys the panel dimension. When SecondEntityColumn is set
	// the two are concatenated into a composite key.
	EntityColumn       string
	SecondEntityColumn string

	// ExclusionColumn marks rows dropped before estimation; absent is a no-op
	ExclusionColumn string

	Predictors []string
	Moderator  string
	Controls   []string

	ReferenceMonth int
	MonthDummies   bool
}

// Prepared is the estimation-ready table with its derived column names
type Prepared struct {
	Table        *dataset.Table
	Dependent    string
	EntityColumn string

	CenteredPredictors []string
	Interactions       []string
	CenteredControls   []string
	MonthDummyNames    []string
	ModeratorIncluded  bool

	// Regressors is the full ordered design: centered predictors, moderator,
	// interactions, centered controls, month dummies
	Regressors  []string
	RowsDropped int
}

// Pipeline carries the estimator and thresholds shared by every stage
type Pipeline struct {
	estimator  *panel.Estimator
	thresholds config.ThresholdsConfig
	logger     *slog.Logger
}

// New builds a pipeline
func New(thresholds config.ThresholdsConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		estimator:  panel.NewEstimator(logger),
		thresholds: thresholds,
		logger:     logger,
	}
}

// Assemble produces the raw analysis table: dependent derivation, exclusion
// filtering, the time merge with the secondary tables and the entity key.
// The result is the table robustness variations re-enter the pipeline with.
func (p *Pipeline) Assemble(base *dataset.Table, secondary []*dataset.Table, spec PanelSpec) (*dataset.Table, string, error) {
	tbl := base

	if !tbl.HasColumn(spec.Dependent) && spec.RawDependent != "" {
		derived, err := deriveLog(tbl, spec.RawDependent, spec.Dependent)
		if err != nil {
			return nil, "", err
		}
		tbl = derived
		p.logger.Info("dependent variable derived",
			slog.String("panel", spec.Name),
			slog.String("from", spec.RawDependent),
			slog.String("to", spec.Dependent))
	}

	tbl, err := transform.FilterExclusions(tbl, spec.ExclusionColumn, p.logger)
	if err != nil {
		return nil, "", err
	}

	if len(secondary) > 0 {
		tbl, err = transform.MergeOnTime(tbl, secondary...)
		if err != nil {
			return nil, "", err
		}
	}

	entity := spec.EntityColumn
	if spec.SecondEntityColumn != "" {
		tbl, entity, err = transform.CompositeEntity(tbl, spec.EntityColumn, spec.SecondEntityColumn, "_F")
		if err != nil {
			return nil, "", err
		}
	}

	return tbl, entity, nil
}

// Build turns an assembled table into the estimation-ready design: centering,
// interaction terms, month dummies and the complete-case drop.
//
// A moderator that is constant over the sample (a pre-crisis subsample) is
// omitted together with its interactions instead of producing a rank-deficient
// design.
func (p *Pipeline) Build(assembled *dataset.Table, entity string, spec PanelSpec) (*Prepared, error) {
	toCenter := append(append([]string{}, spec.Predictors...), spec.Controls...)
	tbl, centered, err := transform.Center(assembled, toCenter)
	if err != nil {
		return nil, err
	}

	centeredPredictors := centered[:len(spec.Predictors)]
	centeredControls := centered[len(spec.Predictors):]

	moderated := spec.Moderator != "" && hasVariation(tbl, spec.Moderator)
	if spec.Moderator != "" && !moderated {
		p.logger.Warn("moderator constant over sample, dropping it and its interactions",
			slog.String("panel", spec.Name),
			slog.String("moderator", spec.Moderator))
	}

	var interactions []string
	if moderated {
		for _, c := range centeredPredictors {
			var name string
			tbl, name, err = transform.Interact(tbl, c, spec.Moderator)
			if err != nil {
				return nil, err
			}
			interactions = append(interactions, name)
		}
	}

	var dummies []string
	if spec.MonthDummies {
		tbl, dummies, err = transform.MonthDummies(tbl, spec.ReferenceMonth)
		if err != nil {
			return nil, err
		}
	}

	regressors := make([]string, 0, len(centered)+len(interactions)+len(dummies)+1)
	for _, c := range centeredPredictors {
		regressors = append(regressors, string(c))
	}
	if moderated {
		regressors = append(regressors, spec.Moderator)
	}
	regressors = append(regressors, interactions...)
	for _, c := range centeredControls {
		regressors = append(regressors, string(c))
	}
	regressors = append(regressors, dummies...)

	required := append([]string{spec.Dependent}, regressors...)
	tbl, dropped, err := transform.DropIncomplete(tbl, required, p.logger)
	if err != nil {
		return nil, err
	}

	prep := &Prepared{
		Table:             tbl,
		Dependent:         spec.Dependent,
		EntityColumn:      entity,
		Interactions:      interactions,
		MonthDummyNames:   dummies,
		ModeratorIncluded: moderated,
		Regressors:        regressors,
		RowsDropped:       dropped,
	}
	for _, c := range centeredPredictors {
		prep.CenteredPredictors = append(prep.CenteredPredictors, string(c))
	}
	for _, c := range centeredControls {
		prep.CenteredControls = append(prep.CenteredControls, string(c))
	}
	return prep, nil
}

// Prepare runs Assemble and Build in sequence
func (p *Pipeline) Prepare(base *dataset.Table, secondary []*dataset.Table, spec PanelSpec) (*Prepared, error) {
	assembled, entity, err := p.Assemble(base, secondary, spec)
	if err != nil {
		return nil, err
	}
	return p.Build(assembled, entity, spec)
}

// Estimate fits the prepared design with the requested effects
func (p *Pipeline) Estimate(prep *Prepared, effects panel.Effects) (*panel.FittedModel, error) {
	return p.estimator.Fit(prep.Table, panel.Request{
		Dependent:    prep.Dependent,
		Regressors:   prep.Regressors,
		EntityColumn: prep.EntityColumn,
		Effects:      effects,
	})
}

// Report bundles the post-estimation diagnostics of one model
type Report struct {
	Panel              string                                `json:"panel"`
	Normality          diagnostics.NormalityResult           `json:"normality"`
	Autocorrelation    diagnostics.AutocorrelationResult     `json:"autocorrelation"`
	Heteroskedasticity diagnostics.HeteroskedasticityResult  `json:"heteroskedasticity"`
	VIF                []diagnostics.VIFResult               `json:"vif"`
	JointSignificance  *diagnostics.WaldResult               `json:"joint_significance,omitempty"`
}

// Diagnose runs the residual probes, the VIF screen and the joint test of the
// predictors and interactions. Violations are recorded in the report, never
// returned as errors; only structural failures (a singular Wald block) error.
func (p *Pipeline) Diagnose(prep *Prepared, model *panel.FittedModel, spec PanelSpec) (*Report, error) {
	report := &Report{
		Panel:              spec.Name,
		Normality:          diagnostics.NormalityTest(model.Residuals),
		Autocorrelation:    diagnostics.AutocorrelationProbe(model.Residuals, p.thresholds.AutocorrelationRho),
		Heteroskedasticity: diagnostics.HeteroskedasticityProbe(model.Residuals, model.Fitted, p.thresholds.AutocorrelationRho),
	}

	vif, err := diagnostics.VarianceInflation(prep.Table, prep.Regressors, diagnostics.VIFThresholds{
		Moderate:    p.thresholds.VIFModerate,
		Problematic: p.thresholds.VIFProblematic,
	})
	if err != nil {
		return nil, err
	}
	report.VIF = vif

	core := append(append([]string{}, prep.CenteredPredictors...), prep.Interactions...)
	if len(core) > 0 {
		wald, err := diagnostics.JointWaldTest(model, core)
		if err != nil {
			return nil, err
		}
		report.JointSignificance = wald
	}

	if report.Normality.Rejected {
		p.logger.Warn("residual normality rejected, robust inference already in effect",
			slog.String("panel", spec.Name),
			slog.Float64("jb", report.Normality.JBStat))
	}
	if report.Autocorrelation.Detected {
		p.logger.Warn("residual autocorrelation detected",
			slog.String("panel", spec.Name),
			slog.Float64("rho", report.Autocorrelation.Lag1Correlation))
	}
	if report.Heteroskedasticity.Detected {
		p.logger.Warn("heteroskedasticity pattern detected",
			slog.String("panel", spec.Name),
			slog.Float64("corr", report.Heteroskedasticity.Correlation))
	}

	return report, nil
}

// BreakResult compares the restricted model against one whose controls also
// interact with the moderator
type BreakResult struct {
	Restricted   *panel.FittedModel      `json:"-"`
	Unrestricted *panel.FittedModel      `json:"-"`
	Wald         *diagnostics.WaldResult `json:"wald"`
	BreakFound   bool                    `json:"break_found"`
}

// StructuralBreak tests whether the control coefficients shift with the
// moderator: the unrestricted model adds control-by-moderator interactions
// and a joint Wald test decides whether the restricted form is adequate.
func (p *Pipeline) StructuralBreak(prep *Prepared, restricted *panel.FittedModel, spec PanelSpec) (*BreakResult, error) {
	if !prep.ModeratorIncluded {
		return nil, errors.NewAppError(errors.ErrTypeEstimation,
			"structural break test needs the moderator in the sample", nil)
	}

	tbl := prep.Table
	var block []string
	for _, c := range prep.CenteredControls {
		var name string
		var err error
		tbl, name, err = transform.Interact(tbl, transform.CenteredColumn(c), spec.Moderator)
		if err != nil {
			return nil, err
		}
		block = append(block, name)
	}

	regressors := append(append([]string{}, prep.Regressors...), block...)
	unrestricted, err := p.estimator.Fit(tbl, panel.Request{
		Dependent:    prep.Dependent,
		Regressors:   regressors,
		EntityColumn: prep.EntityColumn,
		Effects:      panel.EffectsFixed,
	})
	if err != nil {
		return nil, err
	}

	wald, err := diagnostics.JointWaldTest(unrestricted, block)
	if err != nil {
		return nil, err
	}

	p.logger.Info("structural break test",
		slog.String("panel", spec.Name),
		slog.Float64("f", wald.FStat),
		slog.Float64("p", wald.PValue),
		slog.Bool("break_found", wald.RejectsNull))

	return &BreakResult{
		Restricted:   restricted,
		Unrestricted: unrestricted,
		Wald:         wald,
		BreakFound:   wald.RejectsNull,
	}, nil
}

// GroupFit is the per-group re-estimation of the shared specification
type GroupFit struct {
	Group  string             `json:"group"`
	NumObs int                `json:"num_obs"`
	Model  *panel.FittedModel `json:"-"`
	Err    error              `json:"-"`
}

// EstimateByGroup splits the assembled table by the group column and fits the
// specification separately per group. A failing group is recorded and the
// remaining groups still run.
func (p *Pipeline) EstimateByGroup(assembled *dataset.Table, entity string, spec PanelSpec, groupColumn string) ([]GroupFit, error) {
	groups, err := groupValues(assembled, groupColumn)
	if err != nil {
		return nil, err
	}

	fits := make([]GroupFit, 0, len(groups))
	for _, g := range groups {
		keep, count := groupMask(assembled, groupColumn, g)
		fit := GroupFit{Group: g, NumObs: count}

		prep, err := p.Build(assembled.Select(keep), entity, spec)
		if err != nil {
			fit.Err = err
		} else if model, err := p.Estimate(prep, panel.EffectsFixed); err != nil {
			fit.Err = err
		} else {
			fit.Model = model
			fit.NumObs = model.NumObs
		}

		if fit.Err != nil {
			p.logger.Warn("group estimation failed",
				slog.String("panel", spec.Name),
				slog.String("group", g),
				slog.Any("error", fit.Err))
		}
		fits = append(fits, fit)
	}
	return fits, nil
}

// VariationFit adapts the pipeline into the robustness runner's fit callback.
// The runner hands it the already-restricted assembled table; the variation's
// predictor subset, when set, replaces the baseline predictors.
func (p *Pipeline) VariationFit(entity string, spec PanelSpec) robustness.FitFunc {
	return func(ctx context.Context, assembled *dataset.Table, v robustness.Variation) (*panel.FittedModel, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := spec
		if len(v.Predictors) > 0 {
			s.Predictors = v.Predictors
		}
		prep, err := p.Build(assembled, entity, s)
		if err != nil {
			return nil, err
		}
		return p.Estimate(prep, panel.EffectsFixed)
	}
}

// deriveLog adds ln(raw) under the dependent's name; non-positive raw values
// become missing
func deriveLog(t *dataset.Table, raw, name string) (*dataset.Table, error) {
	src, err := t.Numeric(raw)
	if err != nil {
		return nil, errors.NewSchemaError(t.Name(), raw)
	}

	vals := make([]float64, len(src))
	for i, v := range src {
		if dataset.IsMissing(v) || v <= 0 {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = math.Log(v)
	}

	out := t.Clone()
	if err := out.AddNumeric(name, vals); err != nil {
		return nil, err
	}
	return out, nil
}

func hasVariation(t *dataset.Table, column string) bool {
	col, err := t.Numeric(column)
	if err != nil {
		return false
	}
	first := math.NaN()
	for _, v := range col {
		if dataset.IsMissing(v) {
			continue
		}
		if math.IsNaN(first) {
			first = v
			continue
		}
		if v != first {
			return true
		}
	}
	return false
}

func groupValues(t *dataset.Table, column string) ([]string, error) {
	if vals, err := t.String(column); err == nil {
		return distinct(vals), nil
	}
	nums, err := t.Numeric(column)
	if err != nil {
		return nil, err
	}
	vals := make([]string, len(nums))
	for i, v := range nums {
		vals[i] = fmt.Sprintf("%g", v)
	}
	return distinct(vals), nil
}

func groupMask(t *dataset.Table, column, group string) ([]bool, int) {
	keep := make([]bool, t.NumRows())
	count := 0
	if vals, err := t.String(column); err == nil {
		for i, v := range vals {
			keep[i] = v == group
			if keep[i] {
				count++
			}
		}
		return keep, count
	}
	nums, _ := t.Numeric(column)
	for i, v := range nums {
		keep[i] = fmt.Sprintf("%g", v) == group
		if keep[i] {
			count++
		}
	}
	return keep, count
}

func distinct(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
