// Phase 3.2: final model estimation. Fits the restricted fixed-effects model
// of each outcome panel, re-estimates the reallocation panel per fund type,
// runs its structural-break test and exports the coefficient tables.
package main

import (
	"log/slog"
	"os"

	"afpcli/internal/app"
	"afpcli/internal/dataset"
	"afpcli/internal/exporter"
	"afpcli/internal/panel"
	"afpcli/internal/pipeline"
)

func main() {
	a, err := app.Bootstrap("estimation")
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	in, err := a.LoadInputs()
	if err != nil {
		a.Fatal("loading inputs failed", err)
	}

	p := pipeline.New(a.Config.Thresholds, a.Logger)
	ex := exporter.New(a.Paths, a.Logger)

	panels := []struct {
		spec pipeline.PanelSpec
		base *dataset.Table
	}{
		{app.ContributionsSpec(a.Config), in.Contributions},
		{app.ReallocationSpec(a.Config), in.Reallocation},
		{app.PortfolioSpec(a.Config), in.Portfolio},
	}

	for _, pn := range panels {
		if err := estimatePanel(a, p, ex, pn.base, in, pn.spec); err != nil {
			a.Fatal("estimation failed for panel "+pn.spec.Name, err)
		}
	}

	a.Logger.Info("estimation complete", slog.String("output", a.Paths.BaseDir))
}

func estimatePanel(a *app.App, p *pipeline.Pipeline, ex *exporter.Exporter, base *dataset.Table, in *app.Inputs, spec pipeline.PanelSpec) error {
	assembled, entity, err := p.Assemble(base, in.Secondary(), spec)
	if err != nil {
		return err
	}
	prep, err := p.Build(assembled, entity, spec)
	if err != nil {
		return err
	}
	model, err := p.Estimate(prep, panel.EffectsFixed)
	if err != nil {
		return err
	}

	a.Logger.Info("model estimated",
		slog.String("panel", spec.Name),
		slog.Int("num_obs", model.NumObs),
		slog.Int("num_entities", model.NumEntities),
		slog.Float64("r2_within", model.R2Within))

	if err := ex.CoefficientTable(spec.Name, model); err != nil {
		return err
	}
	if err := ex.ModelSummary(spec.Name, model); err != nil {
		return err
	}

	// the reallocation panel additionally gets the per-fund-type split and
	// the structural-break comparison
	if spec.Name != "reallocation" {
		return nil
	}

	fits, err := p.EstimateByGroup(assembled, spec.EntityColumn, spec, a.Config.Columns.FundType)
	if err != nil {
		return err
	}
	core := append(append([]string{}, prep.CenteredPredictors...), prep.Interactions...)
	if err := ex.GroupTable(spec.Name, fits, core); err != nil {
		return err
	}

	if prep.ModeratorIncluded {
		breakResult, err := p.StructuralBreak(prep, model, spec)
		if err != nil {
			return err
		}
		if err := ex.StructuralBreakReport(spec.Name, breakResult); err != nil {
			return err
		}
	}
	return nil
}
