// Phase 3.1: pre-estimation verification. Screens every model variable,
// validates per-entity variance of the dependent variables and runs the
// fixed-vs-random Hausman comparison for each outcome panel.
package main

import (
	"log/slog"
	"os"

	"afpcli/internal/app"
	"afpcli/internal/dataset"
	"afpcli/internal/diagnostics"
	"afpcli/internal/exporter"
	"afpcli/internal/panel"
	"afpcli/internal/pipeline"
)

func main() {
	a, err := app.Bootstrap("verification")
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
		if err := verifyPanel(a, p, ex, pn.base, in, pn.spec); err != nil {
			a.Fatal("verification failed for panel "+pn.spec.Name, err)
		}
	}

	a.Logger.Info("verification complete", slog.String("output", a.Paths.BaseDir))
}

func verifyPanel(a *app.App, p *pipeline.Pipeline, ex *exporter.Exporter, base *dataset.Table, in *app.Inputs, spec pipeline.PanelSpec) error {
	assembled, entity, err := p.Assemble(base, in.Secondary(), spec)
	if err != nil {
		return err
	}

	columns := append([]string{spec.Dependent}, spec.Predictors...)
	columns = append(columns, spec.Moderator)
	columns = append(columns, spec.Controls...)
	screens, alerts := diagnostics.ScreenVariables(assembled, columns,
		a.Config.Thresholds.VarianceFloor, a.Config.Thresholds.MaxMissingPercent)
	if err := ex.ScreeningTable(spec.Name, screens, alerts); err != nil {
		return err
	}

	variances, degenerate, err := diagnostics.EntityVariances(assembled, entity, spec.Dependent,
		a.Config.Thresholds.VarianceFloor)
	if err != nil {
		return err
	}
	if len(degenerate) > 0 {
		a.Logger.Warn("degenerate entities found, they will block fixed effects",
			slog.String("panel", spec.Name),
			slog.Any("entities", degenerate))
	}
	if err := ex.EntityVarianceTable(spec.Name, variances); err != nil {
		return err
	}

	prep, err := p.Build(assembled, entity, spec)
	if err != nil {
		return err
	}
	fixed, err := p.Estimate(prep, panel.EffectsFixed)
	if err != nil {
		return err
	}
	random, err := p.Estimate(prep, panel.EffectsRandom)
	if err != nil {
		return err
	}

	hausman, err := diagnostics.HausmanComparison(fixed, random, a.Config.Thresholds.Alpha)
	if err != nil {
		return err
	}
	a.Logger.Info("hausman comparison",
		slog.String("panel", spec.Name),
		slog.Float64("stat", hausman.Stat),
		slog.Float64("p", hausman.PValue),
		slog.Bool("fixed_preferred", hausman.FixedPreferred))

	return ex.HausmanTable(spec.Name, hausman)
}
