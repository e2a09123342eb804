// Phase 3.3: post-estimation diagnostics. Re-fits each panel's restricted
// model, probes the residuals (normality, autocorrelation,
// heteroskedasticity), screens the regressors for collinearity and tests the
// joint significance of the predictor block.
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
	a, err := app.Bootstrap("diagnostics")
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
		prep, err := p.Prepare(pn.base, in.Secondary(), pn.spec)
		if err != nil {
			a.Fatal("preparation failed for panel "+pn.spec.Name, err)
		}
		model, err := p.Estimate(prep, panel.EffectsFixed)
		if err != nil {
			a.Fatal("estimation failed for panel "+pn.spec.Name, err)
		}
		report, err := p.Diagnose(prep, model, pn.spec)
		if err != nil {
			a.Fatal("diagnostics failed for panel "+pn.spec.Name, err)
		}
		if err := ex.DiagnosticsReport(pn.spec.Name, report); err != nil {
			a.Fatal("export failed for panel "+pn.spec.Name, err)
		}
	}

	a.Logger.Info("diagnostics complete", slog.String("output", a.Paths.BaseDir))
}
