// Phase 3.4: robustness sweep. Re-estimates each panel's specification under
// the standard variation catalogue (pre-crisis sample, single predictors,
// shifted moderator onsets, acute-window exclusion) and reports coefficient
// stability across variations.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"afpcli/internal/app"
	"afpcli/internal/dataset"
	"afpcli/internal/exporter"
	"afpcli/internal/pipeline"
	"afpcli/internal/robustness"
)

// crisisOnset is the baseline moderator switch date
var crisisOnset = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

func main() {
	a, err := app.Bootstrap("robustness")
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
	ctx := context.Background()

	panels := []struct {
		spec pipeline.PanelSpec
		base *dataset.Table
	}{
		{app.ContributionsSpec(a.Config), in.Contributions},
		{app.ReallocationSpec(a.Config), in.Reallocation},
		{app.PortfolioSpec(a.Config), in.Portfolio},
	}

	for _, pn := range panels {
		assembled, entity, err := p.Assemble(pn.base, in.Secondary(), pn.spec)
		if err != nil {
			a.Fatal("assembly failed for panel "+pn.spec.Name, err)
		}

		catalogue := robustness.StandardCatalogue(robustness.CatalogueOptions{
			Predictors:  pn.spec.Predictors,
			CrisisOnset: crisisOnset,
		})

		runner := robustness.NewRunner(pn.spec.Moderator, 0, a.Logger)
		results := runner.Run(ctx, assembled, catalogue, p.VariationFit(entity, pn.spec))

		// track the centered predictors and their interactions
		tracked := make([]string, 0, 2*len(pn.spec.Predictors))
		for _, pred := range pn.spec.Predictors {
			tracked = append(tracked, pred+"_c")
			tracked = append(tracked, "Int_"+pred+"_c_"+pn.spec.Moderator)
		}
		summaries := robustness.Summarize(results, tracked)

		if err := ex.RobustnessTable(pn.spec.Name, summaries); err != nil {
			a.Fatal("export failed for panel "+pn.spec.Name, err)
		}
	}

	a.Logger.Info("robustness sweep complete", slog.String("output", a.Paths.BaseDir))
}
