package exporter

import (
	"fmt"
	"strings"

	"afpcli/internal/diagnostics"
	"afpcli/internal/panel"
	"afpcli/internal/pipeline"
	"afpcli/internal/robustness"
)

// CoefficientTable writes the coefficient table of one model as CSV and as
// an Excel workbook under tables/
func (e *Exporter) CoefficientTable(name string, model *panel.FittedModel) error {
	headers := []string{"variable", "estimate", "robust_se", "t_stat", "p_value", "stars"}
	records := make([][]string, 0, len(model.Coefficients))
	for _, c := range model.Coefficients {
		records = append(records, []string{
			c.Name,
			formatEstimate(c.Estimate),
			formatEstimate(c.StdErr),
			formatEstimate(c.TStat),
			formatP(c.PValue),
			c.Stars(),
		})
	}

	csvPath := e.paths.TablesFile(name + "_coefficients.csv")
	if err := e.writeCSV(csvPath, headers, records); err != nil {
		return err
	}
	return e.writeWorkbook(e.paths.TablesFile(name+"_coefficients.xlsx"), "Coefficients", headers, records)
}

// ModelSummary writes the plain-text summary of one fitted model
func (e *Exporter) ModelSummary(name string, model *panel.FittedModel) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s\n", name)
	fmt.Fprintf(&b, "Dependent: %s\n", model.Dependent)
	fmt.Fprintf(&b, "Effects: %s\n", model.Effects)
	fmt.Fprintf(&b, "Observations: %d  Entities: %d  Periods: %d  Residual df: %d\n",
		model.NumObs, model.NumEntities, model.NumPeriods, model.DFResid)
	fmt.Fprintf(&b, "R2 within: %.4f  between: %.4f  overall: %.4f\n\n",
		model.R2Within, model.R2Between, model.R2Overall)

	fmt.Fprintf(&b, "%-32s %12s %12s %9s %9s %s\n",
		"variable", "estimate", "robust_se", "t", "p", "")
	for _, c := range model.Coefficients {
		fmt.Fprintf(&b, "%-32s %12.6f %12.6f %9.3f %9.4f %s\n",
			c.Name, c.Estimate, c.StdErr, c.TStat, c.PValue, c.Stars())
	}
	b.WriteString("\nSignificance: *** p<0.01, ** p<0.05, * p<0.10\n")
	b.WriteString("Standard errors are heteroskedasticity-robust (White).\n")

	return e.writeText(e.paths.TablesFile(name+"_summary.txt"), b.String())
}

// ScreeningTable writes the variable health screen under diagnostics/
func (e *Exporter) ScreeningTable(name string, screens []diagnostics.VariableScreen, alerts []string) error {
	headers := []string{"variable", "n", "missing", "missing_pct", "variance", "p5", "p95", "status"}
	records := make([][]string, 0, len(screens))
	for _, s := range screens {
		records = append(records, []string{
			s.Variable,
			formatInt(s.N),
			formatInt(s.Missing),
			fmt.Sprintf("%.2f", s.MissingPercent),
			formatEstimate(s.Variance),
			formatEstimate(s.P5),
			formatEstimate(s.P95),
			string(s.Status),
		})
	}
	if err := e.writeCSV(e.paths.DiagnosticsFile(name+"_screening.csv"), headers, records); err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}
	return e.writeText(e.paths.DiagnosticsFile(name+"_screening_alerts.txt"),
		strings.Join(alerts, "\n")+"\n")
}

// EntityVarianceTable writes the per-entity dependent-variable variances
func (e *Exporter) EntityVarianceTable(name string, variances []diagnostics.EntityVariance) error {
	headers := []string{"entity", "n", "variance", "degenerate"}
	records := make([][]string, 0, len(variances))
	for _, v := range variances {
		records = append(records, []string{
			v.Entity, formatInt(v.N), formatEstimate(v.Variance), formatBool(v.Degenerate),
		})
	}
	return e.writeCSV(e.paths.DiagnosticsFile(name+"_entity_variance.csv"), headers, records)
}

// HausmanTable writes the fixed-vs-random comparison
func (e *Exporter) HausmanTable(name string, result *diagnostics.HausmanResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Hausman comparison: %s\n", name)
	fmt.Fprintf(&b, "Statistic: %s  df: %d  p: %s\n",
		formatEstimate(result.Stat), result.DF, formatP(result.PValue))
	fmt.Fprintf(&b, "R2 within  fixed: %.4f  random: %.4f\n", result.R2WithinFixed, result.R2WithinRandom)
	if result.FixedPreferred {
		b.WriteString("Verdict: fixed effects preferred\n")
	} else {
		b.WriteString("Verdict: random effects not rejected\n")
	}
	b.WriteString("\nCoefficient drift\n")
	for _, d := range result.Drift {
		fmt.Fprintf(&b, "%-32s fixed %12.6f  random %12.6f  diff %12.6f\n",
			d.Name, d.Fixed, d.Random, d.Difference)
	}
	return e.writeText(e.paths.DiagnosticsFile(name+"_hausman.txt"), b.String())
}

// DiagnosticsReport writes the residual probes and the VIF screen of one model
func (e *Exporter) DiagnosticsReport(name string, report *pipeline.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnostics: %s\n\n", report.Panel)

	n := report.Normality
	fmt.Fprintf(&b, "Jarque-Bera: %s (p=%s)  skew %.3f  ex.kurtosis %.3f  rejected=%s\n",
		formatEstimate(n.JBStat), formatP(n.PValue), n.Skewness, n.Kurtosis, formatBool(n.Rejected))

	a := report.Autocorrelation
	fmt.Fprintf(&b, "Lag-1 autocorrelation: %.3f  Durbin-Watson: %.3f  detected=%s\n",
		a.Lag1Correlation, a.DurbinWatson, formatBool(a.Detected))

	h := report.Heteroskedasticity
	fmt.Fprintf(&b, "corr(e^2, fitted): %.3f  detected=%s\n", h.Correlation, formatBool(h.Detected))

	if w := report.JointSignificance; w != nil {
		fmt.Fprintf(&b, "Joint Wald (%s): F=%s  df=(%d,%d)  p=%s\n",
			strings.Join(w.Restrictions, ", "),
			formatEstimate(w.FStat), w.DFNum, w.DFDenom, formatP(w.PValue))
	}

	if err := e.writeText(e.paths.DiagnosticsFile(name+"_residuals.txt"), b.String()); err != nil {
		return err
	}

	headers := []string{"variable", "vif", "status"}
	records := make([][]string, 0, len(report.VIF))
	for _, v := range report.VIF {
		records = append(records, []string{v.Variable, formatEstimate(v.VIF), string(v.Status)})
	}
	return e.writeCSV(e.paths.DiagnosticsFile(name+"_vif.csv"), headers, records)
}

// HypothesesTable writes the directional hypothesis evaluations
func (e *Exporter) HypothesesTable(name string, results []diagnostics.HypothesisResult) error {
	headers := []string{"hypothesis", "coefficient", "direction", "estimate", "robust_se", "t_stat", "one_sided_p", "alpha", "confirmed", "stars"}
	records := make([][]string, 0, len(results))
	for _, r := range results {
		if r.Missing {
			records = append(records, []string{
				r.Hypothesis.Name, r.Hypothesis.Coefficient, string(r.Hypothesis.Direction),
				"NA", "NA", "NA", "NA", formatP(r.Hypothesis.Alpha), "false", "",
			})
			continue
		}
		records = append(records, []string{
			r.Hypothesis.Name,
			r.Hypothesis.Coefficient,
			string(r.Hypothesis.Direction),
			formatEstimate(r.Estimate),
			formatEstimate(r.StdErr),
			formatEstimate(r.TStat),
			formatP(r.PValue),
			formatP(r.Hypothesis.Alpha),
			formatBool(r.Confirmed),
			r.Stars,
		})
	}
	csvPath := e.paths.TablesFile(name + "_hypotheses.csv")
	if err := e.writeCSV(csvPath, headers, records); err != nil {
		return err
	}
	return e.writeWorkbook(e.paths.TablesFile(name+"_hypotheses.xlsx"), "Hypotheses", headers, records)
}

// RobustnessTable writes the cross-variation comparison under robustness/
func (e *Exporter) RobustnessTable(name string, summaries []robustness.Summary) error {
	headers := []string{"coefficient", "variation", "estimate", "robust_se", "p_value", "stars", "num_obs", "status"}
	var records [][]string
	for _, s := range summaries {
		for _, row := range s.Rows {
			rec := []string{s.Coefficient, row.Variation}
			if row.Status == "ok" {
				rec = append(rec,
					formatEstimate(row.Estimate),
					formatEstimate(row.StdErr),
					formatP(row.PValue),
					row.Stars)
			} else {
				rec = append(rec, "NA", "NA", "NA", "")
			}
			rec = append(rec, formatInt(row.NumObs), row.Status)
			records = append(records, rec)
		}
	}
	if err := e.writeCSV(e.paths.RobustnessFile(name+"_variations.csv"), headers, records); err != nil {
		return err
	}

	stabilityHeaders := []string{"coefficient", "sign_stable", "always_significant_10pct"}
	stability := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		stability = append(stability, []string{s.Coefficient, formatBool(s.SignStable), formatBool(s.AlwaysAt10)})
	}
	return e.writeCSV(e.paths.RobustnessFile(name+"_stability.csv"), stabilityHeaders, stability)
}

// GroupTable writes the per-group re-estimation of one coefficient set
func (e *Exporter) GroupTable(name string, fits []pipeline.GroupFit, coefficients []string) error {
	headers := []string{"group", "num_obs", "coefficient", "estimate", "robust_se", "p_value", "stars", "status"}
	var records [][]string
	for _, fit := range fits {
		if fit.Err != nil {
			records = append(records, []string{fit.Group, formatInt(fit.NumObs), "", "NA", "NA", "NA", "", "failed"})
			continue
		}
		for _, cn := range coefficients {
			c, ok := fit.Model.Coefficient(cn)
			if !ok {
				continue
			}
			records = append(records, []string{
				fit.Group,
				formatInt(fit.Model.NumObs),
				c.Name,
				formatEstimate(c.Estimate),
				formatEstimate(c.StdErr),
				formatP(c.PValue),
				c.Stars(),
				"ok",
			})
		}
	}
	return e.writeCSV(e.paths.TablesFile(name+"_by_group.csv"), headers, records)
}

// StructuralBreakReport writes the restricted-vs-unrestricted verdict
func (e *Exporter) StructuralBreakReport(name string, result *pipeline.BreakResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Structural break test: %s\n", name)
	w := result.Wald
	fmt.Fprintf(&b, "Joint test of the control-by-moderator block: F=%s  df=(%d,%d)  p=%s\n",
		formatEstimate(w.FStat), w.DFNum, w.DFDenom, formatP(w.PValue))
	if result.BreakFound {
		b.WriteString("Verdict: break found, the unrestricted model is required\n")
	} else {
		b.WriteString("Verdict: no break, the restricted model is adequate\n")
	}
	fmt.Fprintf(&b, "R2 within  restricted: %.4f  unrestricted: %.4f\n",
		result.Restricted.R2Within, result.Unrestricted.R2Within)
	return e.writeText(e.paths.DiagnosticsFile(name+"_structural_break.txt"), b.String())
}
