package diagnostics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"afpcli/internal/dataset"
)

// ScreenStatus classifies a variable in the pre-estimation screen
type ScreenStatus string

const (
	ScreenOK              ScreenStatus = "OK"
	ScreenHighMissingness ScreenStatus = "HIGH_MISSINGNESS"
	ScreenNullVariance    ScreenStatus = "NULL_VARIANCE"
	ScreenAbsent          ScreenStatus = "ABSENT"
)

// VariableScreen is the pre-estimation health check of one variable
type VariableScreen struct {
	Variable       string       `json:"variable"`
	N              int          `json:"n"`
	Missing        int          `json:"missing"`
	MissingPercent float64      `json:"missing_percent"`
	Variance       float64      `json:"variance"`
	P5             float64      `json:"p5"`
	P95            float64      `json:"p95"`
	Status         ScreenStatus `json:"status"`
}

// ScreenVariables verifies that each column carries enough variance and few
// enough missing values to enter estimation. Null variance dominates high
// missingness when both apply.
func ScreenVariables(t *dataset.Table, columns []string, varianceFloor, maxMissingPercent float64) ([]VariableScreen, []string) {
	results := make([]VariableScreen, 0, len(columns))
	var alerts []string

	for _, name := range columns {
		col, err := t.Numeric(name)
		if err != nil {
			results = append(results, VariableScreen{Variable: name, Status: ScreenAbsent})
			alerts = append(alerts, fmt.Sprintf("%s: column absent", name))
			continue
		}

		total := len(col)
		observed := make([]float64, 0, total)
		for _, v := range col {
			if !dataset.IsMissing(v) {
				observed = append(observed, v)
			}
		}
		missing := total - len(observed)
		missingPct := 0.0
		if total > 0 {
			missingPct = float64(missing) / float64(total) * 100
		}

		variance := 0.0
		p5, p95 := 0.0, 0.0
		if len(observed) > 1 {
			variance = stat.Variance(observed, nil)
			sorted := append([]float64{}, observed...)
			sort.Float64s(sorted)
			p5 = stat.Quantile(0.05, stat.Empirical, sorted, nil)
			p95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
		}

		status := ScreenOK
		if missingPct > maxMissingPercent {
			status = ScreenHighMissingness
			alerts = append(alerts, fmt.Sprintf("%s: %.1f%% missing", name, missingPct))
		}
		if variance < varianceFloor {
			status = ScreenNullVariance
			alerts = append(alerts, fmt.Sprintf("%s: variance near zero", name))
		}

		results = append(results, VariableScreen{
			Variable:       name,
			N:              len(observed),
			Missing:        missing,
			MissingPercent: missingPct,
			Variance:       variance,
			P5:             p5,
			P95:            p95,
			Status:         status,
		})
	}

	return results, alerts
}

// EntityVariance is the within variance of the dependent variable for one entity
type EntityVariance struct {
	Entity     string  `json:"entity"`
	N          int     `json:"n"`
	Variance   float64 `json:"variance"`
	Degenerate bool    `json:"degenerate"`
}

// EntityVariances computes the per-entity variance of the dependent variable
// and lists the entities below the floor. Degenerate entities cause perfect
// collinearity under fixed effects and must be excluded before estimation.
func EntityVariances(t *dataset.Table, entityColumn, dependent string, varianceFloor float64) ([]EntityVariance, []string, error) {
	entities, err := t.String(entityColumn)
	if err != nil {
		return nil, nil, err
	}
	y, err := t.Numeric(dependent)
	if err != nil {
		return nil, nil, err
	}

	byEntity := make(map[string][]float64)
	var order []string
	for i, name := range entities {
		if _, seen := byEntity[name]; !seen {
			order = append(order, name)
		}
		if !dataset.IsMissing(y[i]) {
			byEntity[name] = append(byEntity[name], y[i])
		}
	}

	results := make([]EntityVariance, 0, len(order))
	var degenerate []string
	for _, name := range order {
		vals := byEntity[name]
		variance := 0.0
		if len(vals) > 1 {
			variance = stat.Variance(vals, nil)
		}
		isDegenerate := len(vals) < 2 || variance < varianceFloor
		if isDegenerate {
			degenerate = append(degenerate, name)
		}
		results = append(results, EntityVariance{
			Entity:     name,
			N:          len(vals),
			Variance:   variance,
			Degenerate: isDegenerate,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Variance < results[j].Variance })
	sort.Strings(degenerate)
	return results, degenerate, nil
}
