// Package exporter writes the analysis artifacts: coefficient tables and
// diagnostic reports as CSV (with a UTF-8 BOM so Excel opens them cleanly),
// publication tables as Excel workbooks, and model summaries as plain text.
package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"afpcli/internal/config"
)

// Exporter writes run artifacts into the run directory tree
type Exporter struct {
	paths  *config.RunPaths
	logger *slog.Logger
}

// New creates an exporter rooted at the run's output directories
func New(paths *config.RunPaths, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{paths: paths, logger: logger}
}

// writeCSV writes one CSV file with headers. The UTF-8 BOM keeps Excel from
// misreading accented column values.
func (e *Exporter) writeCSV(fullPath string, headers []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if len(headers) > 0 {
		if err := writer.Write(headers); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}
	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	e.logger.Info("csv written",
		slog.String("path", fullPath),
		slog.Int("records", len(records)))
	return writer.Error()
}

// writeText writes a plain-text artifact
func (e *Exporter) writeText(fullPath, content string) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	e.logger.Info("summary written", slog.String("path", fullPath))
	return nil
}

// formatEstimate renders a coefficient-scale value
func formatEstimate(f float64) string {
	if math.IsNaN(f) {
		return "NA"
	}
	if math.IsInf(f, 1) {
		return "Inf"
	}
	return fmt.Sprintf("%.6f", f)
}

// formatP renders a p-value
func formatP(f float64) string {
	if math.IsNaN(f) {
		return "NA"
	}
	return fmt.Sprintf("%.4f", f)
}

func formatInt(i int) string {
	return fmt.Sprintf("%d", i)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
