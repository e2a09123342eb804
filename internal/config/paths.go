package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunPaths contains the output directories for a single analysis run.
// This is the single source of truth for every artifact path a phase writes.
type RunPaths struct {
	RunID          string
	BaseDir        string
	DiagnosticsDir string
	TablesDir      string
	RobustnessDir  string
}

// NewRunPaths creates a timestamped run directory tree under the configured
// output base. Each run is identified by its timestamp plus a short unique
// suffix so concurrent runs never collide.
func NewRunPaths(output OutputConfig) (*RunPaths, error) {
	runID := fmt.Sprintf("%s_%s",
		time.Now().Format("20060102_150405"),
		strings.Split(uuid.NewString(), "-")[0])

	base := filepath.Join(output.BaseDir, "run_"+runID)
	p := &RunPaths{
		RunID:          runID,
		BaseDir:        base,
		DiagnosticsDir: filepath.Join(base, "diagnostics"),
		TablesDir:      filepath.Join(base, "tables"),
		RobustnessDir:  filepath.Join(base, "robustness"),
	}

	for _, dir := range []string{p.BaseDir, p.DiagnosticsDir, p.TablesDir, p.RobustnessDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run directory %s: %w", dir, err)
		}
	}

	return p, nil
}

// DiagnosticsFile returns the path of a diagnostics artifact
func (p *RunPaths) DiagnosticsFile(name string) string {
	return filepath.Join(p.DiagnosticsDir, name)
}

// TablesFile returns the path of a tables artifact
func (p *RunPaths) TablesFile(name string) string {
	return filepath.Join(p.TablesDir, name)
}

// RobustnessFile returns the path of a robustness artifact
func (p *RunPaths) RobustnessFile(name string) string {
	return filepath.Join(p.RobustnessDir, name)
}
