package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Date", cfg.Columns.Time)
	assert.Equal(t, "ln_Contributions", cfg.Columns.ContributionsDep)
	assert.Equal(t, []string{"PC1_Global", "PC1_Systematic"}, cfg.Variables.Predictors)
	assert.Equal(t, "D_COVID", cfg.Variables.Moderator)
	assert.Len(t, cfg.Variables.Controls, 4)
	assert.Equal(t, 1, cfg.Variables.ReferenceMonth)
	assert.Equal(t, 0.001, cfg.Thresholds.VarianceFloor)
	assert.Equal(t, 10.0, cfg.Thresholds.VIFProblematic)
}

func TestLoadFromFileOverrides(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "afpcli.yaml")
	content := `
files:
  contributions_panel: alt_panel1.xlsx
  reallocation_panel: alt_panel2.xlsx
  portfolio_panel: alt_panel3.xlsx
  predictors: alt_predictors.xlsx
  controls: alt_controls.xlsx
output:
  base_dir: alt_results
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "alt_panel1.xlsx", cfg.Files.ContributionsPanel)
	assert.Equal(t, "alt_results", cfg.Output.BaseDir)
	// untouched sections keep their defaults
	assert.Equal(t, "Date", cfg.Columns.Time)
	assert.Equal(t, 0.05, cfg.Thresholds.Alpha)
}

func TestValidateRejectsInvertedVIFBands(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Thresholds.VIFModerate = 12
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "vif_problematic")
}

func TestNewRunPathsCreatesTree(t *testing.T) {
	base := t.TempDir()
	paths, err := NewRunPaths(OutputConfig{BaseDir: base})
	require.NoError(t, err)

	for _, dir := range []string{paths.BaseDir, paths.DiagnosticsDir, paths.TablesDir, paths.RobustnessDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.NotEmpty(t, paths.RunID)
	assert.Equal(t, filepath.Join(paths.TablesDir, "coefficients.csv"), paths.TablesFile("coefficients.csv"))
}
