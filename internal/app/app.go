// Package app bootstraps an analysis phase binary: command-line flags,
// structured logging, configuration, input workbooks and the run directory
// tree. The phase mains stay thin wrappers over this package.
package app

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"afpcli/internal/config"
	"afpcli/internal/dataset"
	"afpcli/internal/pipeline"
)

// App carries everything a phase needs after bootstrap
type App struct {
	Phase  string
	Config *config.Config
	Paths  *config.RunPaths
	Logger *slog.Logger

	dataDir string
}

// Bootstrap parses the shared flags, builds the logger, loads and validates
// the configuration and creates the run directory tree
func Bootstrap(phase string) (*App, error) {
	configFile := flag.String("config", "", "path to YAML configuration file (optional)")
	dataDir := flag.String("data", "data", "directory containing the input workbooks")
	outDir := flag.String("out", "", "output base directory (overrides configuration)")
	jsonLog := flag.Bool("log-json", false, "emit JSON logs instead of text")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if *jsonLog {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With(slog.String("phase", phase))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	if *outDir != "" {
		cfg.Output.BaseDir = *outDir
	}

	paths, err := config.NewRunPaths(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("run directories: %w", err)
	}

	logger.Info("phase starting",
		slog.String("run_id", paths.RunID),
		slog.String("data_dir", *dataDir),
		slog.String("output_dir", paths.BaseDir))

	return &App{
		Phase:   phase,
		Config:  cfg,
		Paths:   paths,
		Logger:  logger,
		dataDir: *dataDir,
	}, nil
}

// Inputs holds the loaded input workbooks
type Inputs struct {
	Contributions *dataset.Table
	Reallocation  *dataset.Table
	Portfolio     *dataset.Table
	Predictors    *dataset.Table
	Controls      *dataset.Table
}

// Secondary returns the time-series tables merged onto every outcome panel
func (in *Inputs) Secondary() []*dataset.Table {
	return []*dataset.Table{in.Predictors, in.Controls}
}

// LoadInputs loads the five input workbooks from the data directory. Any
// missing or malformed workbook aborts the phase.
func (a *App) LoadInputs() (*Inputs, error) {
	loader := dataset.NewLoader(a.Config.Columns.Time, a.Logger)

	tables, err := loader.LoadAll(
		dataset.Source{Name: "contributions", Path: filepath.Join(a.dataDir, a.Config.Files.ContributionsPanel)},
		dataset.Source{Name: "reallocation", Path: filepath.Join(a.dataDir, a.Config.Files.ReallocationPanel)},
		dataset.Source{Name: "portfolio", Path: filepath.Join(a.dataDir, a.Config.Files.PortfolioPanel)},
		dataset.Source{Name: "predictors", Path: filepath.Join(a.dataDir, a.Config.Files.Predictors)},
		dataset.Source{Name: "controls", Path: filepath.Join(a.dataDir, a.Config.Files.Controls)},
	)
	if err != nil {
		return nil, err
	}

	return &Inputs{
		Contributions: tables["contributions"],
		Reallocation:  tables["reallocation"],
		Portfolio:     tables["portfolio"],
		Predictors:    tables["predictors"],
		Controls:      tables["controls"],
	}, nil
}

// Fatal logs the error and exits non-zero. Statistical violations never come
// through here; only structural failures do.
func (a *App) Fatal(msg string, err error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}

// ContributionsSpec is the panel 1 specification: ln contributions by fund
// manager, with month seasonality
func ContributionsSpec(cfg *config.Config) pipeline.PanelSpec {
	return pipeline.PanelSpec{
		Name:            "contributions",
		Dependent:       cfg.Columns.ContributionsDep,
		RawDependent:    cfg.Columns.ContributionsRaw,
		EntityColumn:    cfg.Columns.Manager,
		ExclusionColumn: cfg.Columns.ContributionsExclusion,
		Predictors:      cfg.Variables.Predictors,
		Moderator:       cfg.Variables.Moderator,
		Controls:        cfg.Variables.Controls,
		ReferenceMonth:  cfg.Variables.ReferenceMonth,
		MonthDummies:    true,
	}
}

// ReallocationSpec is the panel 2 specification: net member flow by manager
// and fund type (composite entity key)
func ReallocationSpec(cfg *config.Config) pipeline.PanelSpec {
	return pipeline.PanelSpec{
		Name:               "reallocation",
		Dependent:          cfg.Columns.ReallocationDep,
		EntityColumn:       cfg.Columns.Manager,
		SecondEntityColumn: cfg.Columns.FundType,
		ExclusionColumn:    cfg.Columns.ReallocationExclusion,
		Predictors:         cfg.Variables.Predictors,
		Moderator:          cfg.Variables.Moderator,
		Controls:           cfg.Variables.Controls,
		ReferenceMonth:     cfg.Variables.ReferenceMonth,
		MonthDummies:       false,
	}
}

// PortfolioSpec is the panel 3 specification: portfolio share by fund and
// issuer sector
func PortfolioSpec(cfg *config.Config) pipeline.PanelSpec {
	return pipeline.PanelSpec{
		Name:               "portfolio",
		Dependent:          cfg.Columns.PortfolioDep,
		EntityColumn:       cfg.Columns.Fund,
		SecondEntityColumn: cfg.Columns.Sector,
		Predictors:         cfg.Variables.Predictors,
		Moderator:          cfg.Variables.Moderator,
		Controls:           cfg.Variables.Controls,
		ReferenceMonth:     cfg.Variables.ReferenceMonth,
		MonthDummies:       false,
	}
}
