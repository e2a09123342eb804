// Package config holds the static run configuration for the panel analysis
// pipeline: input file names, column names, variable sets and diagnostic
// thresholds. The configuration is loaded once in main and passed explicitly
// into every stage; nothing in this package keeps process-wide state.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete analysis configuration
type Config struct {
	Files      FilesConfig      `yaml:"files" envconfig:"FILES"`
	Columns    ColumnsConfig    `yaml:"columns" envconfig:"COLUMNS"`
	Variables  VariablesConfig  `yaml:"variables" envconfig:"VARIABLES"`
	Thresholds ThresholdsConfig `yaml:"thresholds" envconfig:"THRESHOLDS"`
	Output     OutputConfig     `yaml:"output" envconfig:"OUTPUT"`
}

// FilesConfig names the input workbooks
type FilesConfig struct {
	ContributionsPanel string `yaml:"contributions_panel" envconfig:"CONTRIBUTIONS_PANEL" default:"panel_1_contributions.xlsx" validate:"required"`
	ReallocationPanel  string `yaml:"reallocation_panel" envconfig:"REALLOCATION_PANEL" default:"panel_2_reallocation.xlsx" validate:"required"`
	PortfolioPanel     string `yaml:"portfolio_panel" envconfig:"PORTFOLIO_PANEL" default:"panel_3_portfolio.xlsx" validate:"required"`
	Predictors         string `yaml:"predictors" envconfig:"PREDICTORS" default:"predictors_interactions.xlsx" validate:"required"`
	Controls           string `yaml:"controls" envconfig:"CONTROLS" default:"macro_controls.xlsx" validate:"required"`
}

// ColumnsConfig names the key columns of each panel
type ColumnsConfig struct {
	Time string `yaml:"time" envconfig:"TIME" default:"Date" validate:"required"`

	// Panel 1: member contributions by fund manager
	Manager                string `yaml:"manager" envconfig:"MANAGER" default:"AFP" validate:"required"`
	ContributionsDep       string `yaml:"contributions_dep" envconfig:"CONTRIBUTIONS_DEP" default:"ln_Contributions" validate:"required"`
	ContributionsRaw       string `yaml:"contributions_raw" envconfig:"CONTRIBUTIONS_RAW" default:"Contributions_Total"`
	ContributionsExclusion string `yaml:"contributions_exclusion" envconfig:"CONTRIBUTIONS_EXCLUSION" default:"Dummy_Adjustment_Sep2013"`

	// Panel 2: net member reallocation by fund type
	FundType              string `yaml:"fund_type" envconfig:"FUND_TYPE" default:"FundType" validate:"required"`
	ReallocationDep       string `yaml:"reallocation_dep" envconfig:"REALLOCATION_DEP" default:"Net_Member_Flow" validate:"required"`
	ReallocationExclusion string `yaml:"reallocation_exclusion" envconfig:"REALLOCATION_EXCLUSION" default:"Dummy_Fund0_Launch"`

	// Panel 3: portfolio composition by issuer sector
	Fund         string `yaml:"fund" envconfig:"FUND" default:"Fund"`
	Sector       string `yaml:"sector" envconfig:"SECTOR" default:"Sector"`
	PortfolioDep string `yaml:"portfolio_dep" envconfig:"PORTFOLIO_DEP" default:"Stock_Share"`
}

// VariablesConfig names the regressor sets shared by every panel
type VariablesConfig struct {
	// Raw predictor columns, centered during preparation
	Predictors []string `yaml:"predictors" envconfig:"PREDICTORS" default:"PC1_Global,PC1_Systematic" validate:"required,min=1"`
	// Binary crisis moderator; never centered
	Moderator string `yaml:"moderator" envconfig:"MODERATOR" default:"D_COVID" validate:"required"`
	// Raw macro control columns, centered during preparation
	Controls []string `yaml:"controls" envconfig:"CONTROLS" default:"Policy_Rate,Inflation_Lag1,GDP_Growth_YoY,Exchange_Rate" validate:"required,min=1"`
	// Calendar month dropped from the dummy set
	ReferenceMonth int `yaml:"reference_month" envconfig:"REFERENCE_MONTH" default:"1" validate:"min=1,max=12"`
}

// ThresholdsConfig collects the screening and diagnostic cutoffs
type ThresholdsConfig struct {
	VarianceFloor      float64 `yaml:"variance_floor" envconfig:"VARIANCE_FLOOR" default:"0.001" validate:"gt=0"`
	MaxMissingPercent  float64 `yaml:"max_missing_percent" envconfig:"MAX_MISSING_PERCENT" default:"5" validate:"gt=0"`
	Alpha              float64 `yaml:"alpha" envconfig:"ALPHA" default:"0.05" validate:"gt=0,lt=1"`
	VIFModerate        float64 `yaml:"vif_moderate" envconfig:"VIF_MODERATE" default:"5" validate:"gt=1"`
	VIFProblematic     float64 `yaml:"vif_problematic" envconfig:"VIF_PROBLEMATIC" default:"10" validate:"gt=1"`
	AutocorrelationRho float64 `yaml:"autocorrelation_rho" envconfig:"AUTOCORRELATION_RHO" default:"0.3" validate:"gt=0"`
}

// OutputConfig controls where run artifacts are written
type OutputConfig struct {
	BaseDir string `yaml:"base_dir" envconfig:"BASE_DIR" default:"results" validate:"required"`
}

// Load loads configuration from defaults, an optional YAML file and
// environment overrides, then validates the result
func Load(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("AFP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(cfg, *fileCfg)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs overlays the non-empty fields of the file config on the base
func mergeConfigs(base, file Config) Config {
	merged := base

	if file.Files.ContributionsPanel != "" {
		merged.Files.ContributionsPanel = file.Files.ContributionsPanel
	}
	if file.Files.ReallocationPanel != "" {
		merged.Files.ReallocationPanel = file.Files.ReallocationPanel
	}
	if file.Files.PortfolioPanel != "" {
		merged.Files.PortfolioPanel = file.Files.PortfolioPanel
	}
	if file.Files.Predictors != "" {
		merged.Files.Predictors = file.Files.Predictors
	}
	if file.Files.Controls != "" {
		merged.Files.Controls = file.Files.Controls
	}
	if file.Columns.Time != "" {
		merged.Columns = file.Columns
	}
	if len(file.Variables.Predictors) > 0 {
		merged.Variables = file.Variables
	}
	if file.Thresholds.VarianceFloor > 0 {
		merged.Thresholds = file.Thresholds
	}
	if file.Output.BaseDir != "" {
		merged.Output.BaseDir = file.Output.BaseDir
	}

	return merged
}

// Validate checks the configuration using struct tags
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Thresholds.VIFProblematic <= c.Thresholds.VIFModerate {
		return fmt.Errorf("vif_problematic (%.1f) must exceed vif_moderate (%.1f)",
			c.Thresholds.VIFProblematic, c.Thresholds.VIFModerate)
	}
	return nil
}
