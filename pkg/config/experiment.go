package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Experiment is one walk-forward research run. Every optional field has a
// documented default filled by creasty/defaults.
type Experiment struct {
	Name     string   `yaml:"name" validate:"required"`
	Features []string `yaml:"features" validate:"required,min=1"`
	Label    string   `yaml:"label" default:"gain-12" validate:"required"`
	Task     string   `yaml:"task" default:"classification" validate:"oneof=classification regression"`

	Grid          string `yaml:"grid" default:"monthly" validate:"oneof=monthly calendar"`
	TrainDates    string `yaml:"train_date_file"`
	StartDate     string `yaml:"start_date" default:"2005-01-01"`
	EndDate       string `yaml:"end_date" default:"9999-99-99"`
	MinDate       string `yaml:"min_date" default:"0000-00-00"`
	MaxDate       string `yaml:"max_date" default:"9999-99-99"`
	Seed          int64  `yaml:"seed" default:"1"`
	MinSamples    int    `yaml:"min_samples" default:"10000" validate:"gte=1"`
	FeatureWindow int    `yaml:"feature_window" default:"120" validate:"gt=0"`

	Model ModelConfig `yaml:"model"`

	TrainWindow      int     `yaml:"train_window" default:"-1" validate:"gte=-1"`
	TrainPerc        float64 `yaml:"train_perc" default:"1.0"`
	ImputerStrategy  string  `yaml:"imputer_strategy" default:"zero" validate:"oneof=zero mean median"`
	PredictionWindow int     `yaml:"prediction_window" default:"12" validate:"gte=0"`
	DelayWindow      int     `yaml:"delay_window" validate:"gte=0"`
	MinFeaturePerc   float64 `yaml:"min_feature_perc" default:"0.8" validate:"gte=0,lte=1"`

	MaxNeg              float64 `yaml:"max_neg"`
	MinPos              float64 `yaml:"min_pos"`
	UseWeight           bool    `yaml:"use_weight"`
	WeightPower         float64 `yaml:"weight_power" default:"1"`
	IndeterminatePolicy string  `yaml:"indeterminate_policy" default:"drop" validate:"oneof=drop zero_weight"`

	TrainFilter   FilterConfig `yaml:"train_filter"`
	PredictFilter FilterConfig `yaml:"predict_filter"`

	Analysis Analysis `yaml:"analysis"`
}

// ModelConfig names an estimator either structurally (kind + params) or
// by the legacy constructor string.
type ModelConfig struct {
	Spec   string             `yaml:"spec"`
	Kind   string             `yaml:"kind" default:"random_forest_classifier"`
	Params map[string]float64 `yaml:"params"`
}

// FilterConfig configures the metadata filters. Expr, when set, is parsed
// with the `key=value + key=value` syntax and overrides the structured fields.
type FilterConfig struct {
	Expr                string   `yaml:"expr"`
	MinRawPrice         *float64 `yaml:"min_raw_price"`
	MaxVolatility       *float64 `yaml:"max_volatility"`
	MinVolumedPerc      *float64 `yaml:"min_volumed_perc"`
	MinMarketcap        *float64 `yaml:"min_marketcap"`
	MaxHoles            *float64 `yaml:"max_holes"`
	Membership          bool     `yaml:"membership"`
	RemoveIndeterminate bool     `yaml:"remove_indeterminate"`

	PriceFeature      string `yaml:"price_feature" default:"raw-price"`
	VolatilityFeature string `yaml:"volatility_feature" default:"volatility-perc"`
	VolumedFeature    string `yaml:"volumed_feature" default:"volumed-perc"`
	MarketcapFeature  string `yaml:"marketcap_feature" default:"marketcap"`
	HolesFeature      string `yaml:"holes_feature" default:"holes"`
}

type Analysis struct {
	Ks         []int         `yaml:"ks" default:"[10,25,50,100,0,-100,-50,-25,-10]"`
	Buckets    []int         `yaml:"buckets" default:"[5,10]"`
	Trades     []TradeConfig `yaml:"trades" default:"[{\"max_look\":-1,\"max_pick\":10,\"max_hold\":1}]"`
	HoldPeriod int           `yaml:"hold_period"`
	EvalPercs  []float64     `yaml:"eval_percs" default:"[1,10,100]"`
}

type TradeConfig struct {
	MaxLook int `yaml:"max_look" json:"max_look"`
	MaxPick int `yaml:"max_pick" json:"max_pick"`
	MaxHold int `yaml:"max_hold" json:"max_hold"`
}

// LoadExperiment reads one experiment file.
func LoadExperiment(path string) (*Experiment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment: %w", err)
	}
	return ParseExperiment(b)
}

// ParseExperiment decodes YAML, fills defaults and validates.
func ParseExperiment(b []byte) (*Experiment, error) {
	var e Experiment
	if err := yaml.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("parse experiment: %w", err)
	}
	if err := defaults.Set(&e); err != nil {
		return nil, fmt.Errorf("experiment defaults: %w", err)
	}
	if e.Analysis.HoldPeriod == 0 {
		e.Analysis.HoldPeriod = e.PredictionWindow
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("validate experiment %q: %w", e.Name, err)
	}
	return &e, nil
}

// Validate checks struct tags and cross-field rules.
func (e *Experiment) Validate() error {
	if err := validate.Struct(e); err != nil {
		return err
	}
	if e.MaxNeg > e.MinPos {
		return fmt.Errorf("max_neg (%v) must not exceed min_pos (%v)", e.MaxNeg, e.MinPos)
	}
	if e.Grid == "calendar" && e.TrainDates == "" {
		return fmt.Errorf("train_date_file is required for the calendar grid")
	}
	if e.MinDate > e.MaxDate {
		return fmt.Errorf("min_date %s is after max_date %s", e.MinDate, e.MaxDate)
	}
	for _, b := range e.Analysis.Buckets {
		if b <= 0 {
			return fmt.Errorf("analysis.buckets must be positive, got %d", b)
		}
	}
	return nil
}

// Classification reports whether labels are binarized.
func (e *Experiment) Classification() bool {
	return e.Task == "classification"
}
