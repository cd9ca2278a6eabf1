// Package gates implements the validation chain that runs after the final
// pass: consistency, industry, value, and quality checks. Every gate is a pure
// function over read-only views of the report; a blocking failure in any gate
// prevents the report from finalizing.
package gates

import (
	"go.uber.org/zap"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// Config holds the gate chain thresholds.
type Config struct {
	// ConsistencyTolerance is the relative tolerance for numeric drift
	// between displayed and engine-computed figures.
	ConsistencyTolerance float64 `yaml:"consistency_tolerance" mapstructure:"consistency_tolerance"`
	// DefaultMaxMultiple caps the market multiple when no industry
	// benchmark exists for the classified NAICS code.
	DefaultMaxMultiple float64 `yaml:"default_max_multiple" mapstructure:"default_max_multiple"`
	MinConcludedValue  float64 `yaml:"min_concluded_value" mapstructure:"min_concluded_value"`
	MaxConcludedValue  float64 `yaml:"max_concluded_value" mapstructure:"max_concluded_value"`
	// QualityThreshold is the minimum composite quality score (0-100).
	QualityThreshold float64 `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	// MinWordRatio is the fraction of a section's word target below which
	// completeness is penalized.
	MinWordRatio float64 `yaml:"min_word_ratio" mapstructure:"min_word_ratio"`
}

// DefaultConfig returns the production gate thresholds.
func DefaultConfig() Config {
	return Config{
		ConsistencyTolerance: 0.005,
		DefaultMaxMultiple:   6.0,
		MinConcludedValue:    1000,
		MaxConcludedValue:    50_000_000,
		QualityThreshold:     70,
		MinWordRatio:         0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConsistencyTolerance <= 0 {
		c.ConsistencyTolerance = d.ConsistencyTolerance
	}
	if c.DefaultMaxMultiple <= 0 {
		c.DefaultMaxMultiple = d.DefaultMaxMultiple
	}
	if c.MinConcludedValue <= 0 {
		c.MinConcludedValue = d.MinConcludedValue
	}
	if c.MaxConcludedValue <= 0 {
		c.MaxConcludedValue = d.MaxConcludedValue
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = d.QualityThreshold
	}
	if c.MinWordRatio <= 0 {
		c.MinWordRatio = d.MinWordRatio
	}
	return c
}

// Violation is one gate finding, blocking or advisory.
type Violation struct {
	Field    string  `json:"field,omitempty"`
	Message  string  `json:"message"`
	Snippet  string  `json:"snippet,omitempty"`
	Expected float64 `json:"expected,omitempty"`
	Actual   float64 `json:"actual,omitempty"`
}

// Result is one gate's verdict. Score is 0-100.
type Result struct {
	Gate     string      `json:"gate"`
	Passed   bool        `json:"passed"`
	Score    float64     `json:"score"`
	Errors   []Violation `json:"errors,omitempty"`
	Warnings []Violation `json:"warnings,omitempty"`
}

// Verdict aggregates the chain. Passed is true only when every gate passed.
type Verdict struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// Blocking returns the results of gates that failed.
func (v Verdict) Blocking() []Result {
	var blocked []Result
	for _, r := range v.Results {
		if !r.Passed {
			blocked = append(blocked, r)
		}
	}
	return blocked
}

// Input is the read-only view the gates inspect. MaxSDEMultiple and
// MaxEBITDAMultiple come from the benchmark table when the NAICS code is
// known; zero means no benchmark and the configured default ceiling applies.
type Input struct {
	Report            *model.Report
	Calc              *model.CalculationOutput
	Doc               *model.ReportDocument
	Industry          *model.IndustryClassification
	MaxSDEMultiple    float64
	MaxEBITDAMultiple float64
}

// Gate is a single validation stage.
type Gate interface {
	Name() string
	Check(in Input) Result
}

// Chain runs the four gates in fixed order. All gates always run so the
// verdict carries every finding, not just the first.
type Chain struct {
	cfg   Config
	gates []Gate
}

// NewChain builds the production gate chain.
func NewChain(cfg Config) *Chain {
	cfg = cfg.withDefaults()
	return &Chain{
		cfg: cfg,
		gates: []Gate{
			&consistencyGate{tolerance: cfg.ConsistencyTolerance},
			&industryGate{},
			&valueGate{cfg: cfg},
			&qualityGate{cfg: cfg},
		},
	}
}

// Run evaluates every gate against the input.
func (c *Chain) Run(in Input) Verdict {
	verdict := Verdict{Passed: true}
	for _, g := range c.gates {
		r := g.Check(in)
		verdict.Results = append(verdict.Results, r)
		if !r.Passed {
			verdict.Passed = false
			zap.L().Warn("gates: blocking failure",
				zap.String("gate", r.Gate),
				zap.Float64("score", r.Score),
				zap.Int("errors", len(r.Errors)),
			)
		}
	}
	return verdict
}
