package gates

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// Category weights for the composite quality score.
const (
	weightDataIntegrity = 0.30
	weightBusinessRules = 0.30
	weightCompleteness  = 0.25
	weightFormatting    = 0.15
)

// qualityGate computes a weighted composite score over data integrity,
// business-rule compliance, completeness, and formatting. Below the threshold
// it blocks; above it, findings become warnings.
type qualityGate struct {
	cfg Config
}

func (g *qualityGate) Name() string { return "quality" }

func (g *qualityGate) Check(in Input) Result {
	res := Result{Gate: g.Name(), Passed: true}

	integrity := g.scoreDataIntegrity(in, &res)
	rules := g.scoreBusinessRules(in, &res)
	completeness := g.scoreCompleteness(in, &res)
	formatting := g.scoreFormatting(in, &res)

	res.Score = math.Round(integrity*weightDataIntegrity +
		rules*weightBusinessRules +
		completeness*weightCompleteness +
		formatting*weightFormatting)

	if res.Score < g.cfg.QualityThreshold {
		res.Passed = false
		res.Errors = append(res.Errors, Violation{
			Message:  "composite quality score below threshold",
			Expected: g.cfg.QualityThreshold,
			Actual:   res.Score,
		})
	}
	return res
}

// scoreDataIntegrity checks that the extraction outputs behind the report
// actually decode and carry usable figures.
func (g *qualityGate) scoreDataIntegrity(in Input, res *Result) float64 {
	if in.Report == nil {
		return 0
	}
	score := 100.0

	fin, err := model.FinancialsFrom(in.Report)
	if err != nil {
		res.Warnings = append(res.Warnings, Violation{Field: "0", Message: "financial statements output missing or undecodable"})
		return 0
	}
	if len(fin.FiscalYears) == 0 {
		res.Warnings = append(res.Warnings, Violation{Field: "0", Message: "no fiscal years extracted"})
		score -= 50
	}

	for _, key := range []string{"1", "2", "3", "4"} {
		if _, ok := in.Report.Output(key); !ok {
			res.Warnings = append(res.Warnings, Violation{Field: key, Message: fmt.Sprintf("extraction pass %s output missing", key)})
			score -= 12.5
		}
	}
	return math.Max(0, score)
}

// scoreBusinessRules validates the appraisal-method constraints the engine
// output must satisfy.
func (g *qualityGate) scoreBusinessRules(in Input, res *Result) float64 {
	if in.Calc == nil {
		return 0
	}
	score := 100.0

	syn := in.Calc.Synthesis
	if syn.DLOM < 0 || syn.DLOM > 0.5 {
		res.Warnings = append(res.Warnings, Violation{Field: "dlom", Message: "marketability discount outside accepted 0-50% band", Actual: syn.DLOM})
		score -= 30
	}
	if syn.ControlAdjustment < -0.3 || syn.ControlAdjustment > 0.3 {
		res.Warnings = append(res.Warnings, Violation{Field: "control_adjustment", Message: "control adjustment outside accepted band", Actual: syn.ControlAdjustment})
		score -= 20
	}

	income := in.Calc.IncomeApproach
	if income.IndicatedValue > 0 && income.BuildUp.CapRate <= 0 {
		res.Warnings = append(res.Warnings, Violation{Field: "cap_rate", Message: "income approach carries a non-positive cap rate", Actual: income.BuildUp.CapRate})
		score -= 30
	}

	available := 0
	for _, a := range in.Calc.ApproachSummary {
		if a.Available {
			available++
		}
	}
	if available < 2 {
		res.Warnings = append(res.Warnings, Violation{Field: "approaches", Message: "fewer than two valuation approaches available", Actual: float64(available)})
		score -= 20
	}
	return math.Max(0, score)
}

// scoreCompleteness checks that every narrative section exists and is close
// enough to its word target.
func (g *qualityGate) scoreCompleteness(in Input, res *Result) float64 {
	if in.Doc == nil || len(in.Doc.Sections) == 0 {
		return 0
	}
	score := 100.0
	perSection := 100.0 / float64(len(in.Doc.Sections))

	for key, s := range in.Doc.Sections {
		if strings.TrimSpace(s.Text) == "" {
			res.Warnings = append(res.Warnings, Violation{Field: key, Message: "narrative section is empty"})
			score -= perSection
			continue
		}
		if s.WordTarget > 0 && float64(s.WordCount) < g.cfg.MinWordRatio*float64(s.WordTarget) {
			res.Warnings = append(res.Warnings, Violation{
				Field:    key,
				Message:  "narrative section well short of word target",
				Expected: float64(s.WordTarget),
				Actual:   float64(s.WordCount),
			})
			score -= perSection / 2
		}
	}
	return math.Max(0, score)
}

// scoreFormatting flags generation artifacts that should never reach a
// client-facing document.
func (g *qualityGate) scoreFormatting(in Input, res *Result) float64 {
	if in.Doc == nil || len(in.Doc.Sections) == 0 {
		return 0
	}
	score := 100.0
	perSection := 100.0 / float64(len(in.Doc.Sections))

	for key, s := range in.Doc.Sections {
		trimmed := strings.TrimSpace(s.Text)
		if strings.Contains(trimmed, "```") || strings.HasPrefix(trimmed, "{") {
			res.Warnings = append(res.Warnings, Violation{Field: key, Message: "narrative section contains raw markup or JSON residue"})
			score -= perSection
		}
		if s.Title == "" {
			res.Warnings = append(res.Warnings, Violation{Field: key, Message: "narrative section missing title"})
			score -= perSection / 2
		}
	}
	return math.Max(0, score)
}
