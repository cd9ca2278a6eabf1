package gates

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// healthyInput builds a fixture where every gate should pass: a plumbing
// contractor with consistent engine and document figures.
func healthyInput(t *testing.T) Input {
	t.Helper()

	report := &model.Report{
		ID:          "rep-1",
		CompanyName: "Acme Plumbing LLC",
		PassOutputs: map[string]model.PassOutput{},
	}
	payloads := map[string]any{
		"0": model.FinancialStatements{
			FiscalYears: []model.FiscalYearData{
				{Year: 2025, Revenue: 2_400_000, NetIncome: 310_000},
				{Year: 2024, Revenue: 2_100_000, NetIncome: 280_000},
			},
			BalanceSheet: model.BalanceSheet{AsOfYear: 2025, BookEquity: 450_000},
		},
		"1": model.NormalizationAdjustments{},
		"2": model.IndustryClassification{NAICSCode: "238220", SectorName: "Specialty Trade Contractors"},
		"3": model.MarketComps{SDEMultiple: 2.8, PreferredBasis: model.BasisSDE},
		"4": model.RiskAssessment{RiskFreeRate: 0.04},
	}
	for key, p := range payloads {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		report.PassOutputs[key] = model.PassOutput{PassID: key, Data: data, ParseAttempt: 1}
	}

	calc := &model.CalculationOutput{
		AssetApproach:  model.AssetApproachResult{AdjustedNetAssets: 500_000},
		IncomeApproach: model.IncomeApproachResult{IndicatedValue: 900_000, BuildUp: model.CapRateBuildUp{CapRate: 0.22}},
		MarketApproach: model.MarketApproachResult{
			Basis:            model.BasisSDE,
			AdjustedMultiple: 2.9,
			IndicatedValue:   850_000,
		},
		Synthesis: model.Synthesis{
			PreliminaryValue:    800_000,
			DLOM:                0.15,
			FinalConcludedValue: 680_000,
			ValueRange:          model.ValueRange{Low: 612_000, High: 748_000, Source: model.RangeFromFallback},
		},
		ApproachSummary: []model.ApproachValue{
			{Approach: "asset", IndicatedValue: 500_000, Weight: 0.2, Available: true},
			{Approach: "income", IndicatedValue: 900_000, Weight: 0.4, Available: true},
			{Approach: "market", IndicatedValue: 850_000, Weight: 0.4, Available: true},
		},
	}

	doc := &model.ReportDocument{
		CompanyName:    "Acme Plumbing LLC",
		NAICSCode:      "238220",
		AssetValue:     500_000,
		IncomeValue:    900_000,
		MarketValue:    850_000,
		MarketMultiple: 2.9,
		ConcludedValue: 680_000,
		ValueLow:       612_000,
		ValueHigh:      748_000,
		Sections: map[string]model.NarrativeSection{
			"executive_summary": {
				Key: "executive_summary", Title: "Executive Summary",
				Text:       strings.Repeat("The company services commercial and residential clients. ", 20),
				WordTarget: 150, WordCount: 160,
			},
			"valuation_discussion": {
				Key: "valuation_discussion", Title: "Valuation Discussion",
				Text:       strings.Repeat("Each approach was weighted per appraisal practice. ", 25),
				WordTarget: 180, WordCount: 175,
			},
		},
	}

	return Input{
		Report:         report,
		Calc:           calc,
		Doc:            doc,
		Industry:       &model.IndustryClassification{NAICSCode: "238220"},
		MaxSDEMultiple: 3.5,
	}
}

func TestChain_HealthyReportPasses(t *testing.T) {
	chain := NewChain(Config{})
	verdict := chain.Run(healthyInput(t))

	require.Len(t, verdict.Results, 4)
	for _, r := range verdict.Results {
		assert.True(t, r.Passed, "gate %s failed: %+v", r.Gate, r.Errors)
	}
	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Blocking())
}

func TestConsistencyGate_PerturbedValueBlocks(t *testing.T) {
	in := healthyInput(t)
	in.Doc.AssetValue = 560_000 // 12% off the engine's 500k

	g := &consistencyGate{tolerance: 0.005}
	res := g.Check(in)

	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "asset_value", res.Errors[0].Field)
	assert.InDelta(t, 500_000, res.Errors[0].Expected, 0.01)
	assert.InDelta(t, 560_000, res.Errors[0].Actual, 0.01)
}

func TestConsistencyGate_WithinToleranceAllowsRounding(t *testing.T) {
	in := healthyInput(t)
	in.Doc.ConcludedValue = 680_001 // rounding noise, under 0.5%

	g := &consistencyGate{tolerance: 0.005}
	res := g.Check(in)
	assert.True(t, res.Passed)
}

func TestConsistencyGate_WeightSumChecked(t *testing.T) {
	in := healthyInput(t)
	in.Calc.ApproachSummary[2].Weight = 0.5 // sum now 1.1

	g := &consistencyGate{tolerance: 0.005}
	res := g.Check(in)

	assert.False(t, res.Passed)
	found := false
	for _, v := range res.Errors {
		if v.Field == "weights" {
			found = true
		}
	}
	assert.True(t, found, "expected a weights violation: %+v", res.Errors)
}

func TestIndustryGate_WrongSectorKeywordBlocks(t *testing.T) {
	in := healthyInput(t)
	s := in.Doc.Sections["executive_summary"]
	s.Text = "The company recently refreshed its menu and expanded banquet capacity."
	in.Doc.Sections["executive_summary"] = s

	g := &industryGate{}
	res := g.Check(in)

	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0].Snippet, "menu")
	assert.Equal(t, "executive_summary", res.Errors[0].Field)
}

func TestIndustryGate_OwnSectorKeywordAllowed(t *testing.T) {
	in := healthyInput(t)
	s := in.Doc.Sections["executive_summary"]
	s.Text = "The company's plumbing crews handle commercial subcontractor work."
	in.Doc.Sections["executive_summary"] = s

	g := &industryGate{}
	res := g.Check(in)
	assert.True(t, res.Passed)
}

func TestIndustryGate_NoClassificationWarnsOnly(t *testing.T) {
	in := healthyInput(t)
	in.Industry = nil

	g := &industryGate{}
	res := g.Check(in)
	assert.True(t, res.Passed)
	assert.NotEmpty(t, res.Warnings)
}

func TestValueGate_MultipleOverCeilingBlocks(t *testing.T) {
	in := healthyInput(t)
	in.Calc.MarketApproach.AdjustedMultiple = 4.2 // ceiling is 3.5

	g := &valueGate{cfg: DefaultConfig()}
	res := g.Check(in)

	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "market_multiple", res.Errors[0].Field)
	assert.InDelta(t, 3.5, res.Errors[0].Expected, 0.001)
}

func TestValueGate_DefaultCeilingWhenNoBenchmark(t *testing.T) {
	in := healthyInput(t)
	in.MaxSDEMultiple = 0
	in.Calc.MarketApproach.AdjustedMultiple = 5.5 // under the 6.0 default

	g := &valueGate{cfg: DefaultConfig()}
	res := g.Check(in)
	assert.True(t, res.Passed)
}

func TestValueGate_TinyConcludedValueBlocks(t *testing.T) {
	in := healthyInput(t)
	in.Calc.Synthesis.FinalConcludedValue = 40

	g := &valueGate{cfg: DefaultConfig()}
	res := g.Check(in)
	assert.False(t, res.Passed)
}

func TestQualityGate_HealthyReportScoresHigh(t *testing.T) {
	g := &qualityGate{cfg: DefaultConfig()}
	res := g.Check(healthyInput(t))

	assert.True(t, res.Passed)
	assert.GreaterOrEqual(t, res.Score, 90.0)
}

func TestQualityGate_GuttedReportBlocks(t *testing.T) {
	in := healthyInput(t)
	in.Report.PassOutputs = map[string]model.PassOutput{}
	for key, s := range in.Doc.Sections {
		s.Text = ""
		in.Doc.Sections[key] = s
	}

	g := &qualityGate{cfg: DefaultConfig()}
	res := g.Check(in)

	assert.False(t, res.Passed)
	assert.Less(t, res.Score, 70.0)
	assert.NotEmpty(t, res.Errors)
}

func TestQualityGate_MarkupResidueWarns(t *testing.T) {
	in := healthyInput(t)
	s := in.Doc.Sections["executive_summary"]
	s.Text = "```json\n{\"text\": \"oops\"}\n```"
	in.Doc.Sections["executive_summary"] = s

	g := &qualityGate{cfg: DefaultConfig()}
	res := g.Check(in)

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w.Message, "markup") {
			found = true
		}
	}
	assert.True(t, found)
}
