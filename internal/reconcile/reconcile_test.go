package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/registry"
)

func testCalc() *model.CalculationOutput {
	return &model.CalculationOutput{
		AssetApproach:  model.AssetApproachResult{AdjustedNetAssets: 500_000},
		IncomeApproach: model.IncomeApproachResult{IndicatedValue: 900_000},
		MarketApproach: model.MarketApproachResult{AdjustedMultiple: 2.9, IndicatedValue: 850_000},
		Synthesis: model.Synthesis{
			FinalConcludedValue: 680_000,
			ValueRange:          model.ValueRange{Low: 612_000, High: 748_000},
		},
	}
}

func reportWithNarratives(t *testing.T, narratives map[string]model.NarrativeOutput) *model.Report {
	t.Helper()
	r := &model.Report{
		ID:          "rep-1",
		CompanyName: "Acme Plumbing LLC",
		PassOutputs: map[string]model.PassOutput{},
	}

	industry, err := json.Marshal(model.IndustryClassification{NAICSCode: "238220"})
	require.NoError(t, err)
	r.PassOutputs["2"] = model.PassOutput{PassID: "2", Data: industry}

	for key, n := range narratives {
		data, err := json.Marshal(n)
		require.NoError(t, err)
		r.PassOutputs[key] = model.PassOutput{PassID: "5", Data: data}
	}
	return r
}

func TestBuild_EngineValuesAlwaysWin(t *testing.T) {
	reg, err := registry.Load()
	require.NoError(t, err)

	r := reportWithNarratives(t, map[string]model.NarrativeOutput{
		"5:executive_summary": {
			Text: "We conclude a value of approximately $700,000.",
			// The model restated a drifted concluded value.
			Figures: map[string]float64{"concluded_value": 700_000},
		},
	})

	doc := Build(r, testCalc(), reg)

	// Document carries the engine figure, not the narrative's.
	assert.InDelta(t, 680_000, doc.ConcludedValue, 0.01)
	require.Len(t, doc.Corrections, 1)
	assert.Equal(t, "concluded_value", doc.Corrections[0].Field)
	assert.InDelta(t, 700_000, doc.Corrections[0].NarrativeValue, 0.01)
	assert.InDelta(t, 680_000, doc.Corrections[0].EngineValue, 0.01)
}

func TestBuild_AgreementRecordsNoCorrection(t *testing.T) {
	reg, err := registry.Load()
	require.NoError(t, err)

	r := reportWithNarratives(t, map[string]model.NarrativeOutput{
		"5:valuation_discussion": {
			Text:    "The asset approach indicated $500,000.",
			Figures: map[string]float64{"asset_value": 500_000},
		},
	})

	doc := Build(r, testCalc(), reg)
	assert.Empty(t, doc.Corrections)
}

func TestBuild_SectionMetadata(t *testing.T) {
	reg, err := registry.Load()
	require.NoError(t, err)

	r := reportWithNarratives(t, map[string]model.NarrativeOutput{
		"5:company_overview": {Text: "Acme serves the metro area with twelve crews."},
	})

	doc := Build(r, testCalc(), reg)

	s, ok := doc.Sections["company_overview"]
	require.True(t, ok)
	assert.Equal(t, "Company Overview", s.Title) // registry title fills the blank
	assert.Equal(t, 500, s.WordTarget)
	assert.Equal(t, 8, s.WordCount)
	assert.Equal(t, "238220", doc.NAICSCode)

	// Missing sections are simply absent; the quality gate scores that.
	_, ok = doc.Sections["risk_factors"]
	assert.False(t, ok)
}

func TestBuild_PlainTextFallback(t *testing.T) {
	reg, err := registry.Load()
	require.NoError(t, err)

	r := reportWithNarratives(t, nil)
	// Raw non-JSON payload is preserved as plain text.
	r.PassOutputs["5:risk_factors"] = model.PassOutput{
		PassID: "5",
		Data:   json.RawMessage(`Key risks include customer concentration.`),
	}

	doc := Build(r, testCalc(), reg)
	s, ok := doc.Sections["risk_factors"]
	require.True(t, ok)
	assert.Contains(t, s.Text, "customer concentration")
}
