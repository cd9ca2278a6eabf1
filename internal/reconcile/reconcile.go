// Package reconcile merges AI-authored narrative sections with the
// calculation engine's figures into the final report document. The engine is
// authoritative: a figure the narrative restated differently is replaced and
// the correction recorded, never silently accepted.
package reconcile

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/registry"
)

// figureTolerance is the relative drift allowed between a narrative-restated
// figure and the engine value before a correction is recorded. Matches the
// consistency gate's default so reconciled documents pass it.
const figureTolerance = 0.005

// Build assembles the final report document from the report's narrative
// outputs and the engine's calculation output.
func Build(r *model.Report, calc *model.CalculationOutput, reg *registry.Registry) *model.ReportDocument {
	doc := &model.ReportDocument{
		CompanyName: r.CompanyName,
		Sections:    make(map[string]model.NarrativeSection),
		GeneratedAt: time.Now().UTC(),
	}

	if industry, err := model.IndustryFrom(r); err == nil {
		doc.NAICSCode = industry.NAICSCode
	}

	applyEngineFigures(doc, calc)

	engine := engineFigures(calc)
	for _, p := range reg.Passes() {
		if p.Kind != registry.KindNarrative {
			continue
		}
		for _, s := range p.Sections {
			key := fmt.Sprintf("%d:%s", p.ID, s.Key)
			out, err := model.NarrativeFrom(r, key)
			if err != nil {
				continue
			}
			title := out.Title
			if title == "" {
				title = s.Title
			}
			doc.Sections[s.Key] = model.NarrativeSection{
				Key:        s.Key,
				Title:      title,
				Text:       out.Text,
				WordTarget: s.WordTarget,
				WordCount:  len(strings.Fields(out.Text)),
			}
			doc.Corrections = append(doc.Corrections, corrections(out.Figures, engine)...)
		}
	}

	for _, c := range doc.Corrections {
		zap.L().Info("reconcile: narrative figure corrected",
			zap.String("report_id", r.ID),
			zap.String("field", c.Field),
			zap.Float64("narrative", c.NarrativeValue),
			zap.Float64("engine", c.EngineValue),
		)
	}
	return doc
}

// applyEngineFigures writes the authoritative numbers into the document.
func applyEngineFigures(doc *model.ReportDocument, calc *model.CalculationOutput) {
	if calc == nil {
		return
	}
	doc.AssetValue = calc.AssetApproach.AdjustedNetAssets
	doc.IncomeValue = calc.IncomeApproach.IndicatedValue
	doc.MarketValue = calc.MarketApproach.IndicatedValue
	doc.MarketMultiple = calc.MarketApproach.AdjustedMultiple
	doc.ConcludedValue = calc.Synthesis.FinalConcludedValue
	doc.ValueLow = calc.Synthesis.ValueRange.Low
	doc.ValueHigh = calc.Synthesis.ValueRange.High
}

func engineFigures(calc *model.CalculationOutput) map[string]float64 {
	if calc == nil {
		return nil
	}
	return map[string]float64{
		"asset_value":     calc.AssetApproach.AdjustedNetAssets,
		"income_value":    calc.IncomeApproach.IndicatedValue,
		"market_value":    calc.MarketApproach.IndicatedValue,
		"market_multiple": calc.MarketApproach.AdjustedMultiple,
		"concluded_value": calc.Synthesis.FinalConcludedValue,
		"value_low":       calc.Synthesis.ValueRange.Low,
		"value_high":      calc.Synthesis.ValueRange.High,
	}
}

// corrections compares the narrative's restated figures against the engine.
// Unknown figure names are ignored; they carry no authority either way.
func corrections(figures, engine map[string]float64) []model.ReconcileCorrection {
	var out []model.ReconcileCorrection
	for field, narrative := range figures {
		computed, ok := engine[field]
		if !ok {
			continue
		}
		if drifted(narrative, computed) {
			out = append(out, model.ReconcileCorrection{
				Field:          field,
				NarrativeValue: narrative,
				EngineValue:    computed,
			})
		}
	}
	return out
}

func drifted(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff > figureTolerance
	}
	return diff/scale > figureTolerance
}
