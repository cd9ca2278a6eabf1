package gates

import (
	"fmt"
	"math"
)

// consistencyGate cross-checks every numeric value surfaced in the final
// document against the engine's authoritative figures. The engine is always
// right; any displayed value drifting past the tolerance blocks finalization.
type consistencyGate struct {
	tolerance float64
}

func (g *consistencyGate) Name() string { return "consistency" }

func (g *consistencyGate) Check(in Input) Result {
	res := Result{Gate: g.Name(), Passed: true, Score: 100}
	if in.Calc == nil {
		res.Passed = false
		res.Score = 0
		res.Errors = append(res.Errors, Violation{Message: "no calculation output to validate against"})
		return res
	}
	if in.Doc == nil {
		res.Passed = false
		res.Score = 0
		res.Errors = append(res.Errors, Violation{Message: "no report document to validate"})
		return res
	}

	checks := []struct {
		field    string
		shown    float64
		computed float64
	}{
		{"asset_value", in.Doc.AssetValue, in.Calc.AssetApproach.AdjustedNetAssets},
		{"income_value", in.Doc.IncomeValue, in.Calc.IncomeApproach.IndicatedValue},
		{"market_value", in.Doc.MarketValue, in.Calc.MarketApproach.IndicatedValue},
		{"market_multiple", in.Doc.MarketMultiple, in.Calc.MarketApproach.AdjustedMultiple},
		{"concluded_value", in.Doc.ConcludedValue, in.Calc.Synthesis.FinalConcludedValue},
		{"value_low", in.Doc.ValueLow, in.Calc.Synthesis.ValueRange.Low},
		{"value_high", in.Doc.ValueHigh, in.Calc.Synthesis.ValueRange.High},
	}

	for _, c := range checks {
		if !withinTolerance(c.shown, c.computed, g.tolerance) {
			res.Errors = append(res.Errors, Violation{
				Field:    c.field,
				Message:  fmt.Sprintf("displayed %s diverges from engine value", c.field),
				Expected: c.computed,
				Actual:   c.shown,
			})
		}
	}

	// Internal engine invariants, re-checked independently of the document.
	var weightSum float64
	for _, a := range in.Calc.ApproachSummary {
		weightSum += a.Weight
	}
	if math.Abs(weightSum-1.0) > 1e-6 {
		res.Errors = append(res.Errors, Violation{
			Field:    "weights",
			Message:  "approach weights do not sum to 1",
			Expected: 1.0,
			Actual:   weightSum,
		})
	}

	rng := in.Calc.Synthesis.ValueRange
	final := in.Calc.Synthesis.FinalConcludedValue
	if final < rng.Low || final > rng.High {
		res.Errors = append(res.Errors, Violation{
			Field:   "value_range",
			Message: "concluded value falls outside its own range",
			Actual:  final,
		})
	}

	if len(res.Errors) > 0 {
		res.Passed = false
		res.Score = math.Max(0, 100-20*float64(len(res.Errors)))
	}
	return res
}

// withinTolerance compares relatively, falling back to an absolute check near
// zero so a $0 figure does not demand exact equality against rounding noise.
func withinTolerance(a, b, tol float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff <= tol
	}
	return diff/scale <= tol
}
