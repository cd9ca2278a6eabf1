package gates

import (
	"fmt"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// valueGate checks the derived market multiple against the industry ceiling
// and the concluded value against plausibility bounds. An over-ceiling
// multiple blocks finalization: it is the signature of a hallucinated comp or
// a data-entry error inflating the valuation.
type valueGate struct {
	cfg Config
}

func (g *valueGate) Name() string { return "value" }

func (g *valueGate) Check(in Input) Result {
	res := Result{Gate: g.Name(), Passed: true, Score: 100}
	if in.Calc == nil {
		res.Passed = false
		res.Score = 0
		res.Errors = append(res.Errors, Violation{Message: "no calculation output to validate"})
		return res
	}

	market := in.Calc.MarketApproach
	if market.IndicatedValue > 0 {
		ceiling := g.ceilingFor(market.Basis, in)
		if market.AdjustedMultiple > ceiling {
			res.Errors = append(res.Errors, Violation{
				Field:    "market_multiple",
				Message:  fmt.Sprintf("adjusted %s multiple exceeds industry ceiling", market.Basis),
				Expected: ceiling,
				Actual:   market.AdjustedMultiple,
			})
		}
	}

	final := in.Calc.Synthesis.FinalConcludedValue
	if final < g.cfg.MinConcludedValue {
		res.Errors = append(res.Errors, Violation{
			Field:    "concluded_value",
			Message:  "concluded value below plausible minimum",
			Expected: g.cfg.MinConcludedValue,
			Actual:   final,
		})
	}
	if final > g.cfg.MaxConcludedValue {
		res.Warnings = append(res.Warnings, Violation{
			Field:    "concluded_value",
			Message:  "concluded value unusually large; verify extracted financials",
			Expected: g.cfg.MaxConcludedValue,
			Actual:   final,
		})
	}

	if len(res.Errors) > 0 {
		res.Passed = false
		res.Score = 0
	} else if len(res.Warnings) > 0 {
		res.Score = 80
	}
	return res
}

func (g *valueGate) ceilingFor(basis model.BenefitBasis, in Input) float64 {
	var ceiling float64
	switch basis {
	case model.BasisEBITDA:
		ceiling = in.MaxEBITDAMultiple
	default:
		ceiling = in.MaxSDEMultiple
	}
	if ceiling <= 0 {
		ceiling = g.cfg.DefaultMaxMultiple
	}
	return ceiling
}
