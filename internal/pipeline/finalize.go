package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-pipeline/internal/gates"
	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/reconcile"
	"github.com/sells-group/valuation-pipeline/internal/registry"
	"github.com/sells-group/valuation-pipeline/internal/valuation"
)

// finalize runs the engine, reconciliation, and the gate chain once every
// pass output is persisted. A gate block leaves the report processing so a
// corrected upstream pass can be re-run and finalization retried; only a
// clean verdict completes the report.
func (o *Orchestrator) finalize(ctx context.Context, r *model.Report) (*Result, error) {
	calc, err := o.compute(ctx, r)
	if err != nil {
		return o.failWithMessage(ctx, r, fmt.Sprintf("calculation failed: %s", err))
	}

	doc := reconcile.Build(r, calc, o.reg)
	verdict := o.runGates(ctx, r, calc, doc)
	if !verdict.Passed {
		return &Result{
			Status:  StatusBlocked,
			Pass:    r.CurrentPass,
			Blocked: rejectionFrom(o.reg, verdict),
		}, nil
	}

	if err := o.store.SaveReportData(ctx, r.ID, doc); err != nil {
		return nil, err
	}
	if err := o.store.UpdateReportStatus(ctx, r.ID, model.ReportStatusCompleted, ""); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: report completed",
		zap.String("report_id", r.ID),
		zap.Float64("concluded_value", calc.Synthesis.FinalConcludedValue))
	return &Result{Status: StatusCompleted, Pass: r.CurrentPass}, nil
}

// compute runs the engine from stored extraction outputs and persists the
// result before it is used downstream.
func (o *Orchestrator) compute(ctx context.Context, r *model.Report) (*model.CalculationOutput, error) {
	in, err := valuation.InputsFromReport(r)
	if err != nil {
		return nil, err
	}
	calc, err := valuation.Compute(in, o.cfg.Valuation)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveCalculation(ctx, r.ID, calc); err != nil {
		return nil, err
	}
	r.Calculation = calc
	return calc, nil
}

// runGates assembles the read-only gate input, resolving the industry's
// multiple ceilings from the benchmark table when a classification exists.
func (o *Orchestrator) runGates(ctx context.Context, r *model.Report, calc *model.CalculationOutput, doc *model.ReportDocument) gates.Verdict {
	in := gates.Input{Report: r, Calc: calc, Doc: doc}
	if ind, err := model.IndustryFrom(r); err == nil {
		in.Industry = ind
		if b, bErr := o.store.GetBenchmark(ctx, ind.NAICSCode); bErr == nil && b != nil {
			in.MaxSDEMultiple = b.SDEMultipleMax
			in.MaxEBITDAMultiple = b.EBITDAMultipleMax
		}
	}
	return gates.NewChain(o.cfg.Gates).Run(in)
}

// RegenerateResult is the payload of a regeneration request: either the
// regenerated document, or the missing passes / gate diagnostics explaining
// why it could not be produced.
type RegenerateResult struct {
	Success       bool                  `json:"success"`
	MissingPasses []string              `json:"missing_passes,omitempty"`
	Gates         []gates.Result        `json:"gates,omitempty"`
	Hint          string                `json:"hint,omitempty"`
	Document      *model.ReportDocument `json:"document,omitempty"`
}

// Regenerate re-runs the engine, reconciliation, and gates from stored pass
// outputs only, never re-invoking the generation service. Missing outputs are
// reported back by key so the caller can re-run exactly the absent passes.
func (o *Orchestrator) Regenerate(ctx context.Context, reportID string) (*RegenerateResult, error) {
	r, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, eris.Wrapf(ErrNotFound, "report %s", reportID)
	}

	if missing := registry.MissingOutputs(r, o.reg.AllKeys()); len(missing) > 0 {
		return &RegenerateResult{
			Success:       false,
			MissingPasses: missing,
			Hint:          "re-run the passes producing the missing outputs before regenerating",
		}, nil
	}

	calc, err := o.compute(ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: regenerate")
	}

	doc := reconcile.Build(r, calc, o.reg)
	verdict := o.runGates(ctx, r, calc, doc)
	if !verdict.Passed {
		rej := rejectionFrom(o.reg, verdict)
		return &RegenerateResult{
			Success: false,
			Gates:   verdict.Results,
			Hint:    rej.Hint,
		}, nil
	}

	if err := o.store.SaveReportData(ctx, r.ID, doc); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: report regenerated", zap.String("report_id", reportID))
	return &RegenerateResult{Success: true, Gates: verdict.Results, Document: doc}, nil
}

// rejectionFrom builds the structured block payload, including a hint naming
// the minimal corrective action for the first blocking gate.
func rejectionFrom(reg *registry.Registry, verdict gates.Verdict) *Rejection {
	rej := &Rejection{Gates: verdict.Results}
	if blocked := verdict.Blocking(); len(blocked) > 0 {
		rej.Hint = hintFor(reg, blocked[0])
	}
	return rej
}

// hintFor maps a blocking gate to the upstream pass most likely at fault.
func hintFor(reg *registry.Registry, result gates.Result) string {
	passByKey := func(key string) string {
		for _, p := range reg.Passes() {
			if p.Key == key {
				return fmt.Sprintf("re-run pass %d (%s)", p.ID, p.Name)
			}
		}
		return "re-run the implicated pass"
	}

	switch result.Gate {
	case "consistency":
		return passByKey("narrative")
	case "industry":
		if len(result.Errors) > 0 && result.Errors[0].Field != "" {
			return fmt.Sprintf("re-run narrative section %q or re-run the industry classification pass",
				result.Errors[0].Field)
		}
		return passByKey("industry_classification")
	case "value":
		return passByKey("market_comps")
	default:
		if len(result.Errors) > 0 {
			return fmt.Sprintf("quality below threshold: %s", strings.TrimSpace(result.Errors[0].Message))
		}
		return "quality below threshold; re-run the weakest pass"
	}
}
