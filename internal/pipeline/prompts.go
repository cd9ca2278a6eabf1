package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/registry"
	"github.com/sells-group/valuation-pipeline/pkg/anthropic"
)

// benchmarkToolName is the lookup tool offered to research-enabled passes.
// The service answers it from the stored per-industry multiple table.
const benchmarkToolName = "lookup_market_multiples"

// systemPrompts holds the per-pass system instruction, keyed by pass key.
var systemPrompts = map[string]string{
	"financial_statements": "You are a financial analyst extracting structured data from small-business " +
		"financial documents. Extract every fiscal year's income statement lines and the most recent " +
		"balance sheet. Respond with a single JSON object matching the requested schema, no prose.",
	"normalization": "You are a valuation analyst normalizing owner earnings. Identify discretionary " +
		"addbacks per fiscal year and itemized fair-value adjustments to balance sheet lines. " +
		"Amounts are signed. Respond with a single JSON object, no prose.",
	"industry_classification": "You are an industry analyst. Classify the business under the most " +
		"specific applicable NAICS code and summarize the sector outlook. " +
		"Respond with a single JSON object, no prose.",
	"market_comps": "You are a valuation analyst selecting market comparables. Derive SDE and EBITDA " +
		"multiples for the classified industry, state the preferred benefit basis, and quantify a " +
		"company-specific risk adjustment. Use the lookup tool when industry benchmark data would " +
		"improve the multiples. Respond with a single JSON object, no prose.",
	"risk_assessment": "You are a valuation analyst building a capitalization rate. Provide the " +
		"build-up components as decimal rates and the factors behind the company-specific premium. " +
		"Respond with a single JSON object, no prose.",
	"narrative": "You are writing one section of a professional business valuation report. Write " +
		"clear, client-ready prose grounded strictly in the supplied data; never invent figures. " +
		"Respond with a JSON object {\"title\", \"text\", \"figures\"} where figures restates every " +
		"dollar amount you used, keyed by its field name.",
}

// salvageFields lists, per pass key, the scalar fields worth recovering when
// structural parsing fails outright. Passes whose payload is useless without
// structure list none.
var salvageFields = map[string][]string{
	"industry_classification": {"naics_code"},
	"market_comps":            {"sde_multiple"},
	"risk_assessment":         {"company_specific_premium"},
	"narrative":               {"text"},
}

// buildRequest assembles the generation request for a pass (and section, for
// narrative passes) from the report's persisted state.
func (o *Orchestrator) buildRequest(r *model.Report, pass registry.Pass, section string) anthropic.GenerationRequest {
	req := anthropic.GenerationRequest{
		Model:       o.cfg.ExtractionModel,
		MaxTokens:   pass.TokenBudget,
		Temperature: pass.Temperature,
		System:      systemPrompts[pass.Key],
		Context:     o.buildContext(r, pass, section),
	}
	if pass.Kind == registry.KindNarrative {
		req.Model = o.cfg.NarrativeModel
	}
	if pass.Research {
		req.Tools = []anthropic.ToolDef{benchmarkTool()}
	}
	return req
}

func benchmarkTool() anthropic.ToolDef {
	return anthropic.ToolDef{
		Name: benchmarkToolName,
		Description: "Look up maximum observed SDE and EBITDA valuation multiples " +
			"for a NAICS industry code from the benchmark transaction database.",
		Properties: map[string]any{
			"naics_code": map[string]any{
				"type":        "string",
				"description": "NAICS industry code, 2 to 6 digits",
			},
		},
		Required: []string{"naics_code"},
	}
}

// buildContext concatenates the company header, the dependency outputs named
// by the registry, and the source documents for passes with no dependencies.
func (o *Orchestrator) buildContext(r *model.Report, pass registry.Pass, section string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Company: %s\n", r.CompanyName)
	if r.Intake.NAICSCode != "" {
		fmt.Fprintf(&b, "Stated NAICS code: %s\n", r.Intake.NAICSCode)
	}
	if r.Intake.Notes != "" {
		fmt.Fprintf(&b, "Engagement notes: %s\n", r.Intake.Notes)
	}

	if section != "" {
		for _, s := range pass.Sections {
			if s.Key == section {
				fmt.Fprintf(&b, "\nSection to write: %s (target length %d words)\n", s.Title, s.WordTarget)
				break
			}
		}
	}

	depKeys := o.reg.DependencyKeys(pass, section)
	for _, key := range depKeys {
		out, ok := r.Output(key)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", outputLabel(o.reg, key), string(out.Data))
	}

	if len(depKeys) == 0 {
		for _, doc := range r.Intake.Documents {
			fmt.Fprintf(&b, "\n--- Document: %s ---\n%s\n", doc.Name, doc.Text)
		}
	}

	return b.String()
}

// outputLabel names a dependency block in the assembled context.
func outputLabel(reg *registry.Registry, key string) string {
	var id int
	if _, err := fmt.Sscanf(key, "%d", &id); err == nil {
		if p, ok := reg.Pass(id); ok {
			return p.Name
		}
	}
	return key
}

// passSalvageFields returns the salvage field list for a pass.
func passSalvageFields(pass registry.Pass) []string {
	return salvageFields[pass.Key]
}
