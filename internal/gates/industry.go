package gates

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// sectorKeywords maps a 2-digit NAICS sector prefix to terms distinctive of
// that sector. A narrative mentioning another sector's terms is treated as
// contaminated output (the model drifted onto the wrong business), which is a
// blocking defect: a plumbing valuation must not discuss menu pricing.
var sectorKeywords = map[string][]string{
	"23": {"plumbing", "hvac", "electrical contractor", "roofing", "subcontractor", "jobsite"},
	"31": {"assembly line", "fabrication plant", "production run", "factory floor"},
	"44": {"storefront", "point of sale", "retail floor", "merchandising", "shoplifting"},
	"48": {"freight", "trucking fleet", "linehaul", "dispatch routes"},
	"54": {"billable hours", "client engagements", "retainer agreements"},
	"62": {"patient census", "reimbursement rates", "medicare billing", "clinical staff"},
	"72": {"menu", "diners", "food cost", "table turnover", "banquet", "catering orders"},
	"81": {"repair bays", "service bays", "dry cleaning", "grooming"},
}

// industryGate scans narrative text for keywords belonging to a different
// industry sector than the one classified in pass 2.
type industryGate struct{}

func (g *industryGate) Name() string { return "industry" }

func (g *industryGate) Check(in Input) Result {
	res := Result{Gate: g.Name(), Passed: true, Score: 100}
	if in.Doc == nil || len(in.Doc.Sections) == 0 {
		return res
	}
	if in.Industry == nil || len(in.Industry.NAICSCode) < 2 {
		// Without a classification there is nothing to check against.
		res.Warnings = append(res.Warnings, Violation{Message: "no industry classification available; skipping keyword scan"})
		return res
	}

	sector := in.Industry.NAICSCode[:2]
	fold := cases.Fold()

	for key, section := range in.Doc.Sections {
		text := fold.String(section.Text)
		for otherSector, keywords := range sectorKeywords {
			if otherSector == sector {
				continue
			}
			for _, kw := range keywords {
				idx := strings.Index(text, fold.String(kw))
				if idx < 0 {
					continue
				}
				res.Errors = append(res.Errors, Violation{
					Field:   key,
					Message: fmt.Sprintf("narrative mentions %q, a sector %s term, but company is classified in sector %s", kw, otherSector, sector),
					Snippet: snippet(section.Text, idx, len(kw)),
				})
			}
		}
	}

	if len(res.Errors) > 0 {
		res.Passed = false
		res.Score = 0
	}
	return res
}

// snippet returns the matched keyword with surrounding context for operator
// review. Offsets are approximate when folding changed text length.
func snippet(text string, idx, matchLen int) string {
	const pad = 40
	start := idx - pad
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + pad
	if end > len(text) {
		end = len(text)
	}
	if start >= len(text) {
		return ""
	}
	return strings.TrimSpace(text[start:end])
}
