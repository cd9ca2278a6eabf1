package valuation

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// YearEarnings is one fiscal year's normalized benefit streams.
type YearEarnings struct {
	Year   int
	SDE    decimal.Decimal
	EBITDA decimal.Decimal
}

// Inputs is everything the engine needs, assembled from persisted pass
// outputs. Building Inputs is the only step that touches pass schemas; Compute
// itself is pure arithmetic.
type Inputs struct {
	Years                []YearEarnings
	BookEquity           decimal.Decimal
	AssetAdjustments     []model.FairValueAdjustment
	LiabilityAdjustments []model.FairValueAdjustment
	Risk                 model.RiskAssessment
	Comps                model.MarketComps
}

// BuildInputs derives engine inputs from the extraction pass outputs.
// EBITDA = net income + interest + taxes + depreciation + amortization;
// SDE adds officer compensation and the year's normalization addbacks.
func BuildInputs(
	fin *model.FinancialStatements,
	adj *model.NormalizationAdjustments,
	comps *model.MarketComps,
	risk *model.RiskAssessment,
) (*Inputs, error) {
	if fin == nil {
		return nil, eris.New("valuation: financial statements are required")
	}
	if len(fin.FiscalYears) == 0 {
		return nil, eris.New("valuation: no fiscal years in financial statements")
	}

	addbacksByYear := make(map[int]decimal.Decimal)
	if adj != nil {
		for _, a := range adj.Addbacks {
			addbacksByYear[a.Year] = addbacksByYear[a.Year].Add(decimal.NewFromFloat(a.Amount))
		}
	}

	years := make([]YearEarnings, 0, len(fin.FiscalYears))
	for _, fy := range fin.FiscalYears {
		ebitda := decimal.NewFromFloat(fy.NetIncome).
			Add(decimal.NewFromFloat(fy.InterestExpense)).
			Add(decimal.NewFromFloat(fy.Taxes)).
			Add(decimal.NewFromFloat(fy.Depreciation)).
			Add(decimal.NewFromFloat(fy.Amortization))
		sde := ebitda.
			Add(decimal.NewFromFloat(fy.OfficerCompensation)).
			Add(addbacksByYear[fy.Year])
		years = append(years, YearEarnings{Year: fy.Year, SDE: sde, EBITDA: ebitda})
	}
	// Most recent first; the recency weighting below depends on this order.
	sort.Slice(years, func(i, j int) bool { return years[i].Year > years[j].Year })

	in := &Inputs{
		Years:      years,
		BookEquity: decimal.NewFromFloat(fin.BalanceSheet.BookEquity),
	}
	if adj != nil {
		in.AssetAdjustments = adj.AssetAdjustments
		in.LiabilityAdjustments = adj.LiabilityAdjustments
	}
	if comps != nil {
		in.Comps = *comps
	}
	if risk != nil {
		in.Risk = *risk
	}
	return in, nil
}

// InputsFromReport assembles engine inputs from a report's stored pass
// outputs, so the engine can run standalone during regeneration.
func InputsFromReport(r *model.Report) (*Inputs, error) {
	fin, err := model.FinancialsFrom(r)
	if err != nil {
		return nil, err
	}
	// Normalization, comps, and risk are tolerated missing: the engine marks
	// the affected approaches unavailable and renormalizes weights.
	adj, _ := model.AdjustmentsFrom(r)
	comps, _ := model.CompsFrom(r)
	risk, _ := model.RiskFrom(r)

	return BuildInputs(fin, adj, comps, risk)
}
