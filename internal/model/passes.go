package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Typed payloads for the known extraction passes. Pass outputs are stored as
// raw JSON keyed by pass id; these accessors are the only place that knowledge
// of each pass's schema lives, so downstream code never walks untyped maps.

// FinancialStatements is the pass 0 payload: income statement lines per fiscal
// year plus the most recent balance sheet.
type FinancialStatements struct {
	FiscalYears  []FiscalYearData `json:"fiscal_years"`
	BalanceSheet BalanceSheet     `json:"balance_sheet"`
}

// FiscalYearData holds one year of income statement figures.
type FiscalYearData struct {
	Year                int     `json:"year"`
	Revenue             float64 `json:"revenue"`
	CostOfGoodsSold     float64 `json:"cost_of_goods_sold"`
	OperatingExpenses   float64 `json:"operating_expenses"`
	OfficerCompensation float64 `json:"officer_compensation"`
	Depreciation        float64 `json:"depreciation"`
	Amortization        float64 `json:"amortization"`
	InterestExpense     float64 `json:"interest_expense"`
	Taxes               float64 `json:"taxes"`
	NetIncome           float64 `json:"net_income"`
}

// BalanceSheet holds the reported book figures used by the asset approach.
type BalanceSheet struct {
	AsOfYear         int     `json:"as_of_year"`
	TotalAssets      float64 `json:"total_assets"`
	TotalLiabilities float64 `json:"total_liabilities"`
	BookEquity       float64 `json:"book_equity"`
}

// NormalizationAdjustments is the pass 1 payload: owner addbacks per year and
// itemized fair-value adjustments to the balance sheet.
type NormalizationAdjustments struct {
	Addbacks             []Addback             `json:"addbacks"`
	AssetAdjustments     []FairValueAdjustment `json:"asset_adjustments"`
	LiabilityAdjustments []FairValueAdjustment `json:"liability_adjustments"`
}

// Addback is a single normalization addback tied to a fiscal year.
type Addback struct {
	Year        int     `json:"year"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// FairValueAdjustment restates one balance sheet line to fair value. Amounts
// are signed: a positive asset adjustment increases adjusted net assets, a
// positive liability adjustment decreases them.
type FairValueAdjustment struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// IndustryClassification is the pass 2 payload.
type IndustryClassification struct {
	NAICSCode      string `json:"naics_code"`
	SectorName     string `json:"sector_name"`
	Description    string `json:"description"`
	OutlookSummary string `json:"outlook_summary,omitempty"`
}

// MarketComps is the pass 3 payload: industry or transaction-derived multiples
// plus a company-specific adjustment applied by the market approach.
type MarketComps struct {
	SDEMultiple    float64      `json:"sde_multiple"`
	EBITDAMultiple float64      `json:"ebitda_multiple"`
	PreferredBasis BenefitBasis `json:"preferred_basis"`
	Source         string       `json:"source,omitempty"`
	RiskAdjustment float64      `json:"risk_adjustment"`
}

// RiskAssessment is the pass 4 payload: cap-rate build-up components and the
// factors behind the company-specific premium.
type RiskAssessment struct {
	RiskFreeRate           float64      `json:"risk_free_rate"`
	EquityRiskPremium      float64      `json:"equity_risk_premium"`
	SizePremium            float64      `json:"size_premium"`
	IndustryRiskPremium    float64      `json:"industry_risk_premium"`
	CompanySpecificPremium float64      `json:"company_specific_premium"`
	LongTermGrowthRate     float64      `json:"long_term_growth_rate"`
	Factors                []RiskFactor `json:"factors,omitempty"`
}

// RiskFactor is one contributor to the company-specific premium.
type RiskFactor struct {
	Name      string  `json:"name"`
	Impact    float64 `json:"impact"`
	Rationale string  `json:"rationale,omitempty"`
}

// NarrativeOutput is the payload of every narrative sub-pass. Figures is the
// model's restatement of key numbers it wove into the prose; reconciliation
// compares these against the engine and never lets them override it.
type NarrativeOutput struct {
	Title   string             `json:"title,omitempty"`
	Text    string             `json:"text"`
	Figures map[string]float64 `json:"figures,omitempty"`
}

func decodeOutput[T any](r *Report, key string) (*T, error) {
	out, ok := r.PassOutputs[key]
	if !ok {
		return nil, eris.Errorf("model: pass output %q missing", key)
	}
	var v T
	if err := json.Unmarshal(out.Data, &v); err != nil {
		return nil, eris.Wrapf(err, "model: decode pass output %q", key)
	}
	return &v, nil
}

// FinancialsFrom decodes the pass 0 output.
func FinancialsFrom(r *Report) (*FinancialStatements, error) {
	return decodeOutput[FinancialStatements](r, "0")
}

// AdjustmentsFrom decodes the pass 1 output.
func AdjustmentsFrom(r *Report) (*NormalizationAdjustments, error) {
	return decodeOutput[NormalizationAdjustments](r, "1")
}

// IndustryFrom decodes the pass 2 output.
func IndustryFrom(r *Report) (*IndustryClassification, error) {
	return decodeOutput[IndustryClassification](r, "2")
}

// CompsFrom decodes the pass 3 output.
func CompsFrom(r *Report) (*MarketComps, error) {
	return decodeOutput[MarketComps](r, "3")
}

// RiskFrom decodes the pass 4 output.
func RiskFrom(r *Report) (*RiskAssessment, error) {
	return decodeOutput[RiskAssessment](r, "4")
}

// NarrativeFrom decodes a narrative sub-pass output by its composite key
// (e.g. "5:executive_summary"). Unknown or parse-failed payloads fall back to
// treating the raw data as plain text so a malformed section never loses the
// generated prose.
func NarrativeFrom(r *Report, key string) (*NarrativeOutput, error) {
	out, ok := r.PassOutputs[key]
	if !ok {
		return nil, eris.Errorf("model: pass output %q missing", key)
	}
	var v NarrativeOutput
	if err := json.Unmarshal(out.Data, &v); err == nil && v.Text != "" {
		return &v, nil
	}
	return &NarrativeOutput{Text: string(out.Data)}, nil
}
