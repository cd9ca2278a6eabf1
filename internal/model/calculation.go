package model

// BenefitBasis selects which earnings stream a valuation approach uses.
type BenefitBasis string

const (
	BasisSDE    BenefitBasis = "sde"
	BasisEBITDA BenefitBasis = "ebitda"
)

// CalculationOutput is the deterministic engine's result. It is derived (never
// the persisted source of truth for inputs) and cached on the Report so
// regeneration can skip the engine when nothing upstream changed.
//
// Invariants enforced by the engine and re-checked by the consistency gate:
// approach weights sum to 1.0 within epsilon, and FinalConcludedValue lies
// inside [ValueRange.Low, ValueRange.High].
type CalculationOutput struct {
	AssetApproach    AssetApproachResult  `json:"asset_approach"`
	IncomeApproach   IncomeApproachResult `json:"income_approach"`
	MarketApproach   MarketApproachResult `json:"market_approach"`
	WeightedEarnings WeightedEarnings     `json:"weighted_earnings"`
	Synthesis        Synthesis            `json:"synthesis"`

	// ApproachSummary lets downstream consumers read indicated values and
	// weights without re-deriving them from the per-approach blocks.
	ApproachSummary []ApproachValue `json:"approach_summary"`
}

// ApproachValue is one row of the approach summary.
type ApproachValue struct {
	Approach       string  `json:"approach"`
	IndicatedValue float64 `json:"indicated_value"`
	Weight         float64 `json:"weight"`
	Available      bool    `json:"available"`
}

// AssetApproachResult is book equity adjusted to fair value.
type AssetApproachResult struct {
	BookEquity           float64 `json:"book_equity"`
	AssetAdjustments     float64 `json:"asset_adjustments"`
	LiabilityAdjustments float64 `json:"liability_adjustments"`
	AdjustedNetAssets    float64 `json:"adjusted_net_assets"`
}

// CapRateBuildUp itemizes the capitalization rate components.
type CapRateBuildUp struct {
	RiskFreeRate           float64 `json:"risk_free_rate"`
	EquityRiskPremium      float64 `json:"equity_risk_premium"`
	SizePremium            float64 `json:"size_premium"`
	IndustryRiskPremium    float64 `json:"industry_risk_premium"`
	CompanySpecificPremium float64 `json:"company_specific_premium"`
	DiscountRate           float64 `json:"discount_rate"`
	LongTermGrowthRate     float64 `json:"long_term_growth_rate"`
	CapRate                float64 `json:"cap_rate"`
}

// IncomeApproachResult capitalizes the selected benefit stream.
type IncomeApproachResult struct {
	Basis          BenefitBasis   `json:"basis"`
	BenefitStream  float64        `json:"benefit_stream"`
	BuildUp        CapRateBuildUp `json:"build_up"`
	IndicatedValue float64        `json:"indicated_value"`
}

// MarketApproachResult applies a risk-adjusted industry multiple.
type MarketApproachResult struct {
	Basis            BenefitBasis `json:"basis"`
	BenefitStream    float64      `json:"benefit_stream"`
	BaseMultiple     float64      `json:"base_multiple"`
	AdjustedMultiple float64      `json:"adjusted_multiple"`
	IndicatedValue   float64      `json:"indicated_value"`
}

// WeightedEarnings holds the recency-weighted benefit streams across fiscal
// years, computed once and reused by the income and market approaches.
type WeightedEarnings struct {
	SDE        float64 `json:"sde"`
	EBITDA     float64 `json:"ebitda"`
	YearsUsed  int     `json:"years_used"`
	MostRecent int     `json:"most_recent_year"`
}

// Synthesis combines the approach values into the concluded value and range.
type Synthesis struct {
	PreliminaryValue    float64    `json:"preliminary_value"`
	DLOM                float64    `json:"dlom"`
	DLOMAmount          float64    `json:"dlom_amount"`
	ControlAdjustment   float64    `json:"control_adjustment"`
	FinalConcludedValue float64    `json:"final_concluded_value"`
	ValueRange          ValueRange `json:"value_range"`
}

// RangeSource records how the value range was derived.
type RangeSource string

const (
	RangeFromDispersion RangeSource = "dispersion"
	RangeFromFallback   RangeSource = "fallback"
)

// ValueRange is the ± band around the concluded value.
type ValueRange struct {
	Low    float64     `json:"low"`
	High   float64     `json:"high"`
	Source RangeSource `json:"source"`
}
