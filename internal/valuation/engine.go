// Package valuation is the deterministic calculation engine: typed financial
// inputs in, a full asset/income/market valuation with synthesis out. It does
// no I/O and never consults generated narrative, so it can run standalone
// whenever extraction outputs already exist.
package valuation

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// WeightEpsilon is the tolerance on the approach-weight sum invariant.
const WeightEpsilon = 1e-6

// Recency weights for benefit-stream averaging, most recent year first.
var recencyWeights = []int64{3, 2, 1}

// Config holds the synthesis parameters. Zero values fall back to defaults so
// a partially populated config file still produces a sane valuation.
type Config struct {
	AssetWeight       float64 `yaml:"asset_weight" mapstructure:"asset_weight"`
	IncomeWeight      float64 `yaml:"income_weight" mapstructure:"income_weight"`
	MarketWeight      float64 `yaml:"market_weight" mapstructure:"market_weight"`
	DLOM              float64 `yaml:"dlom" mapstructure:"dlom"`
	ControlAdjustment float64 `yaml:"control_adjustment" mapstructure:"control_adjustment"`
	FallbackRangePct  float64 `yaml:"fallback_range_pct" mapstructure:"fallback_range_pct"`
}

// DefaultConfig returns the standard 20/40/40 weighting with a 15% DLOM.
func DefaultConfig() Config {
	return Config{
		AssetWeight:      0.20,
		IncomeWeight:     0.40,
		MarketWeight:     0.40,
		DLOM:             0.15,
		FallbackRangePct: 0.10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AssetWeight == 0 && c.IncomeWeight == 0 && c.MarketWeight == 0 {
		c.AssetWeight, c.IncomeWeight, c.MarketWeight = def.AssetWeight, def.IncomeWeight, def.MarketWeight
	}
	if c.DLOM == 0 {
		c.DLOM = def.DLOM
	}
	if c.FallbackRangePct == 0 {
		c.FallbackRangePct = def.FallbackRangePct
	}
	return c
}

// Compute runs the full valuation. It is a pure function of its arguments.
func Compute(in *Inputs, cfg Config) (*model.CalculationOutput, error) {
	if in == nil {
		return nil, eris.New("valuation: nil inputs")
	}
	cfg = cfg.withDefaults()

	earnings := weightedEarnings(in.Years)
	asset := assetApproach(in)
	income := incomeApproach(in, earnings)
	market := marketApproach(in, earnings)

	out := &model.CalculationOutput{
		AssetApproach:    asset,
		IncomeApproach:   income,
		MarketApproach:   market,
		WeightedEarnings: earnings,
	}

	summary, err := weigh(cfg, asset, income, market)
	if err != nil {
		return nil, err
	}
	out.ApproachSummary = summary

	synth, err := synthesize(cfg, summary)
	if err != nil {
		return nil, err
	}
	out.Synthesis = synth

	return out, nil
}

// weightedEarnings averages SDE and EBITDA over up to three fiscal years with
// 3:2:1 recency weights normalized by the sum of weights actually used.
func weightedEarnings(years []YearEarnings) model.WeightedEarnings {
	we := model.WeightedEarnings{}
	if len(years) == 0 {
		return we
	}

	n := len(years)
	if n > len(recencyWeights) {
		n = len(recencyWeights)
	}

	var sdeSum, ebitdaSum decimal.Decimal
	var weightSum int64
	for i := 0; i < n; i++ {
		w := decimal.NewFromInt(recencyWeights[i])
		sdeSum = sdeSum.Add(years[i].SDE.Mul(w))
		ebitdaSum = ebitdaSum.Add(years[i].EBITDA.Mul(w))
		weightSum += recencyWeights[i]
	}
	div := decimal.NewFromInt(weightSum)

	we.SDE = sdeSum.Div(div).InexactFloat64()
	we.EBITDA = ebitdaSum.Div(div).InexactFloat64()
	we.YearsUsed = n
	we.MostRecent = years[0].Year
	return we
}

func assetApproach(in *Inputs) model.AssetApproachResult {
	assetAdj := sumAdjustments(in.AssetAdjustments)
	liabAdj := sumAdjustments(in.LiabilityAdjustments)
	adjusted := in.BookEquity.Add(assetAdj).Sub(liabAdj)

	return model.AssetApproachResult{
		BookEquity:           in.BookEquity.InexactFloat64(),
		AssetAdjustments:     assetAdj.InexactFloat64(),
		LiabilityAdjustments: liabAdj.InexactFloat64(),
		AdjustedNetAssets:    adjusted.InexactFloat64(),
	}
}

func sumAdjustments(adjs []model.FairValueAdjustment) decimal.Decimal {
	var sum decimal.Decimal
	for _, a := range adjs {
		sum = sum.Add(decimal.NewFromFloat(a.Amount))
	}
	return sum
}

func incomeApproach(in *Inputs, earnings model.WeightedEarnings) model.IncomeApproachResult {
	basis, stream := selectBenefitStream(in.Comps.PreferredBasis, earnings)

	r := in.Risk
	discount := r.RiskFreeRate + r.EquityRiskPremium + r.SizePremium +
		r.IndustryRiskPremium + r.CompanySpecificPremium
	capRate := discount - r.LongTermGrowthRate

	result := model.IncomeApproachResult{
		Basis:         basis,
		BenefitStream: stream,
		BuildUp: model.CapRateBuildUp{
			RiskFreeRate:           r.RiskFreeRate,
			EquityRiskPremium:      r.EquityRiskPremium,
			SizePremium:            r.SizePremium,
			IndustryRiskPremium:    r.IndustryRiskPremium,
			CompanySpecificPremium: r.CompanySpecificPremium,
			DiscountRate:           discount,
			LongTermGrowthRate:     r.LongTermGrowthRate,
			CapRate:                capRate,
		},
	}

	if capRate > 0 && stream > 0 {
		result.IndicatedValue = decimal.NewFromFloat(stream).
			Div(decimal.NewFromFloat(capRate)).
			InexactFloat64()
	}
	return result
}

func marketApproach(in *Inputs, earnings model.WeightedEarnings) model.MarketApproachResult {
	basis, stream := selectBenefitStream(in.Comps.PreferredBasis, earnings)

	base := in.Comps.SDEMultiple
	if basis == model.BasisEBITDA {
		base = in.Comps.EBITDAMultiple
	}
	adjusted := base + in.Comps.RiskAdjustment
	if adjusted < 0 {
		adjusted = 0
	}

	result := model.MarketApproachResult{
		Basis:            basis,
		BenefitStream:    stream,
		BaseMultiple:     base,
		AdjustedMultiple: adjusted,
	}
	if adjusted > 0 && stream > 0 {
		result.IndicatedValue = decimal.NewFromFloat(stream).
			Mul(decimal.NewFromFloat(adjusted)).
			InexactFloat64()
	}
	return result
}

func selectBenefitStream(preferred model.BenefitBasis, earnings model.WeightedEarnings) (model.BenefitBasis, float64) {
	if preferred == model.BasisEBITDA {
		return model.BasisEBITDA, earnings.EBITDA
	}
	return model.BasisSDE, earnings.SDE
}

// weigh assigns configured weights to the available approaches, dropping
// unavailable ones and renormalizing so the remaining weights sum to 1.
func weigh(cfg Config, asset model.AssetApproachResult, income model.IncomeApproachResult, market model.MarketApproachResult) ([]model.ApproachValue, error) {
	summary := []model.ApproachValue{
		{Approach: "asset", IndicatedValue: asset.AdjustedNetAssets, Weight: cfg.AssetWeight, Available: asset.AdjustedNetAssets > 0},
		{Approach: "income", IndicatedValue: income.IndicatedValue, Weight: cfg.IncomeWeight, Available: income.IndicatedValue > 0},
		{Approach: "market", IndicatedValue: market.IndicatedValue, Weight: cfg.MarketWeight, Available: market.IndicatedValue > 0},
	}

	var total float64
	for _, av := range summary {
		if av.Available {
			total += av.Weight
		}
	}
	if total <= 0 {
		return nil, eris.New("valuation: no approach produced a usable value")
	}

	for i := range summary {
		if summary[i].Available {
			summary[i].Weight = summary[i].Weight / total
		} else {
			summary[i].Weight = 0
		}
	}

	var check float64
	for _, av := range summary {
		check += av.Weight
	}
	if math.Abs(check-1.0) > WeightEpsilon {
		return nil, eris.Errorf("valuation: approach weights sum to %.9f", check)
	}

	return summary, nil
}

func synthesize(cfg Config, summary []model.ApproachValue) (model.Synthesis, error) {
	prelim := decimal.Zero
	for _, av := range summary {
		if !av.Available {
			continue
		}
		prelim = prelim.Add(
			decimal.NewFromFloat(av.IndicatedValue).Mul(decimal.NewFromFloat(av.Weight)),
		)
	}
	if prelim.Sign() <= 0 {
		return model.Synthesis{}, eris.New("valuation: preliminary value is not positive")
	}

	dlomAmount := prelim.Mul(decimal.NewFromFloat(cfg.DLOM))
	afterDLOM := prelim.Sub(dlomAmount)
	final := afterDLOM.Mul(decimal.NewFromFloat(1 + cfg.ControlAdjustment))

	synth := model.Synthesis{
		PreliminaryValue:    prelim.InexactFloat64(),
		DLOM:                cfg.DLOM,
		DLOMAmount:          dlomAmount.InexactFloat64(),
		ControlAdjustment:   cfg.ControlAdjustment,
		FinalConcludedValue: final.InexactFloat64(),
	}
	synth.ValueRange = deriveRange(cfg, summary, prelim, final)
	return synth, nil
}

// deriveRange computes the ± band. With two or more available approaches the
// half-width is the weighted mean absolute deviation of approach values around
// the preliminary value, scaled to the concluded value and floored at the
// configured fallback percentage; otherwise the fallback percentage alone.
func deriveRange(cfg Config, summary []model.ApproachValue, prelim, final decimal.Decimal) model.ValueRange {
	finalF := final.InexactFloat64()
	floor := finalF * cfg.FallbackRangePct

	available := 0
	var mad decimal.Decimal
	for _, av := range summary {
		if !av.Available {
			continue
		}
		available++
		dev := decimal.NewFromFloat(av.IndicatedValue).Sub(prelim).Abs()
		mad = mad.Add(dev.Mul(decimal.NewFromFloat(av.Weight)))
	}

	halfWidth := floor
	source := model.RangeFromFallback
	if available >= 2 && prelim.Sign() > 0 {
		scaled := mad.Mul(final).Div(prelim).InexactFloat64()
		if scaled > floor {
			halfWidth = scaled
			source = model.RangeFromDispersion
		}
	}

	return model.ValueRange{
		Low:    finalF - halfWidth,
		High:   finalF + halfWidth,
		Source: source,
	}
}
