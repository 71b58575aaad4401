package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// Band cut points are protocol constants.
var (
	LowRiskCeiling    = decimal.RequireFromString("0.40")
	MediumRiskCeiling = decimal.RequireFromString("0.70")

	// Assumed when an asset carries no score or dependency.
	UnknownAssetRisk         = decimal.RequireFromString("0.5")
	DefaultRevenueDependency = decimal.NewFromInt(1)
)

const ratioPrecision = 8

// SufficiencyRatio is staked / required. It is undefined when nothing is required.
func SufficiencyRatio(staked, required Money) (decimal.Decimal, error) {
	if required <= 0 {
		return decimal.Decimal{}, ErrUndefinedRatio
	}
	return decimal.NewFromInt(int64(staked)).DivRound(decimal.NewFromInt(int64(required)), ratioPrecision), nil
}

// CollateralRiskScore is 1 - clamp(ratio, 0, 1).
func CollateralRiskScore(ratio decimal.Decimal) decimal.Decimal {
	clamped := decimal.Min(one, decimal.Max(decimal.Zero, ratio))
	return one.Sub(clamped)
}

func BandFor(score decimal.Decimal) RiskBand {
	switch {
	case score.LessThanOrEqual(LowRiskCeiling):
		return RiskLow
	case score.LessThanOrEqual(MediumRiskCeiling):
		return RiskMedium
	default:
		return RiskHigh
	}
}

// AssetValuation is one oracle reading, or the fallback to the last known value.
type AssetValuation struct {
	AssetID string    `json:"asset_id"`
	Value   Money     `json:"value"`
	AsOf    time.Time `json:"as_of"`
	Stale   bool      `json:"stale"`
	Warning string    `json:"warning,omitempty"`
}

type AssetRisk struct {
	AssetID           string          `json:"asset_id"`
	Kind              string          `json:"kind"`
	Valuation         Money           `json:"valuation"`
	RiskScore         decimal.Decimal `json:"risk_score"`
	Band              RiskBand        `json:"band"`
	RevenueDependency decimal.Decimal `json:"revenue_dependency"`
	Assumed           bool            `json:"assumed"`
	Stale             bool            `json:"stale"`
}

type CollateralHealth struct {
	ProjectID          string          `json:"project_id"`
	StakedValue        Money           `json:"staked_value"`
	CollateralRequired Money           `json:"collateral_required"`
	Ratio              decimal.Decimal `json:"ratio"`
	RiskScore          decimal.Decimal `json:"risk_score"`
	Band               RiskBand        `json:"band"`
	Breach             bool            `json:"breach"`
	Stale              bool            `json:"stale"`
	WeightedAssetRisk  decimal.Decimal `json:"weighted_asset_risk"`
	Assets             []AssetRisk     `json:"assets"`
	Warnings           []string        `json:"warnings,omitempty"`
	EvaluatedAt        time.Time       `json:"evaluated_at"`
}

// EvaluateCollateral combines a project with fresh or fallback valuations.
// Valuations are matched by asset id; an asset with no reading keeps its
// stored valuation and counts as stale.
func EvaluateCollateral(p Project, readings []AssetValuation, now time.Time) (CollateralHealth, error) {
	byID := make(map[string]AssetValuation, len(readings))
	for _, r := range readings {
		byID[r.AssetID] = r
	}

	out := CollateralHealth{
		ProjectID:          p.ProjectID,
		CollateralRequired: p.CollateralRequired,
		Assets:             make([]AssetRisk, 0, len(p.StakedAssets)),
		EvaluatedAt:        now,
	}
	weightedNum := decimal.Zero
	weightedDen := decimal.Zero
	for _, asset := range p.StakedAssets {
		value := asset.Valuation
		stale := true
		if r, ok := byID[asset.AssetID]; ok {
			value = r.Value
			stale = r.Stale
			if r.Warning != "" {
				out.Warnings = append(out.Warnings, r.Warning)
			}
		}
		out.StakedValue += value
		out.Stale = out.Stale || stale

		risk := asset.RiskScore.Or(UnknownAssetRisk)
		dep := asset.RevenueDependency.Or(DefaultRevenueDependency)
		out.Assets = append(out.Assets, AssetRisk{
			AssetID:           asset.AssetID,
			Kind:              asset.Kind,
			Valuation:         value,
			RiskScore:         risk,
			Band:              BandFor(risk),
			RevenueDependency: dep,
			Assumed:           !asset.RiskScore.Valid || !asset.RevenueDependency.Valid,
			Stale:             stale,
		})
		weight := dep.Mul(decimal.NewFromInt(int64(value)))
		weightedNum = weightedNum.Add(risk.Mul(weight))
		weightedDen = weightedDen.Add(weight)
	}
	if weightedDen.IsPositive() {
		out.WeightedAssetRisk = weightedNum.DivRound(weightedDen, ratioPrecision)
	}

	ratio, err := SufficiencyRatio(out.StakedValue, p.CollateralRequired)
	if err != nil {
		return out, err
	}
	out.Ratio = ratio
	out.RiskScore = CollateralRiskScore(ratio)
	out.Band = BandFor(out.RiskScore)
	out.Breach = ratio.LessThan(one)
	return out, nil
}

// CollateralState is the advisory state implied by the health reading.
func (h CollateralHealth) CollateralState() string {
	if h.Breach {
		return CollateralStateBreach
	}
	return CollateralStateHealthy
}

// Exposure is one row of the portfolio coverage matrix. Coverage is null and
// Band empty when nothing is required.
type Exposure struct {
	ProjectID          string              `json:"project_id"`
	Title              string              `json:"title"`
	StakedValue        Money               `json:"staked_value"`
	CollateralRequired Money               `json:"collateral_required"`
	Coverage           decimal.NullDecimal `json:"coverage"`
	Band               RiskBand            `json:"band,omitempty"`
	Undefined          bool                `json:"undefined"`
}

// ExposureFor reports coverage as staked / required. A zero requirement
// leaves the ratio undefined rather than 0.
func ExposureFor(p Project) Exposure {
	e := Exposure{
		ProjectID:          p.ProjectID,
		Title:              p.Title,
		StakedValue:        p.StakedValue(),
		CollateralRequired: p.CollateralRequired,
	}
	ratio, err := SufficiencyRatio(e.StakedValue, e.CollateralRequired)
	if err != nil {
		e.Undefined = true
		return e
	}
	e.Coverage = decimal.NullDecimal{Decimal: ratio, Valid: true}
	e.Band = BandFor(CollateralRiskScore(ratio))
	return e
}
