package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/domain"
)

func projectWithAssets(requested domain.Money, valuations ...domain.Money) domain.Project {
	p := domain.Project{
		ProjectID:            "p-1",
		RequestedFunding:     requested,
		CollateralMultiplier: domain.DefaultCollateralMultiplier,
		CollateralRequired:   domain.CollateralRequiredFor(requested, domain.DefaultCollateralMultiplier),
	}
	for i, v := range valuations {
		p.StakedAssets = append(p.StakedAssets, domain.IPAsset{
			AssetID:   string(rune('a' + i)),
			Name:      "asset",
			Kind:      domain.AssetKindPatent,
			Valuation: v,
		})
	}
	return p
}

func fresh(p domain.Project) []domain.AssetValuation {
	out := make([]domain.AssetValuation, 0, len(p.StakedAssets))
	for _, a := range p.StakedAssets {
		out = append(out, domain.AssetValuation{AssetID: a.AssetID, Value: a.Valuation})
	}
	return out
}

func TestEvaluateCollateralBands(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	over := projectWithAssets(domain.Major(100000), domain.Major(100000), domain.Major(80000))
	require.Equal(t, domain.Major(150000), over.CollateralRequired)
	h, err := domain.EvaluateCollateral(over, fresh(over), now)
	require.NoError(t, err)
	assert.True(t, h.Ratio.Equal(decimal.RequireFromString("1.2")), h.Ratio.String())
	assert.True(t, h.RiskScore.IsZero())
	assert.Equal(t, domain.RiskLow, h.Band)
	assert.False(t, h.Breach)
	assert.False(t, h.Stale)

	under := projectWithAssets(domain.Major(100000), domain.Major(60000))
	h, err = domain.EvaluateCollateral(under, fresh(under), now)
	require.NoError(t, err)
	assert.True(t, h.Ratio.Equal(decimal.RequireFromString("0.4")), h.Ratio.String())
	assert.True(t, h.RiskScore.Equal(decimal.RequireFromString("0.6")), h.RiskScore.String())
	assert.Equal(t, domain.RiskMedium, h.Band)
	assert.True(t, h.Breach)
	assert.Equal(t, domain.CollateralStateBreach, h.CollateralState())
}

func TestEvaluateCollateralUndefinedRatio(t *testing.T) {
	t.Parallel()
	p := projectWithAssets(0, domain.Major(10))
	_, err := domain.EvaluateCollateral(p, fresh(p), time.Now())
	require.ErrorIs(t, err, domain.ErrUndefinedRatio)
}

func TestEvaluateCollateralMissingReadingIsStale(t *testing.T) {
	t.Parallel()
	p := projectWithAssets(domain.Major(100), domain.Major(90), domain.Major(90))
	h, err := domain.EvaluateCollateral(p, []domain.AssetValuation{{AssetID: "a", Value: domain.Major(60)}}, time.Now())
	require.NoError(t, err)
	assert.True(t, h.Stale)
	assert.Equal(t, domain.Major(150), h.StakedValue)
	assert.False(t, h.Assets[0].Stale)
	assert.True(t, h.Assets[1].Stale)
}

func TestBandCutPointsAreInclusive(t *testing.T) {
	t.Parallel()
	assert.Equal(t, domain.RiskLow, domain.BandFor(decimal.RequireFromString("0.40")))
	assert.Equal(t, domain.RiskMedium, domain.BandFor(decimal.RequireFromString("0.4000001")))
	assert.Equal(t, domain.RiskMedium, domain.BandFor(decimal.RequireFromString("0.70")))
	assert.Equal(t, domain.RiskHigh, domain.BandFor(decimal.RequireFromString("0.71")))
	assert.True(t, domain.CollateralRiskScore(decimal.RequireFromString("-3")).Equal(decimal.NewFromInt(1)))
}

func TestWeightedAssetRiskUsesDefaults(t *testing.T) {
	t.Parallel()
	p := projectWithAssets(domain.Major(100), domain.Major(100), domain.Major(100))
	p.StakedAssets[0].RiskScore = domain.Ratio("0.2")
	p.StakedAssets[0].RevenueDependency = domain.Ratio("1")
	// second asset falls back to risk 0.5, dependency 1

	h, err := domain.EvaluateCollateral(p, fresh(p), time.Now())
	require.NoError(t, err)
	assert.True(t, h.WeightedAssetRisk.Equal(decimal.RequireFromString("0.35")), h.WeightedAssetRisk.String())
	assert.False(t, h.Assets[0].Assumed)
	assert.True(t, h.Assets[1].Assumed)
	assert.Equal(t, domain.RiskMedium, h.Assets[1].Band)
}

func TestExposureFor(t *testing.T) {
	t.Parallel()
	e := domain.ExposureFor(projectWithAssets(domain.Major(100), domain.Major(75)))
	require.True(t, e.Coverage.Valid)
	assert.True(t, e.Coverage.Decimal.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, domain.RiskMedium, e.Band)
	assert.False(t, e.Undefined)

	e = domain.ExposureFor(projectWithAssets(0))
	assert.True(t, e.Undefined)
	assert.False(t, e.Coverage.Valid)
	assert.Empty(t, e.Band)

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"coverage":null`)
	assert.NotContains(t, string(raw), `"band"`)
}
