package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AssetKindPatent      = "patent"
	AssetKindTrademark   = "trademark"
	AssetKindCopyright   = "copyright"
	AssetKindTradeSecret = "trade_secret"
)

const (
	CollateralStateHealthy = "healthy"
	CollateralStateBreach  = "breach"
)

// DefaultCollateralMultiplier is applied to requested funding when a project omits its own.
var DefaultCollateralMultiplier = decimal.RequireFromString("1.5")

type Project struct {
	ProjectID            string          `json:"project_id"`
	Title                string          `json:"title"`
	CreatorID            string          `json:"creator_id"`
	RequestedFunding     Money           `json:"requested_funding"`
	CurrentFunding       Money           `json:"current_funding"`
	CollateralMultiplier decimal.Decimal `json:"collateral_multiplier"`
	CollateralRequired   Money           `json:"collateral_required"`
	StakedAssets         []IPAsset       `json:"staked_assets"`
	CollateralState      string          `json:"collateral_state"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IPAsset is a staked intellectual-property asset. Valuation is the last
// value the oracle reported, stamped with ValuedAt.
type IPAsset struct {
	AssetID           string        `json:"asset_id"`
	Name              string        `json:"name"`
	Kind              string        `json:"kind"`
	Valuation         Money         `json:"valuation"`
	RiskScore         OptionalRatio `json:"risk_score"`
	RevenueDependency OptionalRatio `json:"revenue_dependency"`
	ValuedAt          time.Time     `json:"valued_at"`
}

// CollateralRequiredFor rounds requested × multiplier half-up to a cent.
func CollateralRequiredFor(requested Money, multiplier decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(requested)).Mul(multiplier).Round(0).IntPart())
}

// StakedValue sums the last known valuations.
func (p Project) StakedValue() Money {
	var total Money
	for _, a := range p.StakedAssets {
		total += a.Valuation
	}
	return total
}

func (p Project) Asset(assetID string) (IPAsset, int, bool) {
	for i, a := range p.StakedAssets {
		if a.AssetID == assetID {
			return a, i, true
		}
	}
	return IPAsset{}, -1, false
}

func ValidAssetKind(kind string) bool {
	switch kind {
	case AssetKindPatent, AssetKindTrademark, AssetKindCopyright, AssetKindTradeSecret:
		return true
	default:
		return false
	}
}

func (a IPAsset) Validate() error {
	if strings.TrimSpace(a.AssetID) == "" || strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: asset id and name are required", ErrInvalidInput)
	}
	if !ValidAssetKind(a.Kind) {
		return fmt.Errorf("%w: unknown asset kind %q", ErrInvalidInput, a.Kind)
	}
	if a.Valuation < 0 {
		return fmt.Errorf("%w: asset %s valuation is negative", ErrInvalidAmount, a.AssetID)
	}
	if err := a.RiskScore.Validate(); err != nil {
		return err
	}
	return a.RevenueDependency.Validate()
}

// ValidateProposal checks a project and its milestones before they are created
// together. Milestone allocations may not exceed the requested funding.
func ValidateProposal(p Project, milestones []Milestone) error {
	if strings.TrimSpace(p.ProjectID) == "" || strings.TrimSpace(p.CreatorID) == "" || strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: project id, title and creator are required", ErrInvalidInput)
	}
	if p.RequestedFunding < 0 {
		return fmt.Errorf("%w: requested funding is negative", ErrInvalidAmount)
	}
	if p.CollateralMultiplier.IsNegative() {
		return fmt.Errorf("%w: collateral multiplier is negative", ErrInvalidInput)
	}
	seenAssets := make(map[string]struct{}, len(p.StakedAssets))
	for _, a := range p.StakedAssets {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, dup := seenAssets[a.AssetID]; dup {
			return fmt.Errorf("%w: asset %s staked twice", ErrInvalidInput, a.AssetID)
		}
		seenAssets[a.AssetID] = struct{}{}
	}
	var allocated Money
	seen := make(map[string]struct{}, len(milestones))
	for _, m := range milestones {
		if strings.TrimSpace(m.MilestoneID) == "" || strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: milestone id and name are required", ErrInvalidInput)
		}
		if _, dup := seen[m.MilestoneID]; dup {
			return fmt.Errorf("%w: milestone %s declared twice", ErrInvalidInput, m.MilestoneID)
		}
		seen[m.MilestoneID] = struct{}{}
		if m.TotalFunding < 0 {
			return fmt.Errorf("%w: milestone %s funding is negative", ErrInvalidAmount, m.MilestoneID)
		}
		allocated += m.TotalFunding
	}
	if allocated > p.RequestedFunding {
		return fmt.Errorf("%w: allocated %s of %s requested", ErrMilestoneOverCommitted, allocated, p.RequestedFunding)
	}
	return nil
}
