package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// DistributionTier is one progressive bracket. The last tier of a table is
// unbounded and its UpperBound is ignored.
type DistributionTier struct {
	UpperBound    Money           `json:"upper_bound"`
	Unbounded     bool            `json:"unbounded,omitempty"`
	CreatorShare  decimal.Decimal `json:"creator_share"`
	InvestorShare decimal.Decimal `json:"investor_share"`
	ProtocolShare decimal.Decimal `json:"protocol_share"`
}

// TierTable is an ascending list of brackets.
type TierTable []DistributionTier

// Allocation is the per-party result of a distribution, in minor units.
type Allocation struct {
	Creator  Money `json:"creator"`
	Investor Money `json:"investor"`
	Protocol Money `json:"protocol"`
}

func (a Allocation) Total() Money { return a.Creator + a.Investor + a.Protocol }

func (a Allocation) Add(other Allocation) Allocation {
	return Allocation{
		Creator:  a.Creator + other.Creator,
		Investor: a.Investor + other.Investor,
		Protocol: a.Protocol + other.Protocol,
	}
}

var one = decimal.NewFromInt(1)

// DefaultTierTable is the yield waterfall used when a project has no table of its own.
func DefaultTierTable() TierTable {
	return TierTable{
		{UpperBound: Major(10000), CreatorShare: decimal.RequireFromString("0.70"), InvestorShare: decimal.RequireFromString("0.25"), ProtocolShare: decimal.RequireFromString("0.05")},
		{UpperBound: Major(50000), CreatorShare: decimal.RequireFromString("0.60"), InvestorShare: decimal.RequireFromString("0.35"), ProtocolShare: decimal.RequireFromString("0.05")},
		{Unbounded: true, CreatorShare: decimal.RequireFromString("0.50"), InvestorShare: decimal.RequireFromString("0.45"), ProtocolShare: decimal.RequireFromString("0.05")},
	}
}

// Validate checks bracket ordering and that every tier's shares sum to exactly one.
func (t TierTable) Validate() error {
	if len(t) == 0 {
		return &TierConfigError{Index: 0, Reason: "table is empty"}
	}
	var lastBound Money
	for i, tier := range t {
		last := i == len(t)-1
		switch {
		case last && !tier.Unbounded:
			return &TierConfigError{Index: i, Reason: "final tier must be unbounded"}
		case !last && tier.Unbounded:
			return &TierConfigError{Index: i, Reason: "only the final tier may be unbounded"}
		case !last && tier.UpperBound <= lastBound:
			return &TierConfigError{Index: i, Reason: fmt.Sprintf("upper bound %s not greater than %s", tier.UpperBound, lastBound)}
		}
		for _, share := range []decimal.Decimal{tier.CreatorShare, tier.InvestorShare, tier.ProtocolShare} {
			if share.IsNegative() {
				return &TierConfigError{Index: i, Reason: "shares must be non-negative"}
			}
		}
		sum := tier.CreatorShare.Add(tier.InvestorShare).Add(tier.ProtocolShare)
		if !sum.Equal(one) {
			return &TierConfigError{Index: i, Reason: fmt.Sprintf("shares sum to %s", sum.String())}
		}
		if !last {
			lastBound = tier.UpperBound
		}
	}
	return nil
}

// Distribute splits amount across the brackets. The exact decimal shares are
// floored to minor units and the leftover units go to the parties with the
// largest fractional parts, ties broken creator, investor, protocol. The
// parts always sum to amount.
func (t TierTable) Distribute(amount Money) (Allocation, error) {
	if err := t.Validate(); err != nil {
		return Allocation{}, err
	}
	if amount < 0 {
		return Allocation{}, fmt.Errorf("%w: revenue %s is negative", ErrInvalidAmount, amount)
	}
	if amount == 0 {
		return Allocation{}, nil
	}

	exact := [3]decimal.Decimal{decimal.Zero, decimal.Zero, decimal.Zero}
	remaining := amount
	var lastBound Money
	for _, tier := range t {
		if remaining <= 0 {
			break
		}
		slice := remaining
		if !tier.Unbounded {
			if width := tier.UpperBound - lastBound; width < slice {
				slice = width
			}
		}
		s := decimal.NewFromInt(int64(slice))
		exact[0] = exact[0].Add(s.Mul(tier.CreatorShare))
		exact[1] = exact[1].Add(s.Mul(tier.InvestorShare))
		exact[2] = exact[2].Add(s.Mul(tier.ProtocolShare))
		remaining -= slice
		lastBound = tier.UpperBound
	}

	return largestRemainder(amount, exact), nil
}

func largestRemainder(amount Money, exact [3]decimal.Decimal) Allocation {
	var parts [3]Money
	type frac struct {
		idx int
		rem decimal.Decimal
	}
	fracs := make([]frac, 0, 3)
	var floored Money
	for i, e := range exact {
		whole := e.Floor()
		parts[i] = Money(whole.IntPart())
		floored += parts[i]
		fracs = append(fracs, frac{idx: i, rem: e.Sub(whole)})
	}
	sort.SliceStable(fracs, func(a, b int) bool {
		return fracs[a].rem.GreaterThan(fracs[b].rem)
	})
	for i := 0; floored < amount; i++ {
		parts[fracs[i%len(fracs)].idx]++
		floored++
	}
	return Allocation{Creator: parts[0], Investor: parts[1], Protocol: parts[2]}
}

// TierSpec is the textual form of a tier used by config files and the CLI.
// An empty or "unbounded" UpperBound marks the final tier.
type TierSpec struct {
	UpperBound string `json:"upper_bound" yaml:"upper_bound"`
	Creator    string `json:"creator" yaml:"creator"`
	Investor   string `json:"investor" yaml:"investor"`
	Protocol   string `json:"protocol" yaml:"protocol"`
}

// ParseTierTable converts specs into a validated table.
func ParseTierTable(specs []TierSpec) (TierTable, error) {
	out := make(TierTable, 0, len(specs))
	for i, spec := range specs {
		var tier DistributionTier
		switch spec.UpperBound {
		case "", "unbounded", "inf", "+inf":
			tier.Unbounded = true
		default:
			bound, err := ParseMoney(spec.UpperBound)
			if err != nil {
				return nil, &TierConfigError{Index: i, Reason: err.Error()}
			}
			tier.UpperBound = bound
		}
		shares := [3]*decimal.Decimal{&tier.CreatorShare, &tier.InvestorShare, &tier.ProtocolShare}
		for j, raw := range []string{spec.Creator, spec.Investor, spec.Protocol} {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, &TierConfigError{Index: i, Reason: fmt.Sprintf("share %q is not a decimal", raw)}
			}
			*shares[j] = d
		}
		out = append(out, tier)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
