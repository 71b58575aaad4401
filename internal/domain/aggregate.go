package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Bucketing string

const (
	BucketQuarter Bucketing = "quarter"
	BucketMonth   Bucketing = "month"
)

func ParseBucketing(raw string) (Bucketing, error) {
	switch Bucketing(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BucketQuarter:
		return BucketQuarter, nil
	case BucketMonth:
		return BucketMonth, nil
	default:
		return "", fmt.Errorf("%w: unknown bucketing %q", ErrInvalidInput, raw)
	}
}

// Start returns the UTC start of the bucket holding t.
func (b Bucketing) Start(t time.Time) time.Time {
	t = t.UTC()
	month := t.Month()
	if b == BucketQuarter {
		month = time.Month((int(month)-1)/3*3 + 1)
	}
	return time.Date(t.Year(), month, 1, 0, 0, 0, 0, time.UTC)
}

func (b Bucketing) Next(start time.Time) time.Time {
	if b == BucketQuarter {
		return start.AddDate(0, 3, 0)
	}
	return start.AddDate(0, 1, 0)
}

func (b Bucketing) Label(start time.Time) string {
	if b == BucketQuarter {
		return fmt.Sprintf("%d-Q%d", start.Year(), (int(start.Month())-1)/3+1)
	}
	return start.Format("2006-01")
}

type FundingFlowReport struct {
	Period             string    `json:"period"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	Committed          Money     `json:"committed"`
	Refunded           Money     `json:"refunded"`
	Released           Money     `json:"released"`
	Escrow             Money     `json:"escrow"`
	RoyaltiesAllocated Money     `json:"royalties_allocated"`
}

// AggregateFundingFlow rolls entries into contiguous buckets from the first
// to the last entry. Escrow is the running balance at each bucket end, so
// empty buckets carry the previous balance forward.
func AggregateFundingFlow(entries []LedgerEntry, bucketing Bucketing) []FundingFlowReport {
	if len(entries) == 0 {
		return []FundingFlowReport{}
	}
	sorted := append([]LedgerEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	first := bucketing.Start(sorted[0].OccurredAt)
	last := bucketing.Start(sorted[len(sorted)-1].OccurredAt)
	out := make([]FundingFlowReport, 0)
	var escrow Money
	idx := 0
	for start := first; !start.After(last); start = bucketing.Next(start) {
		end := bucketing.Next(start)
		row := FundingFlowReport{Period: bucketing.Label(start), PeriodStart: start, PeriodEnd: end}
		for idx < len(sorted) && sorted[idx].OccurredAt.Before(end) {
			e := sorted[idx]
			switch e.Kind {
			case EntryPledge:
				row.Committed += e.Amount
				escrow += e.Amount
			case EntryPledgeRefund:
				row.Refunded += e.Amount
				escrow -= e.Amount
			case EntryRelease:
				row.Released += e.Amount
				escrow -= e.Amount
			case EntryRoyalty:
				row.RoyaltiesAllocated += e.Amount
			}
			idx++
		}
		row.Escrow = escrow
		out = append(out, row)
	}
	return out
}

type BackerSegment struct {
	BackerType string `json:"backer_type"`
	Backers    int    `json:"backers"`
	Pledged    Money  `json:"pledged"`
}

// SegmentBackers totals net pledges per backer type. Backers whose pledges
// were fully refunded are not counted.
func SegmentBackers(entries []LedgerEntry) []BackerSegment {
	net := make(map[string]map[string]Money)
	for _, e := range entries {
		if e.Kind != EntryPledge && e.Kind != EntryPledgeRefund {
			continue
		}
		kind := e.BackerType
		if kind == "" {
			kind = BackerIndividual
		}
		if net[kind] == nil {
			net[kind] = make(map[string]Money)
		}
		if e.Kind == EntryPledge {
			net[kind][e.BackerID] += e.Amount
		} else {
			net[kind][e.BackerID] -= e.Amount
		}
	}
	out := make([]BackerSegment, 0, 3)
	for _, kind := range []string{BackerIndividual, BackerDAO, BackerVC} {
		seg := BackerSegment{BackerType: kind}
		for _, amount := range net[kind] {
			if amount > 0 {
				seg.Backers++
				seg.Pledged += amount
			}
		}
		out = append(out, seg)
	}
	return out
}
