package domain

import (
	"fmt"
	"time"
)

const (
	EntryPledge       = "pledge"
	EntryPledgeRefund = "pledge_refund"
	EntryRelease      = "release"
	EntryRoyalty      = "royalty"
)

const (
	BackerIndividual = "individual"
	BackerDAO        = "dao"
	BackerVC         = "vc"
)

// EscrowAccount holds pledged money not yet released. Balance + Released
// always equals the project's current funding.
type EscrowAccount struct {
	ProjectID string `json:"project_id"`
	Balance   Money  `json:"balance"`
	Released  Money  `json:"released"`
}

type Backer struct {
	BackerID   string `json:"backer_id"`
	BackerType string `json:"backer_type"`
}

func ValidBackerType(t string) bool {
	switch t {
	case BackerIndividual, BackerDAO, BackerVC:
		return true
	default:
		return false
	}
}

// LedgerEntry is an append-only record of one money movement.
type LedgerEntry struct {
	EntryID        string      `json:"entry_id"`
	ProjectID      string      `json:"project_id"`
	MilestoneID    string      `json:"milestone_id,omitempty"`
	Kind           string      `json:"kind"`
	Amount         Money       `json:"amount"`
	BalanceAfter   Money       `json:"balance_after"`
	ReleasedAfter  Money       `json:"released_after"`
	BackerID       string      `json:"backer_id,omitempty"`
	BackerType     string      `json:"backer_type,omitempty"`
	RevenueEventID string      `json:"revenue_event_id,omitempty"`
	Allocation     *Allocation `json:"allocation,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// ProjectLedger is the per-project unit of serialization. Its methods check
// every precondition before touching any field, so a failed call leaves the
// ledger unchanged.
type ProjectLedger struct {
	Project    Project       `json:"project"`
	Escrow     EscrowAccount `json:"escrow"`
	Milestones []Milestone   `json:"milestones"`
	Version    int64         `json:"version"`
}

func (l *ProjectLedger) Milestone(milestoneID string) (*Milestone, bool) {
	for i := range l.Milestones {
		if l.Milestones[i].MilestoneID == milestoneID {
			return &l.Milestones[i], true
		}
	}
	return nil, false
}

// RecordPledge credits amount to current funding and escrow.
func (l *ProjectLedger) RecordPledge(entryID string, amount Money, backer Backer, now time.Time) (LedgerEntry, error) {
	if amount <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: pledge must be positive, got %s", ErrInvalidAmount, amount)
	}
	l.Project.CurrentFunding += amount
	l.Escrow.Balance += amount
	l.Project.UpdatedAt = now
	return l.entry(entryID, EntryPledge, amount, now, func(e *LedgerEntry) {
		e.BackerID = backer.BackerID
		e.BackerType = backer.BackerType
	}), nil
}

// RefundPledge is the compensating entry for a pledge: it lowers funding and
// escrow together and never touches released money.
func (l *ProjectLedger) RefundPledge(entryID string, amount Money, backer Backer, now time.Time) (LedgerEntry, error) {
	if amount <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: refund must be positive, got %s", ErrInvalidAmount, amount)
	}
	if amount > l.Escrow.Balance {
		return LedgerEntry{}, fmt.Errorf("%w: refund %s exceeds escrow %s", ErrInsufficientEscrow, amount, l.Escrow.Balance)
	}
	l.Project.CurrentFunding -= amount
	l.Escrow.Balance -= amount
	l.Project.UpdatedAt = now
	return l.entry(entryID, EntryPledgeRefund, amount, now, func(e *LedgerEntry) {
		e.BackerID = backer.BackerID
		e.BackerType = backer.BackerType
	}), nil
}

// CommitRelease moves amount from escrow to released and onto the milestone.
func (l *ProjectLedger) CommitRelease(entryID, milestoneID string, amount Money, now time.Time) (LedgerEntry, error) {
	if amount <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: release must be positive, got %s", ErrInvalidAmount, amount)
	}
	m, ok := l.Milestone(milestoneID)
	if !ok {
		return LedgerEntry{}, fmt.Errorf("%w: milestone %s", ErrNotFound, milestoneID)
	}
	if amount > l.Escrow.Balance {
		return LedgerEntry{}, fmt.Errorf("%w: release %s exceeds escrow %s", ErrInsufficientEscrow, amount, l.Escrow.Balance)
	}
	if m.FundingReleased+amount > m.TotalFunding {
		return LedgerEntry{}, fmt.Errorf("%w: %s released of %s, requested %s", ErrOverAllocation, m.FundingReleased, m.TotalFunding, amount)
	}
	l.Escrow.Balance -= amount
	l.Escrow.Released += amount
	m.FundingReleased += amount
	m.UpdatedAt = now
	l.Project.UpdatedAt = now
	return l.entry(entryID, EntryRelease, amount, now, func(e *LedgerEntry) {
		e.MilestoneID = milestoneID
	}), nil
}

// RecordRoyalty notes a revenue distribution. Royalties never pass through escrow.
func (l *ProjectLedger) RecordRoyalty(entryID, revenueEventID string, alloc Allocation, occurredAt time.Time) LedgerEntry {
	return l.entry(entryID, EntryRoyalty, alloc.Total(), occurredAt, func(e *LedgerEntry) {
		e.RevenueEventID = revenueEventID
		a := alloc
		e.Allocation = &a
	})
}

// CheckInvariants reports the first violated money invariant, if any.
func (l *ProjectLedger) CheckInvariants() error {
	if l.Escrow.Balance < 0 {
		return fmt.Errorf("escrow balance negative: %s", l.Escrow.Balance)
	}
	if l.Escrow.Balance+l.Escrow.Released != l.Project.CurrentFunding {
		return fmt.Errorf("escrow %s + released %s != current funding %s", l.Escrow.Balance, l.Escrow.Released, l.Project.CurrentFunding)
	}
	var released Money
	for _, m := range l.Milestones {
		if m.FundingReleased < 0 || m.FundingReleased > m.TotalFunding {
			return fmt.Errorf("milestone %s released %s outside [0, %s]", m.MilestoneID, m.FundingReleased, m.TotalFunding)
		}
		released += m.FundingReleased
	}
	if released != l.Escrow.Released {
		return fmt.Errorf("milestone releases %s != escrow released %s", released, l.Escrow.Released)
	}
	return nil
}

func (l *ProjectLedger) entry(entryID, kind string, amount Money, at time.Time, fill func(*LedgerEntry)) LedgerEntry {
	e := LedgerEntry{
		EntryID:       entryID,
		ProjectID:     l.Project.ProjectID,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  l.Escrow.Balance,
		ReleasedAfter: l.Escrow.Released,
		OccurredAt:    at,
	}
	if fill != nil {
		fill(&e)
	}
	return e
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (l ProjectLedger) Clone() ProjectLedger {
	out := l
	out.Project.StakedAssets = append([]IPAsset(nil), l.Project.StakedAssets...)
	out.Milestones = make([]Milestone, len(l.Milestones))
	for i, m := range l.Milestones {
		out.Milestones[i] = m
		if m.LastProofAt != nil {
			t := *m.LastProofAt
			out.Milestones[i].LastProofAt = &t
		}
	}
	return out
}
