package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/contracts"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// Pledge records a backer's commitment into the project's escrow.
func (s *Service) Pledge(ctx context.Context, actor Actor, input PledgeInput) (LedgerResult, error) {
	if err := requireActor(actor); err != nil {
		return LedgerResult{}, err
	}
	input.ProjectID = strings.TrimSpace(input.ProjectID)
	if input.ProjectID == "" {
		return LedgerResult{}, domain.ErrInvalidInput
	}
	if input.Amount <= 0 {
		return LedgerResult{}, fmt.Errorf("%w: pledge must be positive", domain.ErrInvalidAmount)
	}
	if input.BackerType == "" {
		input.BackerType = domain.BackerIndividual
	}
	if !domain.ValidBackerType(input.BackerType) {
		return LedgerResult{}, fmt.Errorf("%w: unknown backer type %q", domain.ErrInvalidInput, input.BackerType)
	}

	requestHash := hashJSON(struct {
		PledgeInput
		BackerID string
	}{input, actor.SubjectID})
	var cached LedgerResult
	if ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash, &cached); err != nil {
		return LedgerResult{}, err
	} else if ok {
		return cached, nil
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return LedgerResult{}, err
	}

	backer := domain.Backer{BackerID: actor.SubjectID, BackerType: input.BackerType}
	var entry domain.LedgerEntry
	ledger, err := s.mutate(ctx, input.ProjectID, func(l *domain.ProjectLedger, m *ports.LedgerMutation) error {
		now := s.nowFn()
		var err error
		entry, err = l.RecordPledge(uuid.NewString(), input.Amount, backer, now)
		if err != nil {
			return err
		}
		m.Entries = append(m.Entries, entry)
		return s.emit(m, domain.EventPledgeRecorded, actor.RequestID, l.Project.ProjectID, contracts.PledgeRecordedPayload{
			ProjectID:      l.Project.ProjectID,
			BackerID:       backer.BackerID,
			BackerType:     backer.BackerType,
			Amount:         input.Amount,
			EscrowBalance:  l.Escrow.Balance,
			CurrentFunding: l.Project.CurrentFunding,
			RecordedAt:     now.UTC().Format(time.RFC3339),
		}, now)
	})
	if err != nil {
		return LedgerResult{}, err
	}
	out := LedgerResult{Entry: entry, Escrow: ledger.Escrow, CurrentFunding: ledger.Project.CurrentFunding}
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 201, out)
	return out, nil
}

// RefundPledge books a compensating entry against escrow. Released funds are never returned.
func (s *Service) RefundPledge(ctx context.Context, actor Actor, input RefundInput) (LedgerResult, error) {
	if err := requireRole(actor, RoleOperator); err != nil {
		return LedgerResult{}, err
	}
	input.ProjectID = strings.TrimSpace(input.ProjectID)
	input.BackerID = strings.TrimSpace(input.BackerID)
	if input.ProjectID == "" || input.BackerID == "" {
		return LedgerResult{}, domain.ErrInvalidInput
	}
	if input.BackerType == "" {
		input.BackerType = domain.BackerIndividual
	}

	requestHash := hashJSON(input)
	var cached LedgerResult
	if ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash, &cached); err != nil {
		return LedgerResult{}, err
	} else if ok {
		return cached, nil
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return LedgerResult{}, err
	}

	backer := domain.Backer{BackerID: input.BackerID, BackerType: input.BackerType}
	var entry domain.LedgerEntry
	ledger, err := s.mutate(ctx, input.ProjectID, func(l *domain.ProjectLedger, m *ports.LedgerMutation) error {
		now := s.nowFn()
		var err error
		entry, err = l.RefundPledge(uuid.NewString(), input.Amount, backer, now)
		if err != nil {
			return err
		}
		m.Entries = append(m.Entries, entry)
		return s.emit(m, domain.EventPledgeRefunded, actor.RequestID, l.Project.ProjectID, contracts.PledgeRefundedPayload{
			ProjectID:     l.Project.ProjectID,
			BackerID:      backer.BackerID,
			Amount:        input.Amount,
			EscrowBalance: l.Escrow.Balance,
			RefundedAt:    now.UTC().Format(time.RFC3339),
		}, now)
	})
	if err != nil {
		return LedgerResult{}, err
	}
	out := LedgerResult{Entry: entry, Escrow: ledger.Escrow, CurrentFunding: ledger.Project.CurrentFunding}
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 200, out)
	return out, nil
}

// CommitRelease disburses part of a milestone's allocation outside the proof
// flow, for operator-driven tranche payouts. Only in-progress milestones take
// tranches; pending work has not started and anything else is settled by the
// proof flow.
func (s *Service) CommitRelease(ctx context.Context, actor Actor, input CommitReleaseInput) (LedgerResult, error) {
	if err := requireRole(actor, RoleOperator, RoleService); err != nil {
		return LedgerResult{}, err
	}
	input.ProjectID = strings.TrimSpace(input.ProjectID)
	input.MilestoneID = strings.TrimSpace(input.MilestoneID)
	if input.ProjectID == "" || input.MilestoneID == "" {
		return LedgerResult{}, domain.ErrInvalidInput
	}

	requestHash := hashJSON(input)
	var cached LedgerResult
	if ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash, &cached); err != nil {
		return LedgerResult{}, err
	} else if ok {
		return cached, nil
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return LedgerResult{}, err
	}

	var entry domain.LedgerEntry
	ledger, err := s.mutate(ctx, input.ProjectID, func(l *domain.ProjectLedger, m *ports.LedgerMutation) error {
		ms, ok := l.Milestone(input.MilestoneID)
		if !ok {
			return fmt.Errorf("%w: milestone %s", domain.ErrNotFound, input.MilestoneID)
		}
		if ms.Status != domain.MilestoneInProgress {
			return fmt.Errorf("%w: milestone %s is %s, tranche releases need in_progress", domain.ErrInvalidMilestoneTransition, ms.MilestoneID, ms.Status)
		}
		if err := s.checkReleasePolicy(l); err != nil {
			return err
		}
		now := s.nowFn()
		var err error
		entry, err = l.CommitRelease(uuid.NewString(), input.MilestoneID, input.Amount, now)
		if err != nil {
			return err
		}
		m.Entries = append(m.Entries, entry)
		return s.emitRelease(m, actor.RequestID, *ms, entry, l.Escrow, now)
	})
	if err != nil {
		return LedgerResult{}, err
	}
	out := LedgerResult{Entry: entry, Escrow: ledger.Escrow, CurrentFunding: ledger.Project.CurrentFunding}
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 200, out)
	return out, nil
}

func (s *Service) CurrentEscrow(ctx context.Context, actor Actor, projectID string) (domain.EscrowAccount, error) {
	ledger, err := s.GetProject(ctx, actor, projectID)
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	return ledger.Escrow, nil
}

func (s *Service) ReleaseHistory(ctx context.Context, actor Actor, projectID string) ([]domain.LedgerEntry, error) {
	if _, err := s.GetProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.ledgers.Entries(ctx, strings.TrimSpace(projectID), domain.EntryRelease)
}

// checkReleasePolicy enforces the optional halt-on-breach switch.
func (s *Service) checkReleasePolicy(l *domain.ProjectLedger) error {
	if s.cfg.BlockReleaseOnBreach && l.Project.CollateralState == domain.CollateralStateBreach {
		return fmt.Errorf("%w: project %s", domain.ErrCollateralBreach, l.Project.ProjectID)
	}
	return nil
}

func (s *Service) emitRelease(m *ports.LedgerMutation, traceID string, ms domain.Milestone, entry domain.LedgerEntry, escrow domain.EscrowAccount, now time.Time) error {
	return s.emit(m, domain.EventMilestoneReleased, traceID, ms.ProjectID, contracts.MilestoneReleasedPayload{
		ProjectID:       ms.ProjectID,
		MilestoneID:     ms.MilestoneID,
		Amount:          entry.Amount,
		FundingReleased: ms.FundingReleased,
		EscrowBalance:   escrow.Balance,
		ReleasedAt:      now.UTC().Format(time.RFC3339),
	}, now)
}
