package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/contracts"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// DistributeRevenue splits a revenue event across creator, investors and the
// protocol. Replaying an event id returns the stored split with Duplicate set.
func (s *Service) DistributeRevenue(ctx context.Context, actor Actor, input DistributeRevenueInput) (DistributionResult, error) {
	if err := requireRole(actor, RoleService, RoleOperator); err != nil {
		return DistributionResult{}, err
	}
	tiers := input.Tiers
	if len(tiers) == 0 {
		tiers = s.cfg.DefaultTiers
	}
	if err := tiers.Validate(); err != nil {
		return DistributionResult{}, err
	}
	event := input.Event
	if err := event.Validate(); err != nil {
		return DistributionResult{}, err
	}

	if prior, err := s.priorAllocation(ctx, event); err != nil || prior != nil {
		if prior != nil {
			return *prior, nil
		}
		return DistributionResult{}, err
	}
	if err := event.CheckWindow(s.nowFn(), s.cfg.RevenueMaxAge, s.cfg.RevenueClockSkew); err != nil {
		return DistributionResult{}, err
	}

	alloc, err := tiers.Distribute(event.Amount)
	if err != nil {
		return DistributionResult{}, err
	}

	var duplicate *DistributionResult
	_, err = s.mutate(ctx, event.ProjectID, func(l *domain.ProjectLedger, m *ports.LedgerMutation) error {
		prior, err := s.priorAllocation(ctx, event)
		if err != nil {
			return err
		}
		if prior != nil {
			duplicate = prior
			return domain.ErrDuplicateEvent
		}
		now := s.nowFn()
		m.Entries = append(m.Entries, l.RecordRoyalty(uuid.NewString(), event.EventID, alloc, event.OccurredAt))
		m.Revenue = &domain.RevenueAllocation{
			EventID:     event.EventID,
			ProjectID:   event.ProjectID,
			Amount:      event.Amount,
			Allocation:  alloc,
			OccurredAt:  event.OccurredAt,
			ProcessedAt: now,
		}
		return s.emit(m, domain.EventRevenueDistributed, actor.RequestID, event.ProjectID, contracts.RevenueDistributedPayload{
			ProjectID:  event.ProjectID,
			EventID:    event.EventID,
			Amount:     event.Amount,
			Allocation: alloc,
			OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339),
		}, now)
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		if duplicate == nil {
			// lost a race with another instance; the store rejected the second write
			if duplicate, err = s.priorAllocation(ctx, event); err != nil {
				return DistributionResult{}, err
			}
			if duplicate == nil {
				return DistributionResult{}, domain.ErrDuplicateEvent
			}
		}
		return *duplicate, nil
	}
	if err != nil {
		return DistributionResult{}, err
	}
	s.logger.InfoContext(ctx, "revenue distributed",
		"operation", "distribute_revenue",
		"outcome", "success",
		"project_id", event.ProjectID,
		"event_id", event.EventID,
		"amount", event.Amount.String(),
	)
	return DistributionResult{EventID: event.EventID, ProjectID: event.ProjectID, Amount: event.Amount, Allocation: alloc}, nil
}

func (s *Service) priorAllocation(ctx context.Context, event domain.RevenueEvent) (*DistributionResult, error) {
	stored, err := s.revenue.GetAllocation(ctx, event.EventID)
	if err != nil || stored == nil {
		return nil, err
	}
	if stored.ProjectID != event.ProjectID || stored.Amount != event.Amount {
		return nil, fmt.Errorf("%w: revenue event %s was recorded with different content", domain.ErrConflict, event.EventID)
	}
	return &DistributionResult{
		EventID:    stored.EventID,
		ProjectID:  stored.ProjectID,
		Amount:     stored.Amount,
		Allocation: stored.Allocation,
		Duplicate:  true,
	}, nil
}
