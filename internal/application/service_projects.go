package application

import (
	"context"
	"strings"

	"github.com/l0kol/IPledge/internal/domain"
)

// CreateProject creates a project together with its milestones and staked assets.
func (s *Service) CreateProject(ctx context.Context, actor Actor, input CreateProjectInput) (domain.ProjectLedger, error) {
	if err := requireActor(actor); err != nil {
		return domain.ProjectLedger{}, err
	}
	input.ProjectID = strings.TrimSpace(input.ProjectID)
	input.CreatorID = strings.TrimSpace(input.CreatorID)
	if input.CreatorID == "" {
		input.CreatorID = actor.SubjectID
	}
	if input.CreatorID != actor.SubjectID && actor.Role != RoleOperator {
		return domain.ProjectLedger{}, domain.ErrForbidden
	}

	requestHash := hashJSON(input)
	var cached domain.ProjectLedger
	if ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash, &cached); err != nil {
		return domain.ProjectLedger{}, err
	} else if ok {
		return cached, nil
	}

	now := s.nowFn()
	multiplier := s.cfg.CollateralMultiplier
	if input.CollateralMultiplier != nil {
		multiplier = *input.CollateralMultiplier
	}
	project := domain.Project{
		ProjectID:            input.ProjectID,
		Title:                strings.TrimSpace(input.Title),
		CreatorID:            input.CreatorID,
		RequestedFunding:     input.RequestedFunding,
		CollateralMultiplier: multiplier,
		CollateralRequired:   domain.CollateralRequiredFor(input.RequestedFunding, multiplier),
		StakedAssets:         make([]domain.IPAsset, 0, len(input.StakedAssets)),
		CollateralState:      domain.CollateralStateHealthy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for _, a := range input.StakedAssets {
		if a.ValuedAt.IsZero() {
			a.ValuedAt = now
		}
		project.StakedAssets = append(project.StakedAssets, a)
	}
	milestones := make([]domain.Milestone, 0, len(input.Milestones))
	for _, m := range input.Milestones {
		milestones = append(milestones, domain.Milestone{
			MilestoneID:  strings.TrimSpace(m.MilestoneID),
			ProjectID:    project.ProjectID,
			Name:         strings.TrimSpace(m.Name),
			Description:  m.Description,
			TotalFunding: m.TotalFunding,
			Status:       domain.MilestonePending,
			DueDate:      m.DueDate.UTC(),
			UpdatedAt:    now,
		})
	}
	if err := domain.ValidateProposal(project, milestones); err != nil {
		return domain.ProjectLedger{}, err
	}
	if staked := project.StakedValue(); project.CollateralRequired > 0 && staked < project.CollateralRequired {
		project.CollateralState = domain.CollateralStateBreach
	}

	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return domain.ProjectLedger{}, err
	}
	ledger := domain.ProjectLedger{
		Project:    project,
		Escrow:     domain.EscrowAccount{ProjectID: project.ProjectID},
		Milestones: milestones,
		Version:    1,
	}
	if err := s.ledgers.Create(ctx, ledger); err != nil {
		return domain.ProjectLedger{}, err
	}
	s.logger.InfoContext(ctx, "project created",
		"operation", "create_project",
		"outcome", "success",
		"project_id", project.ProjectID,
		"milestones", len(milestones),
		"request_id", actor.RequestID,
	)
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 201, ledger)
	return ledger, nil
}

func (s *Service) GetProject(ctx context.Context, actor Actor, projectID string) (domain.ProjectLedger, error) {
	if err := requireActor(actor); err != nil {
		return domain.ProjectLedger{}, err
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.ProjectLedger{}, domain.ErrInvalidInput
	}
	return s.ledgers.Get(ctx, projectID)
}
