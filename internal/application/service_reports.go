package application

import (
	"context"

	"github.com/l0kol/IPledge/internal/domain"
)

// GetFundingFlowReport buckets the project's ledger history. It never mutates state.
func (s *Service) GetFundingFlowReport(ctx context.Context, actor Actor, projectID, bucketing string) ([]domain.FundingFlowReport, error) {
	b, err := domain.ParseBucketing(bucketing)
	if err != nil {
		return nil, err
	}
	ledger, err := s.GetProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledgers.Entries(ctx, ledger.Project.ProjectID)
	if err != nil {
		return nil, err
	}
	return domain.AggregateFundingFlow(entries, b), nil
}

func (s *Service) GetBackerSegments(ctx context.Context, actor Actor, projectID string) ([]domain.BackerSegment, error) {
	ledger, err := s.GetProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledgers.Entries(ctx, ledger.Project.ProjectID, domain.EntryPledge, domain.EntryPledgeRefund)
	if err != nil {
		return nil, err
	}
	return domain.SegmentBackers(entries), nil
}
