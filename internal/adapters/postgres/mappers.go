package postgres

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

func toProjectModel(l domain.ProjectLedger) projectModel {
	p := l.Project
	return projectModel{
		ProjectID:            p.ProjectID,
		Title:                p.Title,
		CreatorID:            p.CreatorID,
		RequestedFunding:     int64(p.RequestedFunding),
		CurrentFunding:       int64(p.CurrentFunding),
		CollateralMultiplier: p.CollateralMultiplier,
		CollateralRequired:   int64(p.CollateralRequired),
		CollateralState:      p.CollateralState,
		EscrowBalance:        int64(l.Escrow.Balance),
		EscrowReleased:       int64(l.Escrow.Released),
		Version:              l.Version,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func toAssetModels(p domain.Project) []stakedAssetModel {
	out := make([]stakedAssetModel, 0, len(p.StakedAssets))
	for i, a := range p.StakedAssets {
		out = append(out, stakedAssetModel{
			ProjectID:         p.ProjectID,
			AssetID:           a.AssetID,
			Position:          i,
			Name:              a.Name,
			Kind:              a.Kind,
			Valuation:         int64(a.Valuation),
			RiskScore:         toNullDecimal(a.RiskScore),
			RevenueDependency: toNullDecimal(a.RevenueDependency),
			ValuedAt:          nullableTime(a.ValuedAt),
		})
	}
	return out
}

func toMilestoneModels(l domain.ProjectLedger) []milestoneModel {
	out := make([]milestoneModel, 0, len(l.Milestones))
	for i, m := range l.Milestones {
		out = append(out, milestoneModel{
			MilestoneID:     m.MilestoneID,
			ProjectID:       l.Project.ProjectID,
			Position:        i,
			Name:            m.Name,
			Description:     m.Description,
			TotalFunding:    int64(m.TotalFunding),
			FundingReleased: int64(m.FundingReleased),
			Status:          string(m.Status),
			DueDate:         nullableTime(m.DueDate),
			LastProofAt:     m.LastProofAt,
			AttentionReason: m.AttentionReason,
			UpdatedAt:       m.UpdatedAt,
		})
	}
	return out
}

func toDomainLedger(row projectModel, assets []stakedAssetModel, milestones []milestoneModel) domain.ProjectLedger {
	p := domain.Project{
		ProjectID:            row.ProjectID,
		Title:                row.Title,
		CreatorID:            row.CreatorID,
		RequestedFunding:     domain.Money(row.RequestedFunding),
		CurrentFunding:       domain.Money(row.CurrentFunding),
		CollateralMultiplier: row.CollateralMultiplier,
		CollateralRequired:   domain.Money(row.CollateralRequired),
		StakedAssets:         make([]domain.IPAsset, 0, len(assets)),
		CollateralState:      row.CollateralState,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	for _, a := range assets {
		p.StakedAssets = append(p.StakedAssets, domain.IPAsset{
			AssetID:           a.AssetID,
			Name:              a.Name,
			Kind:              a.Kind,
			Valuation:         domain.Money(a.Valuation),
			RiskScore:         fromNullDecimal(a.RiskScore),
			RevenueDependency: fromNullDecimal(a.RevenueDependency),
			ValuedAt:          derefTime(a.ValuedAt),
		})
	}
	out := domain.ProjectLedger{
		Project:    p,
		Escrow:     domain.EscrowAccount{ProjectID: row.ProjectID, Balance: domain.Money(row.EscrowBalance), Released: domain.Money(row.EscrowReleased)},
		Milestones: make([]domain.Milestone, 0, len(milestones)),
		Version:    row.Version,
	}
	for _, m := range milestones {
		out.Milestones = append(out.Milestones, toDomainMilestone(m))
	}
	return out
}

func toDomainMilestone(m milestoneModel) domain.Milestone {
	return domain.Milestone{
		MilestoneID:     m.MilestoneID,
		ProjectID:       m.ProjectID,
		Name:            m.Name,
		Description:     m.Description,
		TotalFunding:    domain.Money(m.TotalFunding),
		FundingReleased: domain.Money(m.FundingReleased),
		Status:          domain.MilestoneStatus(m.Status),
		DueDate:         derefTime(m.DueDate),
		LastProofAt:     m.LastProofAt,
		AttentionReason: m.AttentionReason,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toEntryModel(e domain.LedgerEntry) (ledgerEntryModel, error) {
	row := ledgerEntryModel{
		EntryID:        e.EntryID,
		ProjectID:      e.ProjectID,
		MilestoneID:    e.MilestoneID,
		Kind:           e.Kind,
		Amount:         int64(e.Amount),
		BalanceAfter:   int64(e.BalanceAfter),
		ReleasedAfter:  int64(e.ReleasedAfter),
		BackerID:       e.BackerID,
		BackerType:     e.BackerType,
		RevenueEventID: e.RevenueEventID,
		OccurredAt:     e.OccurredAt,
	}
	if e.Allocation != nil {
		b, err := json.Marshal(e.Allocation)
		if err != nil {
			return ledgerEntryModel{}, err
		}
		raw := string(b)
		row.Allocation = &raw
	}
	return row, nil
}

func toDomainEntry(row ledgerEntryModel) (domain.LedgerEntry, error) {
	e := domain.LedgerEntry{
		EntryID:        row.EntryID,
		ProjectID:      row.ProjectID,
		MilestoneID:    row.MilestoneID,
		Kind:           row.Kind,
		Amount:         domain.Money(row.Amount),
		BalanceAfter:   domain.Money(row.BalanceAfter),
		ReleasedAfter:  domain.Money(row.ReleasedAfter),
		BackerID:       row.BackerID,
		BackerType:     row.BackerType,
		RevenueEventID: row.RevenueEventID,
		OccurredAt:     row.OccurredAt,
	}
	if row.Allocation != nil {
		var a domain.Allocation
		if err := json.Unmarshal([]byte(*row.Allocation), &a); err != nil {
			return domain.LedgerEntry{}, err
		}
		e.Allocation = &a
	}
	return e, nil
}

func toRevenueModel(r domain.RevenueAllocation) revenueAllocationModel {
	return revenueAllocationModel{
		EventID:       r.EventID,
		ProjectID:     r.ProjectID,
		Amount:        int64(r.Amount),
		CreatorShare:  int64(r.Allocation.Creator),
		InvestorShare: int64(r.Allocation.Investor),
		ProtocolShare: int64(r.Allocation.Protocol),
		OccurredAt:    r.OccurredAt,
		ProcessedAt:   r.ProcessedAt,
	}
}

func toDomainRevenue(row revenueAllocationModel) domain.RevenueAllocation {
	return domain.RevenueAllocation{
		EventID:   row.EventID,
		ProjectID: row.ProjectID,
		Amount:    domain.Money(row.Amount),
		Allocation: domain.Allocation{
			Creator:  domain.Money(row.CreatorShare),
			Investor: domain.Money(row.InvestorShare),
			Protocol: domain.Money(row.ProtocolShare),
		},
		OccurredAt:  row.OccurredAt,
		ProcessedAt: row.ProcessedAt,
	}
}

func toOutboxModel(rec ports.OutboxRecord) outboxModel {
	payload := string(rec.Payload)
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}
	return outboxModel{
		OutboxID:     rec.OutboxID,
		EventType:    rec.EventType,
		EventClass:   rec.EventClass,
		PartitionKey: rec.PartitionKey,
		Payload:      payload,
		CreatedAt:    rec.CreatedAt,
	}
}

func toDomainOutbox(row outboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		EventClass:     row.EventClass,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      derefString(row.LastError),
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		ClaimToken:     derefString(row.ClaimToken),
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

func toNullDecimal(r domain.OptionalRatio) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: r.Value, Valid: r.Valid}
}

func fromNullDecimal(d decimal.NullDecimal) domain.OptionalRatio {
	return domain.OptionalRatio{Value: d.Decimal, Valid: d.Valid}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
