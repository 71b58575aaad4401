package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

type Repositories struct {
	Ledgers     ports.LedgerRepository
	Revenue     ports.RevenueRepository
	Outbox      ports.OutboxRepository
	Idempotency ports.IdempotencyRepository
	EventDedup  ports.EventDedupRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Ledgers:     &ledgerRepository{db: db},
		Revenue:     &revenueRepository{db: db},
		Outbox:      &outboxRepository{db: db},
		Idempotency: &idempotencyRepository{db: db},
		EventDedup:  &eventDedupRepository{db: db},
	}
}

type ledgerRepository struct {
	db *gorm.DB
}

func (r *ledgerRepository) Create(ctx context.Context, ledger domain.ProjectLedger) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toProjectModel(ledger)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if assets := toAssetModels(ledger.Project); len(assets) > 0 {
			if err := tx.Create(&assets).Error; err != nil {
				return err
			}
		}
		if milestones := toMilestoneModels(ledger); len(milestones) > 0 {
			if err := tx.Create(&milestones).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *ledgerRepository) Get(ctx context.Context, projectID string) (domain.ProjectLedger, error) {
	return r.load(r.db.WithContext(ctx), strings.TrimSpace(projectID))
}

func (r *ledgerRepository) GetByMilestoneID(ctx context.Context, milestoneID string) (domain.ProjectLedger, error) {
	var m milestoneModel
	if err := r.db.WithContext(ctx).Select("project_id").Where("milestone_id = ?", strings.TrimSpace(milestoneID)).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProjectLedger{}, domain.ErrNotFound
		}
		return domain.ProjectLedger{}, err
	}
	return r.load(r.db.WithContext(ctx), m.ProjectID)
}

func (r *ledgerRepository) load(tx *gorm.DB, projectID string) (domain.ProjectLedger, error) {
	var row projectModel
	if err := tx.Where("project_id = ?", projectID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProjectLedger{}, domain.ErrNotFound
		}
		return domain.ProjectLedger{}, err
	}
	var assets []stakedAssetModel
	if err := tx.Where("project_id = ?", projectID).Order("position ASC").Find(&assets).Error; err != nil {
		return domain.ProjectLedger{}, err
	}
	var milestones []milestoneModel
	if err := tx.Where("project_id = ?", projectID).Order("position ASC").Find(&milestones).Error; err != nil {
		return domain.ProjectLedger{}, err
	}
	return toDomainLedger(row, assets, milestones), nil
}

func (r *ledgerRepository) List(ctx context.Context, projectIDs []string) ([]domain.ProjectLedger, error) {
	out := make([]domain.ProjectLedger, 0, len(projectIDs))
	for _, id := range projectIDs {
		ledger, err := r.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
		out = append(out, ledger)
	}
	return out, nil
}

func (r *ledgerRepository) ListProjectIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := r.db.WithContext(ctx).Model(&projectModel{}).
		Where("project_id > ?", afterID).
		Order("project_id ASC").
		Limit(limit).
		Pluck("project_id", &ids).Error
	return ids, err
}

func (r *ledgerRepository) ListOpenMilestones(ctx context.Context, dueBefore time.Time, limit int) ([]domain.Milestone, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []milestoneModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.MilestonePending), string(domain.MilestoneInProgress)}).
		Where("due_date IS NOT NULL AND due_date < ?", dueBefore).
		Order("due_date ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Milestone, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainMilestone(row))
	}
	return out, nil
}

// Apply writes the ledger, its new entries, any revenue allocation and the
// outbox batch in one transaction. The project row is locked and its version
// compared before anything is written.
func (r *ledgerRepository) Apply(ctx context.Context, m ports.LedgerMutation) error {
	projectID := m.Ledger.Project.ProjectID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current projectModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("project_id", "version").
			Where("project_id = ?", projectID).
			Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if current.Version != m.ExpectedVersion {
			return domain.ErrVersionConflict
		}

		if m.Revenue != nil {
			rev := toRevenueModel(*m.Revenue)
			if err := tx.Create(&rev).Error; err != nil {
				if isUniqueViolation(err) {
					return domain.ErrDuplicateEvent
				}
				return err
			}
		}

		row := toProjectModel(m.Ledger)
		if err := tx.Model(&projectModel{}).Where("project_id = ?", projectID).Updates(map[string]any{
			"title":               row.Title,
			"current_funding":     row.CurrentFunding,
			"collateral_required": row.CollateralRequired,
			"collateral_state":    row.CollateralState,
			"escrow_balance":      row.EscrowBalance,
			"escrow_released":     row.EscrowReleased,
			"version":             row.Version,
			"updated_at":          row.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		if assets := toAssetModels(m.Ledger.Project); len(assets) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "project_id"}, {Name: "asset_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"valuation", "risk_score", "revenue_dependency", "valued_at"}),
			}).Create(&assets).Error; err != nil {
				return err
			}
		}
		if milestones := toMilestoneModels(m.Ledger); len(milestones) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "milestone_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"funding_released", "status", "last_proof_at", "attention_reason", "updated_at"}),
			}).Create(&milestones).Error; err != nil {
				return err
			}
		}
		for _, e := range m.Entries {
			entry, err := toEntryModel(e)
			if err != nil {
				return err
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		for _, rec := range m.Outbox {
			out := toOutboxModel(rec)
			if err := tx.Create(&out).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateEvent) && isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *ledgerRepository) Entries(ctx context.Context, projectID string, kinds ...string) ([]domain.LedgerEntry, error) {
	q := r.db.WithContext(ctx).Where("project_id = ?", strings.TrimSpace(projectID))
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	var rows []ledgerEntryModel
	if err := q.Order("occurred_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		e, err := toDomainEntry(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

type revenueRepository struct {
	db *gorm.DB
}

func (r *revenueRepository) GetAllocation(ctx context.Context, eventID string) (*domain.RevenueAllocation, error) {
	var row revenueAllocationModel
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := toDomainRevenue(row)
	return &out, nil
}

var (
	_ ports.LedgerRepository  = (*ledgerRepository)(nil)
	_ ports.RevenueRepository = (*revenueRepository)(nil)
)
