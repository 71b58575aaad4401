package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// Repositories is the in-process storage driver. Ledgers, revenue
// allocations and the outbox share one store so a LedgerMutation lands
// atomically, the same as the postgres transaction.
type Repositories struct {
	Ledgers     *LedgerRepository
	Revenue     *RevenueRepository
	Outbox      *OutboxRepository
	Idempotency *IdempotencyRepository
	EventDedup  *EventDedupRepository
}

func NewRepositories() *Repositories {
	s := &store{
		ledgers: map[string]domain.ProjectLedger{},
		revenue: map[string]domain.RevenueAllocation{},
		outbox:  map[string]ports.OutboxRecord{},
	}
	return &Repositories{
		Ledgers:     &LedgerRepository{s: s},
		Revenue:     &RevenueRepository{s: s},
		Outbox:      &OutboxRepository{s: s},
		Idempotency: &IdempotencyRepository{rows: map[string]ports.IdempotencyRecord{}},
		EventDedup:  &EventDedupRepository{rows: map[string]eventDedupRow{}},
	}
}

type store struct {
	mu          sync.Mutex
	ledgers     map[string]domain.ProjectLedger
	entries     []domain.LedgerEntry
	revenue     map[string]domain.RevenueAllocation
	outbox      map[string]ports.OutboxRecord
	outboxOrder []string
}

type LedgerRepository struct{ s *store }

func (r *LedgerRepository) Create(_ context.Context, ledger domain.ProjectLedger) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.ledgers[ledger.Project.ProjectID]; ok {
		return domain.ErrConflict
	}
	for _, existing := range r.s.ledgers {
		for _, m := range ledger.Milestones {
			if _, taken := existing.Milestone(m.MilestoneID); taken {
				return domain.ErrConflict
			}
		}
	}
	r.s.ledgers[ledger.Project.ProjectID] = ledger.Clone()
	return nil
}

func (r *LedgerRepository) Get(_ context.Context, projectID string) (domain.ProjectLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.ledgers[strings.TrimSpace(projectID)]
	if !ok {
		return domain.ProjectLedger{}, domain.ErrNotFound
	}
	return row.Clone(), nil
}

func (r *LedgerRepository) GetByMilestoneID(_ context.Context, milestoneID string) (domain.ProjectLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, row := range r.s.ledgers {
		if _, ok := row.Milestone(milestoneID); ok {
			return row.Clone(), nil
		}
	}
	return domain.ProjectLedger{}, domain.ErrNotFound
}

func (r *LedgerRepository) List(_ context.Context, projectIDs []string) ([]domain.ProjectLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.ProjectLedger, 0, len(projectIDs))
	for _, id := range projectIDs {
		row, ok := r.s.ledgers[strings.TrimSpace(id)]
		if !ok {
			return nil, domain.ErrNotFound
		}
		out = append(out, row.Clone())
	}
	return out, nil
}

func (r *LedgerRepository) ListProjectIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	ids := make([]string, 0, len(r.s.ledgers))
	for id := range r.s.ledgers {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *LedgerRepository) ListOpenMilestones(_ context.Context, dueBefore time.Time, limit int) ([]domain.Milestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.Milestone, 0)
	for _, row := range r.s.ledgers {
		for _, m := range row.Milestones {
			if m.Status != domain.MilestonePending && m.Status != domain.MilestoneInProgress {
				continue
			}
			if m.DueDate.IsZero() || !m.DueDate.Before(dueBefore) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *LedgerRepository) Apply(_ context.Context, mutation ports.LedgerMutation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := mutation.Ledger.Project.ProjectID
	current, ok := r.s.ledgers[id]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != mutation.ExpectedVersion {
		return domain.ErrVersionConflict
	}
	if mutation.Revenue != nil {
		if _, dup := r.s.revenue[mutation.Revenue.EventID]; dup {
			return domain.ErrDuplicateEvent
		}
	}
	for _, rec := range mutation.Outbox {
		if _, dup := r.s.outbox[rec.OutboxID]; dup {
			return domain.ErrConflict
		}
	}

	r.s.ledgers[id] = mutation.Ledger.Clone()
	r.s.entries = append(r.s.entries, mutation.Entries...)
	if mutation.Revenue != nil {
		r.s.revenue[mutation.Revenue.EventID] = *mutation.Revenue
	}
	for _, rec := range mutation.Outbox {
		rec.Payload = append([]byte(nil), rec.Payload...)
		r.s.outbox[rec.OutboxID] = rec
		r.s.outboxOrder = append(r.s.outboxOrder, rec.OutboxID)
	}
	return nil
}

func (r *LedgerRepository) Entries(_ context.Context, projectID string, kinds ...string) ([]domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := strings.TrimSpace(projectID)
	out := make([]domain.LedgerEntry, 0)
	for _, row := range r.s.entries {
		if row.ProjectID != id || !kindMatches(row.Kind, kinds) {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func kindMatches(kind string, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type RevenueRepository struct{ s *store }

func (r *RevenueRepository) GetAllocation(_ context.Context, eventID string) (*domain.RevenueAllocation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.revenue[eventID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

type OutboxRepository struct{ s *store }

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.s.outboxOrder {
		row := r.s.outbox[id]
		if row.PublishedAt != nil || row.DeadLetteredAt != nil {
			continue
		}
		if row.ClaimUntil != nil && row.ClaimUntil.After(now) {
			continue
		}
		until := claimUntil
		row.ClaimToken = claimToken
		row.ClaimUntil = &until
		r.s.outbox[id] = row
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.PublishedAt = &at
		row.LastError = ""
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID, claimToken, errMsg string, _ time.Time) error {
	return r.update(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.RetryCount++
		row.LastError = errMsg
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.LastError = errMsg
		row.DeadLetteredAt = &at
	})
}

func (r *OutboxRepository) update(outboxID, claimToken string, fn func(*ports.OutboxRecord)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.outbox[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	if row.ClaimToken != claimToken {
		return domain.ErrConflict
	}
	fn(&row)
	row.ClaimToken = ""
	row.ClaimUntil = nil
	r.s.outbox[outboxID] = row
	return nil
}

// Pending lists records not yet published or dead-lettered, oldest first.
func (r *OutboxRepository) Pending() []ports.OutboxRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]ports.OutboxRecord, 0)
	for _, id := range r.s.outboxOrder {
		row := r.s.outbox[id]
		if row.PublishedAt == nil && row.DeadLetteredAt == nil {
			out = append(out, row)
		}
	}
	return out
}

type IdempotencyRepository struct {
	mu   sync.Mutex
	rows map[string]ports.IdempotencyRecord
}

func (r *IdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return nil, nil
	}
	if now.After(row.ExpiresAt) {
		delete(r.rows, key)
		return nil, nil
	}
	c := row
	c.ResponseBody = append([]byte(nil), row.ResponseBody...)
	return &c, nil
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[key]; ok && time.Now().UTC().Before(row.ExpiresAt) {
		return domain.ErrConflict
	}
	r.rows[key] = ports.IdempotencyRecord{Key: key, RequestHash: requestHash, ExpiresAt: expiresAt}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return domain.ErrNotFound
	}
	row.ResponseCode = responseCode
	row.ResponseBody = append([]byte(nil), responseBody...)
	r.rows[key] = row
	return nil
}

type eventDedupRow struct {
	EventType string
	ExpiresAt time.Time
}

type EventDedupRepository struct {
	mu   sync.Mutex
	rows map[string]eventDedupRow
}

func (r *EventDedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[eventID]
	if !ok {
		return false, nil
	}
	if now.After(row.ExpiresAt) {
		delete(r.rows, eventID)
		return false, nil
	}
	return true, nil
}

func (r *EventDedupRepository) MarkProcessed(_ context.Context, eventID, eventType string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[eventID] = eventDedupRow{EventType: eventType, ExpiresAt: expiresAt}
	return nil
}
