package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/l0kol/IPledge/internal/domain"
)

// LedgerMutation is everything one locked operation changes. Stores apply it
// in a single transaction, failing with domain.ErrVersionConflict when the
// ledger moved past ExpectedVersion.
type LedgerMutation struct {
	Ledger          domain.ProjectLedger
	ExpectedVersion int64
	Entries         []domain.LedgerEntry
	Revenue         *domain.RevenueAllocation
	Outbox          []OutboxRecord
}

type LedgerRepository interface {
	Create(ctx context.Context, ledger domain.ProjectLedger) error
	Get(ctx context.Context, projectID string) (domain.ProjectLedger, error)
	GetByMilestoneID(ctx context.Context, milestoneID string) (domain.ProjectLedger, error)
	List(ctx context.Context, projectIDs []string) ([]domain.ProjectLedger, error)
	// ListProjectIDs pages through project ids in ascending order after afterID.
	ListProjectIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	ListOpenMilestones(ctx context.Context, dueBefore time.Time, limit int) ([]domain.Milestone, error)
	Apply(ctx context.Context, mutation LedgerMutation) error
	Entries(ctx context.Context, projectID string, kinds ...string) ([]domain.LedgerEntry, error)
}

// RevenueRepository remembers which revenue events were already distributed.
type RevenueRepository interface {
	GetAllocation(ctx context.Context, eventID string) (*domain.RevenueAllocation, error)
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type OutboxRecord struct {
	OutboxID       string
	EventType      string
	EventClass     string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	ClaimToken     string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
}
