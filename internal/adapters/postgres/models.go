package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

type projectModel struct {
	ProjectID            string          `gorm:"column:project_id;primaryKey"`
	Title                string          `gorm:"column:title"`
	CreatorID            string          `gorm:"column:creator_id"`
	RequestedFunding     int64           `gorm:"column:requested_funding"`
	CurrentFunding       int64           `gorm:"column:current_funding"`
	CollateralMultiplier decimal.Decimal `gorm:"column:collateral_multiplier;type:numeric"`
	CollateralRequired   int64           `gorm:"column:collateral_required"`
	CollateralState      string          `gorm:"column:collateral_state"`
	EscrowBalance        int64           `gorm:"column:escrow_balance"`
	EscrowReleased       int64           `gorm:"column:escrow_released"`
	Version              int64           `gorm:"column:version"`
	CreatedAt            time.Time       `gorm:"column:created_at"`
	UpdatedAt            time.Time       `gorm:"column:updated_at"`
}

func (projectModel) TableName() string { return "funding_projects" }

type stakedAssetModel struct {
	ProjectID         string              `gorm:"column:project_id;primaryKey"`
	AssetID           string              `gorm:"column:asset_id;primaryKey"`
	Position          int                 `gorm:"column:position"`
	Name              string              `gorm:"column:name"`
	Kind              string              `gorm:"column:kind"`
	Valuation         int64               `gorm:"column:valuation"`
	RiskScore         decimal.NullDecimal `gorm:"column:risk_score;type:numeric"`
	RevenueDependency decimal.NullDecimal `gorm:"column:revenue_dependency;type:numeric"`
	ValuedAt          *time.Time          `gorm:"column:valued_at"`
}

func (stakedAssetModel) TableName() string { return "funding_staked_assets" }

type milestoneModel struct {
	MilestoneID     string     `gorm:"column:milestone_id;primaryKey"`
	ProjectID       string     `gorm:"column:project_id"`
	Position        int        `gorm:"column:position"`
	Name            string     `gorm:"column:name"`
	Description     string     `gorm:"column:description"`
	TotalFunding    int64      `gorm:"column:total_funding"`
	FundingReleased int64      `gorm:"column:funding_released"`
	Status          string     `gorm:"column:status"`
	DueDate         *time.Time `gorm:"column:due_date"`
	LastProofAt     *time.Time `gorm:"column:last_proof_at"`
	AttentionReason string     `gorm:"column:attention_reason"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (milestoneModel) TableName() string { return "funding_milestones" }

type ledgerEntryModel struct {
	EntryID        string    `gorm:"column:entry_id;primaryKey"`
	ProjectID      string    `gorm:"column:project_id"`
	MilestoneID    string    `gorm:"column:milestone_id"`
	Kind           string    `gorm:"column:kind"`
	Amount         int64     `gorm:"column:amount"`
	BalanceAfter   int64     `gorm:"column:balance_after"`
	ReleasedAfter  int64     `gorm:"column:released_after"`
	BackerID       string    `gorm:"column:backer_id"`
	BackerType     string    `gorm:"column:backer_type"`
	RevenueEventID string    `gorm:"column:revenue_event_id"`
	Allocation     *string   `gorm:"column:allocation;type:jsonb"`
	OccurredAt     time.Time `gorm:"column:occurred_at"`
}

func (ledgerEntryModel) TableName() string { return "funding_ledger_entries" }

type revenueAllocationModel struct {
	EventID       string    `gorm:"column:event_id;primaryKey"`
	ProjectID     string    `gorm:"column:project_id"`
	Amount        int64     `gorm:"column:amount"`
	CreatorShare  int64     `gorm:"column:creator_share"`
	InvestorShare int64     `gorm:"column:investor_share"`
	ProtocolShare int64     `gorm:"column:protocol_share"`
	OccurredAt    time.Time `gorm:"column:occurred_at"`
	ProcessedAt   time.Time `gorm:"column:processed_at"`
}

func (revenueAllocationModel) TableName() string { return "funding_revenue_allocations" }

type outboxModel struct {
	OutboxID       string     `gorm:"column:outbox_id;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	EventClass     string     `gorm:"column:event_class"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "funding_outbox" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "funding_idempotency" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "funding_event_dedup" }
