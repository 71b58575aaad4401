package contracts

import "github.com/l0kol/IPledge/internal/domain"

type PledgeRecordedPayload struct {
	ProjectID      string       `json:"project_id"`
	BackerID       string       `json:"backer_id"`
	BackerType     string       `json:"backer_type"`
	Amount         domain.Money `json:"amount"`
	EscrowBalance  domain.Money `json:"escrow_balance"`
	CurrentFunding domain.Money `json:"current_funding"`
	RecordedAt     string       `json:"recorded_at"`
}

type PledgeRefundedPayload struct {
	ProjectID     string       `json:"project_id"`
	BackerID      string       `json:"backer_id"`
	Amount        domain.Money `json:"amount"`
	EscrowBalance domain.Money `json:"escrow_balance"`
	RefundedAt    string       `json:"refunded_at"`
}

type MilestoneStatusChangedPayload struct {
	ProjectID       string `json:"project_id"`
	MilestoneID     string `json:"milestone_id"`
	FromStatus      string `json:"from_status"`
	ToStatus        string `json:"to_status"`
	AttentionReason string `json:"attention_reason,omitempty"`
	ChangedAt       string `json:"changed_at"`
}

type MilestoneReleasedPayload struct {
	ProjectID       string       `json:"project_id"`
	MilestoneID     string       `json:"milestone_id"`
	Amount          domain.Money `json:"amount"`
	FundingReleased domain.Money `json:"funding_released"`
	EscrowBalance   domain.Money `json:"escrow_balance"`
	ReleasedAt      string       `json:"released_at"`
}

type RevenueDistributedPayload struct {
	ProjectID  string            `json:"project_id"`
	EventID    string            `json:"event_id"`
	Amount     domain.Money      `json:"amount"`
	Allocation domain.Allocation `json:"allocation"`
	OccurredAt string            `json:"occurred_at"`
}

type CollateralAdvisoryPayload struct {
	ProjectID          string       `json:"project_id"`
	State              string       `json:"state"`
	Ratio              string       `json:"ratio"`
	RiskScore          string       `json:"risk_score"`
	Band               string       `json:"band"`
	StakedValue        domain.Money `json:"staked_value"`
	CollateralRequired domain.Money `json:"collateral_required"`
	Stale              bool         `json:"stale"`
	EvaluatedAt        string       `json:"evaluated_at"`
}

// Inbound payloads.

type RevenueReceivedPayload struct {
	EventID    string       `json:"event_id"`
	ProjectID  string       `json:"project_id"`
	Amount     domain.Money `json:"amount"`
	OccurredAt string       `json:"occurred_at"`
}

type ValuationUpdatedPayload struct {
	ProjectID string       `json:"project_id"`
	AssetID   string       `json:"asset_id"`
	Valuation domain.Money `json:"valuation"`
	AsOf      string       `json:"as_of"`
}
