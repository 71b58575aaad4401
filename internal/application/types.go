package application

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

const (
	RoleCreator  = "creator"
	RoleBacker   = "backer"
	RoleOperator = "operator"
	RoleService  = "service"
)

// DefaultRevenueMaxAge is how far back a revenue event may be stamped.
const DefaultRevenueMaxAge = 5 * 365 * 24 * time.Hour

type Config struct {
	ServiceName          string
	IdempotencyTTL       time.Duration
	EventDedupTTL        time.Duration
	VerificationTimeout  time.Duration
	OracleTimeout        time.Duration
	OracleConcurrency    int
	ValuationStaleAfter  time.Duration
	ValuationCacheTTL    time.Duration
	CollateralMultiplier decimal.Decimal
	BlockReleaseOnBreach bool
	DefaultTiers         domain.TierTable
	SweepBatchSize       int
	// RevenueMaxAge and RevenueClockSkew bound revenue event timestamps.
	RevenueMaxAge    time.Duration
	RevenueClockSkew time.Duration
}

type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

// SystemActor is used by workers acting on broker events and sweeps.
func SystemActor(requestID string) Actor {
	return Actor{SubjectID: "system", Role: RoleService, RequestID: requestID}
}

type MilestoneInput struct {
	MilestoneID  string       `json:"milestone_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	TotalFunding domain.Money `json:"total_funding"`
	DueDate      time.Time    `json:"due_date"`
}

type CreateProjectInput struct {
	ProjectID            string           `json:"project_id"`
	Title                string           `json:"title"`
	CreatorID            string           `json:"creator_id"`
	RequestedFunding     domain.Money     `json:"requested_funding"`
	CollateralMultiplier *decimal.Decimal `json:"collateral_multiplier,omitempty"`
	StakedAssets         []domain.IPAsset `json:"staked_assets"`
	Milestones           []MilestoneInput `json:"milestones"`
}

type PledgeInput struct {
	ProjectID  string       `json:"project_id"`
	Amount     domain.Money `json:"amount"`
	BackerType string       `json:"backer_type"`
}

type RefundInput struct {
	ProjectID  string       `json:"project_id"`
	BackerID   string       `json:"backer_id"`
	BackerType string       `json:"backer_type"`
	Amount     domain.Money `json:"amount"`
}

type CommitReleaseInput struct {
	ProjectID   string       `json:"project_id"`
	MilestoneID string       `json:"milestone_id"`
	Amount      domain.Money `json:"amount"`
}

type LedgerResult struct {
	Entry          domain.LedgerEntry   `json:"entry"`
	Escrow         domain.EscrowAccount `json:"escrow"`
	CurrentFunding domain.Money         `json:"current_funding"`
}

type SubmitProofInput struct {
	MilestoneID string                `json:"milestone_id"`
	Proof       domain.MilestoneProof `json:"proof"`
}

type MilestoneResult struct {
	Milestone domain.Milestone     `json:"milestone"`
	Outcome   domain.ProofOutcome  `json:"outcome"`
	Released  domain.Money         `json:"released"`
	Escrow    domain.EscrowAccount `json:"escrow"`
	// Warning is set when the verifier could not give a verdict.
	Warning string `json:"warning,omitempty"`
}

type DistributeRevenueInput struct {
	Event domain.RevenueEvent
	// Tiers overrides the configured default table when non-empty.
	Tiers domain.TierTable
}

type DistributionResult struct {
	EventID    string            `json:"event_id"`
	ProjectID  string            `json:"project_id"`
	Amount     domain.Money      `json:"amount"`
	Allocation domain.Allocation `json:"allocation"`
	Duplicate  bool              `json:"duplicate"`
}

type Service struct {
	cfg         Config
	logger      *slog.Logger
	ledgers     ports.LedgerRepository
	revenue     ports.RevenueRepository
	idempotency ports.IdempotencyRepository
	eventDedup  ports.EventDedupRepository
	locker      ports.ProjectLocker
	oracle      ports.ValuationOracle
	verifier    ports.ProofVerifier
	valuations  ports.ValuationCache
	nowFn       func() time.Time
}

type Dependencies struct {
	Config      Config
	Logger      *slog.Logger
	Ledgers     ports.LedgerRepository
	Revenue     ports.RevenueRepository
	Idempotency ports.IdempotencyRepository
	EventDedup  ports.EventDedupRepository
	Locker      ports.ProjectLocker
	Oracle      ports.ValuationOracle
	Verifier    ports.ProofVerifier
	Valuations  ports.ValuationCache
	Clock       func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "IPledge-Funding-Engine"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.VerificationTimeout <= 0 {
		cfg.VerificationTimeout = 10 * time.Second
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 3 * time.Second
	}
	if cfg.OracleConcurrency <= 0 {
		cfg.OracleConcurrency = 8
	}
	if cfg.ValuationStaleAfter <= 0 {
		cfg.ValuationStaleAfter = 24 * time.Hour
	}
	if cfg.ValuationCacheTTL <= 0 {
		cfg.ValuationCacheTTL = 7 * 24 * time.Hour
	}
	if cfg.CollateralMultiplier.IsZero() {
		cfg.CollateralMultiplier = domain.DefaultCollateralMultiplier
	}
	if len(cfg.DefaultTiers) == 0 {
		cfg.DefaultTiers = domain.DefaultTierTable()
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.RevenueMaxAge <= 0 {
		cfg.RevenueMaxAge = DefaultRevenueMaxAge
	}
	if cfg.RevenueClockSkew <= 0 {
		cfg.RevenueClockSkew = 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:         cfg,
		logger:      logger.With("module", "application", "layer", "application"),
		ledgers:     deps.Ledgers,
		revenue:     deps.Revenue,
		idempotency: deps.Idempotency,
		eventDedup:  deps.EventDedup,
		locker:      deps.Locker,
		oracle:      deps.Oracle,
		verifier:    deps.Verifier,
		valuations:  deps.Valuations,
		nowFn:       nowFn,
	}
}

// DefaultTiers exposes the validated table used when a caller supplies none.
func (s *Service) DefaultTiers() domain.TierTable { return s.cfg.DefaultTiers }
