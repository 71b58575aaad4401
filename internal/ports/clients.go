package ports

import (
	"context"
	"time"

	"github.com/l0kol/IPledge/internal/domain"
)

// ValuationOracle reports the current valuation of a staked asset.
type ValuationOracle interface {
	GetValuation(ctx context.Context, assetID string) (domain.AssetValuation, error)
}

type VerificationResult string

const (
	VerificationAccepted VerificationResult = "accepted"
	VerificationRejected VerificationResult = "rejected"
	VerificationPending  VerificationResult = "pending"
)

// ProofVerifier judges a milestone proof. Callers bound it with a context deadline.
type ProofVerifier interface {
	Verify(ctx context.Context, milestoneID string, proof domain.MilestoneProof) (VerificationResult, error)
}

// ProjectLocker serializes mutations for one project. The returned release
// func must be called exactly once.
type ProjectLocker interface {
	Lock(ctx context.Context, projectID string) (release func(), err error)
}

// ValuationCache keeps the last good oracle reading per asset.
type ValuationCache interface {
	Put(ctx context.Context, v domain.AssetValuation, ttl time.Duration) error
	Get(ctx context.Context, assetID string) (*domain.AssetValuation, error)
}

// EventPublisher delivers outbox payloads to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// AuthClaims is the subset of bearer token claims the engine acts on.
type AuthClaims struct {
	SubjectID string
	Role      string
	ExpiresAt time.Time
}

type TokenVerifier interface {
	Verify(raw string) (AuthClaims, error)
}
