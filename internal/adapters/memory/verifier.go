package memory

import (
	"context"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// StaticVerifier answers every proof with the same result. It stands in for
// the verification service in local runs.
type StaticVerifier struct {
	Result ports.VerificationResult
}

func NewStaticVerifier(result ports.VerificationResult) StaticVerifier {
	return StaticVerifier{Result: result}
}

func (v StaticVerifier) Verify(ctx context.Context, _ string, _ domain.MilestoneProof) (ports.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return v.Result, nil
}

var _ ports.ProofVerifier = StaticVerifier{}
