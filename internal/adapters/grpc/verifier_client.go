package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

const verifyMethod = "/ipledge.verification.v1.ProofVerifier/Verify"

// VerifierClient asks the external proof verification service to judge a
// milestone proof. Deadlines come from the caller's context.
type VerifierClient struct {
	conn *grpc.ClientConn
}

func DialVerifier(target string) (*VerifierClient, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial proof verifier: %w", err)
	}
	return &VerifierClient{conn: conn}, nil
}

func NewVerifierClient(conn *grpc.ClientConn) *VerifierClient {
	return &VerifierClient{conn: conn}
}

func (c *VerifierClient) Verify(ctx context.Context, milestoneID string, proof domain.MilestoneProof) (ports.VerificationResult, error) {
	req, err := toStruct(struct {
		MilestoneID string                `json:"milestone_id"`
		Proof       domain.MilestoneProof `json:"proof"`
	}{milestoneID, proof})
	if err != nil {
		return "", err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, verifyMethod, req, resp); err != nil {
		return "", err
	}
	var out struct {
		Result string `json:"result"`
	}
	b, err := json.Marshal(resp.AsMap())
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", err
	}
	switch result := ports.VerificationResult(out.Result); result {
	case ports.VerificationAccepted, ports.VerificationRejected, ports.VerificationPending:
		return result, nil
	default:
		return "", fmt.Errorf("proof verifier returned unknown result %q", out.Result)
	}
}

func (c *VerifierClient) Close() error {
	return c.conn.Close()
}

var _ ports.ProofVerifier = (*VerifierClient)(nil)
