package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

func verdict(v ports.VerificationResult) verifierFunc {
	return func(context.Context, string, domain.MilestoneProof) (ports.VerificationResult, error) {
		return v, nil
	}
}

func TestAcceptedProofCompletesAndReleases(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")
	f.pledge(t, "p1", domain.Major(100000))

	res, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.NoError(t, err)
	assert.Equal(t, domain.ProofAccepted, res.Outcome)
	assert.Equal(t, domain.MilestoneCompleted, res.Milestone.Status)
	assert.Equal(t, domain.Major(60000), res.Released)
	assert.Equal(t, domain.Major(60000), res.Milestone.FundingReleased)
	assert.Equal(t, domain.Major(40000), res.Escrow.Balance)
	require.NotNil(t, res.Milestone.LastProofAt)
	assert.Equal(t, []string{
		domain.EventPledgeRecorded,
		domain.EventMilestoneReleased,
		domain.EventMilestoneStatusChanged,
	}, f.outboxTypes())

	_, err = f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.ErrorIs(t, err, domain.ErrInvalidMilestoneTransition)
}

func TestFailedReleaseRollsBackCompletion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")
	f.pledge(t, "p1", domain.Major(10000))

	_, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.ErrorIs(t, err, domain.ErrInsufficientEscrow)

	ledger, err := f.svc.GetProject(context.Background(), creator, "p1")
	require.NoError(t, err)
	ms, ok := ledger.Milestone("p1_m1")
	require.True(t, ok)
	assert.Equal(t, domain.MilestonePending, ms.Status)
	assert.Zero(t, ms.FundingReleased)
	assert.Nil(t, ms.LastProofAt)
	assert.Equal(t, domain.Major(10000), ledger.Escrow.Balance)
	assert.Equal(t, []string{domain.EventPledgeRecorded}, f.outboxTypes())
}

func TestVerifierTimeoutRequiresAttention(t *testing.T) {
	t.Parallel()
	blocking := verifierFunc(func(ctx context.Context, _ string, _ domain.MilestoneProof) (ports.VerificationResult, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t,
		withVerifier(blocking),
		withConfig(func(c *application.Config) { c.VerificationTimeout = 20 * time.Millisecond }),
	)
	f.createProject(t, "p1")
	f.pledge(t, "p1", domain.Major(100000))

	res, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.NoError(t, err)
	assert.Equal(t, domain.ProofTimedOut, res.Outcome)
	assert.Equal(t, domain.MilestoneRequiresAttention, res.Milestone.Status)
	assert.Equal(t, domain.AttentionVerificationTimeout, res.Milestone.AttentionReason)
	assert.Zero(t, res.Released)
}

func TestVerifierTransportFailureLeavesProofPending(t *testing.T) {
	t.Parallel()
	down := verifierFunc(func(context.Context, string, domain.MilestoneProof) (ports.VerificationResult, error) {
		return "", errors.New("rpc error: code = Unavailable desc = connection refused")
	})
	f := newFixture(t, withVerifier(down))
	f.createProject(t, "p1")
	f.pledge(t, "p1", domain.Major(100000))

	res, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.NoError(t, err)
	assert.Equal(t, domain.ProofPending, res.Outcome)
	assert.Equal(t, domain.MilestoneInProgress, res.Milestone.Status)
	assert.NotEmpty(t, res.Warning)
	assert.Zero(t, res.Released)
	assert.Equal(t, domain.Major(100000), res.Escrow.Balance)
}

func TestRejectedProofThenRemediation(t *testing.T) {
	t.Parallel()
	reject := verdict(ports.VerificationRejected)
	var current ports.ProofVerifier = reject
	f := newFixture(t, withVerifier(verifierFunc(func(ctx context.Context, id string, p domain.MilestoneProof) (ports.VerificationResult, error) {
		return current.Verify(ctx, id, p)
	})))
	f.createProject(t, "p1")
	f.pledge(t, "p1", domain.Major(100000))

	res, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.NoError(t, err)
	assert.Equal(t, domain.MilestoneRequiresAttention, res.Milestone.Status)
	assert.Equal(t, domain.AttentionProofRejected, res.Milestone.AttentionReason)

	current = verdict(ports.VerificationAccepted)
	res, err = f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.NoError(t, err)
	assert.Equal(t, domain.MilestoneCompleted, res.Milestone.Status)
	assert.Empty(t, res.Milestone.AttentionReason)
	assert.Equal(t, domain.Major(60000), res.Released)
}

func TestIncompleteAndPendingProofsKeepMilestoneOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withVerifier(verdict(ports.VerificationPending)))
	f.createProject(t, "p1")

	res, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: domain.MilestoneProof{Summary: "no artifacts"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ProofIncomplete, res.Outcome)
	assert.Equal(t, domain.MilestoneInProgress, res.Milestone.Status)

	res, err = f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m2", Proof: completeProof()})
	require.NoError(t, err)
	assert.Equal(t, domain.ProofPending, res.Outcome)
	assert.Equal(t, domain.MilestoneInProgress, res.Milestone.Status)
}

func TestIncompleteProofAfterDueDateRequiresAttention(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")
	f.clock.Advance(100 * 24 * time.Hour)

	res, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: domain.MilestoneProof{}})
	require.NoError(t, err)
	assert.Equal(t, domain.MilestoneRequiresAttention, res.Milestone.Status)
	assert.Equal(t, domain.AttentionDeadlinePassed, res.Milestone.AttentionReason)
}

func TestProofFromStrangerForbidden(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")

	_, err := f.svc.SubmitMilestoneProof(context.Background(), backer, application.SubmitProofInput{MilestoneID: "p1_m1", Proof: completeProof()})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{MilestoneID: "missing", Proof: completeProof()})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkOverdueMilestones(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")
	f.clock.Advance(120 * 24 * time.Hour)

	changed, err := f.svc.MarkOverdueMilestones(context.Background(), system)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	ledger, err := f.svc.GetProject(context.Background(), system, "p1")
	require.NoError(t, err)
	m1, _ := ledger.Milestone("p1_m1")
	m2, _ := ledger.Milestone("p1_m2")
	assert.Equal(t, domain.MilestoneRequiresAttention, m1.Status)
	assert.Equal(t, domain.AttentionDeadlinePassed, m1.AttentionReason)
	assert.Equal(t, domain.MilestonePending, m2.Status)

	changed, err = f.svc.MarkOverdueMilestones(context.Background(), system)
	require.NoError(t, err)
	assert.Zero(t, changed)

	_, err = f.svc.MarkOverdueMilestones(context.Background(), backer)
	require.ErrorIs(t, err, domain.ErrForbidden)
}
