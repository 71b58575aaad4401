package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/domain"
)

func TestMilestoneTransitionTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from domain.MilestoneStatus
		to   domain.MilestoneStatus
		ok   bool
	}{
		{domain.MilestonePending, domain.MilestoneInProgress, true},
		{domain.MilestonePending, domain.MilestoneCompleted, true},
		{domain.MilestoneInProgress, domain.MilestoneRequiresAttention, true},
		{domain.MilestoneRequiresAttention, domain.MilestoneInProgress, true},
		{domain.MilestoneRequiresAttention, domain.MilestoneCompleted, false},
		{domain.MilestoneCompleted, domain.MilestoneInProgress, false},
		{domain.MilestoneCompleted, domain.MilestoneCompleted, false},
		{domain.MilestoneInProgress, domain.MilestonePending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMilestoneTransitionSetsReason(t *testing.T) {
	t.Parallel()
	m := domain.Milestone{MilestoneID: "m-1", Status: domain.MilestoneInProgress}
	now := time.Now().UTC()

	require.NoError(t, m.Transition(domain.MilestoneRequiresAttention, domain.AttentionProofRejected, now))
	assert.Equal(t, domain.AttentionProofRejected, m.AttentionReason)

	require.NoError(t, m.Remediate(now))
	assert.Equal(t, domain.MilestoneInProgress, m.Status)
	assert.Empty(t, m.AttentionReason)

	require.NoError(t, m.Transition(domain.MilestoneCompleted, "", now))
	err := m.Transition(domain.MilestoneCompleted, "", now)
	require.ErrorIs(t, err, domain.ErrInvalidMilestoneTransition)
}

func TestMilestoneResolve(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	open := domain.Milestone{Status: domain.MilestoneInProgress, DueDate: now.Add(24 * time.Hour)}
	late := domain.Milestone{Status: domain.MilestoneInProgress, DueDate: now.Add(-time.Hour)}

	status, _ := open.Resolve(domain.ProofAccepted, now)
	assert.Equal(t, domain.MilestoneCompleted, status)
	status, reason := open.Resolve(domain.ProofRejected, now)
	assert.Equal(t, domain.MilestoneRequiresAttention, status)
	assert.Equal(t, domain.AttentionProofRejected, reason)
	status, reason = open.Resolve(domain.ProofTimedOut, now)
	assert.Equal(t, domain.MilestoneRequiresAttention, status)
	assert.Equal(t, domain.AttentionVerificationTimeout, reason)
	status, _ = open.Resolve(domain.ProofPending, now)
	assert.Equal(t, domain.MilestoneInProgress, status)
	status, _ = open.Resolve(domain.ProofIncomplete, now)
	assert.Equal(t, domain.MilestoneInProgress, status)
	status, reason = late.Resolve(domain.ProofIncomplete, now)
	assert.Equal(t, domain.MilestoneRequiresAttention, status)
	assert.Equal(t, domain.AttentionDeadlinePassed, reason)
}

func TestProofComplete(t *testing.T) {
	t.Parallel()
	digest := strings.Repeat("ab", 32)
	assert.True(t, domain.MilestoneProof{Summary: "pilot run", Artifacts: []domain.ProofArtifact{{URI: "s3://proofs/1", SHA256: digest}}}.Complete())
	assert.False(t, domain.MilestoneProof{Summary: "pilot run"}.Complete())
	assert.False(t, domain.MilestoneProof{Artifacts: []domain.ProofArtifact{{URI: "s3://proofs/1", SHA256: digest}}}.Complete())
	assert.False(t, domain.MilestoneProof{Summary: "x", Artifacts: []domain.ProofArtifact{{URI: "s3://proofs/1", SHA256: "short"}}}.Complete())
}

func TestValidateProposal(t *testing.T) {
	t.Parallel()
	p := domain.Project{ProjectID: "p-1", Title: "t", CreatorID: "c", RequestedFunding: domain.Major(100)}
	ok := []domain.Milestone{{MilestoneID: "m-1", Name: "a", TotalFunding: domain.Major(60)}, {MilestoneID: "m-2", Name: "b", TotalFunding: domain.Major(40)}}
	require.NoError(t, domain.ValidateProposal(p, ok))

	over := append(ok, domain.Milestone{MilestoneID: "m-3", Name: "c", TotalFunding: domain.Money(1)})
	require.ErrorIs(t, domain.ValidateProposal(p, over), domain.ErrMilestoneOverCommitted)

	dup := []domain.Milestone{{MilestoneID: "m-1", Name: "a"}, {MilestoneID: "m-1", Name: "b"}}
	require.ErrorIs(t, domain.ValidateProposal(p, dup), domain.ErrInvalidInput)

	p.StakedAssets = []domain.IPAsset{{AssetID: "a-1", Name: "n", Kind: "song"}}
	require.ErrorIs(t, domain.ValidateProposal(p, ok), domain.ErrInvalidInput)
}
