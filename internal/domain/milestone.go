package domain

import (
	"fmt"
	"strings"
	"time"
)

type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "pending"
	MilestoneInProgress        MilestoneStatus = "in_progress"
	MilestoneCompleted         MilestoneStatus = "completed"
	MilestoneRequiresAttention MilestoneStatus = "requires_attention"
)

const (
	AttentionProofRejected       = "proof_rejected"
	AttentionDeadlinePassed      = "deadline_passed"
	AttentionVerificationTimeout = "verification_timeout"
)

type Milestone struct {
	MilestoneID     string          `json:"milestone_id"`
	ProjectID       string          `json:"project_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	TotalFunding    Money           `json:"total_funding"`
	FundingReleased Money           `json:"funding_released"`
	Status          MilestoneStatus `json:"status"`
	DueDate         time.Time       `json:"due_date"`
	LastProofAt     *time.Time      `json:"last_proof_at,omitempty"`
	AttentionReason string          `json:"attention_reason,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ProofArtifact references evidence stored elsewhere.
type ProofArtifact struct {
	Kind   string `json:"kind"`
	URI    string `json:"uri"`
	SHA256 string `json:"sha256"`
}

type MilestoneProof struct {
	SubmittedBy string          `json:"submitted_by"`
	Summary     string          `json:"summary"`
	Artifacts   []ProofArtifact `json:"artifacts"`
}

// Complete reports whether the proof carries enough to be sent for verification.
func (p MilestoneProof) Complete() bool {
	if strings.TrimSpace(p.Summary) == "" || len(p.Artifacts) == 0 {
		return false
	}
	for _, a := range p.Artifacts {
		if strings.TrimSpace(a.URI) == "" || len(strings.TrimSpace(a.SHA256)) != 64 {
			return false
		}
	}
	return true
}

// ProofOutcome is what the engine learned about a submitted proof.
type ProofOutcome string

const (
	ProofIncomplete ProofOutcome = "incomplete"
	ProofAccepted   ProofOutcome = "accepted"
	ProofRejected   ProofOutcome = "rejected"
	ProofPending    ProofOutcome = "pending"
	ProofTimedOut   ProofOutcome = "timed_out"
)

var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestonePending:           {MilestoneInProgress, MilestoneCompleted, MilestoneRequiresAttention},
	MilestoneInProgress:        {MilestoneInProgress, MilestoneCompleted, MilestoneRequiresAttention},
	MilestoneRequiresAttention: {MilestoneInProgress},
	MilestoneCompleted:         nil,
}

func (s MilestoneStatus) Valid() bool {
	_, ok := milestoneTransitions[s]
	return ok
}

func (s MilestoneStatus) CanTransitionTo(next MilestoneStatus) bool {
	for _, allowed := range milestoneTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the milestone to next, clearing or setting the attention reason.
func (m *Milestone) Transition(next MilestoneStatus, reason string, now time.Time) error {
	if !m.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMilestoneTransition, m.Status, next)
	}
	m.Status = next
	m.AttentionReason = ""
	if next == MilestoneRequiresAttention {
		m.AttentionReason = reason
	}
	m.UpdatedAt = now
	return nil
}

// Remediate returns a milestone needing attention to in-progress.
func (m *Milestone) Remediate(now time.Time) error {
	if m.Status != MilestoneRequiresAttention {
		return nil
	}
	return m.Transition(MilestoneInProgress, "", now)
}

// Resolve maps a proof outcome to the target status and, for attention, its reason.
func (m Milestone) Resolve(outcome ProofOutcome, now time.Time) (MilestoneStatus, string) {
	switch outcome {
	case ProofAccepted:
		return MilestoneCompleted, ""
	case ProofRejected:
		return MilestoneRequiresAttention, AttentionProofRejected
	case ProofTimedOut:
		return MilestoneRequiresAttention, AttentionVerificationTimeout
	case ProofIncomplete:
		if m.Overdue(now) {
			return MilestoneRequiresAttention, AttentionDeadlinePassed
		}
		return MilestoneInProgress, ""
	default:
		return MilestoneInProgress, ""
	}
}

// Overdue is true once the due date has passed and the milestone is still open.
func (m Milestone) Overdue(now time.Time) bool {
	if m.DueDate.IsZero() || m.Status == MilestoneCompleted {
		return false
	}
	return now.After(m.DueDate)
}

// ReleaseAmount is what completing the milestone would disburse.
func (m Milestone) ReleaseAmount() Money { return m.TotalFunding - m.FundingReleased }
