package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// SubmitMilestoneProof verifies a proof and advances the milestone. The
// verifier runs without the project lock; the transition and any release are
// then applied together, so a failed release leaves the milestone as it was.
func (s *Service) SubmitMilestoneProof(ctx context.Context, actor Actor, input SubmitProofInput) (MilestoneResult, error) {
	if err := requireActor(actor); err != nil {
		return MilestoneResult{}, err
	}
	input.MilestoneID = strings.TrimSpace(input.MilestoneID)
	if input.MilestoneID == "" {
		return MilestoneResult{}, domain.ErrInvalidInput
	}
	snapshot, err := s.ledgers.GetByMilestoneID(ctx, input.MilestoneID)
	if err != nil {
		return MilestoneResult{}, err
	}
	ms, _ := snapshot.Milestone(input.MilestoneID)
	if ms.Status == domain.MilestoneCompleted {
		return MilestoneResult{}, fmt.Errorf("%w: milestone %s already completed", domain.ErrInvalidMilestoneTransition, ms.MilestoneID)
	}
	if actor.SubjectID != snapshot.Project.CreatorID && actor.Role != RoleOperator {
		return MilestoneResult{}, domain.ErrForbidden
	}
	if strings.TrimSpace(input.Proof.SubmittedBy) == "" {
		input.Proof.SubmittedBy = actor.SubjectID
	}

	outcome, warning, err := s.verifyProof(ctx, input.MilestoneID, input.Proof)
	if err != nil {
		return MilestoneResult{}, err
	}

	result := MilestoneResult{Outcome: outcome, Warning: warning}
	ledger, err := s.mutate(ctx, snapshot.Project.ProjectID, func(l *domain.ProjectLedger, m *ports.LedgerMutation) error {
		now := s.nowFn()
		ms, ok := l.Milestone(input.MilestoneID)
		if !ok {
			return fmt.Errorf("%w: milestone %s", domain.ErrNotFound, input.MilestoneID)
		}
		prior := ms.Status
		if prior == domain.MilestoneCompleted {
			return fmt.Errorf("%w: milestone %s already completed", domain.ErrInvalidMilestoneTransition, ms.MilestoneID)
		}
		if err := ms.Remediate(now); err != nil {
			return err
		}
		target, reason := ms.Resolve(outcome, now)
		if target == domain.MilestoneCompleted {
			if err := s.checkReleasePolicy(l); err != nil {
				return err
			}
			if amount := ms.ReleaseAmount(); amount > 0 {
				entry, err := l.CommitRelease(uuid.NewString(), ms.MilestoneID, amount, now)
				if err != nil {
					return err
				}
				m.Entries = append(m.Entries, entry)
				result.Released = amount
				if err := s.emitRelease(m, actor.RequestID, *ms, entry, l.Escrow, now); err != nil {
					return err
				}
			}
		}
		if err := ms.Transition(target, reason, now); err != nil {
			return err
		}
		proofAt := now
		ms.LastProofAt = &proofAt
		if prior != ms.Status {
			return s.emitStatusChange(m, actor.RequestID, *ms, prior, now)
		}
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "milestone proof not applied",
			"operation", "submit_milestone_proof",
			"outcome", "failure",
			"milestone_id", input.MilestoneID,
			"proof_outcome", string(outcome),
			"error", err,
		)
		return MilestoneResult{}, err
	}
	updated, _ := ledger.Milestone(input.MilestoneID)
	result.Milestone = *updated
	result.Escrow = ledger.Escrow
	s.logger.InfoContext(ctx, "milestone proof applied",
		"operation", "submit_milestone_proof",
		"outcome", "success",
		"project_id", ledger.Project.ProjectID,
		"milestone_id", input.MilestoneID,
		"status", string(updated.Status),
		"released", result.Released.String(),
	)
	return result, nil
}

// verifyProof calls the external verifier under the configured deadline. A
// deadline miss is an outcome, not an error. Any other verifier failure
// leaves the proof pending and comes back as a warning.
func (s *Service) verifyProof(ctx context.Context, milestoneID string, proof domain.MilestoneProof) (domain.ProofOutcome, string, error) {
	if !proof.Complete() {
		return domain.ProofIncomplete, "", nil
	}
	if s.verifier == nil {
		return domain.ProofPending, "proof verifier not configured", nil
	}
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VerificationTimeout)
	defer cancel()
	res, err := s.verifier.Verify(vctx, milestoneID, proof)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrVerificationTimeout) || errors.Is(vctx.Err(), context.DeadlineExceeded) {
			s.logger.WarnContext(ctx, "proof verification timed out",
				"operation", "verify_proof",
				"outcome", "timeout",
				"milestone_id", milestoneID,
				"timeout_ms", s.cfg.VerificationTimeout.Milliseconds(),
			)
			return domain.ProofTimedOut, "", nil
		}
		s.logger.WarnContext(ctx, "proof verifier unavailable",
			"operation", "verify_proof",
			"outcome", "degraded",
			"milestone_id", milestoneID,
			"error", err,
		)
		return domain.ProofPending, "proof verifier unavailable; verification pending", nil
	}
	switch res {
	case ports.VerificationAccepted:
		return domain.ProofAccepted, "", nil
	case ports.VerificationRejected:
		return domain.ProofRejected, "", nil
	case ports.VerificationPending:
		return domain.ProofPending, "", nil
	default:
		s.logger.WarnContext(ctx, "proof verifier returned unknown verdict",
			"operation", "verify_proof",
			"outcome", "degraded",
			"milestone_id", milestoneID,
			"verdict", string(res),
		)
		return domain.ProofPending, fmt.Sprintf("proof verifier returned unknown verdict %q; verification pending", res), nil
	}
}

// MarkOverdueMilestones moves open milestones past their due date to
// requires-attention and returns how many changed.
func (s *Service) MarkOverdueMilestones(ctx context.Context, actor Actor) (int, error) {
	if err := requireRole(actor, RoleService, RoleOperator); err != nil {
		return 0, err
	}
	now := s.nowFn()
	open, err := s.ledgers.ListOpenMilestones(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, candidate := range open {
		flipped := false
		_, err := s.mutate(ctx, candidate.ProjectID, func(l *domain.ProjectLedger, m *ports.LedgerMutation) error {
			ms, ok := l.Milestone(candidate.MilestoneID)
			if !ok || !ms.Overdue(now) || ms.Status == domain.MilestoneRequiresAttention {
				return errNothingToDo
			}
			prior := ms.Status
			if err := ms.Transition(domain.MilestoneRequiresAttention, domain.AttentionDeadlinePassed, now); err != nil {
				return err
			}
			flipped = true
			return s.emitStatusChange(m, actor.RequestID, *ms, prior, now)
		})
		switch {
		case errors.Is(err, errNothingToDo):
		case err != nil:
			s.logger.WarnContext(ctx, "overdue sweep failed for milestone",
				"operation", "mark_overdue_milestones",
				"outcome", "failure",
				"milestone_id", candidate.MilestoneID,
				"error", err,
			)
		case flipped:
			changed++
		}
	}
	if changed > 0 {
		s.logger.InfoContext(ctx, "overdue milestones flagged",
			"operation", "mark_overdue_milestones",
			"outcome", "success",
			"count", changed,
		)
	}
	return changed, nil
}

var errNothingToDo = errors.New("nothing to do")
