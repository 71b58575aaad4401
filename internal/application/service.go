package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

type mutateFunc func(ledger *domain.ProjectLedger, mutation *ports.LedgerMutation) error

// mutate runs fn on a copy of the project's ledger while holding the project
// lock and persists the copy only if fn succeeds and every invariant holds.
func (s *Service) mutate(ctx context.Context, projectID string, fn mutateFunc) (domain.ProjectLedger, error) {
	release, err := s.locker.Lock(ctx, projectID)
	if err != nil {
		return domain.ProjectLedger{}, fmt.Errorf("lock project %s: %w", projectID, err)
	}
	defer release()

	current, err := s.ledgers.Get(ctx, projectID)
	if err != nil {
		return domain.ProjectLedger{}, err
	}
	next := current.Clone()
	mutation := ports.LedgerMutation{ExpectedVersion: current.Version}
	if err := fn(&next, &mutation); err != nil {
		return domain.ProjectLedger{}, err
	}
	if err := next.CheckInvariants(); err != nil {
		s.logger.ErrorContext(ctx, "ledger invariant violated",
			"operation", "mutate_ledger",
			"outcome", "failure",
			"project_id", projectID,
			"error", err,
		)
		return domain.ProjectLedger{}, fmt.Errorf("ledger invariant: %w", err)
	}
	next.Version = current.Version + 1
	mutation.Ledger = next
	if err := s.ledgers.Apply(ctx, mutation); err != nil {
		return domain.ProjectLedger{}, err
	}
	return next, nil
}

func requireActor(actor Actor) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireRole(actor Actor, roles ...string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return domain.ErrForbidden
}

func (s *Service) getIdempotent(ctx context.Context, key, requestHash string, out any) (bool, error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return false, nil
	}
	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil || rec == nil {
		return false, err
	}
	if rec.RequestHash != requestHash {
		return false, domain.ErrIdempotencyConflict
	}
	if len(rec.ResponseBody) == 0 {
		return false, domain.ErrIdempotencyConflict
	}
	if err := json.Unmarshal(rec.ResponseBody, out); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *Service) reserveIdempotency(ctx context.Context, key, requestHash string) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	err := s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL))
	if errors.Is(err, domain.ErrConflict) {
		return domain.ErrIdempotencyConflict
	}
	return err
}

func (s *Service) completeIdempotencyJSON(ctx context.Context, key string, code int, payload any) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	b, _ := json.Marshal(payload)
	return s.idempotency.Complete(ctx, key, code, b, s.nowFn())
}

func hashJSON(v any) string {
	b, _ := json.Marshal(v)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
