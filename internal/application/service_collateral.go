package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// GetCollateralHealth values every staked asset through the oracle, falling
// back to the cache and then to the stored valuation when the oracle fails.
// Fresh readings and any change of collateral state are persisted.
func (s *Service) GetCollateralHealth(ctx context.Context, actor Actor, projectID string) (domain.CollateralHealth, error) {
	snapshot, err := s.GetProject(ctx, actor, projectID)
	if err != nil {
		return domain.CollateralHealth{}, err
	}
	readings := s.fetchValuations(ctx, snapshot.Project)
	if err := ctx.Err(); err != nil {
		return domain.CollateralHealth{}, err
	}
	return s.applyValuations(ctx, actor, snapshot.Project.ProjectID, readings)
}

// RecordValuation applies a pushed valuation for one asset. Readings older
// than the stored one are ignored.
func (s *Service) RecordValuation(ctx context.Context, actor Actor, projectID string, v domain.AssetValuation) (domain.CollateralHealth, error) {
	if err := requireRole(actor, RoleService, RoleOperator); err != nil {
		return domain.CollateralHealth{}, err
	}
	projectID = strings.TrimSpace(projectID)
	v.AssetID = strings.TrimSpace(v.AssetID)
	if projectID == "" || v.AssetID == "" {
		return domain.CollateralHealth{}, domain.ErrInvalidInput
	}
	if v.Value < 0 {
		return domain.CollateralHealth{}, fmt.Errorf("%w: valuation is negative", domain.ErrInvalidAmount)
	}
	if v.AsOf.IsZero() {
		v.AsOf = s.nowFn()
	}
	s.cacheValuation(ctx, v)
	return s.applyValuations(ctx, actor, projectID, []domain.AssetValuation{v})
}

// applyValuations folds readings into the ledger under the project lock and
// evaluates the result. Assets without a reading are judged on their stored
// valuation and its age.
func (s *Service) applyValuations(ctx context.Context, actor Actor, projectID string, readings []domain.AssetValuation) (domain.CollateralHealth, error) {
	var health domain.CollateralHealth
	var evalErr error
	_, err := s.mutate(ctx, projectID, func(l *domain.ProjectLedger, m *ports.LedgerMutation) error {
		now := s.nowFn()
		changed := false
		byID := make(map[string]domain.AssetValuation, len(readings))
		for _, r := range readings {
			asset, i, ok := l.Project.Asset(r.AssetID)
			if !ok {
				return fmt.Errorf("%w: asset %s is not staked on project %s", domain.ErrNotFound, r.AssetID, projectID)
			}
			byID[r.AssetID] = r
			if r.Stale || r.AsOf.Before(asset.ValuedAt) {
				continue
			}
			if asset.Valuation != r.Value || !asset.ValuedAt.Equal(r.AsOf) {
				l.Project.StakedAssets[i].Valuation = r.Value
				l.Project.StakedAssets[i].ValuedAt = r.AsOf
				changed = true
			}
		}
		all := make([]domain.AssetValuation, 0, len(l.Project.StakedAssets))
		for _, asset := range l.Project.StakedAssets {
			r, ok := byID[asset.AssetID]
			if !ok || r.AsOf.Before(asset.ValuedAt) {
				r = s.storedReading(asset, now)
			}
			all = append(all, r)
		}

		health, evalErr = domain.EvaluateCollateral(l.Project, all, now)
		if evalErr != nil && !errors.Is(evalErr, domain.ErrUndefinedRatio) {
			return evalErr
		}
		if evalErr == nil {
			if state := health.CollateralState(); state != l.Project.CollateralState {
				l.Project.CollateralState = state
				changed = true
				if err := s.emitCollateralAdvisory(m, actor.RequestID, health, now); err != nil {
					return err
				}
				s.logger.WarnContext(ctx, "collateral state changed",
					"operation", "evaluate_collateral",
					"outcome", state,
					"project_id", projectID,
					"ratio", health.Ratio.String(),
				)
			}
		}
		if !changed {
			return errNothingToDo
		}
		l.Project.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, errNothingToDo) {
		return domain.CollateralHealth{}, err
	}
	if evalErr != nil {
		return domain.CollateralHealth{}, evalErr
	}
	return health, nil
}

// fetchValuations queries the oracle for each asset in parallel. A failed
// asset degrades to its cached or stored reading with a warning; it never
// fails the whole evaluation.
func (s *Service) fetchValuations(ctx context.Context, p domain.Project) []domain.AssetValuation {
	out := make([]domain.AssetValuation, len(p.StakedAssets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.OracleConcurrency)
	for i, asset := range p.StakedAssets {
		i, asset := i, asset
		g.Go(func() error {
			out[i] = s.fetchValuation(gctx, asset)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) fetchValuation(ctx context.Context, asset domain.IPAsset) domain.AssetValuation {
	now := s.nowFn()
	if s.oracle == nil {
		return s.fallbackReading(ctx, asset, now, "valuation oracle not configured")
	}
	octx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	defer cancel()
	v, err := s.oracle.GetValuation(octx, asset.AssetID)
	if err != nil {
		s.logger.WarnContext(ctx, "valuation oracle unavailable",
			"operation", "get_valuation",
			"outcome", "degraded",
			"asset_id", asset.AssetID,
			"error", err,
		)
		return s.fallbackReading(ctx, asset, now, fmt.Sprintf("asset %s: %v", asset.AssetID, domain.ErrOracleUnavailable))
	}
	v.AssetID = asset.AssetID
	if v.AsOf.IsZero() {
		v.AsOf = now
	}
	if now.Sub(v.AsOf) > s.cfg.ValuationStaleAfter {
		v.Stale = true
		v.Warning = fmt.Sprintf("asset %s: oracle reading from %s is stale", asset.AssetID, v.AsOf.UTC().Format(time.RFC3339))
		return v
	}
	s.cacheValuation(ctx, v)
	return v
}

// fallbackReading prefers the cached reading over the one stored with the
// project, whichever is newer. Either way the result is stale.
func (s *Service) fallbackReading(ctx context.Context, asset domain.IPAsset, now time.Time, warning string) domain.AssetValuation {
	r := s.storedReading(asset, now)
	if s.valuations != nil {
		cached, err := s.valuations.Get(ctx, asset.AssetID)
		if err == nil && cached != nil && cached.AsOf.After(asset.ValuedAt) {
			r = *cached
		}
	}
	r.Stale = true
	r.Warning = warning
	return r
}

func (s *Service) storedReading(asset domain.IPAsset, now time.Time) domain.AssetValuation {
	return domain.AssetValuation{
		AssetID: asset.AssetID,
		Value:   asset.Valuation,
		AsOf:    asset.ValuedAt,
		Stale:   asset.ValuedAt.IsZero() || now.Sub(asset.ValuedAt) > s.cfg.ValuationStaleAfter,
	}
}

func (s *Service) cacheValuation(ctx context.Context, v domain.AssetValuation) {
	if s.valuations == nil {
		return
	}
	if err := s.valuations.Put(ctx, v, s.cfg.ValuationCacheTTL); err != nil {
		s.logger.WarnContext(ctx, "valuation cache write failed",
			"operation", "cache_valuation",
			"outcome", "failure",
			"asset_id", v.AssetID,
			"error", err,
		)
	}
}

// GetPortfolioExposure reports coverage for each requested project.
func (s *Service) GetPortfolioExposure(ctx context.Context, actor Actor, projectIDs []string) ([]domain.Exposure, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if len(projectIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one project id is required", domain.ErrInvalidInput)
	}
	out := make([]domain.Exposure, len(projectIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.OracleConcurrency)
	for i, id := range projectIDs {
		i, id := i, strings.TrimSpace(id)
		g.Go(func() error {
			ledger, err := s.ledgers.Get(gctx, id)
			if err != nil {
				return fmt.Errorf("project %s: %w", id, err)
			}
			out[i] = domain.ExposureFor(ledger.Project)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReevaluateCollateral runs GetCollateralHealth over every project and returns
// how many were evaluated. Projects with nothing required are skipped.
func (s *Service) ReevaluateCollateral(ctx context.Context, actor Actor) (int, error) {
	if err := requireRole(actor, RoleService, RoleOperator); err != nil {
		return 0, err
	}
	evaluated := 0
	after := ""
	for {
		ids, err := s.ledgers.ListProjectIDs(ctx, after, s.cfg.SweepBatchSize)
		if err != nil {
			return evaluated, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return evaluated, err
			}
			_, err := s.GetCollateralHealth(ctx, actor, id)
			switch {
			case err == nil:
				evaluated++
			case errors.Is(err, domain.ErrUndefinedRatio):
			default:
				s.logger.WarnContext(ctx, "collateral re-evaluation failed",
					"operation", "reevaluate_collateral",
					"outcome", "failure",
					"project_id", id,
					"error", err,
				)
			}
		}
		if len(ids) < s.cfg.SweepBatchSize {
			return evaluated, nil
		}
		after = ids[len(ids)-1]
	}
}
