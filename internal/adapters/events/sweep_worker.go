package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/application"
)

// Sweeper is the slice of the engine the periodic sweep drives.
type Sweeper interface {
	MarkOverdueMilestones(ctx context.Context, actor application.Actor) (int, error)
	ReevaluateCollateral(ctx context.Context, actor application.Actor) (int, error)
}

// SweepWorker flags overdue milestones and re-values collateral on its own
// cadences. A zero collateral interval disables re-valuation.
type SweepWorker struct {
	logger             *slog.Logger
	sweeper            Sweeper
	overdueInterval    time.Duration
	collateralInterval time.Duration
}

func NewSweepWorker(logger *slog.Logger, sweeper Sweeper, overdueInterval, collateralInterval time.Duration) *SweepWorker {
	if overdueInterval <= 0 {
		overdueInterval = time.Minute
	}
	return &SweepWorker{
		logger:             logger,
		sweeper:            sweeper,
		overdueInterval:    overdueInterval,
		collateralInterval: collateralInterval,
	}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	overdue := time.NewTicker(w.overdueInterval)
	defer overdue.Stop()
	var collateral <-chan time.Time
	if w.collateralInterval > 0 {
		t := time.NewTicker(w.collateralInterval)
		defer t.Stop()
		collateral = t.C
	}

	w.sweepOverdue(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-overdue.C:
			w.sweepOverdue(ctx)
		case <-collateral:
			w.sweepCollateral(ctx)
		}
	}
}

func (w *SweepWorker) sweepOverdue(ctx context.Context) {
	n, err := w.sweeper.MarkOverdueMilestones(ctx, application.SystemActor(uuid.NewString()))
	w.report(ctx, "mark_overdue_milestones", n, err)
}

func (w *SweepWorker) sweepCollateral(ctx context.Context) {
	n, err := w.sweeper.ReevaluateCollateral(ctx, application.SystemActor(uuid.NewString()))
	w.report(ctx, "reevaluate_collateral", n, err)
}

func (w *SweepWorker) report(ctx context.Context, operation string, n int, err error) {
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.ErrorContext(ctx, "sweep failed",
			"module", "events.sweep_worker",
			"layer", "adapter",
			"operation", operation,
			"outcome", "failure",
			"processed", n,
			"error", err,
		)
		return
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "sweep completed",
			"module", "events.sweep_worker",
			"layer", "adapter",
			"operation", operation,
			"outcome", "success",
			"processed", n,
		)
	}
}
