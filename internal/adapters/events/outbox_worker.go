package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/ports"
)

// delivery is what happened to one claimed outbox record.
type delivery int

const (
	delivered delivery = iota
	retryLater
	deadLettered
)

// OutboxWorker relays funding events (pledges, releases, royalty splits,
// collateral alerts) from the ledger outbox to the broker. Records are keyed
// by project id so a project's events keep their commit order.
type OutboxWorker struct {
	log        *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
	nowFn      func() time.Time
}

func NewOutboxWorker(
	logger *slog.Logger,
	outbox ports.OutboxRepository,
	publisher ports.EventPublisher,
	interval time.Duration,
	batchSize int,
	claimTTL time.Duration,
	maxRetries int,
) *OutboxWorker {
	w := &OutboxWorker{
		log:        logger.With("module", "funding.outbox_relay", "layer", "worker"),
		outbox:     outbox,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
		claimTTL:   claimTTL,
		maxRetries: maxRetries,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
	if w.interval <= 0 {
		w.interval = 2 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 100
	}
	if w.claimTTL <= 0 {
		w.claimTTL = 30 * time.Second
	}
	if w.maxRetries <= 0 {
		w.maxRetries = 5
	}
	return w
}

// Run relays a batch per tick until ctx ends. A failed batch is logged and
// retried on the next tick.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.log.ErrorContext(ctx, "funding event relay batch failed", "operation", "relay_batch", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch and reports how many records reached the broker.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	claim := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, claim, w.nowFn().Add(w.claimTTL))
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	counts := map[delivery]int{}
	for _, rec := range records {
		counts[w.relay(ctx, rec, claim)]++
	}
	w.log.InfoContext(ctx, "funding events relayed",
		"operation", "relay_batch",
		"claimed", len(records),
		"published", counts[delivered],
		"retrying", counts[retryLater],
		"dead_lettered", counts[deadLettered],
	)
	return counts[delivered], nil
}

// relay publishes one record and settles its outbox row.
func (w *OutboxWorker) relay(ctx context.Context, rec ports.OutboxRecord, claim string) delivery {
	attrs := []any{
		"outbox_id", rec.OutboxID,
		"project_id", rec.PartitionKey,
		"event_type", rec.EventType,
		"event_class", rec.EventClass,
	}
	now := w.nowFn()

	if rec.RetryCount >= w.maxRetries {
		w.settle(ctx, "mark_dead_lettered", attrs, w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claim, "retry budget exhausted before publish", now))
		return deadLettered
	}

	pubErr := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey)
	if pubErr == nil {
		w.settle(ctx, "mark_published", attrs, w.outbox.MarkPublished(ctx, rec.OutboxID, claim, now))
		return delivered
	}

	attempt := rec.RetryCount + 1
	attrs = append(attrs, "attempt", attempt, "max_attempts", w.maxRetries, "error", pubErr)
	if attempt >= w.maxRetries {
		w.log.ErrorContext(ctx, "funding event dead-lettered", append(attrs, "operation", "publish")...)
		w.settle(ctx, "mark_dead_lettered", attrs, w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claim, pubErr.Error(), now))
		return deadLettered
	}
	w.log.WarnContext(ctx, "funding event publish failed; will retry", append(attrs, "operation", "publish")...)
	w.settle(ctx, "mark_failed", attrs, w.outbox.MarkFailed(ctx, rec.OutboxID, claim, pubErr.Error(), now))
	return retryLater
}

// settle logs an outbox bookkeeping failure. The claim expires, so the row is
// picked up again.
func (w *OutboxWorker) settle(ctx context.Context, operation string, attrs []any, err error) {
	if err == nil {
		return
	}
	w.log.WarnContext(ctx, "outbox row not settled", append(attrs, "operation", operation, "settle_error", err)...)
}
