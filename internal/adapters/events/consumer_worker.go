package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/ports"
)

type Message struct {
	Topic   string
	Key     []byte
	Payload []byte
	raw     kafka.Message
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context, msgs ...Message) error
}

// EventHandler applies one inbound envelope. *application.Service satisfies it.
type EventHandler interface {
	HandleCanonicalEvent(ctx context.Context, envelope ports.EventEnvelope) error
}

type ConsumerWorker struct {
	logger      *slog.Logger
	consumer    Consumer
	handler     EventHandler
	interval    time.Duration
	maxAttempts int
	backoff     time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler EventHandler, interval time.Duration, maxAttempts int) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ConsumerWorker{
		logger:      logger,
		consumer:    consumer,
		handler:     handler,
		interval:    interval,
		maxAttempts: maxAttempts,
		backoff:     200 * time.Millisecond,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ConsumerWorker) processOnce(ctx context.Context) error {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := w.handle(ctx, msg); err != nil {
			// Context ended mid-retry: leave the offset so the message is redelivered.
			return err
		}
		if err := w.consumer.Commit(ctx, msg); err != nil {
			return fmt.Errorf("commit %s: %w", msg.Topic, err)
		}
	}
	return nil
}

// handle returns an error only when the message must not be committed.
func (w *ConsumerWorker) handle(ctx context.Context, msg Message) error {
	var envelope ports.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		w.logger.WarnContext(ctx, "dropping undecodable event",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "decode_event",
			"outcome", "failure",
			"topic", msg.Topic,
			"error", err,
		)
		return nil
	}
	if envelope.EventType == "" {
		envelope.EventType = msg.Topic
	}

	var handleErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		handleErr = w.handler.HandleCanonicalEvent(ctx, envelope)
		if handleErr == nil || !application.IsRetryable(handleErr) {
			break
		}
		if attempt == w.maxAttempts {
			break
		}
		timer := time.NewTimer(w.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	switch {
	case handleErr == nil:
		return nil
	case errors.Is(handleErr, context.Canceled) || errors.Is(handleErr, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fallthrough
	default:
		level := slog.LevelWarn
		if application.IsRetryable(handleErr) {
			// retries exhausted; the event is dropped
			level = slog.LevelError
		}
		w.logger.Log(ctx, level, "event handling failed",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "handle_event",
			"outcome", "failure",
			"event_id", envelope.EventID,
			"event_type", envelope.EventType,
			"retryable", application.IsRetryable(handleErr),
			"error", handleErr,
		)
		return nil
	}
}
