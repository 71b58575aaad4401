package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/contracts"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// HandleCanonicalEvent applies one inbound broker event at most once.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope ports.EventEnvelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	if !domain.IsCanonicalInputEvent(envelope.EventType) {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedEvent, envelope.EventType)
	}
	now := s.nowFn()
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, envelope.EventID, now)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}

	actor := SystemActor(envelope.TraceID)
	switch envelope.EventType {
	case domain.EventRevenueReceived:
		var p contracts.RevenueReceivedPayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
		}
		occurredAt := envelope.OccurredAt
		if p.OccurredAt != "" {
			parsed, err := time.Parse(time.RFC3339, p.OccurredAt)
			if err != nil {
				return fmt.Errorf("%w: occurred_at: %v", domain.ErrInvalidEnvelope, err)
			}
			occurredAt = parsed
		}
		eventID := p.EventID
		if eventID == "" {
			eventID = envelope.EventID
		}
		_, err := s.DistributeRevenue(ctx, actor, DistributeRevenueInput{Event: domain.RevenueEvent{
			EventID:    eventID,
			ProjectID:  p.ProjectID,
			Amount:     p.Amount,
			OccurredAt: occurredAt,
		}})
		if err != nil {
			return err
		}
	case domain.EventValuationUpdated:
		var p contracts.ValuationUpdatedPayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
		}
		asOf := envelope.OccurredAt
		if p.AsOf != "" {
			parsed, err := time.Parse(time.RFC3339, p.AsOf)
			if err != nil {
				return fmt.Errorf("%w: as_of: %v", domain.ErrInvalidEnvelope, err)
			}
			asOf = parsed
		}
		if _, err := s.RecordValuation(ctx, actor, p.ProjectID, domain.AssetValuation{AssetID: p.AssetID, Value: p.Valuation, AsOf: asOf}); err != nil {
			return err
		}
	}

	if s.eventDedup != nil {
		return s.eventDedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, now.Add(s.cfg.EventDedupTTL))
	}
	return nil
}

func (s *Service) newOutboxRecord(eventType, traceID, projectID string, data any, now time.Time) (ports.OutboxRecord, error) {
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return ports.OutboxRecord{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedEvent, eventType)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ports.OutboxRecord{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	env := ports.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     projectID,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             b,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return ports.OutboxRecord{}, err
	}
	return ports.OutboxRecord{
		OutboxID:     env.EventID,
		EventType:    eventType,
		EventClass:   env.EventClass,
		PartitionKey: projectID,
		Payload:      payload,
		CreatedAt:    now,
	}, nil
}

// emit appends an outbox record to the mutation being built.
func (s *Service) emit(m *ports.LedgerMutation, eventType, traceID, projectID string, data any, now time.Time) error {
	rec, err := s.newOutboxRecord(eventType, traceID, projectID, data, now)
	if err != nil {
		return err
	}
	m.Outbox = append(m.Outbox, rec)
	return nil
}

func (s *Service) emitStatusChange(m *ports.LedgerMutation, traceID string, ms domain.Milestone, from domain.MilestoneStatus, now time.Time) error {
	return s.emit(m, domain.EventMilestoneStatusChanged, traceID, ms.ProjectID, contracts.MilestoneStatusChangedPayload{
		ProjectID:       ms.ProjectID,
		MilestoneID:     ms.MilestoneID,
		FromStatus:      string(from),
		ToStatus:        string(ms.Status),
		AttentionReason: ms.AttentionReason,
		ChangedAt:       now.UTC().Format(time.RFC3339),
	}, now)
}

func (s *Service) emitCollateralAdvisory(m *ports.LedgerMutation, traceID string, h domain.CollateralHealth, now time.Time) error {
	eventType := domain.EventCollateralRestored
	if h.Breach {
		eventType = domain.EventCollateralBreach
	}
	return s.emit(m, eventType, traceID, h.ProjectID, contracts.CollateralAdvisoryPayload{
		ProjectID:          h.ProjectID,
		State:              h.CollateralState(),
		Ratio:              h.Ratio.String(),
		RiskScore:          h.RiskScore.String(),
		Band:               string(h.Band),
		StakedValue:        h.StakedValue,
		CollateralRequired: h.CollateralRequired,
		Stale:              h.Stale,
		EvaluatedAt:        h.EvaluatedAt.UTC().Format(time.RFC3339),
	}, now)
}

func validateEnvelope(event ports.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.TraceID) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 {
		return domain.ErrInvalidEnvelope
	}
	return nil
}

// IsRetryable tells broker consumers whether redelivery could succeed.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrInvalidEnvelope),
		errors.Is(err, domain.ErrUnsupportedEvent),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidTierConfig):
		return false
	default:
		return true
	}
}
