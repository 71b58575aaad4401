package application_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

func revenueEvent(id string, amount domain.Money) domain.RevenueEvent {
	return domain.RevenueEvent{EventID: id, ProjectID: "p1", Amount: amount, OccurredAt: epoch}
}

func TestDistributeRevenueProgressiveSplit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")

	res, err := f.svc.DistributeRevenue(context.Background(), system, application.DistributeRevenueInput{Event: revenueEvent("rev_1", domain.Major(25000))})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.Allocation{
		Creator:  domain.Major(16000),
		Investor: domain.Major(7750),
		Protocol: domain.Major(1250),
	}, res.Allocation)
	assert.Equal(t, []string{domain.EventRevenueDistributed}, f.outboxTypes())

	// royalties never move escrow
	escrow, err := f.svc.CurrentEscrow(context.Background(), system, "p1")
	require.NoError(t, err)
	assert.Zero(t, escrow.Balance)
}

func TestDistributeRevenueReplayIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")
	input := application.DistributeRevenueInput{Event: revenueEvent("rev_1", domain.Major(10000))}

	first, err := f.svc.DistributeRevenue(context.Background(), system, input)
	require.NoError(t, err)
	second, err := f.svc.DistributeRevenue(context.Background(), system, input)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Allocation, second.Allocation)
	assert.Len(t, f.outboxTypes(), 1)

	report, err := f.svc.GetFundingFlowReport(context.Background(), system, "p1", "quarter")
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, domain.Major(10000), report[0].RoyaltiesAllocated)

	input.Event.Amount = domain.Major(9999)
	_, err = f.svc.DistributeRevenue(context.Background(), system, input)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestDistributeRevenueZeroAmount(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")

	res, err := f.svc.DistributeRevenue(context.Background(), system, application.DistributeRevenueInput{Event: revenueEvent("rev_0", 0)})
	require.NoError(t, err)
	assert.Equal(t, domain.Allocation{}, res.Allocation)
}

func TestDistributeRevenueBoundsOccurredAt(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withConfig(func(c *application.Config) { c.RevenueMaxAge = 365 * 24 * time.Hour }))
	f.createProject(t, "p1")

	future := revenueEvent("rev_future", domain.Major(100))
	future.OccurredAt = epoch.Add(48 * time.Hour)
	_, err := f.svc.DistributeRevenue(context.Background(), system, application.DistributeRevenueInput{Event: future})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	ancient := revenueEvent("rev_ancient", domain.Major(100))
	ancient.OccurredAt = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.DistributeRevenue(context.Background(), system, application.DistributeRevenueInput{Event: ancient})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, f.outboxTypes())

	skewed := revenueEvent("rev_skewed", domain.Major(100))
	skewed.OccurredAt = epoch.Add(time.Hour)
	_, err = f.svc.DistributeRevenue(context.Background(), system, application.DistributeRevenueInput{Event: skewed})
	require.NoError(t, err)

	report, err := f.svc.GetFundingFlowReport(context.Background(), system, "p1", "month")
	require.NoError(t, err)
	assert.Len(t, report, 1)
}

func TestDistributeRevenueRejectsInvalidTiers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")
	bad := domain.TierTable{{
		Unbounded:     true,
		CreatorShare:  decimal.RequireFromString("0.5"),
		InvestorShare: decimal.RequireFromString("0.4"),
		ProtocolShare: decimal.RequireFromString("0.05"),
	}}

	_, err := f.svc.DistributeRevenue(context.Background(), system, application.DistributeRevenueInput{Event: revenueEvent("rev_1", 100), Tiers: bad})
	require.ErrorIs(t, err, domain.ErrInvalidTierConfig)
	var tierErr *domain.TierConfigError
	require.ErrorAs(t, err, &tierErr)
	assert.Equal(t, 0, tierErr.Index)
	assert.Empty(t, f.outboxTypes())
}

func TestDistributeRevenueRequiresServiceRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")

	_, err := f.svc.DistributeRevenue(context.Background(), creator, application.DistributeRevenueInput{Event: revenueEvent("rev_1", 100)})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func envelope(t *testing.T, eventID, eventType string, data any) ports.EventEnvelope {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       epoch,
		PartitionKeyPath: "data.project_id",
		PartitionKey:     "p1",
		SourceService:    "royalty-collector",
		TraceID:          "trace_" + eventID,
		SchemaVersion:    "v1",
		Data:             b,
	}
}

func TestHandleRevenueReceivedEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")
	env := envelope(t, "evt_1", domain.EventRevenueReceived, map[string]any{
		"event_id":    "rev_1",
		"project_id":  "p1",
		"amount":      "25000.00",
		"occurred_at": "2024-03-01T12:00:00Z",
	})

	require.NoError(t, f.svc.HandleCanonicalEvent(context.Background(), env))
	require.NoError(t, f.svc.HandleCanonicalEvent(context.Background(), env))
	assert.Equal(t, []string{domain.EventRevenueDistributed}, f.outboxTypes())

	stored, err := f.repos.Revenue.GetAllocation(context.Background(), "rev_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.Major(16000), stored.Allocation.Creator)
}

func TestHandleCanonicalEventRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	env := envelope(t, "evt_1", "revenue.refunded", map[string]any{"project_id": "p1"})
	err := f.svc.HandleCanonicalEvent(context.Background(), env)
	require.ErrorIs(t, err, domain.ErrUnsupportedEvent)
	assert.False(t, application.IsRetryable(err))

	env = envelope(t, "evt_2", domain.EventRevenueReceived, map[string]any{"project_id": "p1"})
	env.TraceID = ""
	require.ErrorIs(t, f.svc.HandleCanonicalEvent(context.Background(), env), domain.ErrInvalidEnvelope)
}
