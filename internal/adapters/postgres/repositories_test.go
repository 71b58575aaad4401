package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// Requires a disposable database; skipped unless IPLEDGE_TEST_DB_URL is set.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	url := os.Getenv("IPLEDGE_TEST_DB_URL")
	if url == "" {
		t.Skip("IPLEDGE_TEST_DB_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, url, 4)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(ctx, db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newLedger(projectID string, now time.Time) domain.ProjectLedger {
	return domain.ProjectLedger{
		Project: domain.Project{
			ProjectID:            projectID,
			Title:                "Integration",
			CreatorID:            "creator_1",
			RequestedFunding:     domain.Major(1000),
			CollateralMultiplier: decimal.RequireFromString("1.5"),
			CollateralRequired:   domain.Major(1500),
			CollateralState:      domain.CollateralStateHealthy,
			CreatedAt:            now,
			UpdatedAt:            now,
		},
		Escrow: domain.EscrowAccount{ProjectID: projectID},
		Milestones: []domain.Milestone{
			{MilestoneID: projectID + "_m1", ProjectID: projectID, Name: "Prototype", TotalFunding: domain.Major(400), Status: domain.MilestonePending, UpdatedAt: now},
		},
		Version: 1,
	}
}

func TestLedgerApplyIsVersionChecked(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(testDB(t))
	now := time.Now().UTC().Truncate(time.Microsecond)
	projectID := "it_" + uuid.NewString()

	ledger := newLedger(projectID, now)
	require.NoError(t, repos.Ledgers.Create(ctx, ledger))
	require.ErrorIs(t, repos.Ledgers.Create(ctx, ledger), domain.ErrConflict)

	next := ledger.Clone()
	entry, err := next.RecordPledge(uuid.NewString(), domain.Major(250), domain.Backer{BackerID: "b1", BackerType: domain.BackerIndividual}, now)
	require.NoError(t, err)
	next.Version = 2
	outboxID := uuid.NewString()
	require.NoError(t, repos.Ledgers.Apply(ctx, ports.LedgerMutation{
		Ledger:          next,
		ExpectedVersion: 1,
		Entries:         []domain.LedgerEntry{entry},
		Outbox:          []ports.OutboxRecord{{OutboxID: outboxID, EventType: domain.EventPledgeRecorded, PartitionKey: projectID, Payload: []byte(`{"ok":true}`), CreatedAt: now}},
	}))

	stale := next.Clone()
	stale.Version = 2
	require.ErrorIs(t, repos.Ledgers.Apply(ctx, ports.LedgerMutation{Ledger: stale, ExpectedVersion: 1}), domain.ErrVersionConflict)

	got, err := repos.Ledgers.Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, domain.Major(250), got.Escrow.Balance)
	require.Len(t, got.Milestones, 1)

	byMilestone, err := repos.Ledgers.GetByMilestoneID(ctx, projectID+"_m1")
	require.NoError(t, err)
	assert.Equal(t, projectID, byMilestone.Project.ProjectID)

	entries, err := repos.Ledgers.Entries(ctx, projectID, domain.EntryPledge)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.Major(250), entries[0].Amount)

	_, err = repos.Ledgers.Get(ctx, "missing_"+uuid.NewString())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
