package application_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
)

func TestCreateProjectDerivesCollateral(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ledger := f.createProject(t, "p1")

	assert.Equal(t, "creator_1", ledger.Project.CreatorID)
	assert.Equal(t, domain.Major(150000), ledger.Project.CollateralRequired)
	assert.Equal(t, domain.CollateralStateHealthy, ledger.Project.CollateralState)
	assert.Equal(t, int64(1), ledger.Version)
	require.Len(t, ledger.Milestones, 2)
	assert.Equal(t, domain.MilestonePending, ledger.Milestones[0].Status)
	assert.Equal(t, "p1", ledger.Milestones[0].ProjectID)
}

func TestCreateProjectCustomMultiplierStartsInBreach(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	multiplier := decimal.RequireFromString("2")
	ledger, err := f.svc.CreateProject(context.Background(), creator, application.CreateProjectInput{
		ProjectID:            "p1",
		Title:                "Under-collateralised",
		RequestedFunding:     domain.Major(1000),
		CollateralMultiplier: &multiplier,
		StakedAssets: []domain.IPAsset{
			{AssetID: "a1", Name: "Mark", Kind: domain.AssetKindTrademark, Valuation: domain.Major(1500)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Major(2000), ledger.Project.CollateralRequired)
	assert.Equal(t, domain.CollateralStateBreach, ledger.Project.CollateralState)
}

func TestCreateProjectRejectsOverCommittedMilestones(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.svc.CreateProject(context.Background(), creator, application.CreateProjectInput{
		ProjectID:        "p1",
		Title:            "Greedy",
		RequestedFunding: domain.Major(100),
		Milestones: []application.MilestoneInput{
			{MilestoneID: "m1", Name: "One", TotalFunding: domain.Major(60)},
			{MilestoneID: "m2", Name: "Two", TotalFunding: domain.Major(41)},
		},
	})
	require.ErrorIs(t, err, domain.ErrMilestoneOverCommitted)

	_, err = f.svc.GetProject(context.Background(), creator, "p1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateProjectConflictsAndPermissions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createProject(t, "p1")

	_, err := f.svc.CreateProject(context.Background(), creator, application.CreateProjectInput{ProjectID: "p1", Title: "Again", RequestedFunding: 1})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.svc.CreateProject(context.Background(), backer, application.CreateProjectInput{ProjectID: "p9", Title: "Not mine", CreatorID: "creator_1", RequestedFunding: 1})
	require.ErrorIs(t, err, domain.ErrForbidden)

	onBehalf, err := f.svc.CreateProject(context.Background(), operator, application.CreateProjectInput{ProjectID: "p9", Title: "Filed by ops", CreatorID: "creator_2", RequestedFunding: 1})
	require.NoError(t, err)
	assert.Equal(t, "creator_2", onBehalf.Project.CreatorID)
}
