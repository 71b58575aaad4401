package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/l0kol/IPledge/internal/adapters/memory"
	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	creator  = application.Actor{SubjectID: "creator_1", Role: application.RoleCreator, RequestID: "req_creator"}
	backer   = application.Actor{SubjectID: "backer_1", Role: application.RoleBacker, RequestID: "req_backer"}
	operator = application.Actor{SubjectID: "ops_1", Role: application.RoleOperator, RequestID: "req_ops"}
	system   = application.SystemActor("req_system")

	epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type verifierFunc func(ctx context.Context, milestoneID string, proof domain.MilestoneProof) (ports.VerificationResult, error)

func (f verifierFunc) Verify(ctx context.Context, milestoneID string, proof domain.MilestoneProof) (ports.VerificationResult, error) {
	return f(ctx, milestoneID, proof)
}

func acceptAll() verifierFunc {
	return func(context.Context, string, domain.MilestoneProof) (ports.VerificationResult, error) {
		return ports.VerificationAccepted, nil
	}
}

type fakeOracle struct {
	mu       sync.Mutex
	values   map[string]domain.AssetValuation
	failures map[string]error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{values: map[string]domain.AssetValuation{}, failures: map[string]error{}}
}

func (o *fakeOracle) set(assetID string, v domain.Money, asOf time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[assetID] = domain.AssetValuation{AssetID: assetID, Value: v, AsOf: asOf}
	delete(o.failures, assetID)
}

func (o *fakeOracle) fail(assetID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[assetID] = errors.New("oracle: connection refused")
}

func (o *fakeOracle) GetValuation(_ context.Context, assetID string) (domain.AssetValuation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failures[assetID]; err != nil {
		return domain.AssetValuation{}, err
	}
	v, ok := o.values[assetID]
	if !ok {
		return domain.AssetValuation{}, domain.ErrNotFound
	}
	return v, nil
}

type fixture struct {
	svc    *application.Service
	repos  *memory.Repositories
	clock  *clock
	oracle *fakeOracle
	cache  *memory.ValuationCache
}

type option func(*application.Dependencies)

func withVerifier(v ports.ProofVerifier) option {
	return func(d *application.Dependencies) { d.Verifier = v }
}

func withConfig(fn func(*application.Config)) option {
	return func(d *application.Dependencies) { fn(&d.Config) }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	f := &fixture{
		repos:  memory.NewRepositories(),
		clock:  &clock{now: epoch},
		oracle: newFakeOracle(),
		cache:  memory.NewValuationCache(),
	}
	deps := application.Dependencies{
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Ledgers:     f.repos.Ledgers,
		Revenue:     f.repos.Revenue,
		Idempotency: f.repos.Idempotency,
		EventDedup:  f.repos.EventDedup,
		Locker:      memory.NewProjectLocker(),
		Oracle:      f.oracle,
		Verifier:    acceptAll(),
		Valuations:  f.cache,
		Clock:       f.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = application.NewService(deps)
	return f
}

// createProject seeds a project asking for 100000.00 with two milestones of
// 60000.00 and 40000.00 and one patent valued at 180000.00.
func (f *fixture) createProject(t *testing.T, projectID string) domain.ProjectLedger {
	t.Helper()
	ledger, err := f.svc.CreateProject(context.Background(), creator, application.CreateProjectInput{
		ProjectID:        projectID,
		Title:            "Solid-state battery patent",
		RequestedFunding: domain.Major(100000),
		StakedAssets: []domain.IPAsset{{
			AssetID:   projectID + "_patent",
			Name:      "US-1234567",
			Kind:      domain.AssetKindPatent,
			Valuation: domain.Major(180000),
			RiskScore: domain.Ratio("0.3"),
		}},
		Milestones: []application.MilestoneInput{
			{MilestoneID: projectID + "_m1", Name: "Prototype", TotalFunding: domain.Major(60000), DueDate: epoch.AddDate(0, 3, 0)},
			{MilestoneID: projectID + "_m2", Name: "Pilot line", TotalFunding: domain.Major(40000), DueDate: epoch.AddDate(0, 6, 0)},
		},
	})
	require.NoError(t, err)
	return ledger
}

func (f *fixture) pledge(t *testing.T, projectID string, amount domain.Money) {
	t.Helper()
	_, err := f.svc.Pledge(context.Background(), backer, application.PledgeInput{ProjectID: projectID, Amount: amount})
	require.NoError(t, err)
}

// startMilestone moves a milestone to in_progress with a partial proof.
func (f *fixture) startMilestone(t *testing.T, milestoneID string) {
	t.Helper()
	res, err := f.svc.SubmitMilestoneProof(context.Background(), creator, application.SubmitProofInput{
		MilestoneID: milestoneID,
		Proof:       domain.MilestoneProof{Summary: "work started"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.MilestoneInProgress, res.Milestone.Status)
}

func (f *fixture) outboxTypes() []string {
	pending := f.repos.Outbox.Pending()
	out := make([]string, 0, len(pending))
	for _, rec := range pending {
		out = append(out, rec.EventType)
	}
	return out
}

func completeProof() domain.MilestoneProof {
	return domain.MilestoneProof{
		Summary: "prototype passes 500 charge cycles",
		Artifacts: []domain.ProofArtifact{{
			Kind:   "report",
			URI:    "s3://proofs/cycle-report.pdf",
			SHA256: strings.Repeat("ab", 32),
		}},
	}
}
