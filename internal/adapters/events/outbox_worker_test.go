package events

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/adapters/memory"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

type recordingPublisher struct {
	mu    sync.Mutex
	fail  error
	calls []string
	keys  []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, eventType)
	p.keys = append(p.keys, partitionKey)
	return p.fail
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedOutbox(t *testing.T, repos *memory.Repositories, records ...ports.OutboxRecord) {
	t.Helper()
	ctx := context.Background()
	ledger := domain.ProjectLedger{Project: domain.Project{ProjectID: "p1"}, Version: 1}
	require.NoError(t, repos.Ledgers.Create(ctx, ledger))
	next := ledger.Clone()
	next.Version = 2
	require.NoError(t, repos.Ledgers.Apply(ctx, ports.LedgerMutation{Ledger: next, ExpectedVersion: 1, Outbox: records}))
}

func TestOutboxWorkerPublishesInOrder(t *testing.T) {
	repos := memory.NewRepositories()
	seedOutbox(t, repos,
		ports.OutboxRecord{OutboxID: "o1", EventType: domain.EventPledgeRecorded, PartitionKey: "p1", Payload: []byte(`{}`)},
		ports.OutboxRecord{OutboxID: "o2", EventType: domain.EventMilestoneReleased, PartitionKey: "p1", Payload: []byte(`{}`)},
	)
	pub := &recordingPublisher{}
	w := NewOutboxWorker(discardLogger(), repos.Outbox, pub, 0, 10, 0, 3)

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{domain.EventPledgeRecorded, domain.EventMilestoneReleased}, pub.calls)
	assert.Equal(t, []string{"p1", "p1"}, pub.keys)
	assert.Empty(t, repos.Outbox.Pending())

	n, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxWorkerDeadLettersAfterRetries(t *testing.T) {
	repos := memory.NewRepositories()
	seedOutbox(t, repos, ports.OutboxRecord{OutboxID: "o1", EventType: domain.EventPledgeRecorded, PartitionKey: "p1", Payload: []byte(`{}`)})
	pub := &recordingPublisher{fail: errors.New("broker down")}
	w := NewOutboxWorker(discardLogger(), repos.Outbox, pub, 0, 10, 0, 2)

	_, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	pending := repos.Outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "broker down", pending[0].LastError)

	_, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, repos.Outbox.Pending())
	assert.Len(t, pub.calls, 2)
}

func TestOutboxWorkerDeadLettersExhaustedRecordsWithoutPublishing(t *testing.T) {
	repos := memory.NewRepositories()
	seedOutbox(t, repos,
		ports.OutboxRecord{OutboxID: "o1", EventType: domain.EventPledgeRecorded, EventClass: "domain", PartitionKey: "p1", Payload: []byte(`{}`), RetryCount: 2},
		ports.OutboxRecord{OutboxID: "o2", EventType: domain.EventMilestoneReleased, EventClass: "domain", PartitionKey: "p1", Payload: []byte(`{}`)},
	)
	var logs bytes.Buffer
	pub := &recordingPublisher{}
	w := NewOutboxWorker(slog.New(slog.NewTextHandler(&logs, nil)), repos.Outbox, pub, 0, 10, 0, 2)

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{domain.EventMilestoneReleased}, pub.calls)
	assert.Empty(t, repos.Outbox.Pending())

	out := logs.String()
	assert.Contains(t, out, "module=funding.outbox_relay")
	assert.Contains(t, out, "published=1")
	assert.Contains(t, out, "dead_lettered=1")
}
