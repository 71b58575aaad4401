package memory

import (
	"context"
	"sync"
	"time"

	"github.com/l0kol/IPledge/internal/domain"
)

// ProjectLocker is a keyed mutex for single-instance deployments and tests.
// Waiters give up when their context ends.
type ProjectLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewProjectLocker() *ProjectLocker {
	return &ProjectLocker{slots: map[string]*lockSlot{}}
}

func (l *ProjectLocker) Lock(ctx context.Context, projectID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[projectID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[projectID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(projectID, slot)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.unref(projectID, slot)
		})
	}, nil
}

func (l *ProjectLocker) unref(projectID string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, projectID)
	}
}

// ValuationCache keeps oracle readings in process with a per-entry expiry.
type ValuationCache struct {
	mu    sync.Mutex
	rows  map[string]cachedValuation
	nowFn func() time.Time
}

type cachedValuation struct {
	value     domain.AssetValuation
	expiresAt time.Time
}

func NewValuationCache() *ValuationCache {
	return &ValuationCache{rows: map[string]cachedValuation{}, nowFn: time.Now}
}

func (c *ValuationCache) Put(_ context.Context, v domain.AssetValuation, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v.Stale = false
	v.Warning = ""
	c.rows[v.AssetID] = cachedValuation{value: v, expiresAt: c.nowFn().Add(ttl)}
	return nil
}

func (c *ValuationCache) Get(_ context.Context, assetID string) (*domain.AssetValuation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[assetID]
	if !ok {
		return nil, nil
	}
	if c.nowFn().After(row.expiresAt) {
		delete(c.rows, assetID)
		return nil, nil
	}
	v := row.value
	return &v, nil
}
