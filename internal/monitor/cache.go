package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/ports"
)

const defaultSnapshotTTL = 20 * time.Second

// SnapshotCache serves role snapshots with a short TTL so a poll tick and an
// execution attempt in the same window share one fetch. Writes invalidate:
// after a successful execution the next read always goes back to the chain,
// never to speculative local state.
type SnapshotCache struct {
	reader ports.ChainReader
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]domain.RoleSnapshot
}

// NewSnapshotCache creates a cache over the reader. ttl <= 0 uses the
// default.
func NewSnapshotCache(reader ports.ChainReader, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{
		reader:  reader,
		ttl:     ttl,
		entries: make(map[string]domain.RoleSnapshot),
	}
}

// Get returns a cached snapshot if fresh, otherwise fetches.
func (c *SnapshotCache) Get(ctx context.Context, roleID string) (domain.RoleSnapshot, error) {
	c.mu.Lock()
	snap, ok := c.entries[roleID]
	c.mu.Unlock()

	if ok && time.Since(snap.FetchedAt) < c.ttl {
		return snap, nil
	}
	return c.Refresh(ctx, roleID)
}

// Refresh fetches unconditionally and replaces the cached entry.
func (c *SnapshotCache) Refresh(ctx context.Context, roleID string) (domain.RoleSnapshot, error) {
	snap, err := c.reader.GetRole(ctx, roleID)
	if err != nil {
		return domain.RoleSnapshot{}, err
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}

	c.mu.Lock()
	c.entries[roleID] = snap
	c.mu.Unlock()
	return snap, nil
}

// Invalidate drops the cached entry so the next Get refetches.
func (c *SnapshotCache) Invalidate(roleID string) {
	c.mu.Lock()
	delete(c.entries, roleID)
	c.mu.Unlock()
}
