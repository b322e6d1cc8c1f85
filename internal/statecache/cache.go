// Package statecache keeps per-alert evaluation state resident in memory and
// writes it back to the durable key-value store in batches, so a run touches
// the store at most once per flush window instead of once per alert per tick.
package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/alert"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/kv"
)

const (
	defaultMemoryFreshness = time.Hour
	defaultSnapshotTTL     = 30 * 24 * time.Hour
	maxConcurrentIO        = 16
)

// StateKey returns the durable store key for an alert's snapshot.
func StateKey(alertID string) string {
	return fmt.Sprintf("alert:%s:state", alertID)
}

// Options tune cache behaviour.
type Options struct {
	// MemoryFreshness bounds how long a memory load is served without
	// re-reading the store. Defaults to one hour.
	MemoryFreshness time.Duration
	// SnapshotTTL is applied to store writes so state for alerts that were
	// deleted without a purge ages out on its own.
	SnapshotTTL time.Duration
}

type entry struct {
	snapshot  alert.StateSnapshot
	cachedAt  time.Time
	expiresAt time.Time
}

// Cache is a write-back cache of alert evaluation state. All methods are safe
// for concurrent use; the mutex covers the memory map, the pending queue, and
// the load/flush clocks together.
type Cache struct {
	store  kv.Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]entry
	pending   map[string]alert.StateSnapshot
	loadedAt  time.Time
	lastFlush time.Time
}

// New constructs a cache over the given durable store.
func New(store kv.Store, opts Options, logger zerolog.Logger) *Cache {
	if opts.MemoryFreshness <= 0 {
		opts.MemoryFreshness = defaultMemoryFreshness
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = defaultSnapshotTTL
	}
	return &Cache{
		store:   store,
		opts:    opts,
		logger:  logger.With().Str("component", "state_cache").Logger(),
		now:     time.Now,
		entries: make(map[string]entry),
		pending: make(map[string]alert.StateSnapshot),
	}
}

// LoadAll returns snapshots for the requested ids. While the memory cache is
// fresh it is served directly; otherwise every id is read from the store
// concurrently. A read that fails to fetch or parse degrades to "no prior
// state" for that id only.
func (c *Cache) LoadAll(ctx context.Context, ids []string) (map[string]alert.StateSnapshot, error) {
	now := c.now()

	c.mu.Lock()
	if len(c.entries) > 0 && !c.loadedAt.IsZero() && now.Sub(c.loadedAt) < c.opts.MemoryFreshness {
		result := c.subsetLocked(ids)
		c.mu.Unlock()
		return result, nil
	}
	c.mu.Unlock()

	loaded := make(map[string]alert.StateSnapshot, len(ids))
	var loadedMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentIO)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			raw, found, err := c.store.Get(gctx, StateKey(id))
			if err != nil {
				c.logger.Warn().Err(err).Str("alert_id", id).Msg("state read failed; assuming no prior state")
				return nil
			}
			if !found {
				return nil
			}
			var snapshot alert.StateSnapshot
			if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
				c.logger.Warn().Err(err).Str("alert_id", id).Msg("state parse failed; assuming no prior state")
				return nil
			}
			loadedMu.Lock()
			loaded[id] = snapshot
			loadedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries = make(map[string]entry, len(loaded))
	for id, snapshot := range loaded {
		c.entries[id] = c.entryFor(snapshot, now)
	}
	// Pending state is newer than anything the store returned.
	for id, snapshot := range c.pending {
		c.entries[id] = c.entryFor(snapshot, now)
	}
	c.loadedAt = now
	result := c.subsetLocked(ids)
	c.mu.Unlock()

	c.logger.Debug().Int("requested", len(ids)).Int("loaded", len(result)).Msg("state cache populated from store")
	return result, nil
}

// Get is a direct memory lookup; it never touches the store.
func (c *Cache) Get(alertID string) (alert.StateSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[alertID]
	if !ok {
		return alert.StateSnapshot{}, false
	}
	return e.snapshot, true
}

// Put writes memory immediately and queues the snapshot for the next flush.
// The store is never written synchronously here.
func (c *Cache) Put(alertID string, snapshot alert.StateSnapshot) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[alertID] = c.entryFor(snapshot, now)
	c.pending[alertID] = snapshot
}

// Flush writes queued snapshots to the store. It is a no-op when the queue is
// empty or when the last flush was less than minInterval ago; pass zero to
// force a flush (shutdown path). Per-key write failures are logged and the
// entry stays queued; they never fail the batch. Returns the number of
// snapshots durably written.
func (c *Cache) Flush(ctx context.Context, minInterval time.Duration) int {
	now := c.now()

	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return 0
	}
	if minInterval > 0 && !c.lastFlush.IsZero() && now.Sub(c.lastFlush) < minInterval {
		c.mu.Unlock()
		return 0
	}
	batch := make(map[string]alert.StateSnapshot, len(c.pending))
	for id, snapshot := range c.pending {
		batch[id] = snapshot
	}
	c.lastFlush = now
	c.mu.Unlock()

	written := make([]string, 0, len(batch))
	var writtenMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentIO)
	for id, snapshot := range batch {
		id, snapshot := id, snapshot
		g.Go(func() error {
			raw, err := json.Marshal(snapshot)
			if err != nil {
				c.logger.Error().Err(err).Str("alert_id", id).Msg("state marshal failed; entry stays queued")
				return nil
			}
			if err := c.store.Put(gctx, StateKey(id), string(raw), c.opts.SnapshotTTL); err != nil {
				c.logger.Warn().Err(err).Str("alert_id", id).Msg("state write failed; entry stays queued")
				return nil
			}
			writtenMu.Lock()
			written = append(written, id)
			writtenMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, id := range written {
		// A Put that raced the flush supersedes what was just written;
		// keep it queued in that case.
		if current, ok := c.pending[id]; ok && current.Equal(batch[id]) {
			delete(c.pending, id)
		}
	}
	remaining := len(c.pending)
	c.mu.Unlock()

	c.logger.Info().Int("written", len(written)).Int("remaining", remaining).Msg("state cache flushed")
	return len(written)
}

// Invalidate removes one alert from memory, queue, and store. Used when the
// owning alert is deleted.
func (c *Cache) Invalidate(ctx context.Context, alertID string) error {
	c.mu.Lock()
	delete(c.entries, alertID)
	delete(c.pending, alertID)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, StateKey(alertID)); err != nil {
		return fmt.Errorf("invalidate state %s: %w", alertID, err)
	}
	return nil
}

// Clear drops all in-memory state and the pending queue. Durable entries are
// untouched; the next LoadAll re-reads the store.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.pending = make(map[string]alert.StateSnapshot)
	c.loadedAt = time.Time{}
	c.lastFlush = time.Time{}
}

// PendingCount reports the number of snapshots awaiting a durable write.
func (c *Cache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Cache) entryFor(snapshot alert.StateSnapshot, now time.Time) entry {
	return entry{
		snapshot:  snapshot,
		cachedAt:  now,
		expiresAt: now.Add(c.opts.MemoryFreshness),
	}
}

func (c *Cache) subsetLocked(ids []string) map[string]alert.StateSnapshot {
	result := make(map[string]alert.StateSnapshot, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			result[id] = e.snapshot
		}
	}
	return result
}
