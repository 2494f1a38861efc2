// Package timestamps records when each content type last completed a
// successful pull.
package timestamps

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/store"
)

// DefaultMaxAge is the freshness window used when none is given.
const DefaultMaxAge = 24 * time.Hour

// Tracker persists a content type to epoch-ms map under a single key.
type Tracker struct {
	kv  store.KeyValue
	now func() time.Time
	mu  sync.Mutex
}

// New creates a Tracker backed by kv.
func New(kv store.KeyValue) *Tracker {
	return NewWithClock(kv, time.Now)
}

// NewWithClock creates a Tracker whose freshness checks use now.
func NewWithClock(kv store.KeyValue, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{kv: kv, now: now}
}

// Set records ts (epoch ms) as the last successful sync of contentType.
// Other content types are preserved.
func (t *Tracker) Set(ctx context.Context, contentType string, ts int64) error {
	if contentType == "" {
		return errors.New(errors.ErrInvalid, "content type is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	all := t.load(ctx)
	all[contentType] = ts

	data, err := json.Marshal(all)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode sync timestamps", err)
	}
	if err := t.kv.Set(ctx, store.KeySyncTimestamps, string(data)); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to persist sync timestamp for "+contentType, err)
	}
	return nil
}

// Get returns the last sync time of contentType, or nil if it never synced.
func (t *Tracker) Get(ctx context.Context, contentType string) *int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.load(ctx)[contentType]
	if !ok {
		return nil
	}
	return &ts
}

// All returns a copy of every recorded timestamp.
func (t *Tracker) All(ctx context.Context) map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

// NeedsSync reports whether contentType has never synced or last synced
// more than maxAge ago.
func (t *Tracker) NeedsSync(ctx context.Context, contentType string, maxAge time.Duration) bool {
	last := t.Get(ctx, contentType)
	if last == nil {
		return true
	}
	return t.now().UnixMilli()-*last > maxAge.Milliseconds()
}

// NeedsSyncDefault is NeedsSync with DefaultMaxAge.
func (t *Tracker) NeedsSyncDefault(ctx context.Context, contentType string) bool {
	return t.NeedsSync(ctx, contentType, DefaultMaxAge)
}

// Reset forgets every recorded timestamp.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.kv.Remove(ctx, store.KeySyncTimestamps); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to reset sync timestamps", err)
	}
	return nil
}

// load returns the persisted map. Missing or corrupt records read as empty.
func (t *Tracker) load(ctx context.Context) map[string]int64 {
	all := make(map[string]int64)

	raw, ok, err := t.kv.Get(ctx, store.KeySyncTimestamps)
	if err != nil {
		logging.Warn("Failed to read sync timestamps", map[string]interface{}{"error": err.Error()})
		return all
	}
	if !ok || raw == "" {
		return all
	}
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		logging.Warn("Corrupt sync timestamps, treating as never synced", map[string]interface{}{"error": err.Error()})
		return make(map[string]int64)
	}
	if all == nil {
		all = make(map[string]int64)
	}
	return all
}
