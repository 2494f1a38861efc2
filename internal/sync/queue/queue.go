// Package queue provides the durable, ordered queue of local mutations made
// while offline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
	"github.com/kimhsiao/noorsync/backend/internal/store"
	"github.com/kimhsiao/noorsync/backend/internal/uuid"
)

// MutationQueue persists pending mutations as a single JSON array in the
// key-value store. Entries keep their enqueue order.
type MutationQueue struct {
	kv  store.KeyValue
	key string
	now func() time.Time

	// mu serializes read-modify-write cycles so concurrent writers in this
	// process never drop each other's entries.
	mu sync.Mutex
}

// Option configures a MutationQueue.
type Option func(*MutationQueue)

// WithClock overrides the clock used for enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *MutationQueue) { q.now = now }
}

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(q *MutationQueue) { q.key = key }
}

// New creates a MutationQueue backed by kv.
func New(kv store.KeyValue, opts ...Option) *MutationQueue {
	q := &MutationQueue{
		kv:  kv,
		key: store.KeyMutationQueue,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a mutation with a fresh id to the end of the queue.
// A storage failure is returned, never swallowed.
func (q *MutationQueue) Enqueue(ctx context.Context, mt models.MutationType, entity string, payload map[string]interface{}) (*models.QueuedMutation, error) {
	if !mt.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "unknown mutation type %q", mt)
	}
	if strings.TrimSpace(entity) == "" {
		return nil, errors.New(errors.ErrInvalid, "entity is required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.load(ctx)

	m := models.QueuedMutation{
		ID:        uuid.NewMutationID(),
		Timestamp: q.now().UnixMilli(),
		Type:      mt,
		Entity:    entity,
		Payload:   payload,
	}
	items = append(items, m)

	if err := q.save(ctx, items); err != nil {
		return nil, err
	}

	logging.Info("Mutation queued", map[string]interface{}{
		"mutation_id": m.ID,
		"type":        string(m.Type),
		"entity":      m.Entity,
		"pending":     len(items),
	})

	return &m, nil
}

// Pending returns every queued mutation in enqueue order. An absent or
// unparsable record yields an empty list.
func (q *MutationQueue) Pending(ctx context.Context) []models.QueuedMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Count returns the number of queued mutations.
func (q *MutationQueue) Count(ctx context.Context) int {
	return len(q.Pending(ctx))
}

// Get returns the queued mutation with the given id.
func (q *MutationQueue) Get(ctx context.Context, id string) (*models.QueuedMutation, bool) {
	for _, m := range q.Pending(ctx) {
		if m.ID == id {
			return &m, true
		}
	}
	return nil, false
}

// Remove deletes the mutation with the given id. Removing an absent id is a
// no-op and does not write to storage.
func (q *MutationQueue) Remove(ctx context.Context, id string) error {
	return q.update(ctx, id, func(items []models.QueuedMutation, i int) []models.QueuedMutation {
		return append(items[:i], items[i+1:]...)
	})
}

// RecordFailure increments the retry count of a mutation and remembers the
// error. An absent id is a no-op.
func (q *MutationQueue) RecordFailure(ctx context.Context, id string, cause error) error {
	return q.update(ctx, id, func(items []models.QueuedMutation, i int) []models.QueuedMutation {
		items[i].RetryCount++
		if cause != nil {
			items[i].LastError = cause.Error()
		}
		return items
	})
}

// Clear empties the queue unconditionally.
func (q *MutationQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.save(ctx, []models.QueuedMutation{}); err != nil {
		return err
	}

	logging.Info("Mutation queue cleared", nil)
	return nil
}

// Stats returns counts of queued mutations by type and by entity.
func (q *MutationQueue) Stats(ctx context.Context) map[string]int {
	stats := map[string]int{"total": 0, "retried": 0}
	for _, m := range q.Pending(ctx) {
		stats["total"]++
		stats["type:"+string(m.Type)]++
		stats["entity:"+m.Entity]++
		if m.RetryCount > 0 {
			stats["retried"]++
		}
	}
	return stats
}

// update applies fn to the entry with id under the queue lock and persists
// the result. Nothing is written when id is absent.
func (q *MutationQueue) update(ctx context.Context, id string, fn func([]models.QueuedMutation, int) []models.QueuedMutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.load(ctx)
	for i := range items {
		if items[i].ID == id {
			return q.save(ctx, fn(items, i))
		}
	}
	return nil
}

// load reads the persisted queue. Missing, unreadable or corrupt values are
// treated as an empty queue.
func (q *MutationQueue) load(ctx context.Context) []models.QueuedMutation {
	raw, ok, err := q.kv.Get(ctx, q.key)
	if err != nil {
		logging.Warn("Failed to read mutation queue, treating as empty", map[string]interface{}{
			"key":   q.key,
			"error": err.Error(),
		})
		return []models.QueuedMutation{}
	}
	if !ok || raw == "" {
		return []models.QueuedMutation{}
	}

	var items []models.QueuedMutation
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		logging.Warn("Corrupt mutation queue, treating as empty", map[string]interface{}{
			"key":   q.key,
			"error": err.Error(),
		})
		return []models.QueuedMutation{}
	}
	if items == nil {
		items = []models.QueuedMutation{}
	}
	return items
}

func (q *MutationQueue) save(ctx context.Context, items []models.QueuedMutation) error {
	data, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "mutation payload is not serializable", err)
	}
	if err := q.kv.Set(ctx, q.key, string(data)); err != nil {
		return errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to persist %d queued mutations", len(items)), err)
	}
	return nil
}
