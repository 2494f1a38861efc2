// Package sync provides the offline-first synchronization engine: the
// mutation queue, content pulls, mutation replay and the full-sync
// orchestrator guarded by a durable sync state.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
	"github.com/kimhsiao/noorsync/backend/internal/store"
	"github.com/kimhsiao/noorsync/backend/internal/sync/conflict"
	"github.com/kimhsiao/noorsync/backend/internal/sync/content"
	"github.com/kimhsiao/noorsync/backend/internal/sync/queue"
	"github.com/kimhsiao/noorsync/backend/internal/sync/replay"
	"github.com/kimhsiao/noorsync/backend/internal/sync/timestamps"
)

// MsgSyncInProgress is reported when a full sync is refused because another
// one holds the sync state.
const MsgSyncInProgress = "Sync already in progress"

const (
	// DefaultStaleLockAfter is how long a Syncing state may stand before it
	// is considered abandoned.
	DefaultStaleLockAfter = 10 * time.Minute

	// DefaultConcurrency bounds concurrent content pulls.
	DefaultConcurrency = 4
)

// Options configures an Engine.
type Options struct {
	// Store persists the queue, timestamps and sync state. Required.
	Store store.KeyValue
	// Source pulls content from the server. Required.
	Source content.Source
	// Cache receives pulled content. Required.
	Cache content.Store
	// Pusher applies queued mutations on the server. Required.
	Pusher replay.Pusher
	// Conflicts records resolved replay conflicts. Optional.
	Conflicts replay.ConflictRecorder

	// ContentTypes defaults to content.DefaultContentTypes().
	ContentTypes []string
	// StaleLockAfter defaults to DefaultStaleLockAfter.
	StaleLockAfter time.Duration
	// Concurrency defaults to DefaultConcurrency.
	Concurrency int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine coordinates offline synchronization. Construct one per data
// directory and share it; all methods are safe for concurrent use.
type Engine struct {
	kv           store.KeyValue
	queue        *queue.MutationQueue
	timestamps   *timestamps.Tracker
	syncer       *content.Syncer
	replayer     *replay.Replayer
	notifier     *notifier
	contentTypes []string
	staleAfter   time.Duration
	concurrency  int
	now          func() time.Time

	// guardMu makes the read and write of the sync state one step for
	// callers in this process.
	guardMu stdsync.Mutex
}

// NewEngine creates a new Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New(errors.ErrInvalid, "sync engine requires a store")
	}
	if opts.Source == nil || opts.Cache == nil {
		return nil, errors.New(errors.ErrInvalid, "sync engine requires a content source and cache")
	}
	if opts.Pusher == nil {
		return nil, errors.New(errors.ErrInvalid, "sync engine requires a mutation pusher")
	}

	if len(opts.ContentTypes) == 0 {
		opts.ContentTypes = content.DefaultContentTypes()
	}
	if opts.StaleLockAfter <= 0 {
		opts.StaleLockAfter = DefaultStaleLockAfter
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	q := queue.New(opts.Store, queue.WithClock(opts.Clock))

	return &Engine{
		kv:           opts.Store,
		queue:        q,
		timestamps:   timestamps.NewWithClock(opts.Store, opts.Clock),
		syncer:       content.NewSyncer(opts.Source, opts.Cache),
		replayer:     replay.NewReplayer(q, opts.Pusher, opts.Conflicts),
		notifier:     newNotifier(),
		contentTypes: append([]string(nil), opts.ContentTypes...),
		staleAfter:   opts.StaleLockAfter,
		concurrency:  opts.Concurrency,
		now:          opts.Clock,
	}, nil
}

// ContentTypes returns the content types pulled by a full sync.
func (e *Engine) ContentTypes() []string {
	return append([]string(nil), e.contentTypes...)
}

// =====================================================
// Mutation Queue
// =====================================================

// QueueMutation records a local write for later replay.
func (e *Engine) QueueMutation(ctx context.Context, mt models.MutationType, entity string, payload map[string]interface{}) (*models.QueuedMutation, error) {
	return e.queue.Enqueue(ctx, mt, entity, payload)
}

// PendingMutations returns queued mutations in enqueue order.
func (e *Engine) PendingMutations(ctx context.Context) []models.QueuedMutation {
	return e.queue.Pending(ctx)
}

// PendingCount returns the number of queued mutations.
func (e *Engine) PendingCount(ctx context.Context) int {
	return e.queue.Count(ctx)
}

// RemoveMutation drops a queued mutation. Unknown ids are ignored.
func (e *Engine) RemoveMutation(ctx context.Context, id string) error {
	return e.queue.Remove(ctx, id)
}

// ClearQueue drops every queued mutation.
func (e *Engine) ClearQueue(ctx context.Context) error {
	return e.queue.Clear(ctx)
}

// =====================================================
// Timestamps and policy
// =====================================================

// LastSync returns when contentType last synced, or nil.
func (e *Engine) LastSync(ctx context.Context, contentType string) *int64 {
	return e.timestamps.Get(ctx, contentType)
}

// SetLastSync records ts (epoch ms) as the last sync of contentType.
func (e *Engine) SetLastSync(ctx context.Context, contentType string, ts int64) error {
	return e.timestamps.Set(ctx, contentType, ts)
}

// NeedsSync reports whether contentType is older than maxAge or never
// synced.
func (e *Engine) NeedsSync(ctx context.Context, contentType string, maxAge time.Duration) bool {
	return e.timestamps.NeedsSync(ctx, contentType, maxAge)
}

// ConflictStrategy returns the conflict strategy of entityType.
func (e *Engine) ConflictStrategy(entityType string) models.ConflictStrategy {
	return conflict.Strategy(entityType)
}

// =====================================================
// Full sync
// =====================================================

// PerformFullSync pulls every content type, replays the mutation queue and
// notifies listeners. It never panics and never returns an error; failures
// are reported in the result.
func (e *Engine) PerformFullSync(ctx context.Context) *models.SyncResult {
	startedAt := e.now()
	result := models.NewSyncResult(startedAt)

	owned, err := e.acquire(ctx)
	if err != nil {
		result.Success = false
		if errors.Is(err, errors.ErrSyncInProgress) {
			result.Errors = append(result.Errors, MsgSyncInProgress)
		} else {
			result.Errors = append(result.Errors, err.Error())
		}
		result.FinishedAt = e.now()
		logging.Warn("Full sync refused", map[string]interface{}{"error": err.Error()})
		return result
	}

	logging.Info("Full sync started", map[string]interface{}{
		"content_types": e.contentTypes,
		"pending":       e.queue.Count(ctx),
	})

	e.run(ctx, owned, result)
	result.FinishedAt = e.now()

	logging.Info("Full sync finished", map[string]interface{}{
		"success":             result.Success,
		"mutations_replayed":  result.MutationsReplayed,
		"mutations_failed":    result.MutationsFailed,
		"mutations_discarded": result.MutationsDiscarded,
		"errors":              len(result.Errors),
		"duration_ms":         result.Duration().Milliseconds(),
	})

	e.notifier.notify(result)
	return result
}

// run performs the guarded steps. The sync state is released on every path,
// including a panic.
func (e *Engine) run(ctx context.Context, owned models.SyncState, result *models.SyncResult) {
	defer e.release(ctx, owned)
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("sync aborted: %v", r))
			logging.ErrorWithCode("Full sync aborted", string(errors.ErrSyncFailed),
				fmt.Errorf("%v", r), nil)
		}
	}()

	statuses, errs := e.syncContent(ctx)
	result.ContentTypes = statuses

	replayed := e.replayer.Replay(ctx)
	result.MutationsReplayed = replayed.Replayed
	result.MutationsFailed = replayed.Failed
	result.MutationsDiscarded = replayed.Discarded

	syncedAt := e.now().UnixMilli()
	for i := range result.ContentTypes {
		status := &result.ContentTypes[i]
		if errs[i] != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", status.ContentType, errs[i]))
			continue
		}
		if err := e.timestamps.Set(ctx, status.ContentType, syncedAt); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		ts := syncedAt
		status.LastSyncTimestamp = &ts
	}

	if replayed.Failed > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("%d mutations failed to replay", replayed.Failed))
	}
}

// syncContent pulls every content type concurrently. Results keep the
// configured order; one failure never stops the others.
func (e *Engine) syncContent(ctx context.Context) ([]models.ContentSyncStatus, []error) {
	statuses := make([]models.ContentSyncStatus, len(e.contentTypes))
	errs := make([]error, len(e.contentTypes))

	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, contentType := range e.contentTypes {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = errors.Newf(errors.ErrSyncFailed, "%s sync panicked: %v", contentType, r)
					statuses[i] = models.ContentSyncStatus{ContentType: contentType, Error: errs[i].Error()}
				}
			}()
			statuses[i], errs[i] = e.syncer.Sync(ctx, contentType, e.timestamps.Get(ctx, contentType))
			return nil
		})
	}
	_ = g.Wait()

	return statuses, errs
}

// ReplayMutations drains the queue outside a full sync. It holds the same
// sync state as PerformFullSync and fails with ErrSyncInProgress while one
// is running.
func (e *Engine) ReplayMutations(ctx context.Context) (result models.ReplayResult, err error) {
	owned, err := e.acquire(ctx)
	if err != nil {
		return models.ReplayResult{}, err
	}
	defer e.release(ctx, owned)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrReplayFailed, "replay aborted: %v", r)
		}
	}()

	return e.replayer.Replay(ctx), nil
}

// OnSyncComplete registers listener for every completed full sync and
// returns a function that unregisters it.
func (e *Engine) OnSyncComplete(listener Listener) func() {
	return e.notifier.subscribe(listener)
}

// =====================================================
// Sync state
// =====================================================

// State returns the persisted sync state.
func (e *Engine) State(ctx context.Context) models.SyncState {
	raw, ok, err := e.kv.Get(ctx, store.KeySyncInProgress)
	if err != nil {
		logging.Warn("Failed to read sync state, assuming idle", map[string]interface{}{"error": err.Error()})
		return models.IdleState()
	}
	if !ok {
		return models.IdleState()
	}
	return models.DecodeSyncState(raw)
}

// ForceUnlock clears the sync state regardless of who holds it.
func (e *Engine) ForceUnlock(ctx context.Context) error {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()

	prev := e.State(ctx)
	if err := e.kv.Set(ctx, store.KeySyncInProgress, models.IdleState().Encode()); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to clear sync state", err)
	}
	if prev.Syncing() {
		logging.Warn("Sync state forcibly cleared", map[string]interface{}{"started_at": prev.StartedAt})
	}
	return nil
}

// Reset forgets all sync state: queue, timestamps and the sync state. It
// refuses while a sync holds the state.
func (e *Engine) Reset(ctx context.Context) error {
	owned, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer e.release(ctx, owned)

	if err := e.queue.Clear(ctx); err != nil {
		return err
	}
	if err := e.timestamps.Reset(ctx); err != nil {
		return err
	}
	logging.Info("Sync state reset", nil)
	return nil
}

// acquire moves the sync state from Idle to Syncing and returns the state it
// wrote. A Syncing state older than the stale threshold is taken over.
func (e *Engine) acquire(ctx context.Context) (models.SyncState, error) {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()

	now := e.now()
	state := e.State(ctx)
	if state.Syncing() {
		if !state.StaleAt(now, e.staleAfter) {
			return models.SyncState{}, errors.New(errors.ErrSyncInProgress, MsgSyncInProgress)
		}
		logging.Warn("Overriding abandoned sync state", map[string]interface{}{
			"started_at": state.StartedAt,
			"age_ms":     now.UnixMilli() - state.StartedAt,
		})
	}

	owned := models.SyncingState(now)
	if err := e.kv.Set(ctx, store.KeySyncInProgress, owned.Encode()); err != nil {
		return models.SyncState{}, errors.Wrap(errors.ErrStorage, "failed to acquire sync state", err)
	}
	return owned, nil
}

// release returns the sync state to Idle unless another caller has taken
// it over since owned was acquired. It ignores cancellation of ctx.
func (e *Engine) release(ctx context.Context, owned models.SyncState) {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if current := e.State(ctx); current.Syncing() && current.StartedAt != owned.StartedAt {
		logging.Warn("Sync state was taken over, leaving it in place", map[string]interface{}{
			"owned_started_at":   owned.StartedAt,
			"current_started_at": current.StartedAt,
		})
		return
	}

	if err := e.kv.Set(ctx, store.KeySyncInProgress, models.IdleState().Encode()); err != nil {
		logging.ErrorWithCode("Failed to release sync state", string(errors.ErrStorage), err, nil)
	}
}
