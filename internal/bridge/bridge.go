// Package bridge exposes the sync engine as a string-in, JSON-out API for
// the mobile FFI layer. Every method is safe to call from any thread.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/app"
	"github.com/kimhsiao/noorsync/backend/internal/config"
	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
	"github.com/kimhsiao/noorsync/backend/internal/sync/scheduler"
)

// NeverSynced is returned by LastSync for a content type without a timestamp.
const NeverSynced int64 = -1

var errNotInitialized = errors.New(errors.ErrInvalid, "sync bridge not initialized")

// Bridge owns one opened data directory and its background scheduler.
type Bridge struct {
	mu          sync.RWMutex
	app         *app.App
	sched       *scheduler.Scheduler
	cancel      context.CancelFunc
	unsubscribe func()

	resultMu   sync.Mutex
	lastResult *models.SyncResult
}

// New returns an uninitialized Bridge.
func New() *Bridge {
	return &Bridge{}
}

// Init loads configuration from configPath (empty for defaults and NOOR_*
// variables), opens the data directory and starts the scheduler.
func (b *Bridge) Init(configPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.app != nil {
		return nil
	}

	cfg, err := config.NewLoader(configPath).Load()
	if err != nil {
		return err
	}
	logOpts, err := cfg.Log.LoggingOptions()
	if err != nil {
		return err
	}
	if err := logging.Configure(logOpts); err != nil {
		return err
	}
	return b.open(cfg)
}

// InitWithConfig opens the bridge with an already loaded configuration.
func (b *Bridge) InitWithConfig(cfg *config.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.app != nil {
		return nil
	}
	return b.open(cfg)
}

func (b *Bridge) open(cfg *config.Config) error {
	a, err := app.Open(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := scheduler.NewScheduler(a.Engine, a.SchedulerConfig())

	b.app = a
	b.sched = sched
	b.cancel = cancel
	b.unsubscribe = a.Engine.OnSyncComplete(b.recordResult)

	sched.Start(ctx)
	logging.Info("Sync bridge initialized", map[string]interface{}{"data_dir": cfg.DataDir})
	return nil
}

// Close stops the scheduler and closes the data directory. The bridge may
// be initialized again afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.app == nil {
		return nil
	}

	b.cancel()
	b.sched.Stop()
	b.unsubscribe()
	err := b.app.Close()

	b.app = nil
	b.sched = nil
	return err
}

func (b *Bridge) recordResult(result *models.SyncResult) {
	b.resultMu.Lock()
	defer b.resultMu.Unlock()
	b.lastResult = result
}

// withApp runs fn with the opened app under the read lock.
func (b *Bridge) withApp(fn func(*app.App) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.app == nil {
		return errNotInitialized
	}
	return fn(b.app)
}

// =====================================================
// Queue
// =====================================================

// QueueMutation queues a mutation and returns it as JSON. payloadJSON may be
// empty.
func (b *Bridge) QueueMutation(mutationType, entity, payloadJSON string) (string, error) {
	var payload map[string]interface{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return "", errors.Wrap(errors.ErrInvalid, "payload must be a JSON object", err)
		}
	}

	var out string
	err := b.withApp(func(a *app.App) error {
		m, err := a.Engine.QueueMutation(context.Background(), models.MutationType(mutationType), entity, payload)
		if err != nil {
			return err
		}
		out, err = marshal(m)
		return err
	})
	return out, err
}

// PendingMutations returns the queue as a JSON array.
func (b *Bridge) PendingMutations() (string, error) {
	var out string
	err := b.withApp(func(a *app.App) error {
		var err error
		out, err = marshal(a.Engine.PendingMutations(context.Background()))
		return err
	})
	return out, err
}

// PendingCount returns the number of queued mutations.
func (b *Bridge) PendingCount() (int, error) {
	var n int
	err := b.withApp(func(a *app.App) error {
		n = a.Engine.PendingCount(context.Background())
		return nil
	})
	return n, err
}

// RemoveMutation removes a queued mutation by id.
func (b *Bridge) RemoveMutation(id string) error {
	return b.withApp(func(a *app.App) error {
		return a.Engine.RemoveMutation(context.Background(), id)
	})
}

// =====================================================
// Sync
// =====================================================

// PerformFullSync runs a full sync and returns its result as JSON.
func (b *Bridge) PerformFullSync() (string, error) {
	var out string
	err := b.withApp(func(a *app.App) error {
		var err error
		out, err = marshal(a.Engine.PerformFullSync(context.Background()))
		return err
	})
	return out, err
}

// LastResult returns the most recent completed sync as JSON, or "null".
func (b *Bridge) LastResult() (string, error) {
	b.resultMu.Lock()
	defer b.resultMu.Unlock()
	return marshal(b.lastResult)
}

// Status returns the engine status as JSON. maxAgeMs <= 0 uses the
// configured freshness window.
func (b *Bridge) Status(maxAgeMs int64) (string, error) {
	var out string
	err := b.withApp(func(a *app.App) error {
		var err error
		out, err = marshal(a.Engine.Status(context.Background(), b.maxAge(a, maxAgeMs)))
		return err
	})
	return out, err
}

// LastSync returns the last sync time of contentType in epoch ms, or
// NeverSynced.
func (b *Bridge) LastSync(contentType string) (int64, error) {
	ts := NeverSynced
	err := b.withApp(func(a *app.App) error {
		if last := a.Engine.LastSync(context.Background(), contentType); last != nil {
			ts = *last
		}
		return nil
	})
	return ts, err
}

// NeedsSync reports whether contentType is older than maxAgeMs.
func (b *Bridge) NeedsSync(contentType string, maxAgeMs int64) (bool, error) {
	var stale bool
	err := b.withApp(func(a *app.App) error {
		stale = a.Engine.NeedsSync(context.Background(), contentType, b.maxAge(a, maxAgeMs))
		return nil
	})
	return stale, err
}

// ConflictStrategy returns the strategy name of entityType.
func (b *Bridge) ConflictStrategy(entityType string) (string, error) {
	var s string
	err := b.withApp(func(a *app.App) error {
		s = string(a.Engine.ConflictStrategy(entityType))
		return nil
	})
	return s, err
}

// ForceUnlock clears a sync state left by a crashed process.
func (b *Bridge) ForceUnlock() error {
	return b.withApp(func(a *app.App) error {
		return a.Engine.ForceUnlock(context.Background())
	})
}

// SetOnline reports connectivity changes from the platform. Coming online
// triggers a background sync.
func (b *Bridge) SetOnline(online bool) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sched == nil {
		return errNotInitialized
	}
	b.sched.SetOnlineStatus(online)
	return nil
}

func (b *Bridge) maxAge(a *app.App, ms int64) time.Duration {
	if ms <= 0 {
		return a.Config.Sync.MaxAge
	}
	return time.Duration(ms) * time.Millisecond
}

// ErrorJSON renders err as {"code":..., "message":..., "retryable":...}.
func ErrorJSON(err error) string {
	out, _ := marshal(map[string]interface{}{
		"code":      string(errors.CodeOf(err)),
		"message":   err.Error(),
		"retryable": errors.Retryable(err),
	})
	return out
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(errors.ErrInternal, "failed to encode response", err)
	}
	return string(data), nil
}
