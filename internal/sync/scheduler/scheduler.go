// Package scheduler triggers syncs in the background: periodically, when
// content goes stale or mutations are waiting, and on reconnect.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/noorsync/backend/internal/sync"
)

// syncTimeout bounds a single background sync.
const syncTimeout = 5 * time.Minute

// Scheduler manages background sync operations.
type Scheduler struct {
	engine        syncpkg.SyncEngine
	syncInterval  time.Duration
	checkInterval time.Duration
	maxAge        time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu             sync.RWMutex
	runCtx         context.Context
	isRunning      bool
	isOnline       bool
	lastSyncTime   time.Time
	lastResult     *models.SyncResult
	syncInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval  time.Duration // Full sync period while online (default: 15 minutes)
	CheckInterval time.Duration // Staleness and queue check period (default: 1 minute)
	MaxAge        time.Duration // Content older than this is synced on the next check (default: 24 hours)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:  15 * time.Minute,
		CheckInterval: 1 * time.Minute,
		MaxAge:        24 * time.Hour,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngine, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}

	return &Scheduler{
		engine:        engine,
		syncInterval:  config.SyncInterval,
		checkInterval: config.CheckInterval,
		maxAge:        config.MaxAge,
		isOnline:      true, // Assume online initially
	}
}

// Start starts the background loops. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.runCtx = ctx
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx, stop)
	go s.checkLoop(ctx, stop)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":  s.syncInterval.String(),
		"check_interval": s.checkInterval.String(),
	})
}

// Stop stops the background loops and waits for them to exit. A sync that
// is already running finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stop := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status. While offline no sync is
// attempted. Coming back online while running triggers a sync.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	ctx := s.runCtx
	running := s.isRunning
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})

	if isOnline && running && ctx != nil {
		s.TriggerSync(ctx)
	}
}

// periodicSyncLoop runs a full sync every syncInterval while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.TriggerSync(ctx)
		}
	}
}

// checkLoop syncs early when content is stale or mutations are waiting.
func (s *Scheduler) checkLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			if reason := s.syncReason(ctx); reason != "" {
				logging.Debug("Background sync due", map[string]interface{}{"reason": reason})
				s.TriggerSync(ctx)
			}
		}
	}
}

// syncReason returns why a sync is due, or "" if none is.
func (s *Scheduler) syncReason(ctx context.Context) string {
	if n := s.engine.PendingCount(ctx); n > 0 {
		return "pending_mutations"
	}
	for _, ct := range s.engine.ContentTypes() {
		if s.engine.NeedsSync(ctx, ct, s.maxAge) {
			return "stale:" + ct
		}
	}
	return ""
}

// TriggerSync starts a sync in the background.
// Returns true if a sync was started, false if offline or already syncing.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.begin() {
		return false
	}
	go func() {
		defer s.end()
		s.runSync(ctx, "Background sync")
	}()
	return true
}

// SyncNow runs a sync and waits for it. It returns ErrSyncInProgress if the
// scheduler is already syncing.
func (s *Scheduler) SyncNow(ctx context.Context) (*models.SyncResult, error) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, syncpkg.MsgSyncInProgress)
	}
	s.syncInProgress = true
	s.mu.Unlock()
	defer s.end()

	return s.runSync(ctx, "Manual sync"), nil
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOnline || s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

func (s *Scheduler) end() {
	s.mu.Lock()
	s.syncInProgress = false
	s.mu.Unlock()
}

// runSync executes one full sync and records its outcome.
func (s *Scheduler) runSync(ctx context.Context, label string) *models.SyncResult {
	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	result := s.engine.PerformFullSync(syncCtx)

	s.mu.Lock()
	s.lastResult = result
	if result.Success {
		s.lastSyncTime = time.Now()
	}
	s.mu.Unlock()

	if !result.Success {
		logging.Warn(label+" did not complete", map[string]interface{}{"errors": result.Errors})
		return result
	}

	logging.Info(label+" completed",
		map[string]interface{}{
			"replayed":  result.MutationsReplayed,
			"failed":    result.MutationsFailed,
			"discarded": result.MutationsDiscarded,
			"errors":    len(result.Errors),
		})
	return result
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool               `json:"isRunning"`
	IsOnline       bool               `json:"isOnline"`
	LastSyncTime   *time.Time         `json:"lastSyncTime,omitempty"`
	SyncInProgress bool               `json:"syncInProgress"`
	PendingItems   int                `json:"pendingItems"`
	LastResult     *models.SyncResult `json:"lastResult,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	status.PendingItems = s.engine.PendingCount(ctx)
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
