package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// SyncEngine is the engine surface used by the scheduler and the desktop
// and mobile front ends. It allows for mocking in tests.
type SyncEngine interface {
	PerformFullSync(ctx context.Context) *models.SyncResult
	ReplayMutations(ctx context.Context) (models.ReplayResult, error)
	OnSyncComplete(listener Listener) func()

	QueueMutation(ctx context.Context, mt models.MutationType, entity string, payload map[string]interface{}) (*models.QueuedMutation, error)
	PendingMutations(ctx context.Context) []models.QueuedMutation
	PendingCount(ctx context.Context) int
	RemoveMutation(ctx context.Context, id string) error
	ClearQueue(ctx context.Context) error

	ContentTypes() []string
	LastSync(ctx context.Context, contentType string) *int64
	NeedsSync(ctx context.Context, contentType string, maxAge time.Duration) bool
	ConflictStrategy(entityType string) models.ConflictStrategy

	State(ctx context.Context) models.SyncState
	Status(ctx context.Context, maxAge time.Duration) Status
}

var _ SyncEngine = (*Engine)(nil)

// ContentStatus describes the freshness of one content type.
type ContentStatus struct {
	ContentType string `json:"contentType"`
	LastSync    *int64 `json:"lastSync"`
	NeedsSync   bool   `json:"needsSync"`
}

// Status is a point-in-time summary of the engine.
type Status struct {
	State        models.SyncState `json:"syncState"`
	PendingCount int              `json:"pendingCount"`
	Content      []ContentStatus  `json:"content"`
}

// AnyStale reports whether any content type needs a sync.
func (s Status) AnyStale() bool {
	for _, c := range s.Content {
		if c.NeedsSync {
			return true
		}
	}
	return false
}

// Status summarizes the sync state, queue and content freshness.
func (e *Engine) Status(ctx context.Context, maxAge time.Duration) Status {
	st := Status{
		State:        e.State(ctx),
		PendingCount: e.queue.Count(ctx),
		Content:      make([]ContentStatus, 0, len(e.contentTypes)),
	}
	for _, ct := range e.contentTypes {
		st.Content = append(st.Content, ContentStatus{
			ContentType: ct,
			LastSync:    e.timestamps.Get(ctx, ct),
			NeedsSync:   e.timestamps.NeedsSync(ctx, ct, maxAge),
		})
	}
	return st
}
