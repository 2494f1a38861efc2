// Package handlers provides REST API handlers for sync operations and the
// local content cache.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/noorsync/backend/internal/sync"
	"github.com/kimhsiao/noorsync/backend/internal/sync/scheduler"
	"github.com/kimhsiao/noorsync/backend/internal/uuid"
)

// WSSyncBroadcaster interface for sync WebSocket events. Finished syncs are
// published through the engine's completion listeners, not by the handler.
type WSSyncBroadcaster interface {
	BroadcastSyncStarted()
	BroadcastQueueChanged(pending int)
}

// SchedulerControl is the part of the background scheduler exposed over HTTP.
type SchedulerControl interface {
	SetOnlineStatus(isOnline bool)
	GetStatus(ctx context.Context) scheduler.SchedulerStatus
}

// SyncHandler handles sync operations and the mutation queue.
type SyncHandler struct {
	engine    syncpkg.SyncEngine
	scheduler SchedulerControl
	wsHub     WSSyncBroadcaster
	maxAge    time.Duration
}

// NewSyncHandler creates a new SyncHandler. maxAge is the freshness window
// reported by the status endpoint.
func NewSyncHandler(engine syncpkg.SyncEngine, maxAge time.Duration) *SyncHandler {
	return &SyncHandler{
		engine: engine,
		maxAge: maxAge,
	}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting sync events.
func (h *SyncHandler) SetWebSocketHub(wsHub WSSyncBroadcaster) {
	h.wsHub = wsHub
}

// SetScheduler exposes the background scheduler's status and online toggle.
func (h *SyncHandler) SetScheduler(s SchedulerControl) {
	h.scheduler = s
}

// Register adds the sync routes to mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync", h.TriggerSync)
	mux.HandleFunc("GET /api/sync/status", h.GetStatus)
	mux.HandleFunc("POST /api/sync/online", h.SetOnline)
	mux.HandleFunc("GET /api/sync/strategy/{entity}", h.GetStrategy)
	mux.HandleFunc("GET /api/sync/queue", h.ListQueue)
	mux.HandleFunc("POST /api/sync/queue", h.QueueMutation)
	mux.HandleFunc("DELETE /api/sync/queue", h.ClearQueue)
	mux.HandleFunc("DELETE /api/sync/queue/{id}", h.RemoveMutation)
}

// =====================================================
// Sync Status and Trigger Endpoints
// =====================================================

// GetStatus handles GET /api/sync/status
// Returns the sync state, pending mutations and per-type freshness.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := h.engine.Status(ctx, h.maxAge)
	response := map[string]interface{}{
		"status":          status,
		"pending_changes": status.PendingCount,
		"needs_sync":      status.AnyStale(),
	}
	if h.scheduler != nil {
		response["scheduler"] = h.scheduler.GetStatus(ctx)
	}

	writeJSON(w, http.StatusOK, response)
}

// TriggerSync handles POST /api/sync
// Runs a full sync and returns its result. A refused sync answers 409.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.wsHub != nil && !h.engine.State(ctx).Syncing() {
		h.wsHub.BroadcastSyncStarted()
	}

	result := h.engine.PerformFullSync(ctx)

	status := http.StatusOK
	if !result.Success && len(result.Errors) == 1 && result.Errors[0] == syncpkg.MsgSyncInProgress {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// SetOnline handles POST /api/sync/online
// Switching to online triggers a background sync.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "Scheduler not running", http.StatusServiceUnavailable)
		return
	}

	var request struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Online == nil {
		http.Error(w, "online is required", http.StatusBadRequest)
		return
	}

	h.scheduler.SetOnlineStatus(*request.Online)
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus(r.Context()))
}

// GetStrategy handles GET /api/sync/strategy/{entity}
func (h *SyncHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity":   entity,
		"strategy": h.engine.ConflictStrategy(entity),
	})
}

// =====================================================
// Mutation Queue Endpoints
// =====================================================

// ListQueue handles GET /api/sync/queue
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items := h.engine.PendingMutations(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// QueueMutation handles POST /api/sync/queue
func (h *SyncHandler) QueueMutation(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Type    models.MutationType    `json:"type"`
		Entity  string                 `json:"entity"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	m, err := h.engine.QueueMutation(ctx, request.Type, request.Entity, request.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	h.queueChanged(ctx)
	writeJSON(w, http.StatusCreated, m)
}

// RemoveMutation handles DELETE /api/sync/queue/{id}
func (h *SyncHandler) RemoveMutation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := uuid.ValidateMutationID(id); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "cannot remove mutation", err))
		return
	}

	ctx := r.Context()
	if err := h.engine.RemoveMutation(ctx, id); err != nil {
		writeError(w, err)
		return
	}

	h.queueChanged(ctx)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "removed",
	})
}

// ClearQueue handles DELETE /api/sync/queue
func (h *SyncHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.engine.ClearQueue(ctx); err != nil {
		writeError(w, err)
		return
	}

	h.queueChanged(ctx)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "cleared",
	})
}

func (h *SyncHandler) queueChanged(ctx context.Context) {
	if h.wsHub != nil {
		h.wsHub.BroadcastQueueChanged(h.engine.PendingCount(ctx))
	}
}
