package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// ContentReader reads the local content cache and the conflict log.
type ContentReader interface {
	List(ctx context.Context, contentType string, limit, offset int) ([]json.RawMessage, error)
	RowCount(ctx context.Context, contentType string) (int, error)
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// ContentHandler serves cached server content while offline.
type ContentHandler struct {
	repo  ContentReader
	types map[string]bool
}

// NewContentHandler creates a new ContentHandler for the given content types.
func NewContentHandler(repo ContentReader, contentTypes []string) *ContentHandler {
	types := make(map[string]bool, len(contentTypes))
	for _, ct := range contentTypes {
		types[ct] = true
	}
	return &ContentHandler{repo: repo, types: types}
}

// Register adds the content routes to mux.
func (h *ContentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/content/{type}", h.ListContent)
	mux.HandleFunc("GET /api/sync/conflicts", h.ListConflicts)
}

// ListContent handles GET /api/content/{type}
func (h *ContentHandler) ListContent(w http.ResponseWriter, r *http.Request) {
	contentType := r.PathValue("type")
	if !h.types[contentType] {
		http.Error(w, "Unknown content type", http.StatusNotFound)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	ctx := r.Context()
	items, err := h.repo.List(ctx, contentType, perPage, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	total, err := h.repo.RowCount(ctx, contentType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content_type": contentType,
		"items":        items,
		"total":        total,
		"page":         page,
		"per_page":     perPage,
		"total_pages":  totalPages,
	})
}

// ListConflicts handles GET /api/sync/conflicts
// Returns the most recent replay conflicts and how they were resolved.
func (h *ContentHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.repo.ListConflictLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []*models.ConflictLog{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": logs,
		"total":     len(logs),
	})
}
