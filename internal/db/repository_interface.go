// Package db provides repository interfaces for the local content cache.
package db

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// ContentCacheRepository defines operations on cached reference content.
type ContentCacheRepository interface {
	// Upsert writes items of contentType, replacing rows with the same key.
	Upsert(ctx context.Context, contentType string, items []json.RawMessage) error

	// RowCount returns the number of cached rows of contentType.
	RowCount(ctx context.Context, contentType string) (int, error)

	// List returns cached items of contentType ordered by key.
	List(ctx context.Context, contentType string, limit, offset int) ([]json.RawMessage, error)
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	// CreateConflictLog creates a new conflict log entry.
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error

	// ListConflictLogs returns the most recent conflict log entries.
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ ContentCacheRepository = (*Repository)(nil)
	_ ConflictLogRepository  = (*Repository)(nil)
)
