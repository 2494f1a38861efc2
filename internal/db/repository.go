// Package db provides repository operations for cached content and conflict logs.
package db

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/models"
	"github.com/kimhsiao/noorsync/backend/internal/uuid"
)

// itemKeyFields are tried in order to find a stable identity for a cached item.
var itemKeyFields = []string{"id", "key", "number"}

// Repository provides operations on the local content cache.
type Repository struct {
	db *sql.DB

	// Prepared statements are cached on first use.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have prepared the same query; keep theirs.
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Content Cache Operations
// =====================================================

// ItemKey derives the cache key of an item: its "id", "key" or "number"
// field when present, otherwise the SHA-256 of its canonical JSON.
func ItemKey(item json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return "", fmt.Errorf("item is not a JSON object: %w", err)
	}

	for _, name := range itemKeyFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, nil
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err == nil {
			if i, err := n.Int64(); err == nil {
				return strconv.FormatInt(i, 10), nil
			}
			return n.String(), nil
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, item); err != nil {
		return "", err
	}
	sum := sha256.Sum256(compact.Bytes())
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Upsert writes items in a single transaction. Server data always replaces
// the cached row with the same key.
func (r *Repository) Upsert(ctx context.Context, contentType string, items []json.RawMessage) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO content_cache (content_type, item_key, data, synced_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(content_type, item_key) DO UPDATE SET data = excluded.data, synced_at = excluded.synced_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i, item := range items {
		key, err := ItemKey(item)
		if err != nil {
			return fmt.Errorf("%s item %d: %w", contentType, i, err)
		}
		if _, err := stmt.ExecContext(ctx, contentType, key, string(item), now); err != nil {
			return fmt.Errorf("failed to upsert %s item %s: %w", contentType, key, err)
		}
	}

	return tx.Commit()
}

// RowCount returns the number of cached rows of contentType.
func (r *Repository) RowCount(ctx context.Context, contentType string) (int, error) {
	stmt, err := r.PrepareStmt(ctx, "SELECT COUNT(*) FROM content_cache WHERE content_type = ?")
	if err != nil {
		return 0, err
	}
	var count int
	if err := stmt.QueryRowContext(ctx, contentType).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", contentType, err)
	}
	return count, nil
}

// List returns cached items of contentType ordered by key.
func (r *Repository) List(ctx context.Context, contentType string, limit, offset int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT data FROM content_cache WHERE content_type = ? ORDER BY item_key LIMIT ? OFFSET ?",
		contentType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", contentType, err)
	}
	defer rows.Close()

	var items []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		items = append(items, json.RawMessage(data))
	}
	return items, rows.Err()
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	if log.ID == "" {
		log.ID = models.UUID(uuid.New())
	}
	if log.DetectedAt == 0 {
		log.DetectedAt = time.Now().UnixMilli()
	}

	query := `
	INSERT INTO conflict_log (id, mutation_id, entity, mutation_type, strategy, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, string(log.ID), log.MutationID, log.Entity,
		string(log.MutationType), string(log.Strategy), log.Resolution, log.DetectedAt)
	return err
}

// ListConflictLogs returns the most recent conflict log entries.
func (r *Repository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, mutation_id, entity, mutation_type, strategy, resolution, detected_at
	FROM conflict_log ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var (
			l                models.ConflictLog
			id, mtype, strat string
		)
		if err := rows.Scan(&id, &l.MutationID, &l.Entity, &mtype, &strat, &l.Resolution, &l.DetectedAt); err != nil {
			return nil, err
		}
		l.ID = models.UUID(id)
		l.MutationType = models.MutationType(mtype)
		l.Strategy = models.ConflictStrategy(strat)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
