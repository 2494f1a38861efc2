// Package content pulls reference content from the server into the local
// cache, one content type at a time.
package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// Content types synced when none are configured.
const (
	TypeSurahs     = "surahs"
	TypeVerses     = "verses"
	TypeHadiths    = "hadiths"
	TypeVocabulary = "vocabulary"
)

// DefaultContentTypes returns the content types synced by default.
func DefaultContentTypes() []string {
	return []string{TypeSurahs, TypeVerses, TypeHadiths, TypeVocabulary}
}

// Source fetches the current items of a content type from the server.
type Source interface {
	Pull(ctx context.Context, contentType string, since *int64) ([]json.RawMessage, error)
}

// Store is the local content cache.
type Store interface {
	Upsert(ctx context.Context, contentType string, items []json.RawMessage) error
	RowCount(ctx context.Context, contentType string) (int, error)
}

// Syncer brings one content type up to date. Server data always wins.
type Syncer struct {
	source Source
	store  Store
}

// NewSyncer creates a new Syncer.
func NewSyncer(source Source, store Store) *Syncer {
	return &Syncer{source: source, store: store}
}

// Sync pulls contentType changes since lastSync and upserts them. The
// returned status always names the content type and carries the previous
// lastSync; recording the new timestamp is left to the caller. On failure
// the status Error is set and the error is returned as well.
func (s *Syncer) Sync(ctx context.Context, contentType string, lastSync *int64) (status models.ContentSyncStatus, err error) {
	status = models.ContentSyncStatus{
		ContentType:       contentType,
		LastSyncTimestamp: lastSync,
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrSyncFailed, "%s sync panicked: %v", contentType, r)
		}
		if err != nil {
			status.Error = err.Error()
			logging.Warn("Content sync failed", map[string]interface{}{
				"content_type": contentType,
				"error":        err.Error(),
			})
		}
	}()

	items, err := s.source.Pull(ctx, contentType, lastSync)
	if err != nil {
		return status, err
	}

	if err := s.store.Upsert(ctx, contentType, items); err != nil {
		return status, errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to store %d %s", len(items), contentType), err)
	}

	count, err := s.store.RowCount(ctx, contentType)
	if err != nil {
		return status, errors.Wrap(errors.ErrStorage, "failed to count "+contentType, err)
	}
	status.ItemCount = count

	logging.Debug("Content synced", map[string]interface{}{
		"content_type": contentType,
		"received":     len(items),
		"cached":       count,
	})

	return status, nil
}
