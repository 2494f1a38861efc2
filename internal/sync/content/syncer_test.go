package content

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/noorsync/backend/internal/errors"
)

type fakeSource struct {
	items map[string][]json.RawMessage
	err   error
	since *int64
	panic bool
}

func (f *fakeSource) Pull(_ context.Context, contentType string, since *int64) ([]json.RawMessage, error) {
	if f.panic {
		panic("boom")
	}
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return f.items[contentType], nil
}

type memStore struct {
	rows     map[string]map[string]json.RawMessage
	upsertEr error
	countErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[string]json.RawMessage)}
}

func (m *memStore) Upsert(_ context.Context, contentType string, items []json.RawMessage) error {
	if m.upsertEr != nil {
		return m.upsertEr
	}
	if m.rows[contentType] == nil {
		m.rows[contentType] = make(map[string]json.RawMessage)
	}
	for _, item := range items {
		var v struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(item, &v); err != nil {
			return err
		}
		m.rows[contentType][strconv.Itoa(v.ID)] = item
	}
	return nil
}

func (m *memStore) RowCount(_ context.Context, contentType string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.rows[contentType]), nil
}

func raw(s ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(s))
	for i, v := range s {
		out[i] = json.RawMessage(v)
	}
	return out
}

func TestSyncUpsertsAndCounts(t *testing.T) {
	src := &fakeSource{items: map[string][]json.RawMessage{
		TypeSurahs: raw(`{"id":1}`, `{"id":2}`),
	}}
	st := newMemStore()
	s := NewSyncer(src, st)

	last := int64(500)
	status, err := s.Sync(context.Background(), TypeSurahs, &last)
	require.NoError(t, err)
	assert.Equal(t, TypeSurahs, status.ContentType)
	assert.Equal(t, 2, status.ItemCount)
	assert.Empty(t, status.Error)
	require.NotNil(t, src.since)
	assert.Equal(t, int64(500), *src.since)
	assert.Equal(t, &last, status.LastSyncTimestamp)

	// Re-pulling the same items replaces rather than duplicates.
	status, err = s.Sync(context.Background(), TypeSurahs, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ItemCount)
	assert.Nil(t, src.since)
}

func TestSyncSourceFailure(t *testing.T) {
	s := NewSyncer(&fakeSource{err: errors.New("HTTP 500")}, newMemStore())

	status, err := s.Sync(context.Background(), TypeVerses, nil)
	require.Error(t, err)
	assert.Equal(t, "HTTP 500", status.Error)
	assert.Equal(t, TypeVerses, status.ContentType)
	assert.Equal(t, 0, status.ItemCount)
}

func TestSyncStoreFailures(t *testing.T) {
	src := &fakeSource{items: map[string][]json.RawMessage{TypeHadiths: raw(`{"id":1}`)}}

	st := newMemStore()
	st.upsertEr = errors.New("disk I/O error")
	_, err := NewSyncer(src, st).Sync(context.Background(), TypeHadiths, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	st = newMemStore()
	st.countErr = errors.New("locked")
	status, err := NewSyncer(src, st).Sync(context.Background(), TypeHadiths, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
	assert.NotEmpty(t, status.Error)
}

func TestSyncRecoversPanic(t *testing.T) {
	s := NewSyncer(&fakeSource{panic: true}, newMemStore())

	status, err := s.Sync(context.Background(), TypeVocabulary, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed))
	assert.Contains(t, status.Error, "boom")
	assert.Equal(t, TypeVocabulary, status.ContentType)
}

func TestDefaultContentTypes(t *testing.T) {
	assert.Equal(t, []string{"surahs", "verses", "hadiths", "vocabulary"}, DefaultContentTypes())
}
