// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMutationType_Valid verifies the closed set of mutation types.
func TestMutationType_Valid(t *testing.T) {
	for _, mt := range MutationTypes {
		assert.True(t, mt.Valid(), "%s should be valid", mt)
	}
	assert.False(t, MutationType("upsert").Valid())
	assert.False(t, MutationType("").Valid())
}

// TestQueuedMutation_JSON verifies the persisted wire shape.
func TestQueuedMutation_JSON(t *testing.T) {
	m := QueuedMutation{
		ID:        "mut_1",
		Timestamp: 1700000000000,
		Type:      MutationCreate,
		Entity:    EntityBookmarks,
		Payload:   map[string]interface{}{"verseKey": "2:255"},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "mut_1", raw["id"])
	assert.Equal(t, "create", raw["type"])
	assert.Equal(t, "bookmarks", raw["entity"])
	assert.Equal(t, float64(0), raw["retryCount"])
	assert.NotContains(t, raw, "lastError")
}

// TestQueuedMutation_Clone verifies the payload map is not shared.
func TestQueuedMutation_Clone(t *testing.T) {
	m := QueuedMutation{ID: "mut_1", Payload: map[string]interface{}{"a": 1}}
	c := m.Clone()
	c.Payload["a"] = 2

	assert.Equal(t, 1, m.Payload["a"])
	assert.Nil(t, QueuedMutation{}.Clone().Payload)
}

// TestDecodeSyncState verifies tolerant parsing of the persisted lock.
func TestDecodeSyncState(t *testing.T) {
	started := time.UnixMilli(1700000000000)

	tests := []struct {
		name string
		raw  string
		want SyncState
	}{
		{"empty", "", IdleState()},
		{"legacy false", "false", IdleState()},
		{"legacy true", "true", SyncState{Phase: SyncPhaseSyncing}},
		{"garbage", "{not json", IdleState()},
		{"unknown phase", `{"state":"paused"}`, IdleState()},
		{"idle", IdleState().Encode(), IdleState()},
		{"syncing", SyncingState(started).Encode(), SyncState{Phase: SyncPhaseSyncing, StartedAt: 1700000000000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeSyncState(tt.raw))
		})
	}
}

// TestSyncState_StaleAt verifies abandoned-lock detection.
func TestSyncState_StaleAt(t *testing.T) {
	started := time.UnixMilli(1700000000000)
	s := SyncingState(started)

	assert.False(t, s.StaleAt(started.Add(5*time.Minute), 10*time.Minute))
	assert.True(t, s.StaleAt(started.Add(11*time.Minute), 10*time.Minute))
	assert.False(t, IdleState().StaleAt(started.Add(time.Hour), time.Minute))
	assert.False(t, SyncState{Phase: SyncPhaseSyncing}.StaleAt(started, time.Minute))
	assert.False(t, s.StaleAt(started.Add(time.Hour), 0))
}

// TestSyncResult_NeedsAttention verifies soft-failure detection.
func TestSyncResult_NeedsAttention(t *testing.T) {
	r := NewSyncResult(time.Now())
	assert.True(t, r.Success)
	assert.False(t, r.NeedsAttention())
	assert.Zero(t, r.Duration())

	r.MutationsFailed = 1
	assert.True(t, r.NeedsAttention())

	r = NewSyncResult(time.Now())
	r.Errors = append(r.Errors, "HTTP 503")
	assert.True(t, r.NeedsAttention())
}
