package models

import (
	"encoding/json"
	"strings"
	"time"
)

// SyncPhase is the tag of a SyncState.
type SyncPhase string

const (
	SyncPhaseIdle    SyncPhase = "idle"
	SyncPhaseSyncing SyncPhase = "syncing"
)

// SyncState is the durable mutual-exclusion record: Idle, or Syncing since
// StartedAt (epoch ms).
type SyncState struct {
	Phase     SyncPhase `json:"state"`
	StartedAt int64     `json:"startedAt,omitempty"`
}

// IdleState returns the Idle variant.
func IdleState() SyncState {
	return SyncState{Phase: SyncPhaseIdle}
}

// SyncingState returns the Syncing variant started at t.
func SyncingState(t time.Time) SyncState {
	return SyncState{Phase: SyncPhaseSyncing, StartedAt: t.UnixMilli()}
}

// Syncing reports whether the state holds the sync lock.
func (s SyncState) Syncing() bool {
	return s.Phase == SyncPhaseSyncing
}

// StaleAt reports whether a Syncing state is older than maxAge at now.
// A Syncing state without a start time (a bare "true" written by older
// clients) is never stale and must be cleared explicitly. Idle is never stale.
func (s SyncState) StaleAt(now time.Time, maxAge time.Duration) bool {
	if !s.Syncing() || s.StartedAt <= 0 || maxAge <= 0 {
		return false
	}
	return now.Sub(time.UnixMilli(s.StartedAt)) > maxAge
}

// Encode serializes the state for the key-value store.
func (s SyncState) Encode() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// DecodeSyncState parses a persisted state. Legacy "true"/"false" values are
// understood; anything unparsable is Idle.
func DecodeSyncState(raw string) SyncState {
	switch strings.TrimSpace(raw) {
	case "true":
		return SyncState{Phase: SyncPhaseSyncing}
	case "", "false":
		return IdleState()
	}

	var s SyncState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return IdleState()
	}
	if s.Phase != SyncPhaseSyncing {
		return IdleState()
	}
	return s
}
