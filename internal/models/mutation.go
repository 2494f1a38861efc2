// Package models provides data model definitions for the sync engine.
package models

// MutationType is the kind of local write captured in a QueuedMutation.
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
)

// MutationTypes lists every valid MutationType.
var MutationTypes = []MutationType{MutationCreate, MutationUpdate, MutationDelete}

// Valid reports whether t is one of the known mutation types.
func (t MutationType) Valid() bool {
	switch t {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// User-owned entity collections that the application mutates offline.
const (
	EntityBookmarks   = "bookmarks"
	EntityReflections = "reflections"
	EntityProgress    = "progress"
)

// QueuedMutation is one pending local write awaiting remote application.
// The JSON shape matches what the mobile client persists.
type QueuedMutation struct {
	ID         string                 `json:"id"`
	Timestamp  int64                  `json:"timestamp"` // enqueue time, epoch ms
	Type       MutationType           `json:"type"`
	Entity     string                 `json:"entity"`
	Payload    map[string]interface{} `json:"payload"`
	RetryCount int                    `json:"retryCount"`
	LastError  string                 `json:"lastError,omitempty"`
}

// Clone returns a copy whose payload map is not shared with m.
// Nested payload values are shared.
func (m QueuedMutation) Clone() QueuedMutation {
	c := m
	if m.Payload != nil {
		c.Payload = make(map[string]interface{}, len(m.Payload))
		for k, v := range m.Payload {
			c.Payload[k] = v
		}
	}
	return c
}
