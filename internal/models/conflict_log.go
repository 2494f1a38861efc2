package models

import "time"

// Conflict resolutions recorded when the server reports a diverged entity.
const (
	ResolutionDiscardedLocal = "discarded_local"
	ResolutionForcedLocal    = "forced_local"
)

// ConflictLog records a replay conflict and how it was resolved.
type ConflictLog struct {
	ID           UUID             `db:"id" json:"id"`
	MutationID   string           `db:"mutation_id" json:"mutation_id"`
	Entity       string           `db:"entity" json:"entity"`
	MutationType MutationType     `db:"mutation_type" json:"mutation_type"`
	Strategy     ConflictStrategy `db:"strategy" json:"strategy"`
	Resolution   string           `db:"resolution" json:"resolution"`
	DetectedAt   int64            `db:"detected_at" json:"detected_at"` // epoch ms
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}
