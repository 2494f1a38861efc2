package models

import "time"

// ConflictStrategy decides which side's state is retained when local and
// remote diverge for an entity type.
type ConflictStrategy string

const (
	StrategyServerWins ConflictStrategy = "server_wins"
	StrategyClientWins ConflictStrategy = "client_wins"
)

// ContentSyncStatus is the outcome of one content type's pull cycle.
type ContentSyncStatus struct {
	ContentType       string `json:"contentType"`
	ItemCount         int    `json:"itemCount"`
	LastSyncTimestamp *int64 `json:"lastSyncTimestamp"`
	Error             string `json:"error,omitempty"`
}

// ReplayResult counts the outcome of draining the mutation queue.
type ReplayResult struct {
	Replayed  int `json:"replayed"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

// SyncResult is the output of one full sync. It is never persisted.
type SyncResult struct {
	Success            bool                `json:"success"`
	ContentTypes       []ContentSyncStatus `json:"contentTypes"`
	MutationsReplayed  int                 `json:"mutationsReplayed"`
	MutationsFailed    int                 `json:"mutationsFailed"`
	MutationsDiscarded int                 `json:"mutationsDiscarded"`
	Errors             []string            `json:"errors"`
	StartedAt          time.Time           `json:"startedAt"`
	FinishedAt         time.Time           `json:"finishedAt"`
}

// NewSyncResult returns an empty successful result.
func NewSyncResult(startedAt time.Time) *SyncResult {
	return &SyncResult{
		Success:      true,
		ContentTypes: []ContentSyncStatus{},
		Errors:       []string{},
		StartedAt:    startedAt,
	}
}

// Duration returns how long the sync ran.
func (r *SyncResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// NeedsAttention reports whether the application should surface a soft,
// retryable notice such as "some changes haven't synced yet".
func (r *SyncResult) NeedsAttention() bool {
	return r.MutationsFailed > 0 || len(r.Errors) > 0
}
