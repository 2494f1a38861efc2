// Package replay drains the mutation queue against the server.
package replay

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
	"github.com/kimhsiao/noorsync/backend/internal/remote"
	"github.com/kimhsiao/noorsync/backend/internal/sync/conflict"
)

// Queue is the subset of the mutation queue the replayer drives.
type Queue interface {
	Pending(ctx context.Context) []models.QueuedMutation
	Get(ctx context.Context, id string) (*models.QueuedMutation, bool)
	Remove(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, cause error) error
}

// Pusher applies one mutation on the server. A conflict is reported with an
// error matching remote.ErrConflict.
type Pusher interface {
	Push(ctx context.Context, m models.QueuedMutation, opts remote.PushOptions) error
}

// ConflictRecorder persists resolved conflicts.
type ConflictRecorder interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
}

// Replayer replays queued mutations in FIFO order.
type Replayer struct {
	queue     Queue
	pusher    Pusher
	conflicts ConflictRecorder
}

// NewReplayer creates a new Replayer. conflicts may be nil.
func NewReplayer(queue Queue, pusher Pusher, conflicts ConflictRecorder) *Replayer {
	return &Replayer{queue: queue, pusher: pusher, conflicts: conflicts}
}

// outcome of replaying one mutation.
type outcome int

const (
	outcomeReplayed outcome = iota
	outcomeDiscarded
	outcomeFailed
)

// Replay pushes every mutation pending at call time, one at a time. A
// failing mutation stays queued with its retry count incremented and does
// not stop the ones behind it. Mutations enqueued meanwhile are left for the
// next replay. Mutations removed meanwhile are skipped.
func (r *Replayer) Replay(ctx context.Context) models.ReplayResult {
	var result models.ReplayResult

	pending := r.queue.Pending(ctx)
	if len(pending) == 0 {
		return result
	}

	logging.Info("Replaying queued mutations", map[string]interface{}{"count": len(pending)})

	for _, m := range pending {
		current, ok := r.queue.Get(ctx, m.ID)
		if !ok {
			logging.Debug("Skipping mutation removed during replay", map[string]interface{}{"mutation_id": m.ID})
			continue
		}
		switch r.replayOne(ctx, *current) {
		case outcomeReplayed:
			result.Replayed++
		case outcomeDiscarded:
			result.Discarded++
		case outcomeFailed:
			result.Failed++
		}
	}

	logging.Info("Mutation replay finished", map[string]interface{}{
		"replayed":  result.Replayed,
		"failed":    result.Failed,
		"discarded": result.Discarded,
	})

	return result
}

func (r *Replayer) replayOne(ctx context.Context, m models.QueuedMutation) outcome {
	err := r.push(ctx, m, remote.PushOptions{})

	if err != nil && stderrors.Is(err, remote.ErrConflict) {
		res := conflict.Resolve(m)
		r.recordConflict(ctx, res.Log)

		switch res.Action {
		case conflict.DiscardLocal:
			if rmErr := r.queue.Remove(ctx, m.ID); rmErr != nil {
				logging.Error("Failed to drop discarded mutation", rmErr, map[string]interface{}{"mutation_id": m.ID})
			}
			return outcomeDiscarded
		case conflict.ForceLocal:
			err = r.push(ctx, m, remote.PushOptions{Force: true})
		}
	}

	if err != nil {
		if recErr := r.queue.RecordFailure(ctx, m.ID, err); recErr != nil {
			logging.Error("Failed to record replay failure", recErr, map[string]interface{}{"mutation_id": m.ID})
		}
		logging.Warn("Mutation replay failed", map[string]interface{}{
			"mutation_id": m.ID,
			"entity":      m.Entity,
			"type":        string(m.Type),
			"retry_count": m.RetryCount + 1,
			"error":       err.Error(),
		})
		return outcomeFailed
	}

	if err := r.queue.Remove(ctx, m.ID); err != nil {
		// The server already applied it; a duplicate push on the next replay
		// carries the same mutation id.
		logging.Error("Failed to remove replayed mutation", err, map[string]interface{}{"mutation_id": m.ID})
	}
	return outcomeReplayed
}

// push calls the pusher, turning a panic into an error.
func (r *Replayer) push(ctx context.Context, m models.QueuedMutation, opts remote.PushOptions) (err error) {
	if !m.Type.Valid() {
		return errors.Newf(errors.ErrInvalid, "unknown mutation type %q", m.Type)
	}
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(errors.ErrReplayFailed, fmt.Sprintf("push panicked: %v", p))
		}
	}()
	return r.pusher.Push(ctx, m.Clone(), opts)
}

func (r *Replayer) recordConflict(ctx context.Context, entry *models.ConflictLog) {
	if r.conflicts == nil || entry == nil {
		return
	}
	if err := r.conflicts.CreateConflictLog(ctx, entry); err != nil {
		logging.Warn("Failed to record conflict", map[string]interface{}{
			"mutation_id": entry.MutationID,
			"error":       err.Error(),
		})
	}
}
