// Package conflict decides which side wins when the server reports that an
// entity diverged from a queued local mutation.
//
// Resolution is coarse-grained: a whole record is kept or replaced according
// to a per-entity-type strategy. There is no field-level merge.
package conflict

import (
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// serverWins lists centrally authored reference content. Every other entity
// type is treated as user-authored.
var serverWins = map[string]bool{
	"surahs":                 true,
	"verses":                 true,
	"hadiths":                true,
	"vocabulary":             true,
	"conversation_scenarios": true,
}

// Strategy returns the conflict strategy for entityType. Unknown names are
// client_wins.
func Strategy(entityType string) models.ConflictStrategy {
	if serverWins[entityType] {
		return models.StrategyServerWins
	}
	return models.StrategyClientWins
}

// ServerWinsEntities returns the entity types resolved in the server's favor.
func ServerWinsEntities() []string {
	out := make([]string, 0, len(serverWins))
	for name := range serverWins {
		out = append(out, name)
	}
	return out
}

// Action is what the replayer does with a conflicting mutation.
type Action int

const (
	// DiscardLocal drops the local mutation and keeps server state.
	DiscardLocal Action = iota
	// ForceLocal re-sends the local mutation with force semantics.
	ForceLocal
)

func (a Action) String() string {
	switch a {
	case DiscardLocal:
		return models.ResolutionDiscardedLocal
	case ForceLocal:
		return models.ResolutionForcedLocal
	default:
		return "unknown"
	}
}

// Resolution is the decision taken for one conflicting mutation.
type Resolution struct {
	Action   Action
	Strategy models.ConflictStrategy
	Log      *models.ConflictLog
}

// Resolve maps a server-reported conflict on m to an action.
func Resolve(m models.QueuedMutation) Resolution {
	strategy := Strategy(m.Entity)

	action := ForceLocal
	if strategy == models.StrategyServerWins {
		action = DiscardLocal
	}

	entry := &models.ConflictLog{
		MutationID:   m.ID,
		Entity:       m.Entity,
		MutationType: m.Type,
		Strategy:     strategy,
		Resolution:   action.String(),
		DetectedAt:   time.Now().UnixMilli(),
	}

	logging.Warn("Replay conflict detected",
		map[string]interface{}{
			"mutation_id": m.ID,
			"entity":      m.Entity,
			"type":        string(m.Type),
			"strategy":    string(strategy),
			"resolution":  entry.Resolution,
		})

	return Resolution{
		Action:   action,
		Strategy: strategy,
		Log:      entry,
	}
}
