package actioncard

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/actioncards/internal/game/narrative"
)

// ItemRoller rolls an embedded item through the item's own announce pathway.
// The roll is not returned; it reaches the orchestrator through the narrative
// log.
type ItemRoller interface {
	RollItem(ctx context.Context, actorID string, item EmbeddedItem, vars map[string]float64) error
}

// NarratedItemRoller evaluates the item formula and announces the result as a
// roll entry in the narrative log.
type NarratedItemRoller struct {
	eval Evaluator
	log  *narrative.Log
}

// NewNarratedItemRoller creates a NarratedItemRoller.
//
// Precondition: eval and log must be non-nil.
func NewNarratedItemRoller(eval Evaluator, log *narrative.Log) *NarratedItemRoller {
	return &NarratedItemRoller{eval: eval, log: log}
}

// RollItem evaluates item.Formula and appends the announcement.
//
// Postcondition: On success exactly one roll entry attributed to actorID has
// been appended.
func (r *NarratedItemRoller) RollItem(ctx context.Context, actorID string, item EmbeddedItem, vars map[string]float64) error {
	out, err := r.eval.Evaluate(ctx, item.Formula, vars)
	if err != nil {
		return err
	}
	_, err = r.log.Append(ctx, narrative.Entry{
		ActorID: actorID,
		Kind:    narrative.KindRoll,
		Text:    fmt.Sprintf("%s rolls %s: %s = %d", actorID, item.Name, item.Formula, out.Total),
		Roll:    &out,
	})
	return err
}
