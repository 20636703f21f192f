package actioncard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/combat"
	"github.com/cory-johannsen/actioncards/internal/game/damage"
	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/effect"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
	"github.com/cory-johannsen/actioncards/internal/game/narrative"
	"github.com/cory-johannsen/actioncards/internal/game/outcome"
	"github.com/cory-johannsen/actioncards/internal/game/threshold"
)

// roll evaluates the card's embedded item. A natively narrated item is rolled
// through the item pathway and captured from the narrative log.
//
// Postcondition: missing is true iff the capture timed out, in which case the
// outcome is nil and err is nil.
func (o *Orchestrator) roll(ctx context.Context, card *Card, actorID string, vars map[string]float64) (_ *dice.Outcome, missing bool, _ error) {
	item := card.Item
	if !item.NativeNarration {
		out, err := o.d.Eval.Evaluate(ctx, item.Formula, vars)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, false, cerr
			}
			return nil, false, &EvaluationError{Step: "item", Formula: item.Formula, Err: err}
		}
		if _, err := o.d.Log.Append(ctx, narrative.Entry{
			ActorID: actorID,
			Kind:    narrative.KindRoll,
			Text:    fmt.Sprintf("%s rolls %s for %s: %d", actorID, item.Name, card.Name, out.Total),
			Roll:    &out,
		}); err != nil {
			o.d.Logger.Warn("narrative append failed", zap.String("actor", actorID), zap.Error(err))
		}
		return &out, false, nil
	}

	capture := o.d.Log.CaptureNextRoll(actorID)
	if err := o.items.RollItem(ctx, actorID, *item, vars); err != nil {
		capture.Cancel()
		if cerr := ctx.Err(); cerr != nil {
			return nil, false, cerr
		}
		return nil, false, &EvaluationError{Step: "item", Formula: item.Formula, Err: err}
	}
	out, err := capture.Wait(ctx, o.opts.CaptureTimeout)
	if errors.Is(err, narrative.ErrCaptureTimeout) {
		o.d.Logger.Warn("item roll not captured, continuing without a roll",
			zap.String("card", card.ID),
			zap.String("actor", actorID),
			zap.Error(err),
		)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &out, false, nil
}

func (o *Orchestrator) classify(ctx context.Context, card *Card, actorID string, roll dice.Outcome) (outcome.Classified, error) {
	th, err := o.d.Entities.Thresholds(ctx, actorID)
	if err != nil {
		return outcome.Classified{}, fmt.Errorf("reading crit thresholds of %q: %w", actorID, err)
	}
	critAllowed := card.Item == nil || !card.Item.NoCrit
	return outcome.ClassifyRoll(roll, th, critAllowed), nil
}

// dispatch runs every repetition in order and then advances turn order.
//
// Postcondition: res holds the results of every completed repetition, also
// when an error is returned.
func (o *Orchestrator) dispatch(ctx context.Context, p plan, res *Result) error {
	roll, cls := p.roll, p.classified
	rep := p.card.Repetition
	var last time.Time
	for i := 0; i < p.reps; i++ {
		if i > 0 {
			if !p.preview {
				o.waitGap(rep.Gap, last)
			}
			if rep.RepeatToHit && p.card.Item.Rollable() {
				r, missing, err := o.roll(ctx, p.card, p.actorID, p.vars)
				if err != nil {
					return err
				}
				roll, cls = r, outcome.Classified{}
				if missing {
					res.RollMissing = true
				}
				if r != nil {
					if cls, err = o.classify(ctx, p.card, p.actorID, *r); err != nil {
						return err
					}
				}
			}
		}

		rr := RepetitionResult{Index: i, Roll: roll, Classified: cls, StartedAt: o.now()}
		total := 0
		if roll != nil {
			total = roll.Total
		}

		trs, err := o.evaluateTargets(ctx, p, total)
		if err != nil {
			return err
		}
		rr.TargetResults = trs
		if i == 0 {
			res.enter(StateTargetsEvaluated)
			res.enter(StateEffectsDispatched)
		}

		if i == 0 || !rep.DamageOnce {
			dmg, err := o.applyDamage(ctx, p, trs, total, cls)
			rr.DamageResults = dmg
			if err != nil {
				res.record(rr)
				return err
			}
		}
		if i == 0 || rep.StatusPerRepetition {
			rr.EffectResults = o.d.Effects.ApplyThresholdEffects(ctx, p.card.statuses(), trs, total, p.auth)
		}
		if i == 0 && p.card.Transformation != nil {
			rr.EffectResults = append(rr.EffectResults, o.transform(ctx, p, trs, total)...)
		}
		o.narrateEffects(ctx, p.actorID, rr.EffectResults)

		if !p.preview && (i == 0 || rep.CostPerRepetition) {
			rr.Cost = o.charge(ctx, p)
		}
		rr.FinishedAt = o.now()
		last = rr.FinishedAt
		res.record(rr)
	}

	if !p.preview && p.card.AdvanceInitiative {
		o.advance(p.actorID)
	}
	return nil
}

func (r *Result) record(rr RepetitionResult) {
	r.Repetitions = append(r.Repetitions, rr)
	r.TargetResults = append(r.TargetResults, rr.TargetResults...)
	r.DamageResults = append(r.DamageResults, rr.DamageResults...)
	r.EffectResults = append(r.EffectResults, rr.EffectResults...)
}

func (o *Orchestrator) waitGap(gap time.Duration, since time.Time) {
	if gap <= 0 {
		return
	}
	if wait := gap - o.now().Sub(since); wait > 0 {
		o.sleep(wait)
	}
}

// evaluateTargets runs the opposed checks for every target in order. Saved
// damage and attack chains without checks hit every target.
func (o *Orchestrator) evaluateTargets(ctx context.Context, p plan, total int) ([]threshold.TargetResult, error) {
	checks := p.card.AttackChain.Checks
	out := make([]threshold.TargetResult, 0, len(p.targets))
	for _, id := range p.targets {
		if p.card.Mode == ModeSavedDamage || len(checks) == 0 {
			out = append(out, threshold.TargetResult{TargetID: id, OneHit: true, BothHit: true})
			continue
		}
		hits := 0
		for _, c := range checks {
			hit, err := o.opposed(ctx, p.actorID, id, c, total)
			if err != nil {
				return nil, err
			}
			if hit {
				hits++
			}
		}
		out = append(out, threshold.TargetResult{TargetID: id, OneHit: hits > 0, BothHit: hits == len(checks)})
	}
	return out, nil
}

// opposed reports whether total plus the actor's attack stat meets the
// target's defense stat.
func (o *Orchestrator) opposed(ctx context.Context, actorID, targetID string, c OpposedCheck, total int) (bool, error) {
	var atk float64
	if c.AttackStat != "" {
		v, err := o.d.Entities.DerivedStat(ctx, actorID, c.AttackStat)
		if err != nil {
			return false, fmt.Errorf("reading %s of %q: %w", c.AttackStat, actorID, err)
		}
		atk = v
	}
	def, err := o.d.Entities.DerivedStat(ctx, targetID, c.DefenseStat)
	if err != nil {
		return false, fmt.Errorf("reading %s of %q: %w", c.DefenseStat, targetID, err)
	}
	return float64(total)+atk >= def, nil
}

func (o *Orchestrator) applyDamage(ctx context.Context, p plan, trs []threshold.TargetResult, total int, cls outcome.Classified) ([]damage.Result, error) {
	instances := p.card.AttackChain.Damage
	double := cls.CritHit && p.card.AttackChain.DoublesOnCrit()
	if p.card.Mode == ModeSavedDamage {
		instances = []damage.Instance{p.card.savedInstance()}
		double = false
	}
	var out []damage.Result
	for _, inst := range instances {
		rs, err := o.d.Damage.Resolve(ctx, damage.Request{
			ActorID:    p.actorID,
			Instance:   inst,
			Targets:    trs,
			RollTotal:  total,
			Vars:       p.vars,
			DoubleDice: double,
			Auth:       p.auth,
		})
		out = append(out, rs...)
		if err != nil {
			return out, &EvaluationError{Step: "damage", Formula: inst.Formula, Err: err}
		}
	}
	return out, nil
}

// transform applies each target's selected transformation choice. A target
// without a selection takes the only choice when there is exactly one and is
// skipped otherwise.
func (o *Orchestrator) transform(ctx context.Context, p plan, trs []threshold.TargetResult, total int) []effect.Result {
	t := p.card.Transformation
	var out []effect.Result
	for _, tr := range trs {
		id, ok := p.selections[tr.TargetID]
		if !ok {
			if len(t.Choices) != 1 {
				o.d.Logger.Warn("no transformation selected, skipping target",
					zap.String("card", p.card.ID),
					zap.String("target", tr.TargetID),
				)
				continue
			}
			id = t.Choices[0].ID
		}
		choice, found := t.Choice(id)
		if !found {
			out = append(out, effect.Result{
				TargetID:  tr.TargetID,
				EffectID:  "transformation:" + id,
				Threshold: t.Threshold,
				Error:     fmt.Sprintf("unknown transformation choice %q", id),
			})
			continue
		}
		entry := effect.Entry{
			Payload: entity.Payload{
				Kind: entity.PayloadTransformation,
				Form: choice.Form,
				Hook: choice.Hook,
			},
			Threshold: t.Threshold,
		}
		out = append(out, o.d.Effects.ApplyThresholdEffects(ctx, []effect.Entry{entry}, []threshold.TargetResult{tr}, total, p.auth)...)
	}
	return out
}

// charge deducts the card's cost from the actor's inventory and returns the
// quantity deducted.
func (o *Orchestrator) charge(ctx context.Context, p plan) int {
	if p.card.Cost == nil {
		return 0
	}
	path := entity.ItemQuantityPath(p.card.Cost.ItemID)
	if _, err := o.d.Entities.AdjustResource(ctx, p.actorID, path, -p.card.Cost.Quantity); err != nil {
		o.d.Logger.Warn("inventory cost not charged",
			zap.String("actor", p.actorID),
			zap.String("path", path),
			zap.Error(err),
		)
		return 0
	}
	return p.card.Cost.Quantity
}

func (o *Orchestrator) advance(actorID string) {
	if o.d.Turns == nil {
		return
	}
	next, err := o.d.Turns.AdvanceFrom(actorID)
	switch {
	case errors.Is(err, combat.ErrNotInEncounter):
	case err != nil:
		o.d.Logger.Warn("turn order not advanced", zap.String("actor", actorID), zap.Error(err))
	default:
		o.d.Logger.Debug("turn advanced", zap.String("from", actorID), zap.String("to", next.EntityID))
	}
}

func (o *Orchestrator) narrateEffects(ctx context.Context, actorID string, results []effect.Result) {
	for _, r := range results {
		if !r.Applied {
			continue
		}
		name := r.TargetID
		if snap, ok := o.d.Entities.Get(r.TargetID); ok {
			name = snap.Name
		}
		var text string
		switch r.Payload.Kind {
		case entity.PayloadTransformation:
			text = fmt.Sprintf("%s becomes %s", name, r.Payload.Form)
		default:
			text = fmt.Sprintf("%s is %s", name, r.Payload.ConditionID)
		}
		o.narrate(ctx, actorID, narrative.KindEffect, text)
	}
}
