// Package damage resolves damage and healing against targets: the formula is
// scaled by each target's affinity, evaluated per target, applied to hit
// points, and narrated.
package damage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/effect"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
	"github.com/cory-johannsen/actioncards/internal/game/narrative"
	"github.com/cory-johannsen/actioncards/internal/game/threshold"
)

// Instance is an authored damage or healing payload.
type Instance struct {
	Formula     string           `yaml:"formula" json:"formula"`
	Type        string           `yaml:"type" json:"type"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Threshold   threshold.Config `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// Healing reports whether the instance restores hit points.
func (i Instance) Healing() bool { return i.Type == entity.DamageTypeHealing }

// Result is the outcome of one damage instance against one target.
type Result struct {
	TargetID               string          `json:"target_id"`
	Type                   string          `json:"type"`
	Formula                string          `json:"formula"` // after crit doubling and affinity scaling
	Affinity               entity.Affinity `json:"affinity"`
	Amount                 int             `json:"amount"`
	Healing                bool            `json:"healing,omitempty"`
	HP                     int             `json:"hp"` // target hit points after application
	Applied                bool            `json:"applied"`
	NeedsRemoteApplication bool            `json:"needs_remote_application,omitempty"`
	Error                  string          `json:"error,omitempty"`
}

// Targets is the entity-store surface damage resolution needs.
type Targets interface {
	Affinity(ctx context.Context, id, damageType string) (entity.Affinity, error)
	AdjustResource(ctx context.Context, id, path string, delta int) (int, error)
}

// Evaluator evaluates a dice formula against a variable context.
type Evaluator interface {
	Evaluate(ctx context.Context, formula string, vars map[string]float64) (dice.Outcome, error)
}

// Request describes one damage instance applied to a set of targets.
type Request struct {
	ActorID   string
	Instance  Instance
	Targets   []threshold.TargetResult
	RollTotal int
	Vars      map[string]float64
	// DoubleDice doubles every dice term before scaling, for critical hits.
	DoubleDice bool
	Auth       effect.Authorization
}

// EvaluationError reports a damage formula that could not be evaluated.
type EvaluationError struct {
	TargetID string
	Formula  string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("damage: evaluating %q for %q: %v", e.Formula, e.TargetID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Resolver resolves damage requests.
type Resolver struct {
	targets Targets
	eval    Evaluator
	gate    *threshold.Gate
	log     *narrative.Log
	logger  *zap.Logger
}

// NewResolver creates a Resolver. log may be nil, in which case nothing is narrated.
//
// Precondition: targets, eval, gate, and logger must be non-nil.
func NewResolver(targets Targets, eval Evaluator, gate *threshold.Gate, log *narrative.Log, logger *zap.Logger) *Resolver {
	return &Resolver{targets: targets, eval: eval, gate: gate, log: log, logger: logger}
}

// Resolve evaluates req.Instance once per target whose threshold passes and
// applies the result to that target's hit points when req.Auth is Privileged.
// An instance with no threshold applies on one success.
//
// Postcondition: Returns one Result per passing target in target order. A
// rejected hit-point adjustment is captured in that Result and processing
// continues; a formula that fails to evaluate aborts with *EvaluationError.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]Result, error) {
	th := req.Instance.Threshold
	if th.Type == "" {
		th = threshold.Of(threshold.OneSuccess)
	}
	formula := req.Instance.Formula
	if req.DoubleDice {
		formula = dice.DoubleDice(formula)
	}

	var out []Result
	for _, tr := range req.Targets {
		if !r.gate.ShouldApply(th, tr, req.RollTotal) {
			continue
		}
		res, err := r.resolveOne(ctx, req, tr.TargetID, formula)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, req Request, targetID, formula string) (Result, error) {
	res := Result{
		TargetID: targetID,
		Type:     req.Instance.Type,
		Healing:  req.Instance.Healing(),
	}

	aff, err := r.targets.Affinity(ctx, targetID, req.Instance.Type)
	if err != nil {
		r.logger.Warn("damage target lookup failed",
			zap.String("target", targetID),
			zap.Error(err),
		)
		res.Error = err.Error()
		return res, nil
	}
	res.Affinity = aff
	res.Formula = dice.Scale(formula, aff.Factor())

	o, err := r.eval.Evaluate(ctx, res.Formula, req.Vars)
	if err != nil {
		return res, &EvaluationError{TargetID: targetID, Formula: res.Formula, Err: err}
	}
	res.Amount = max(o.Total, 0)

	if req.Auth != effect.Privileged {
		res.NeedsRemoteApplication = true
		return res, nil
	}

	delta := -res.Amount
	if res.Healing {
		delta = res.Amount
	}
	hp, err := r.targets.AdjustResource(ctx, targetID, entity.ResourceHP, delta)
	if err != nil {
		r.logger.Warn("damage application failed",
			zap.String("target", targetID),
			zap.Int("amount", res.Amount),
			zap.Error(err),
		)
		res.Error = err.Error()
		return res, nil
	}
	res.HP = hp
	res.Applied = true
	r.narrate(ctx, req.ActorID, res)
	return res, nil
}

// narrate records an applied result. Damage entries carry no Roll so a
// pending roll capture for the actor never matches them.
func (r *Resolver) narrate(ctx context.Context, actorID string, res Result) {
	if r.log == nil {
		return
	}
	verb := fmt.Sprintf("takes %d %s damage", res.Amount, res.Type)
	if res.Healing {
		verb = fmt.Sprintf("recovers %d hit points", res.Amount)
	}
	text := fmt.Sprintf("%s %s (%s, now %d HP)", res.TargetID, verb, res.Formula, res.HP)
	if res.Affinity != entity.AffinityNormal {
		text += fmt.Sprintf(" [%s]", res.Affinity)
	}
	if _, err := r.log.Append(ctx, narrative.Entry{ActorID: actorID, Kind: narrative.KindDamage, Text: text}); err != nil {
		r.logger.Warn("narrating damage failed", zap.String("target", res.TargetID), zap.Error(err))
	}
}
