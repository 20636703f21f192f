package actioncard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/approval"
	"github.com/cory-johannsen/actioncards/internal/game/combat"
	"github.com/cory-johannsen/actioncards/internal/game/damage"
	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/effect"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
	"github.com/cory-johannsen/actioncards/internal/game/narrative"
	"github.com/cory-johannsen/actioncards/internal/game/outcome"
	"github.com/cory-johannsen/actioncards/internal/game/session"
	"github.com/cory-johannsen/actioncards/internal/game/threshold"
)

// State is a step of one execution.
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateRollPending       State = "roll_pending"
	StateNoRoll            State = "no_roll"
	StateTargetsEvaluated  State = "targets_evaluated"
	StateEffectsDispatched State = "effects_dispatched"
	StateLocalComplete     State = "local_complete"
	StateAwaitingApproval  State = "awaiting_approval"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// DefaultCaptureTimeout bounds the wait for a natively narrated item roll.
const DefaultCaptureTimeout = 3 * time.Second

// DefaultMaxRepetitions caps the evaluated repetition count.
const DefaultMaxRepetitions = 10

// Entities is the entity-store surface the orchestrator reads and mutates.
type Entities interface {
	Get(id string) (entity.Snapshot, bool)
	Vars(ctx context.Context, id string) (map[string]float64, error)
	DerivedStat(ctx context.Context, id, name string) (float64, error)
	Thresholds(ctx context.Context, id string) (outcome.Thresholds, error)
	Item(ctx context.Context, id, itemID string) (entity.Item, error)
	HasControlAuthority(ctx context.Context, id string, op *session.Operator) (bool, error)
	AdjustResource(ctx context.Context, id, path string, delta int) (int, error)
}

// Evaluator evaluates dice formulas.
type Evaluator interface {
	Evaluate(ctx context.Context, formula string, vars map[string]float64) (dice.Outcome, error)
}

// TurnOrder tracks whose turn it is. combat.Engine satisfies it.
type TurnOrder interface {
	HoldsTurn(entityID string) (bool, error)
	AdvanceFrom(entityID string) (*combat.Combatant, error)
}

// Options tunes the orchestrator. Zero values select the defaults.
type Options struct {
	CaptureTimeout time.Duration
	MaxRepetitions int
}

// Deps are the orchestrator's collaborators.
//
// Turns may be nil when no turn order is tracked. Items may be nil, in which
// case natively narrated items roll through a NarratedItemRoller.
type Deps struct {
	Cards    *Registry
	Entities Entities
	Eval     Evaluator
	Effects  *effect.Service
	Damage   *damage.Resolver
	Log      *narrative.Log
	Mailbox  *approval.Mailbox
	Turns    TurnOrder
	Items    ItemRoller
	Logger   *zap.Logger
}

// Request asks for one execution of a card.
type Request struct {
	CardID   string
	ActorID  string
	Operator *session.Operator
	// Targets are entity IDs in selection order. Duplicates are dropped.
	Targets []string
	// Transformations maps target ID to a transformation choice ID.
	Transformations map[string]string
}

// RepetitionResult is what one repetition produced.
type RepetitionResult struct {
	Index         int                      `json:"index"`
	Roll          *dice.Outcome            `json:"roll,omitempty"`
	Classified    outcome.Classified       `json:"classified"`
	TargetResults []threshold.TargetResult `json:"target_results"`
	DamageResults []damage.Result          `json:"damage_results,omitempty"`
	EffectResults []effect.Result          `json:"effect_results,omitempty"`
	Cost          int                      `json:"cost,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	FinishedAt    time.Time                `json:"finished_at"`
}

// Result is the structured outcome of an execution. State is the last state
// reached before Done; Trace lists every state entered in order.
type Result struct {
	Success    bool               `json:"success"`
	Mode       Mode               `json:"mode"`
	State      State              `json:"state"`
	Trace      []State            `json:"trace"`
	Roll       *dice.Outcome      `json:"roll,omitempty"`
	Classified outcome.Classified `json:"classified"`
	// RollMissing is set when a natively narrated roll was never captured.
	RollMissing   bool                     `json:"roll_missing,omitempty"`
	Repetitions   []RepetitionResult       `json:"repetitions,omitempty"`
	TargetResults []threshold.TargetResult `json:"target_results,omitempty"`
	DamageResults []damage.Result          `json:"damage_results,omitempty"`
	EffectResults []effect.Result          `json:"effect_results,omitempty"`
	Approval      *approval.Request        `json:"approval,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
}

func (r *Result) enter(s State) {
	r.State = s
	r.Trace = append(r.Trace, s)
}

// Orchestrator executes action cards. It holds no per-execution state and is
// safe for concurrent use.
type Orchestrator struct {
	d     Deps
	opts  Options
	items ItemRoller
	now   func() time.Time
	sleep func(time.Duration)
}

// NewOrchestrator creates an Orchestrator.
//
// Precondition: every field of d except Turns and Items must be non-nil.
func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = DefaultCaptureTimeout
	}
	if opts.MaxRepetitions <= 0 {
		opts.MaxRepetitions = DefaultMaxRepetitions
	}
	items := d.Items
	if items == nil {
		items = NewNarratedItemRoller(d.Eval, d.Log)
	}
	return &Orchestrator{d: d, opts: opts, items: items, now: time.Now, sleep: time.Sleep}
}

// plan is everything computed before dispatch.
type plan struct {
	card       *Card
	actorID    string
	targets    []string
	vars       map[string]float64
	reps       int
	roll       *dice.Outcome
	classified outcome.Classified
	selections map[string]string
	auth       effect.Authorization
	preview    bool
}

// Execute runs one execution of req.CardID.
//
// The ownership gate is evaluated once before dispatch: when the operator does
// not control every target, exactly one approval request carrying the roll,
// the repetition count, and the transformation selections is submitted and the
// execution completes locally in StateAwaitingApproval without mutating
// anything. ctx is honoured until dispatch begins; after that the batch runs
// to completion.
//
// Precondition: req.Operator must be non-nil.
// Postcondition: An *EligibilityError leaves Result.State == StateAborted with
// Reason set and nothing mutated. An *EvaluationError or ctx error also aborts.
// Per-target failures are recorded in the results and never returned.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Result, error) {
	res := Result{}
	res.enter(StateIdle)
	p, err := o.prepare(ctx, req, &res)
	if err != nil {
		return o.abort(req, res, err)
	}
	if err := ctx.Err(); err != nil {
		return o.abort(req, res, err)
	}

	owned, err := o.controlsAll(ctx, req.Operator, p.targets)
	if err != nil {
		return o.abort(req, res, err)
	}
	if !req.Operator.Privileged() && !owned {
		return o.requestApproval(ctx, req, p, res)
	}

	p.auth = effect.Privileged
	if err := o.dispatch(context.WithoutCancel(ctx), p, &res); err != nil {
		return o.abort(req, res, err)
	}
	return o.complete(req, res, StateLocalComplete), nil
}

// Preview runs an execution without mutating anything: effects and damage are
// computed as a standard operator would see them, no cost is charged, turn
// order does not advance, and repetitions are not spaced.
//
// Precondition: req.Operator must be non-nil.
func (o *Orchestrator) Preview(ctx context.Context, req Request) (Result, error) {
	res := Result{}
	res.enter(StateIdle)
	p, err := o.prepare(ctx, req, &res)
	if err != nil {
		return o.abort(req, res, err)
	}
	p.auth = effect.Standard
	p.preview = true
	if err := o.dispatch(ctx, p, &res); err != nil {
		return o.abort(req, res, err)
	}
	return o.complete(req, res, StateLocalComplete), nil
}

// Approve takes the pending request id on behalf of approver and dispatches it
// with privileged authorization, reusing the carried roll, repetition count,
// and transformation selections.
//
// Precondition: approver must be non-nil.
// Postcondition: The request is consumed exactly once. A missing request
// returns approval.ErrNotFound; a standard approver returns
// approval.ErrNotPrivileged and leaves the request pending. A request whose
// card or actor can no longer be resolved also stays pending.
func (o *Orchestrator) Approve(ctx context.Context, id uuid.UUID, approver *session.Operator) (Result, error) {
	areq, err := o.d.Mailbox.Peek(ctx, id, approver)
	if err != nil {
		return Result{State: StateAborted, Reason: err.Error()}, err
	}
	req := Request{
		CardID:          areq.CardID,
		ActorID:         areq.ActorID,
		Operator:        approver,
		Targets:         areq.Targets,
		Transformations: areq.Transformations,
	}
	res := Result{Approval: &areq}
	res.enter(StateIdle)

	card, ok := o.d.Cards.Get(areq.CardID)
	if !ok {
		return o.abort(req, res, ineligible(ErrUnknownCard, "action card %q no longer exists", areq.CardID))
	}
	res.Mode = card.Mode
	vars, err := o.d.Entities.Vars(ctx, areq.ActorID)
	if err != nil {
		return o.abort(req, res, fmt.Errorf("reading actor %q: %w", areq.ActorID, err))
	}
	if areq, err = o.d.Mailbox.Take(ctx, id, approver); err != nil {
		return o.abort(req, res, err)
	}

	p := plan{
		card:       card,
		actorID:    areq.ActorID,
		targets:    areq.Targets,
		vars:       vars,
		reps:       max(areq.Repetitions, 1),
		roll:       areq.Roll,
		selections: areq.Transformations,
		auth:       effect.Privileged,
	}
	if areq.Roll != nil {
		res.enter(StateRollPending)
		cls, err := o.classify(ctx, card, areq.ActorID, *areq.Roll)
		if err != nil {
			return o.abort(req, res, err)
		}
		p.classified = cls
		res.Roll, res.Classified = areq.Roll, cls
	} else {
		res.enter(StateNoRoll)
	}

	o.narrate(ctx, areq.ActorID, narrative.KindApproval,
		fmt.Sprintf("%s approved %s", approver.Username, card.Name))
	if err := o.dispatch(context.WithoutCancel(ctx), p, &res); err != nil {
		return o.abort(req, res, err)
	}
	return o.complete(req, res, StateLocalComplete), nil
}

// prepare runs Validating and the roll step.
func (o *Orchestrator) prepare(ctx context.Context, req Request, res *Result) (plan, error) {
	res.enter(StateValidating)
	if req.Operator == nil {
		return plan{}, errors.New("actioncard: execute requires an operator")
	}
	if err := ctx.Err(); err != nil {
		return plan{}, err
	}
	card, ok := o.d.Cards.Get(req.CardID)
	if !ok {
		return plan{}, ineligible(ErrUnknownCard, "there is no action card %q", req.CardID)
	}
	res.Mode = card.Mode

	targets, err := o.validate(ctx, card, req)
	if err != nil {
		return plan{}, err
	}
	vars, err := o.d.Entities.Vars(ctx, req.ActorID)
	if err != nil {
		return plan{}, fmt.Errorf("reading actor %q: %w", req.ActorID, err)
	}
	reps, err := o.repetitions(ctx, card, vars)
	if err != nil {
		return plan{}, err
	}
	if err := o.checkCost(ctx, card, req.ActorID, reps); err != nil {
		return plan{}, err
	}

	p := plan{
		card:       card,
		actorID:    req.ActorID,
		targets:    targets,
		vars:       vars,
		reps:       reps,
		selections: req.Transformations,
	}
	if !card.Item.Rollable() {
		res.enter(StateNoRoll)
		return p, nil
	}
	res.enter(StateRollPending)
	roll, missing, err := o.roll(ctx, card, req.ActorID, vars)
	if err != nil {
		return plan{}, err
	}
	res.RollMissing = missing
	if roll != nil {
		cls, err := o.classify(ctx, card, req.ActorID, *roll)
		if err != nil {
			return plan{}, err
		}
		p.roll, p.classified = roll, cls
		res.Roll, res.Classified = roll, cls
	}
	return p, nil
}

// validate checks eligibility and returns the effective target list.
func (o *Orchestrator) validate(ctx context.Context, card *Card, req Request) ([]string, error) {
	if _, ok := o.d.Entities.Get(req.ActorID); !ok {
		return nil, ineligible(ErrNoTarget, "acting entity %q does not exist", req.ActorID)
	}
	if card.Mode == ModeAttackChain && !card.Item.Rollable() {
		return nil, ineligible(ErrNoEmbeddedAction, "%s has no embedded action to roll", card.Name)
	}

	targets := dedupe(req.Targets)
	if len(targets) == 0 {
		if card.Targeted {
			return nil, ineligible(ErrNoTarget, "%s needs at least one target", card.Name)
		}
		targets = []string{req.ActorID}
	}
	for _, id := range targets {
		if _, ok := o.d.Entities.Get(id); !ok {
			return nil, ineligible(ErrNoTarget, "target %q does not exist", id)
		}
	}

	if card.Cost != nil {
		it, err := o.d.Entities.Item(ctx, req.ActorID, card.Cost.ItemID)
		if errors.Is(err, entity.ErrUnknownItem) {
			return nil, ineligible(ErrInsufficientQuantity, "%s requires %s, which the actor does not carry", card.Name, card.Cost.ItemID)
		}
		if err != nil {
			return nil, err
		}
		if !it.Equipped {
			return nil, ineligible(ErrItemNotEquipped, "%s must be equipped to use %s", it.Name, card.Name)
		}
	}

	if card.AdvanceInitiative && o.d.Turns != nil {
		holds, err := o.d.Turns.HoldsTurn(req.ActorID)
		switch {
		case errors.Is(err, combat.ErrNotInEncounter):
		case err != nil:
			return nil, err
		case !holds:
			return nil, ineligible(ErrNotActorsTurn, "it is not %s's turn", req.ActorID)
		}
	}
	return targets, nil
}

// checkCost verifies the actor can pay for reps repetitions.
func (o *Orchestrator) checkCost(ctx context.Context, card *Card, actorID string, reps int) error {
	if card.Cost == nil {
		return nil
	}
	it, err := o.d.Entities.Item(ctx, actorID, card.Cost.ItemID)
	if err != nil {
		return err
	}
	need := card.Cost.Quantity
	if card.Repetition.CostPerRepetition {
		need *= reps
	}
	if it.Quantity < need {
		return ineligible(ErrInsufficientQuantity, "%s needs %d %s, only %d left", card.Name, need, it.Name, it.Quantity)
	}
	return nil
}

// repetitions evaluates the repetition count once and clamps it.
func (o *Orchestrator) repetitions(ctx context.Context, card *Card, vars map[string]float64) (int, error) {
	if card.Repetition.Count == "" {
		return 1, nil
	}
	out, err := o.d.Eval.Evaluate(ctx, card.Repetition.Count, vars)
	if err != nil {
		return 0, &EvaluationError{Step: "repetition", Formula: card.Repetition.Count, Err: err}
	}
	n := out.Total
	if n < 1 {
		n = 1
	}
	if n > o.opts.MaxRepetitions {
		o.d.Logger.Warn("repetition count clamped",
			zap.String("card", card.ID),
			zap.Int("evaluated", n),
			zap.Int("max", o.opts.MaxRepetitions),
		)
		n = o.opts.MaxRepetitions
	}
	return n, nil
}

// controlsAll reports whether op has control authority over every target.
func (o *Orchestrator) controlsAll(ctx context.Context, op *session.Operator, targets []string) (bool, error) {
	for _, id := range targets {
		ok, err := o.d.Entities.HasControlAuthority(ctx, id, op)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) requestApproval(ctx context.Context, req Request, p plan, res Result) (Result, error) {
	res.enter(StateAwaitingApproval)
	_, err := o.d.Mailbox.Submit(ctx, approval.Request{
		TableID:          req.Operator.TableID,
		ActorID:          p.actorID,
		CardID:           p.card.ID,
		RequestingUserID: req.Operator.UserID,
		Targets:          p.targets,
		Roll:             p.roll,
		Repetitions:      p.reps,
		Transformations:  p.selections,
	})
	if err != nil {
		return o.abort(req, res, err)
	}
	o.narrate(ctx, p.actorID, narrative.KindApproval,
		fmt.Sprintf("%s asks a game master to resolve %s against %s", req.Operator.Username, p.card.Name, strings.Join(p.targets, ", ")))
	return o.complete(req, res, StateAwaitingApproval), nil
}

func (o *Orchestrator) complete(req Request, res Result, final State) Result {
	res.Success = true
	if res.State != final {
		res.enter(final)
	}
	res.Trace = append(res.Trace, StateDone)
	o.d.Logger.Info("action card executed",
		zap.String("card", req.CardID),
		zap.String("actor", req.ActorID),
		zap.String("state", string(final)),
		zap.Int("repetitions", len(res.Repetitions)),
	)
	return res
}

func (o *Orchestrator) abort(req Request, res Result, err error) (Result, error) {
	res.Success = false
	res.enter(StateAborted)
	res.Reason = err.Error()
	var el *EligibilityError
	if errors.As(err, &el) {
		o.d.Logger.Info("action card not eligible",
			zap.String("card", req.CardID),
			zap.String("actor", req.ActorID),
			zap.String("reason", el.Reason),
		)
	} else {
		o.d.Logger.Warn("action card aborted",
			zap.String("card", req.CardID),
			zap.String("actor", req.ActorID),
			zap.Error(err),
		)
	}
	return res, err
}

// narrate appends a message-style entry. Failures are logged only.
func (o *Orchestrator) narrate(ctx context.Context, actorID string, kind narrative.Kind, text string) {
	if _, err := o.d.Log.Append(ctx, narrative.Entry{ActorID: actorID, Kind: kind, Text: text}); err != nil {
		o.d.Logger.Warn("narrative append failed", zap.String("actor", actorID), zap.Error(err))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
