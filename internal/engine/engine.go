// Package engine assembles the action card resolution engine from
// configuration: content registries, the entity store, dice, scripting hooks,
// the narrative log, the approval mailbox, and the orchestrator.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/config"
	"github.com/cory-johannsen/actioncards/internal/game/actioncard"
	"github.com/cory-johannsen/actioncards/internal/game/approval"
	"github.com/cory-johannsen/actioncards/internal/game/combat"
	"github.com/cory-johannsen/actioncards/internal/game/condition"
	"github.com/cory-johannsen/actioncards/internal/game/damage"
	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/effect"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
	"github.com/cory-johannsen/actioncards/internal/game/narrative"
	"github.com/cory-johannsen/actioncards/internal/game/session"
	"github.com/cory-johannsen/actioncards/internal/game/threshold"
	"github.com/cory-johannsen/actioncards/internal/scripting"
)

// Options supplies the storage backends chosen by the caller. Zero values
// select in-memory storage and the crypto dice source.
type Options struct {
	Approvals approval.Store
	Sink      narrative.Sink
	Source    dice.Source
}

// Engine holds every assembled component.
type Engine struct {
	Conditions   *condition.Registry
	Cards        *actioncard.Registry
	Entities     *entity.Store
	Log          *narrative.Log
	Sessions     *session.Manager
	Mailbox      *approval.Mailbox
	Turns        *combat.Engine
	Scripts      *scripting.Manager // nil when no scripts directory is configured
	Orchestrator *actioncard.Orchestrator

	logger *zap.Logger
}

// New loads content from cfg.Content and wires the engine.
//
// Precondition: logger must be non-nil; cfg must have passed Validate.
// Postcondition: Returns a ready Engine, or an error naming the content that
// failed to load.
func New(cfg config.Config, logger *zap.Logger, opts Options) (*Engine, error) {
	start := time.Now()

	conds, err := condition.LoadDirectory(cfg.Content.ConditionsDir)
	if err != nil {
		return nil, fmt.Errorf("loading conditions from %s: %w", cfg.Content.ConditionsDir, err)
	}
	cards, err := actioncard.LoadDirectory(cfg.Content.CardsDir, cfg.Engine.StrictThresholds, logger)
	if err != nil {
		return nil, fmt.Errorf("loading action cards from %s: %w", cfg.Content.CardsDir, err)
	}

	src := opts.Source
	if src == nil {
		src = dice.NewCryptoSource()
	}
	store := opts.Approvals
	if store == nil {
		store = approval.NewMemoryStore()
	}

	e := &Engine{
		Conditions: conds,
		Cards:      cards,
		Entities:   entity.NewStore(conds),
		Log:        narrative.NewLog(logger, opts.Sink),
		Sessions:   session.NewManager(),
		Turns:      combat.NewEngine(),
		logger:     logger,
	}
	e.Mailbox = approval.NewMailbox(store, e.Sessions, logger)

	var hooks effect.Hooks
	if cfg.Content.ScriptsDir != "" {
		e.Scripts = scripting.NewManager(dice.NewLoggedRoller(src, logger), logger)
		if err := e.Scripts.LoadGlobal(cfg.Content.ScriptsDir, cfg.Engine.ScriptInstructionLimit); err != nil {
			e.Scripts.Close()
			return nil, fmt.Errorf("loading scripts from %s: %w", cfg.Content.ScriptsDir, err)
		}
		e.wireScripts()
		hooks = e.Scripts
	}

	eval := dice.NewEvaluator(src, logger)
	gate := threshold.NewGate(logger, cfg.Engine.DefaultRollThreshold)
	e.Orchestrator = actioncard.NewOrchestrator(actioncard.Deps{
		Cards:    cards,
		Entities: e.Entities,
		Eval:     eval,
		Effects:  effect.NewService(e.Entities, gate, conds, hooks, logger),
		Damage:   damage.NewResolver(e.Entities, eval, gate, e.Log, logger),
		Log:      e.Log,
		Mailbox:  e.Mailbox,
		Turns:    e.Turns,
		Logger:   logger,
	}, actioncard.Options{
		CaptureTimeout: cfg.Engine.CaptureTimeout,
		MaxRepetitions: cfg.Engine.MaxRepetitions,
	})

	logger.Info("engine assembled",
		zap.Int("conditions", len(conds.All())),
		zap.Int("cards", len(cards.IDs())),
		zap.Bool("scripting", e.Scripts != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return e, nil
}

// wireScripts injects the entity store and narrative log into the engine.*
// Lua modules.
//
// Precondition: e.Scripts, e.Entities, and e.Log must be non-nil.
func (e *Engine) wireScripts() {
	ctx := context.Background()

	e.Scripts.GetEntity = func(id string) *scripting.EntityInfo {
		snap, ok := e.Entities.Get(id)
		if !ok {
			return nil
		}
		return &scripting.EntityInfo{
			ID:         snap.ID,
			Name:       snap.Name,
			HP:         snap.HP,
			MaxHP:      snap.MaxHP,
			Form:       snap.Form,
			Conditions: snap.Conditions,
			Stats:      snap.Stats,
		}
	}

	e.Scripts.ApplyCondition = func(id, condID string, stacks, duration int) error {
		return e.Entities.ApplyEffect(ctx, id, entity.Payload{
			Kind:        entity.PayloadCondition,
			ConditionID: condID,
			Stacks:      stacks,
			Duration:    duration,
		})
	}

	e.Scripts.AdjustHP = func(id string, delta int) (int, error) {
		return e.Entities.AdjustResource(ctx, id, entity.ResourceHP, delta)
	}

	e.Scripts.Narrate = func(actorID, text string) {
		if _, err := e.Log.Append(ctx, narrative.Entry{
			ActorID: actorID,
			Kind:    narrative.KindMessage,
			Text:    text,
		}); err != nil {
			e.logger.Warn("script narration failed", zap.String("actor", actorID), zap.Error(err))
		}
	}
}

// LoadRoster adds every entity in roster to the entity store.
//
// Postcondition: Stops at and returns the first rejected entity.
func (e *Engine) LoadRoster(roster []*entity.Entity) error {
	for _, ent := range roster {
		if err := e.Entities.Add(ent); err != nil {
			return fmt.Errorf("adding entity %q: %w", ent.ID, err)
		}
	}
	return nil
}

// Roster returns detached copies of every entity, ordered by ID.
func (e *Engine) Roster() []*entity.Entity {
	ids := e.Entities.IDs()
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		if ent, ok := e.Entities.Entity(id); ok {
			out = append(out, ent)
		}
	}
	return out
}

// Close releases the scripting VMs.
func (e *Engine) Close() {
	if e.Scripts != nil {
		e.Scripts.Close()
	}
}
