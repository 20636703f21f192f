// Package effect attaches threshold-gated effects to targets. Privileged
// callers mutate targets directly; everyone else gets results flagged for
// remote application by a privileged approver.
package effect

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/condition"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
	"github.com/cory-johannsen/actioncards/internal/game/session"
	"github.com/cory-johannsen/actioncards/internal/game/threshold"
)

// Authorization is the caller's right to mutate targets.
type Authorization int

const (
	// Standard callers compute outcomes but never mutate targets.
	Standard Authorization = iota
	// Privileged callers mutate targets directly.
	Privileged
)

// String returns "privileged" or "standard".
func (a Authorization) String() string {
	if a == Privileged {
		return "privileged"
	}
	return "standard"
}

// AuthorizationOf returns the authorization level of op.
//
// Postcondition: Returns Privileged iff op is non-nil and op.Privileged().
func AuthorizationOf(op *session.Operator) Authorization {
	if op != nil && op.Privileged() {
		return Privileged
	}
	return Standard
}

// Entry is an authored effect and the threshold that gates it.
type Entry struct {
	Payload   entity.Payload   `yaml:"payload" json:"payload"`
	Threshold threshold.Config `yaml:"threshold" json:"threshold"`
}

// Result is the outcome of one (target, effect) pair whose threshold passed.
type Result struct {
	TargetID               string           `json:"target_id"`
	EffectID               string           `json:"effect_id"`
	Payload                entity.Payload   `json:"payload"`
	Threshold              threshold.Config `json:"threshold"`
	Applied                bool             `json:"applied"`
	NeedsRemoteApplication bool             `json:"needs_remote_application,omitempty"`
	Error                  string           `json:"error,omitempty"`
}

// Applier is the entity-store mutation the service performs.
type Applier interface {
	ApplyEffect(ctx context.Context, id string, p entity.Payload) error
}

// Hooks runs scripted reactions after an effect lands.
type Hooks interface {
	RunEffectHook(hook, targetID, effectID string) error
}

// Service applies threshold-gated effects.
type Service struct {
	targets    Applier
	gate       *threshold.Gate
	conditions *condition.Registry
	hooks      Hooks
	logger     *zap.Logger
}

// NewService creates a Service. conditions and hooks may be nil, in which
// case no on-apply hooks run.
//
// Precondition: targets, gate, and logger must be non-nil.
func NewService(targets Applier, gate *threshold.Gate, conditions *condition.Registry, hooks Hooks, logger *zap.Logger) *Service {
	return &Service{
		targets:    targets,
		gate:       gate,
		conditions: conditions,
		hooks:      hooks,
		logger:     logger,
	}
}

// ApplyThresholdEffects evaluates every (target, effect) pair in target-major
// order and applies those whose threshold passes.
//
// Pairs whose threshold fails produce no Result. For a Privileged caller each
// passing pair produces exactly one ApplyEffect call; a failed call yields
// Applied=false with the error text and processing continues. For a Standard
// caller no mutation is attempted and every passing pair is flagged
// NeedsRemoteApplication.
//
// Postcondition: Results are ordered by target (input order), then effect (input order).
func (s *Service) ApplyThresholdEffects(ctx context.Context, entries []Entry, targets []threshold.TargetResult, rollTotal int, auth Authorization) []Result {
	var out []Result
	for _, tr := range targets {
		for _, e := range entries {
			if !s.gate.ShouldApply(e.Threshold, tr, rollTotal) {
				continue
			}
			r := Result{
				TargetID:  tr.TargetID,
				EffectID:  e.Payload.ID(),
				Payload:   e.Payload,
				Threshold: e.Threshold,
			}
			if auth != Privileged {
				r.NeedsRemoteApplication = true
				out = append(out, r)
				continue
			}
			if err := s.targets.ApplyEffect(ctx, tr.TargetID, e.Payload); err != nil {
				s.logger.Warn("effect attachment failed",
					zap.String("target", tr.TargetID),
					zap.String("effect", r.EffectID),
					zap.Error(err),
				)
				r.Error = err.Error()
				out = append(out, r)
				continue
			}
			r.Applied = true
			s.runHook(tr.TargetID, e.Payload)
			out = append(out, r)
		}
	}
	return out
}

// Apply applies results previously flagged NeedsRemoteApplication. It is the
// privileged half of the remote-application handshake.
//
// Postcondition: Returns one Result per input, in input order, with
// NeedsRemoteApplication cleared.
func (s *Service) Apply(ctx context.Context, pending []Result) []Result {
	out := make([]Result, 0, len(pending))
	for _, r := range pending {
		r.NeedsRemoteApplication = false
		if err := s.targets.ApplyEffect(ctx, r.TargetID, r.Payload); err != nil {
			s.logger.Warn("effect attachment failed",
				zap.String("target", r.TargetID),
				zap.String("effect", r.EffectID),
				zap.Error(err),
			)
			r.Error = err.Error()
			out = append(out, r)
			continue
		}
		r.Applied = true
		s.runHook(r.TargetID, r.Payload)
		out = append(out, r)
	}
	return out
}

func (s *Service) runHook(targetID string, p entity.Payload) {
	if s.hooks == nil {
		return
	}
	hook := p.Hook
	if p.Kind == entity.PayloadCondition && s.conditions != nil {
		if def, ok := s.conditions.Get(p.ConditionID); ok {
			hook = def.LuaOnApply
		}
	}
	if hook == "" {
		return
	}
	if err := s.hooks.RunEffectHook(hook, targetID, p.ID()); err != nil {
		s.logger.Warn("effect hook failed",
			zap.String("hook", hook),
			zap.String("target", targetID),
			zap.Error(err),
		)
	}
}
