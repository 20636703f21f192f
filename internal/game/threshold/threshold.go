// Package threshold decides whether a conditional payload fires for a target,
// given the target's hit results and the roll total.
package threshold

import (
	"fmt"

	"go.uber.org/zap"
)

// Type names the condition gating a payload.
type Type string

const (
	Never        Type = "never"
	OneSuccess   Type = "oneSuccess"
	TwoSuccesses Type = "twoSuccesses"
	RollValue    Type = "rollValue"
)

// Bounds and default for RollValue thresholds.
const (
	MinRollValue     = 1
	MaxRollValue     = 30
	DefaultRollValue = 15
)

// Known reports whether t is a recognised threshold type.
func (t Type) Known() bool {
	switch t {
	case Never, OneSuccess, TwoSuccesses, RollValue:
		return true
	}
	return false
}

// Config is an authored threshold. Value is only meaningful for RollValue.
type Config struct {
	Type  Type `yaml:"type" json:"type"`
	Value *int `yaml:"value,omitempty" json:"value,omitempty"`
}

// AtLeast returns a RollValue threshold of v.
func AtLeast(v int) Config { return Config{Type: RollValue, Value: &v} }

// Of returns a threshold of type t with no value.
func Of(t Type) Config { return Config{Type: t} }

// String renders the threshold for narration, e.g. "roll >= 15".
func (c Config) String() string {
	if c.Type == RollValue {
		if c.Value == nil {
			return fmt.Sprintf("roll >= %d", DefaultRollValue)
		}
		return fmt.Sprintf("roll >= %d", *c.Value)
	}
	return string(c.Type)
}

// TargetResult is the outcome of a target's opposed checks.
// For single-check actions OneHit and BothHit are equal.
type TargetResult struct {
	TargetID string `json:"target_id"`
	OneHit   bool   `json:"one_hit"`
	BothHit  bool   `json:"both_hit"`
}

// Gate evaluates thresholds.
type Gate struct {
	logger           *zap.Logger
	defaultRollValue int
}

// NewGate creates a Gate. A defaultRollValue outside [MinRollValue, MaxRollValue]
// is replaced by DefaultRollValue.
//
// Precondition: logger must be non-nil.
func NewGate(logger *zap.Logger, defaultRollValue int) *Gate {
	if defaultRollValue < MinRollValue || defaultRollValue > MaxRollValue {
		defaultRollValue = DefaultRollValue
	}
	return &Gate{logger: logger, defaultRollValue: defaultRollValue}
}

// ShouldApply reports whether a payload gated by c fires for tr given rollTotal.
//
// Unknown types log a warning and behave as OneSuccess.
//
// Postcondition: Never always returns false; RollValue returns rollTotal >= value.
func (g *Gate) ShouldApply(c Config, tr TargetResult, rollTotal int) bool {
	switch c.Type {
	case Never:
		return false
	case OneSuccess:
		return tr.OneHit
	case TwoSuccesses:
		return tr.BothHit
	case RollValue:
		v := g.defaultRollValue
		if c.Value != nil {
			v = *c.Value
		}
		return rollTotal >= v
	default:
		g.logger.Warn("unknown threshold type, falling back to oneSuccess",
			zap.String("type", string(c.Type)),
			zap.String("target", tr.TargetID),
		)
		return tr.OneHit
	}
}
