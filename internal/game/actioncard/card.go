// Package actioncard defines authored action cards and the orchestrator that
// executes them: roll, per-target threshold evaluation, damage, statuses,
// transformations, repetitions, and the approval hand-off when the initiator
// does not control every target.
package actioncard

import (
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/actioncards/internal/game/damage"
	"github.com/cory-johannsen/actioncards/internal/game/effect"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
	"github.com/cory-johannsen/actioncards/internal/game/threshold"
)

// Mode selects how a card produces its damage.
type Mode string

const (
	// ModeAttackChain rolls the embedded item and gates damage, statuses, and
	// transformations on opposed checks against each target.
	ModeAttackChain Mode = "attackChain"
	// ModeSavedDamage applies its damage to every target without an opposed check.
	ModeSavedDamage Mode = "savedDamage"
)

// EmbeddedItem is the rollable action a card carries.
type EmbeddedItem struct {
	Name    string `yaml:"name"`
	Formula string `yaml:"formula"`
	// NoCrit disables critical and fumble classification for this roll.
	NoCrit bool `yaml:"no_crit"`
	// NativeNarration rolls through the item's own announce pathway; the
	// result is captured from the narrative log.
	NativeNarration bool `yaml:"native_narration"`
}

// Rollable reports whether the item has a roll formula.
func (i *EmbeddedItem) Rollable() bool { return i != nil && i.Formula != "" }

// OpposedCheck compares the actor's roll plus AttackStat against the
// target's DefenseStat.
type OpposedCheck struct {
	AttackStat  string `yaml:"attack_stat"`
	DefenseStat string `yaml:"defense_stat"`
}

// AttackChain configures ModeAttackChain.
type AttackChain struct {
	Checks   []OpposedCheck    `yaml:"checks"`
	Damage   []damage.Instance `yaml:"damage"`
	Statuses []effect.Entry    `yaml:"statuses"`
	// DoubleDiceOnCrit doubles damage dice on a critical hit. Defaults to true.
	DoubleDiceOnCrit *bool `yaml:"double_dice_on_crit"`
}

// DoublesOnCrit reports the effective DoubleDiceOnCrit setting.
func (a AttackChain) DoublesOnCrit() bool {
	return a.DoubleDiceOnCrit == nil || *a.DoubleDiceOnCrit
}

// SavedDamage configures ModeSavedDamage.
type SavedDamage struct {
	Formula     string         `yaml:"formula"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Statuses    []effect.Entry `yaml:"statuses"`
}

// TransformationChoice is one form a target may be turned into.
type TransformationChoice struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Form string `yaml:"form"`
	Hook string `yaml:"hook"`
}

// Transformation configures the card's transformation step.
type Transformation struct {
	Threshold threshold.Config       `yaml:"threshold"`
	Choices   []TransformationChoice `yaml:"choices"`
}

// Choice returns the choice with id.
func (t *Transformation) Choice(id string) (TransformationChoice, bool) {
	for _, c := range t.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return TransformationChoice{}, false
}

// Repetition configures how often a card resolves per execution.
type Repetition struct {
	// Count is a formula evaluated once against the actor; empty means 1.
	Count string `yaml:"count"`
	// RepeatToHit re-rolls the embedded item for every repetition. When false
	// the first roll is reused.
	RepeatToHit bool `yaml:"repeat_to_hit"`
	// DamageOnce applies damage on the first repetition only.
	DamageOnce bool `yaml:"damage_once"`
	// StatusPerRepetition applies statuses on every repetition instead of the first only.
	StatusPerRepetition bool `yaml:"status_per_repetition"`
	// Gap is the minimum delay between the end of one repetition and the start of the next.
	Gap time.Duration `yaml:"gap"`
	// CostPerRepetition charges the inventory cost on every repetition.
	CostPerRepetition bool `yaml:"cost_per_repetition"`
}

// Cost is the inventory the actor spends to execute the card.
type Cost struct {
	ItemID   string `yaml:"item"`
	Quantity int    `yaml:"quantity"`
}

// Card is an authored action card.
type Card struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Mode        Mode   `yaml:"mode"`
	// Targeted cards require at least one selected target. Untargeted cards
	// with no selection act on the actor.
	Targeted          bool            `yaml:"targeted"`
	Item              *EmbeddedItem   `yaml:"item"`
	AttackChain       AttackChain     `yaml:"attack_chain"`
	SavedDamage       SavedDamage     `yaml:"saved_damage"`
	Transformation    *Transformation `yaml:"transformation"`
	Repetition        Repetition      `yaml:"repetition"`
	AdvanceInitiative bool            `yaml:"advance_initiative"`
	Cost              *Cost           `yaml:"cost"`
}

// thresholds returns every threshold on the card with a field path for errors.
func (c *Card) thresholds() map[string]threshold.Config {
	out := make(map[string]threshold.Config)
	for i, d := range c.AttackChain.Damage {
		if d.Threshold.Type != "" {
			out[fmt.Sprintf("attack_chain.damage[%d].threshold", i)] = d.Threshold
		}
	}
	for i, s := range c.AttackChain.Statuses {
		out[fmt.Sprintf("attack_chain.statuses[%d].threshold", i)] = s.Threshold
	}
	for i, s := range c.SavedDamage.Statuses {
		out[fmt.Sprintf("saved_damage.statuses[%d].threshold", i)] = s.Threshold
	}
	if c.Transformation != nil {
		out["transformation.threshold"] = c.Transformation.Threshold
	}
	return out
}

// Validate checks the card's structure. Threshold problems are returned
// separately so callers can choose to reject or tolerate them.
//
// Postcondition: structural is non-nil iff the card cannot be executed at all;
// thresholds is non-nil iff some threshold fails threshold.Check.
func (c *Card) Validate() (structural, thresholds error) {
	var errs []error
	if c.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	switch c.Mode {
	case ModeAttackChain:
		if n := len(c.AttackChain.Checks); n > 2 {
			errs = append(errs, fmt.Errorf("attack_chain.checks: at most 2 opposed checks, got %d", n))
		}
		for i, d := range c.AttackChain.Damage {
			if d.Formula == "" {
				errs = append(errs, fmt.Errorf("attack_chain.damage[%d]: formula must not be empty", i))
			}
		}
	case ModeSavedDamage:
		if c.SavedDamage.Formula == "" {
			errs = append(errs, errors.New("saved_damage.formula must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	for i, s := range c.statuses() {
		if s.Payload.Kind != entity.PayloadCondition || s.Payload.ConditionID == "" {
			errs = append(errs, fmt.Errorf("%s.statuses[%d]: payload must name a condition", c.section(), i))
		}
	}
	if c.Transformation != nil {
		for i, ch := range c.Transformation.Choices {
			if ch.ID == "" || ch.Form == "" {
				errs = append(errs, fmt.Errorf("transformation.choices[%d]: id and form are required", i))
			}
		}
	}
	if c.Cost != nil && (c.Cost.ItemID == "" || c.Cost.Quantity < 1) {
		errs = append(errs, errors.New("cost: item and a positive quantity are required"))
	}
	if c.Repetition.Gap < 0 {
		errs = append(errs, errors.New("repetition.gap must not be negative"))
	}

	var terrs []error
	for field, th := range c.thresholds() {
		if err := threshold.Check(th); err != nil {
			terrs = append(terrs, fmt.Errorf("%s: %w", field, err))
		}
	}
	return errors.Join(errs...), errors.Join(terrs...)
}

// savedInstance returns the saved-damage configuration as a damage instance.
func (c *Card) savedInstance() damage.Instance {
	return damage.Instance{
		Formula:     c.SavedDamage.Formula,
		Type:        c.SavedDamage.Type,
		Description: c.SavedDamage.Description,
		Threshold:   threshold.Of(threshold.OneSuccess),
	}
}

// statuses returns the status entries of the card's mode.
func (c *Card) statuses() []effect.Entry {
	if c.Mode == ModeSavedDamage {
		return c.SavedDamage.Statuses
	}
	return c.AttackChain.Statuses
}

func (c *Card) section() string {
	if c.Mode == ModeSavedDamage {
		return "saved_damage"
	}
	return "attack_chain"
}
