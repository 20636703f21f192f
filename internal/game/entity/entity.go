// Package entity models the characters and creatures an action card can act
// on, and provides an in-memory store exposing the reads and mutations the
// resolution engine needs.
package entity

import (
	"sort"

	"github.com/cory-johannsen/actioncards/internal/game/condition"
	"github.com/cory-johannsen/actioncards/internal/game/outcome"
)

// Affinity is an entity's relationship to a damage type.
type Affinity string

const (
	AffinityNormal     Affinity = "normal"
	AffinityVulnerable Affinity = "vulnerable"
	AffinityResistant  Affinity = "resistant"
	AffinityImmune     Affinity = "immune"
)

// DamageTypeHealing restores hit points instead of removing them.
const DamageTypeHealing = "healing"

// Factor returns the multiplier applied to damage of a type with this affinity.
// Unrecognised affinities behave as normal.
//
// Postcondition: Returns one of 2, 0.5, 0, or 1.
func (a Affinity) Factor() float64 {
	switch a {
	case AffinityVulnerable:
		return 2
	case AffinityResistant:
		return 0.5
	case AffinityImmune:
		return 0
	default:
		return 1
	}
}

// Item is an inventory item linked to an entity. Action cards may consume it.
type Item struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Quantity int    `yaml:"quantity" json:"quantity"`
	Equipped bool   `yaml:"equipped" json:"equipped"`
}

// Entity is one actor or target. Base stats are authored; derived stats are
// the base values adjusted by active conditions.
type Entity struct {
	ID          string              `yaml:"id" json:"id"`
	Name        string              `yaml:"name" json:"name"`
	Stats       map[string]float64  `yaml:"stats" json:"stats"`
	MaxHP       int                 `yaml:"max_hp" json:"max_hp"`
	CurrentHP   int                 `yaml:"current_hp" json:"current_hp"`
	Thresholds  outcome.Thresholds  `yaml:"thresholds" json:"thresholds"`
	Affinities  map[string]Affinity `yaml:"affinities" json:"affinities"`
	Controllers []string            `yaml:"controllers" json:"controllers"` // user IDs allowed to act for this entity
	Items       []Item              `yaml:"items" json:"items"`
	Form        string              `yaml:"form" json:"form"`

	Conditions *condition.ActiveSet `yaml:"-" json:"-"`
}

// ControlledBy reports whether userID is listed as a controller.
func (e *Entity) ControlledBy(userID string) bool {
	for _, c := range e.Controllers {
		if c == userID {
			return true
		}
	}
	return false
}

// Affinity returns the entity's affinity to damageType, normal when unset.
func (e *Entity) Affinity(damageType string) Affinity {
	if a, ok := e.Affinities[damageType]; ok {
		return a
	}
	return AffinityNormal
}

// DerivedStat returns the named stat after active conditions are applied.
// "hp" and "max_hp" resolve to the entity's hit points. Unknown stats are 0.
func (e *Entity) DerivedStat(name string) float64 {
	switch name {
	case "hp":
		return float64(e.CurrentHP)
	case "max_hp":
		return float64(e.MaxHP)
	}
	base := e.Stats[name]
	if e.Conditions == nil {
		return base
	}
	return condition.Modify(e.Conditions, name, base)
}

// Vars returns every derived stat keyed by name, suitable as a formula
// variable context.
//
// Postcondition: Contains every base stat, every stat touched by a condition, hp, and max_hp.
func (e *Entity) Vars() map[string]float64 {
	out := make(map[string]float64, len(e.Stats)+2)
	for name := range e.Stats {
		out[name] = e.DerivedStat(name)
	}
	if e.Conditions != nil {
		for _, name := range condition.Targets(e.Conditions) {
			out[name] = e.DerivedStat(name)
		}
	}
	out["hp"] = float64(e.CurrentHP)
	out["max_hp"] = float64(e.MaxHP)
	return out
}

// item returns a pointer to the linked item with id, or nil.
func (e *Entity) item(id string) *Item {
	for i := range e.Items {
		if e.Items[i].ID == id {
			return &e.Items[i]
		}
	}
	return nil
}

// clone returns a deep copy of e.
func (e *Entity) clone() *Entity {
	cp := *e
	cp.Stats = make(map[string]float64, len(e.Stats))
	for k, v := range e.Stats {
		cp.Stats[k] = v
	}
	cp.Affinities = make(map[string]Affinity, len(e.Affinities))
	for k, v := range e.Affinities {
		cp.Affinities[k] = v
	}
	cp.Controllers = append([]string(nil), e.Controllers...)
	cp.Items = append([]Item(nil), e.Items...)
	if e.Conditions != nil {
		cp.Conditions = e.Conditions.Clone()
	}
	return &cp
}

// Snapshot is a read-only view of an entity for narration and scripting.
type Snapshot struct {
	ID         string
	Name       string
	HP         int
	MaxHP      int
	Form       string
	Conditions []string
	Stats      map[string]float64
}

func (e *Entity) snapshot() Snapshot {
	s := Snapshot{
		ID:    e.ID,
		Name:  e.Name,
		HP:    e.CurrentHP,
		MaxHP: e.MaxHP,
		Form:  e.Form,
		Stats: e.Vars(),
	}
	if e.Conditions != nil {
		s.Conditions = e.Conditions.IDs()
	}
	return s
}

// StatNames returns the keys of s.Stats in ascending order.
func (s Snapshot) StatNames() []string {
	out := make([]string, 0, len(s.Stats))
	for k := range s.Stats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
