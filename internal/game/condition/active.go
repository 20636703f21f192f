package condition

import (
	"errors"
	"sort"
)

// Indefinite is the remaining duration of a condition that only ends when it
// is removed: permanent and until_save conditions, or rounds conditions
// applied without a count and without a default.
const Indefinite = -1

// ActiveCondition is one condition attached to an entity.
type ActiveCondition struct {
	Def               *ConditionDef
	Stacks            int
	DurationRemaining int // Indefinite, or rounds left
}

// Stackable reports whether repeated applications accumulate stacks.
func (d *ConditionDef) Stackable() bool { return d.MaxStacks > 0 }

// clampStacks bounds n to [1, MaxStacks]; unstackable conditions always
// hold one stack.
func (d *ConditionDef) clampStacks(n int) int {
	switch {
	case !d.Stackable() || n < 1:
		return 1
	case n > d.MaxStacks:
		return d.MaxStacks
	}
	return n
}

// resolveDuration turns a requested duration into a remaining duration. Zero
// asks for the definition's default.
func (d *ConditionDef) resolveDuration(requested int) int {
	if requested != 0 {
		return requested
	}
	if d.DurationType == DurationRounds && d.DefaultDuration > 0 {
		return d.DefaultDuration
	}
	return Indefinite
}

func (d *ConditionDef) expires() bool { return d.DurationType == DurationRounds }

// ActiveSet holds the conditions attached to one entity, keyed by ID.
// The caller serialises access.
type ActiveSet struct {
	byID map[string]*ActiveCondition
}

// NewActiveSet creates an empty ActiveSet.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{byID: make(map[string]*ActiveCondition)}
}

// Apply attaches def, or reinforces it when already attached. Reapplying adds
// stacks up to MaxStacks and keeps the longer of the two durations. A zero
// duration selects def.DefaultDuration for rounds conditions and Indefinite
// otherwise.
//
// Precondition: def must not be nil.
// Postcondition: Has(def.ID) is true and 1 <= Stacks(def.ID) <= max(1, def.MaxStacks).
func (s *ActiveSet) Apply(def *ConditionDef, stacks, duration int) error {
	if def == nil {
		return errors.New("applying condition: nil definition")
	}
	duration = def.resolveDuration(duration)

	cur, ok := s.byID[def.ID]
	if !ok {
		s.byID[def.ID] = &ActiveCondition{
			Def:               def,
			Stacks:            def.clampStacks(stacks),
			DurationRemaining: duration,
		}
		return nil
	}
	if def.Stackable() {
		cur.Stacks = def.clampStacks(cur.Stacks + stacks)
	}
	cur.DurationRemaining = max(cur.DurationRemaining, duration)
	return nil
}

// Remove detaches id. Removing an absent condition does nothing.
func (s *ActiveSet) Remove(id string) {
	delete(s.byID, id)
}

// Tick counts down one round on every expiring condition and detaches those
// that run out.
//
// Postcondition: Returns the detached IDs in ascending order. Indefinite
// conditions are untouched.
func (s *ActiveSet) Tick() []string {
	var expired []string
	for id, ac := range s.byID {
		if !ac.Def.expires() || ac.DurationRemaining == Indefinite {
			continue
		}
		if ac.DurationRemaining--; ac.DurationRemaining <= 0 {
			expired = append(expired, id)
			delete(s.byID, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// Has reports whether id is attached.
func (s *ActiveSet) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Stacks returns the stack count of id, or 0 when it is not attached.
func (s *ActiveSet) Stacks(id string) int {
	if ac, ok := s.byID[id]; ok {
		return ac.Stacks
	}
	return 0
}

// All returns the attached conditions ordered by ID. The entries are shared
// with the set and must be treated as read-only.
func (s *ActiveSet) All() []*ActiveCondition {
	out := make([]*ActiveCondition, 0, len(s.byID))
	for _, id := range s.IDs() {
		out = append(out, s.byID[id])
	}
	return out
}

// IDs returns the attached condition IDs in ascending order.
func (s *ActiveSet) IDs() []string {
	out := make([]string, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy that can be mutated independently. Definitions are
// shared.
func (s *ActiveSet) Clone() *ActiveSet {
	out := &ActiveSet{byID: make(map[string]*ActiveCondition, len(s.byID))}
	for id, ac := range s.byID {
		cp := *ac
		out.byID[id] = &cp
	}
	return out
}
