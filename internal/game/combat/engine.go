package combat

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotInEncounter is returned when an entity has no slot in any active encounter.
var ErrNotInEncounter = errors.New("entity is not in an encounter")

// Encounter holds the live turn order of one encounter.
// All methods are safe for concurrent use.
type Encounter struct {
	// ID identifies the encounter.
	ID string

	mu         sync.Mutex
	combatants []*Combatant
	turnIndex  int
	round      int
}

// Round returns the current round number, starting at 1.
func (e *Encounter) Round() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// Combatants returns the initiative-ordered participants.
// The slice is a copy; the pointed-to Combatants are shared.
func (e *Encounter) Combatants() []*Combatant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Combatant(nil), e.combatants...)
}

// CurrentTurn returns the combatant whose turn it currently is, skipping defeated ones.
//
// Postcondition: Returns a non-defeated combatant, or nil if all are defeated.
func (e *Encounter) CurrentTurn() *Combatant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked()
}

func (e *Encounter) currentLocked() *Combatant {
	for range e.combatants {
		c := e.combatants[e.turnIndex]
		if !c.Defeated {
			return c
		}
		e.step()
	}
	return nil
}

// step must be called with mu held.
func (e *Encounter) step() {
	e.turnIndex = (e.turnIndex + 1) % len(e.combatants)
	if e.turnIndex == 0 {
		e.round++
	}
}

// AdvanceTurn moves to the next non-defeated combatant in initiative order and
// returns it. Wrapping past the last combatant starts a new round.
//
// Postcondition: Returns the new current combatant, or nil if all are defeated.
func (e *Encounter) AdvanceTurn() *Combatant {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.step()
	return e.currentLocked()
}

// Holds reports whether entityID holds the active turn.
func (e *Encounter) Holds(entityID string) bool {
	c := e.CurrentTurn()
	return c != nil && c.EntityID == entityID
}

// Has reports whether entityID has a slot in this encounter.
func (e *Encounter) Has(entityID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.combatants {
		if c.EntityID == entityID {
			return true
		}
	}
	return false
}

// SetDefeated marks entityID's slot defeated or not.
//
// Postcondition: Returns ErrNotInEncounter if entityID has no slot.
func (e *Encounter) SetDefeated(entityID string, defeated bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.combatants {
		if c.EntityID == entityID {
			c.Defeated = defeated
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNotInEncounter, entityID)
}

// Engine manages all active encounters, keyed by encounter ID.
// All methods are safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex
	encounters map[string]*Encounter
}

// NewEngine creates an empty Engine.
//
// Postcondition: Returns a non-nil Engine ready for use.
func NewEngine() *Engine {
	return &Engine{encounters: make(map[string]*Encounter)}
}

// StartEncounter begins a new encounter with the given combatants.
// Combatants are sorted by Initiative descending before storing.
//
// Precondition: id must be non-empty; combatants must have at least 1 entry.
// Postcondition: Returns the new Encounter at round 1, or an error if id is active
// or any combatant already has a slot in another encounter.
func (g *Engine) StartEncounter(id string, combatants []*Combatant) (*Encounter, error) {
	if len(combatants) == 0 {
		return nil, fmt.Errorf("encounter %q needs at least one combatant", id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.encounters[id]; exists {
		return nil, fmt.Errorf("encounter %q already active", id)
	}
	for _, c := range combatants {
		for _, other := range g.encounters {
			if other.Has(c.EntityID) {
				return nil, fmt.Errorf("entity %q already in encounter %q", c.EntityID, other.ID)
			}
		}
	}

	sorted := make([]*Combatant, len(combatants))
	copy(sorted, combatants)
	sortByInitiativeDesc(sorted)

	enc := &Encounter{ID: id, combatants: sorted, round: 1}
	g.encounters[id] = enc
	return enc, nil
}

// GetEncounter returns the active encounter with id.
//
// Postcondition: Returns (encounter, true) if found, or (nil, false) otherwise.
func (g *Engine) GetEncounter(id string) (*Encounter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	enc, ok := g.encounters[id]
	return enc, ok
}

// EncounterOf returns the active encounter entityID takes part in.
func (g *Engine) EncounterOf(entityID string) (*Encounter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, enc := range g.encounters {
		if enc.Has(entityID) {
			return enc, true
		}
	}
	return nil, false
}

// HoldsTurn reports whether entityID holds the active turn of its encounter.
//
// Postcondition: Returns ErrNotInEncounter if entityID is in no active encounter.
func (g *Engine) HoldsTurn(entityID string) (bool, error) {
	enc, ok := g.EncounterOf(entityID)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotInEncounter, entityID)
	}
	return enc.Holds(entityID), nil
}

// AdvanceFrom advances the turn of entityID's encounter, provided entityID
// currently holds it, and returns the combatant now acting.
//
// Postcondition: Returns ErrNotInEncounter if entityID is in no active encounter,
// or an error without advancing if entityID does not hold the turn.
func (g *Engine) AdvanceFrom(entityID string) (*Combatant, error) {
	enc, ok := g.EncounterOf(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotInEncounter, entityID)
	}
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if cur := enc.currentLocked(); cur == nil || cur.EntityID != entityID {
		return nil, fmt.Errorf("entity %q does not hold the turn in encounter %q", entityID, enc.ID)
	}
	enc.step()
	return enc.currentLocked(), nil
}

// EndEncounter removes the encounter with id.
func (g *Engine) EndEncounter(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.encounters, id)
}
