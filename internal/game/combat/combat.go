// Package combat tracks encounter turn order: who holds the active turn and
// how the turn advances.
package combat

// Combatant is one participant's place in an encounter's turn order.
type Combatant struct {
	// EntityID references the entity acting in this slot.
	EntityID string
	// Name is the display name used in narration.
	Name string
	// InitiativeBonus is added to the initiative roll.
	InitiativeBonus int
	// Initiative is the rolled initiative; higher acts first.
	Initiative int
	// Defeated combatants are skipped when the turn advances.
	Defeated bool
}

// Source is the subset of dice.Source used for initiative rolls.
// Using a local interface keeps this package free of the dice dependency.
type Source interface {
	Intn(n int) int
}

// RollInitiative rolls initiative for all combatants and sets their Initiative field.
// Formula: d20 + InitiativeBonus.
//
// Precondition: src must be non-nil.
// Postcondition: Each combatant's Initiative field is set to d20+InitiativeBonus.
func RollInitiative(combatants []*Combatant, src Source) {
	for _, c := range combatants {
		c.Initiative = src.Intn(20) + 1 + c.InitiativeBonus
	}
}

// sortByInitiativeDesc sorts combatants in place, highest initiative first.
// Ties keep their original order.
func sortByInitiativeDesc(combatants []*Combatant) {
	n := len(combatants)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && combatants[j].Initiative > combatants[j-1].Initiative; j-- {
			combatants[j], combatants[j-1] = combatants[j-1], combatants[j]
		}
	}
}
