// Package dice provides the core randomness abstraction, roll-result types,
// and the formula evaluator used by action card resolution.
package dice

import "fmt"

// KeepMode selects which dice of a term count toward its total.
type KeepMode int

const (
	// KeepAll keeps every die rolled.
	KeepAll KeepMode = iota
	// KeepHighest keeps the N highest dice (advantage, e.g. 2d20kh).
	KeepHighest
	// KeepLowest keeps the N lowest dice (disadvantage, e.g. 2d20kl).
	KeepLowest
)

// String returns the formula suffix for the mode.
func (k KeepMode) String() string {
	switch k {
	case KeepHighest:
		return "kh"
	case KeepLowest:
		return "kl"
	default:
		return ""
	}
}

// RollResult holds the full audit trail for a single dice roll evaluation.
//
// Postcondition: Total() == sum(Dice) + Modifier.
type RollResult struct {
	Expression string   // original expression string, e.g. "2d6+3"
	Dice       []int    // kept die results before modifier
	Rolled     []int    // every die rolled, in roll order, including discarded ones
	Sides      int      // faces per die
	Keep       KeepMode // which dice were kept
	Modifier   int      // flat modifier (may be negative)
}

// Total returns the sum of all kept die results plus the modifier.
//
// Postcondition: return value == sum(r.Dice) + r.Modifier.
func (r RollResult) Total() int {
	total := r.Modifier
	for _, d := range r.Dice {
		total += d
	}
	return total
}

// Faces returns every die face rolled for this term, discarded dice included.
// Results built without Rolled fall back to the kept dice.
func (r RollResult) Faces() []int {
	src := r.Rolled
	if len(src) == 0 {
		src = r.Dice
	}
	out := make([]int, len(src))
	copy(out, src)
	return out
}

// String returns the audit line for the roll, e.g.
//
//	"2d6+3 → [4 5] +3 = 12"
//	"2d20kh → [17] of [4 17] +0 = 17"
//
// Discarded dice are shown only for keep-highest and keep-lowest terms.
//
// Precondition: r.Expression is non-empty.
func (r RollResult) String() string {
	if r.Expression == "" {
		panic("dice: RollResult.String() precondition violated: Expression must be non-empty")
	}
	kept := fmt.Sprintf("%v", r.Dice)
	if r.Keep != KeepAll && len(r.Rolled) > len(r.Dice) {
		kept += fmt.Sprintf(" of %v", r.Rolled)
	}
	return fmt.Sprintf("%s → %s %+d = %d", r.Expression, kept, r.Modifier, r.Total())
}

// Source is the randomness provider for dice rolls.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}
