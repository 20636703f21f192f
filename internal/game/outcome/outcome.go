// Package outcome classifies an evaluated roll as a critical hit, critical
// miss, stolen crit, or saved miss against an actor's critical bands.
package outcome

import (
	"strings"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
)

// Thresholds is the per-actor band of die faces that count as critical or fumble.
// Both bands are inclusive.
type Thresholds struct {
	CritMin   int `yaml:"crit_min" json:"crit_min"`
	CritMax   int `yaml:"crit_max" json:"crit_max"`
	FumbleMin int `yaml:"fumble_min" json:"fumble_min"`
	FumbleMax int `yaml:"fumble_max" json:"fumble_max"`
}

// DefaultThresholds returns the natural 20 / natural 1 bands.
func DefaultThresholds() Thresholds {
	return Thresholds{CritMin: 20, CritMax: 20, FumbleMin: 1, FumbleMax: 1}
}

// IsCrit reports whether face lies in the critical band.
func (t Thresholds) IsCrit(face int) bool { return face >= t.CritMin && face <= t.CritMax }

// IsFumble reports whether face lies in the fumble band.
func (t Thresholds) IsFumble(face int) bool { return face >= t.FumbleMin && face <= t.FumbleMax }

// Classified is the classification of one roll.
//
// Invariant: CritHit and StolenCrit are never both true; CritMiss and SavedMiss
// are never both true.
type Classified struct {
	CritHit    bool `json:"crit_hit"`
	CritMiss   bool `json:"crit_miss"`
	StolenCrit bool `json:"stolen_crit"`
	SavedMiss  bool `json:"saved_miss"`
}

// String returns a short label listing the active flags, or "normal".
func (c Classified) String() string {
	var parts []string
	if c.CritHit {
		parts = append(parts, "critical hit")
	}
	if c.StolenCrit {
		parts = append(parts, "stolen crit")
	}
	if c.CritMiss {
		parts = append(parts, "critical miss")
	}
	if c.SavedMiss {
		parts = append(parts, "saved miss")
	}
	if len(parts) == 0 {
		return "normal"
	}
	return strings.Join(parts, ", ")
}

// Classify classifies the individual die faces of a roll.
//
// A stolen crit is a critical face discarded by a keep-lowest roll; a saved
// miss is a fumble face discarded by a multi-die roll that does not keep the
// lowest. Both require at least one face outside the band, so a single die can
// never be stolen or saved.
//
// Postcondition: !(CritHit && StolenCrit) and !(CritMiss && SavedMiss).
// An empty faces slice yields the zero Classified.
func Classify(faces []int, t Thresholds, keepsLowest, keepsMultiple bool) Classified {
	if len(faces) == 0 {
		return Classified{}
	}

	anyCrit, allCrit := false, true
	anyFumble, allFumble := false, true
	for _, f := range faces {
		if t.IsCrit(f) {
			anyCrit = true
		} else {
			allCrit = false
		}
		if t.IsFumble(f) {
			anyFumble = true
		} else {
			allFumble = false
		}
	}

	c := Classified{CritHit: anyCrit, CritMiss: anyFumble}
	if anyCrit && keepsLowest && !allCrit {
		c.StolenCrit = true
		c.CritHit = false
	}
	if anyFumble && keepsMultiple && !keepsLowest && !allFumble {
		c.SavedMiss = true
		c.CritMiss = false
	}
	return c
}

// ClassifyRoll classifies the primary dice term of an evaluated formula.
//
// Postcondition: Returns the zero Classified when critAllowed is false or the
// formula contains no dice term.
func ClassifyRoll(o dice.Outcome, t Thresholds, critAllowed bool) Classified {
	if !critAllowed || !o.HasDice() {
		return Classified{}
	}
	return Classify(o.DieResults(), t, o.KeepsLowest(), o.KeepsMultiple())
}
