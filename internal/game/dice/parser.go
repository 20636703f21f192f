package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// Limits on a single dice term. Roll allocates one slot per die.
const (
	MaxDice  = 1000
	MaxSides = 10000
)

// Expression represents a parsed dice expression ready to be rolled.
// Precondition: 1 <= Count <= MaxDice, 2 <= Sides <= MaxSides after successful Parse.
type Expression struct {
	Raw       string   // original input string
	Count     int      // number of dice
	Sides     int      // faces per die
	Modifier  int      // flat modifier (may be negative)
	Keep      KeepMode // KeepAll unless a kh/kl suffix is present
	KeepCount int      // number of dice kept when Keep != KeepAll
}

// Parse parses a dice expression string into an Expression.
// Supported forms: "d20", "2d6", "2d6+3", "4d8-2", "4d6kh3", "2d20kh", "2d20kl", "3d6kl2+1".
// A bare "kh"/"kl" keeps one die.
// Precondition: expr must be a non-empty string.
// Postcondition: Returns a non-nil Expression or a descriptive error.
func Parse(expr string) (Expression, error) {
	if expr == "" {
		return Expression{}, fmt.Errorf("dice: empty expression")
	}

	raw := expr
	s := strings.ToLower(strings.ReplaceAll(expr, " ", ""))

	dIdx := strings.Index(s, "d")
	if dIdx < 0 {
		return Expression{}, fmt.Errorf("dice: missing 'd' in expression %q", raw)
	}

	// Parse count (the part before 'd'); defaults to 1 when omitted.
	var count int
	countStr := s[:dIdx]
	if countStr == "" {
		count = 1
	} else {
		var err error
		count, err = strconv.Atoi(countStr)
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid die count in %q: %w", raw, err)
		}
		if count <= 0 {
			return Expression{}, fmt.Errorf("dice: invalid die count in %q: must be >= 1", raw)
		}
		if count > MaxDice {
			return Expression{}, fmt.Errorf("dice: die count %d exceeds %d in %q", count, MaxDice, raw)
		}
	}

	rest := s[dIdx+1:]

	keep := KeepAll
	keepCount := 0
	kIdx := strings.Index(rest, "k")
	if kIdx >= 0 {
		suffix := rest[kIdx+1:]
		rest = rest[:kIdx]
		switch {
		case strings.HasPrefix(suffix, "h"):
			keep = KeepHighest
		case strings.HasPrefix(suffix, "l"):
			keep = KeepLowest
		default:
			return Expression{}, fmt.Errorf("dice: keep suffix must be kh or kl in %q", raw)
		}
		suffix = suffix[1:]

		// The keep count may be followed by a modifier; re-attach it to rest.
		modOffset := strings.IndexAny(suffix, "+-")
		keepStr := suffix
		if modOffset >= 0 {
			keepStr = suffix[:modOffset]
			rest += suffix[modOffset:]
		}

		keepCount = 1
		if keepStr != "" {
			n, err := strconv.Atoi(keepStr)
			if err != nil {
				return Expression{}, fmt.Errorf("dice: invalid keep value in %q: %w", raw, err)
			}
			keepCount = n
		}
		if keepCount <= 0 || keepCount >= count {
			return Expression{}, fmt.Errorf("dice: keep value %d must be > 0 and < count %d in %q", keepCount, count, raw)
		}
	}

	// Find the first '+' or '-' that is not at position 0 (to skip leading sign).
	modOffset := -1
	for i := 1; i < len(rest); i++ {
		if rest[i] == '+' || rest[i] == '-' {
			modOffset = i
			break
		}
	}

	var sidesStr, modStr string
	if modOffset >= 0 {
		sidesStr = rest[:modOffset]
		modStr = rest[modOffset:]
	} else {
		sidesStr = rest
	}

	sides, err := strconv.Atoi(sidesStr)
	if err != nil {
		return Expression{}, fmt.Errorf("dice: invalid die sides in %q: %w", raw, err)
	}
	if sides < 2 {
		return Expression{}, fmt.Errorf("dice: invalid die sides in %q: must be >= 2", raw)
	}
	if sides > MaxSides {
		return Expression{}, fmt.Errorf("dice: die sides %d exceeds %d in %q", sides, MaxSides, raw)
	}

	modifier := 0
	if modStr != "" {
		modifier, err = strconv.Atoi(modStr)
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid modifier in %q: %w", raw, err)
		}
	}

	return Expression{
		Raw:       raw,
		Count:     count,
		Sides:     sides,
		Modifier:  modifier,
		Keep:      keep,
		KeepCount: keepCount,
	}, nil
}
