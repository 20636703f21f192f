package condition

// Modify returns base adjusted by every active Change that targets stat.
// Additive changes apply first and scale with stacks, then multipliers, then
// overrides. When several overrides target the same stat the one from the
// condition with the greatest ID wins, so the result is deterministic.
//
// Precondition: s must not be nil.
// Postcondition: Returns base when no active change targets stat.
func Modify(s *ActiveSet, stat string, base float64) float64 {
	add, mul := 0.0, 1.0
	override, overridden := 0.0, false
	for _, id := range s.IDs() {
		ac := s.byID[id]
		for _, c := range ac.Def.Changes {
			if c.TargetStat != stat {
				continue
			}
			switch c.Mode {
			case ModeAdd:
				add += c.Value * float64(ac.Stacks)
			case ModeMultiply:
				mul *= c.Value
			case ModeOverride:
				override, overridden = c.Value, true
			}
		}
	}
	if overridden {
		return override
	}
	return (base + add) * mul
}

// Targets returns the distinct stats touched by any active change.
func Targets(s *ActiveSet) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range s.IDs() {
		for _, c := range s.byID[id].Def.Changes {
			if !seen[c.TargetStat] {
				seen[c.TargetStat] = true
				out = append(out, c.TargetStat)
			}
		}
	}
	return out
}

// IsActionRestricted reports whether the given action type string is blocked
// by any active condition's RestrictActions list.
func IsActionRestricted(s *ActiveSet, actionType string) bool {
	for _, ac := range s.byID {
		for _, r := range ac.Def.RestrictActions {
			if r == actionType {
				return true
			}
		}
	}
	return false
}
