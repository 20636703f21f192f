package threshold

import "fmt"

// ValidationError describes why an authored threshold is malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("threshold %s: %s", e.Field, e.Reason)
}

// Check returns a *ValidationError for a malformed threshold, or nil.
//
// Postcondition: Returns nil iff Validate(c) is true.
func Check(c Config) error {
	if !c.Type.Known() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unrecognised type %q", c.Type)}
	}
	if c.Type != RollValue {
		return nil
	}
	if c.Value == nil {
		return &ValidationError{Field: "value", Reason: "rollValue threshold requires a value"}
	}
	if *c.Value < MinRollValue || *c.Value > MaxRollValue {
		return &ValidationError{
			Field:  "value",
			Reason: fmt.Sprintf("must be in [%d, %d], got %d", MinRollValue, MaxRollValue, *c.Value),
		}
	}
	return nil
}

// Validate reports whether c has a recognised type and, for RollValue, a value
// within [MinRollValue, MaxRollValue]. Validate is pure.
func Validate(c Config) bool {
	return Check(c) == nil
}
