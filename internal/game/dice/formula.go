package dice

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"go.uber.org/zap"
)

var (
	termPattern     = regexp.MustCompile(`(?i)(\d*)d(\d+)(k[hl]\d*)?`)
	variablePattern = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_.]*)`)
)

// Outcome is the evaluated result of a formula: its total and every dice term
// rolled while evaluating it, in formula order.
type Outcome struct {
	Formula string
	Total   int
	Rolls   []RollResult
}

// HasDice reports whether the formula contained at least one dice term.
func (o Outcome) HasDice() bool { return len(o.Rolls) > 0 }

// Primary returns the first dice term of the formula, the one checks are
// classified against.
//
// Postcondition: ok is false iff HasDice() is false.
func (o Outcome) Primary() (RollResult, bool) {
	if len(o.Rolls) == 0 {
		return RollResult{}, false
	}
	return o.Rolls[0], true
}

// DieResults returns every face rolled by the primary term, discarded dice included.
func (o Outcome) DieResults() []int {
	p, ok := o.Primary()
	if !ok {
		return nil
	}
	return p.Faces()
}

// KeepsLowest reports whether the primary term keeps its lowest dice.
func (o Outcome) KeepsLowest() bool {
	p, ok := o.Primary()
	return ok && p.Keep == KeepLowest
}

// KeepsMultiple reports whether the primary term rolled more than one die
// without keeping the lowest, i.e. an advantage-style roll.
func (o Outcome) KeepsMultiple() bool {
	p, ok := o.Primary()
	return ok && len(p.Faces()) > 1 && p.Keep != KeepLowest
}

// Evaluator evaluates dice formulas such as "2d20kl + @str + 2" against a
// variable context. Dice terms are rolled through a logged Roller; the
// remaining arithmetic is evaluated by expr.
type Evaluator struct {
	roller *Roller
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator rolling dice with src.
//
// Precondition: src and logger must be non-nil.
func NewEvaluator(src Source, logger *zap.Logger) *Evaluator {
	return &Evaluator{roller: NewLoggedRoller(src, logger), logger: logger}
}

// Evaluate rolls every dice term in formula, substitutes @variables from vars,
// and evaluates the resulting arithmetic. Unknown variables evaluate to 0.
// Fractional results are floored.
//
// Precondition: formula must be non-empty.
// Postcondition: Returns an Outcome whose Rolls are in formula order, or an error
// for a malformed formula or a cancelled ctx.
func (e *Evaluator) Evaluate(ctx context.Context, formula string, vars map[string]float64) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(formula) == "" {
		return Outcome{}, fmt.Errorf("dice: empty formula")
	}

	env := make(map[string]any)
	src := variablePattern.ReplaceAllStringFunc(formula, func(m string) string {
		name := m[1:]
		key := fmt.Sprintf("__v%d__", len(env))
		v, ok := vars[name]
		if !ok {
			e.logger.Warn("formula variable not found, using 0",
				zap.String("formula", formula),
				zap.String("variable", name),
			)
		}
		env[key] = v
		return key
	})

	var rolls []RollResult
	var rollErr error
	src = termPattern.ReplaceAllStringFunc(src, func(m string) string {
		if rollErr != nil {
			return m
		}
		parsed, err := Parse(m)
		if err != nil {
			rollErr = err
			return m
		}
		r, err := e.roller.Roll(parsed)
		if err != nil {
			rollErr = err
			return m
		}
		rolls = append(rolls, r)
		return "(" + strconv.Itoa(r.Total()) + ")"
	})
	if rollErr != nil {
		return Outcome{}, fmt.Errorf("dice: rolling %q: %w", formula, rollErr)
	}

	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return Outcome{}, fmt.Errorf("dice: compiling %q: %w", formula, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return Outcome{}, fmt.Errorf("dice: evaluating %q: %w", formula, err)
	}

	total, err := toInt(out)
	if err != nil {
		return Outcome{}, fmt.Errorf("dice: evaluating %q: %w", formula, err)
	}

	return Outcome{Formula: formula, Total: total, Rolls: rolls}, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("result %v is not a finite number", n)
		}
		return int(math.Floor(n)), nil
	default:
		return 0, fmt.Errorf("result %v (%T) is not a number", v, v)
	}
}

// DoubleDice returns formula with the die count of every dice term doubled.
// Keep suffixes are preserved. Used for critical damage.
//
// Postcondition: Arithmetic and @variables are unchanged, including variable
// names that look like dice such as "@d4bonus".
func DoubleDice(formula string) string {
	var b strings.Builder
	last := 0
	for _, span := range variablePattern.FindAllStringIndex(formula, -1) {
		b.WriteString(doubleTerms(formula[last:span[0]]))
		b.WriteString(formula[span[0]:span[1]])
		last = span[1]
	}
	b.WriteString(doubleTerms(formula[last:]))
	return b.String()
}

func doubleTerms(segment string) string {
	return termPattern.ReplaceAllStringFunc(segment, func(m string) string {
		parts := termPattern.FindStringSubmatch(m)
		count := 1
		if parts[1] != "" {
			n, err := strconv.Atoi(parts[1])
			if err != nil {
				return m
			}
			count = n
		}
		return fmt.Sprintf("%dd%s%s", count*2, parts[2], parts[3])
	})
}

// Scale returns formula multiplied by factor and floored, e.g. "floor((1d8+2) * 0.5)".
// A factor of 1 returns formula unchanged.
func Scale(formula string, factor float64) string {
	if factor == 1 {
		return formula
	}
	return fmt.Sprintf("floor((%s) * %s)", formula, strconv.FormatFloat(factor, 'f', -1, 64))
}
