package dice_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
)

func newEvaluator(t *testing.T, faces ...int) *dice.Evaluator {
	t.Helper()
	return dice.NewEvaluator(&sequenceSource{faces: faces}, zaptest.NewLogger(t))
}

func TestEvaluate_DiceAndVariables(t *testing.T) {
	ev := newEvaluator(t, 6)
	out, err := ev.Evaluate(context.Background(), "1d8 + @str + 2", map[string]float64{"str": 3})
	require.NoError(t, err)
	assert.Equal(t, 11, out.Total)
	require.Len(t, out.Rolls, 1)
	assert.Equal(t, []int{6}, out.DieResults())
	assert.Equal(t, "1d8 + @str + 2", out.Formula)
}

func TestEvaluate_DottedVariable(t *testing.T) {
	ev := newEvaluator(t, 1)
	out, err := ev.Evaluate(context.Background(), "@stats.might * 2", map[string]float64{"stats.might": 4})
	require.NoError(t, err)
	assert.Equal(t, 8, out.Total)
	assert.False(t, out.HasDice())
	assert.Nil(t, out.DieResults())
}

func TestEvaluate_UnknownVariableIsZeroAndWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ev := dice.NewEvaluator(&sequenceSource{faces: []int{1}}, zap.New(core))
	out, err := ev.Evaluate(context.Background(), "5 + @missing", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 1, logs.FilterMessage("formula variable not found, using 0").Len())
}

func TestEvaluate_KeepLowestFlags(t *testing.T) {
	ev := newEvaluator(t, 19, 4)
	out, err := ev.Evaluate(context.Background(), "2d20kl", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Total)
	assert.Equal(t, []int{19, 4}, out.DieResults())
	assert.True(t, out.KeepsLowest())
	assert.False(t, out.KeepsMultiple())
}

func TestEvaluate_AdvantageFlags(t *testing.T) {
	ev := newEvaluator(t, 2, 15)
	out, err := ev.Evaluate(context.Background(), "2d20kh + 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 16, out.Total)
	assert.False(t, out.KeepsLowest())
	assert.True(t, out.KeepsMultiple())
}

func TestEvaluate_SingleDieKeepsNeitherFlag(t *testing.T) {
	ev := newEvaluator(t, 10)
	out, err := ev.Evaluate(context.Background(), "1d20", nil)
	require.NoError(t, err)
	assert.False(t, out.KeepsLowest())
	assert.False(t, out.KeepsMultiple())
}

func TestEvaluate_FloorsFractions(t *testing.T) {
	ev := newEvaluator(t, 1)
	out, err := ev.Evaluate(context.Background(), "7 / 2", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Total)
}

func TestEvaluate_Errors(t *testing.T) {
	ev := newEvaluator(t, 1)
	for _, f := range []string{"", "   ", "1d20 +", "2d20kl3", "1d20 + nonsense"} {
		_, err := ev.Evaluate(context.Background(), f, nil)
		assert.Error(t, err, "expected error for %q", f)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEvaluator(t, 1).Evaluate(ctx, "1d20", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoubleDice(t *testing.T) {
	assert.Equal(t, "4d6 + @str", dice.DoubleDice("2d6 + @str"))
	assert.Equal(t, "2d8+2d4", dice.DoubleDice("d8+1d4"))
	assert.Equal(t, "4d20kh", dice.DoubleDice("2d20kh"))
	assert.Equal(t, "5", dice.DoubleDice("5"))
}

func TestDoubleDice_LeavesVariablesIntact(t *testing.T) {
	tests := []struct {
		formula string
		want    string
	}{
		{"1d8+@d4bonus", "2d8+@d4bonus"},
		{"@x2d4", "@x2d4"},
		{"@d6 + 1d6 + @d6", "@d6 + 2d6 + @d6"},
		{"2d6kh1+@lvl.d10", "4d6kh1+@lvl.d10"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			assert.Equal(t, tt.want, dice.DoubleDice(tt.formula))
		})
	}

	out, err := newEvaluator(t, 3).Evaluate(context.Background(), dice.DoubleDice("1d8+@d4bonus"), map[string]float64{"d4bonus": 2})
	require.NoError(t, err)
	assert.Equal(t, 8, out.Total)
	require.Len(t, out.Rolls, 1)
	assert.Equal(t, []int{3, 3}, out.DieResults())
}

func TestEvaluate_RejectsOversizedTerms(t *testing.T) {
	ev := newEvaluator(t, 1)
	for _, formula := range []string{"9999999999999d6", "1d20 + 1001d6", "1d100001"} {
		_, err := ev.Evaluate(context.Background(), formula, nil)
		assert.Error(t, err, formula)
	}
}

func TestScale(t *testing.T) {
	assert.Equal(t, "1d8", dice.Scale("1d8", 1))
	assert.Equal(t, "floor((1d8+2) * 0.5)", dice.Scale("1d8+2", 0.5))

	out, err := newEvaluator(t, 5).Evaluate(context.Background(), dice.Scale("1d8+2", 0.5), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Total)
}

func TestEvaluate_Property_ConstantArithmetic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.IntRange(-100, 100).Draw(rt, "a")
		b := rapid.IntRange(-100, 100).Draw(rt, "b")
		ev := dice.NewEvaluator(&sequenceSource{faces: []int{1}}, zap.NewNop())
		out, err := ev.Evaluate(context.Background(), "@a + @b", map[string]float64{"a": float64(a), "b": float64(b)})
		require.NoError(rt, err)
		assert.Equal(rt, a+b, out.Total)
	})
}
