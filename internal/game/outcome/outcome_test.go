package outcome_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/outcome"
)

var band = outcome.Thresholds{CritMin: 18, CritMax: 20, FumbleMin: 1, FumbleMax: 3}

func rollOf(expr string, rolled []int, keep dice.KeepMode) dice.Outcome {
	return dice.Outcome{
		Formula: expr,
		Rolls:   []dice.RollResult{{Expression: expr, Rolled: rolled, Sides: 20, Keep: keep}},
	}
}

func TestClassifyRoll_KeepLowestStealsCrit(t *testing.T) {
	c := outcome.ClassifyRoll(rollOf("2d20kl", []int{19, 4}, dice.KeepLowest), band, true)
	assert.Equal(t, outcome.Classified{StolenCrit: true}, c)
}

func TestClassifyRoll_SingleDieFumble(t *testing.T) {
	c := outcome.ClassifyRoll(rollOf("1d20", []int{2}, dice.KeepAll), band, true)
	assert.Equal(t, outcome.Classified{CritMiss: true}, c)
}

func TestClassifyRoll_AdvantageSavesMiss(t *testing.T) {
	c := outcome.ClassifyRoll(rollOf("2d20kh", []int{2, 12}, dice.KeepHighest), band, true)
	assert.Equal(t, outcome.Classified{SavedMiss: true}, c)
}

func TestClassifyRoll_AdvantageCrit(t *testing.T) {
	c := outcome.ClassifyRoll(rollOf("2d20kh", []int{4, 20}, dice.KeepHighest), band, true)
	assert.Equal(t, outcome.Classified{CritHit: true}, c)
}

func TestClassifyRoll_BothDiceCriticalUnderDisadvantage(t *testing.T) {
	c := outcome.ClassifyRoll(rollOf("2d20kl", []int{19, 20}, dice.KeepLowest), band, true)
	assert.Equal(t, outcome.Classified{CritHit: true}, c)
}

func TestClassifyRoll_DisadvantageFumbleNotSaved(t *testing.T) {
	c := outcome.ClassifyRoll(rollOf("2d20kl", []int{1, 15}, dice.KeepLowest), band, true)
	assert.Equal(t, outcome.Classified{CritMiss: true}, c)
}

func TestClassifyRoll_DisabledOrDiceless(t *testing.T) {
	assert.Equal(t, outcome.Classified{}, outcome.ClassifyRoll(rollOf("1d20", []int{20}, dice.KeepAll), band, false))
	assert.Equal(t, outcome.Classified{}, outcome.ClassifyRoll(dice.Outcome{Formula: "5", Total: 5}, band, true))
}

func TestClassifyRoll_OnlyPrimaryTermCounts(t *testing.T) {
	twoTerms := func(first, second int) dice.Outcome {
		return dice.Outcome{
			Formula: "1d20 + 1d20",
			Rolls: []dice.RollResult{
				{Expression: "1d20", Rolled: []int{first}, Sides: 20},
				{Expression: "1d20", Rolled: []int{second}, Sides: 20},
			},
		}
	}
	assert.Equal(t, outcome.Classified{}, outcome.ClassifyRoll(twoTerms(10, 20), band, true))
	assert.Equal(t, outcome.Classified{}, outcome.ClassifyRoll(twoTerms(10, 1), band, true))
	assert.Equal(t, outcome.Classified{CritHit: true}, outcome.ClassifyRoll(twoTerms(20, 1), band, true))
}

func TestClassified_String(t *testing.T) {
	assert.Equal(t, "normal", outcome.Classified{}.String())
	assert.Equal(t, "stolen crit", outcome.Classified{StolenCrit: true}.String())
	assert.Equal(t, "critical hit, critical miss", outcome.Classified{CritHit: true, CritMiss: true}.String())
}

func TestDefaultThresholds(t *testing.T) {
	d := outcome.DefaultThresholds()
	assert.True(t, d.IsCrit(20))
	assert.False(t, d.IsCrit(19))
	assert.True(t, d.IsFumble(1))
	assert.False(t, d.IsFumble(2))
}

func TestPropertyClassify_FlagsMutuallyExclusive(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		faces := rapid.SliceOfN(rapid.IntRange(1, 20), 1, 6).Draw(rt, "faces")
		lowest := rapid.Bool().Draw(rt, "keeps_lowest")
		multiple := rapid.Bool().Draw(rt, "keeps_multiple")
		c := outcome.Classify(faces, band, lowest, multiple)
		assert.False(rt, c.CritHit && c.StolenCrit, "critHit and stolenCrit both set")
		assert.False(rt, c.CritMiss && c.SavedMiss, "critMiss and savedMiss both set")
	})
}

func TestPropertyClassify_SingleDieNeverStolenOrSaved(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		face := rapid.IntRange(1, 20).Draw(rt, "face")
		lowest := rapid.Bool().Draw(rt, "keeps_lowest")
		multiple := rapid.Bool().Draw(rt, "keeps_multiple")
		c := outcome.Classify([]int{face}, band, lowest, multiple)
		assert.False(rt, c.StolenCrit)
		assert.False(rt, c.SavedMiss)
		assert.Equal(rt, band.IsCrit(face), c.CritHit)
		assert.Equal(rt, band.IsFumble(face), c.CritMiss)
	})
}
