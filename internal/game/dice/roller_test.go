package dice_test

import (
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
)

func itoa(n int) string { return strconv.Itoa(n) }

// sequenceSource returns the configured faces in order, cycling when exhausted.
type sequenceSource struct {
	faces []int
	i     int
}

func (s *sequenceSource) Intn(n int) int {
	f := s.faces[s.i%len(s.faces)]
	s.i++
	return (f - 1) % n
}

func TestRoll_KeepLowest_RetainsDiscardedInRolled(t *testing.T) {
	src := &sequenceSource{faces: []int{19, 4}}
	r, err := dice.Roll(dice.MustParse("2d20kl"), src)
	require.NoError(t, err)
	assert.Equal(t, []int{19, 4}, r.Rolled)
	assert.Equal(t, []int{4}, r.Dice)
	assert.Equal(t, 4, r.Total())
	assert.Equal(t, dice.KeepLowest, r.Keep)
	assert.Equal(t, []int{19, 4}, r.Faces())
}

func TestRoll_KeepHighest(t *testing.T) {
	src := &sequenceSource{faces: []int{3, 17}}
	r, err := dice.Roll(dice.MustParse("2d20kh+2"), src)
	require.NoError(t, err)
	assert.Equal(t, []int{17}, r.Dice)
	assert.Equal(t, 19, r.Total())
}

func TestRollResult_Faces_FallsBackToKept(t *testing.T) {
	r := dice.RollResult{Expression: "1d20", Dice: []int{7}}
	assert.Equal(t, []int{7}, r.Faces())
}

func TestRoll_Property_KeptIsExtremeSubset(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(2, 8).Draw(rt, "count")
		keep := rapid.IntRange(1, count-1).Draw(rt, "keep")
		lowest := rapid.Bool().Draw(rt, "lowest")
		faces := rapid.SliceOfN(rapid.IntRange(1, 20), count, count).Draw(rt, "faces")

		mode := "kh"
		if lowest {
			mode = "kl"
		}
		r, err := dice.Roll(dice.MustParse(itoa(count)+"d20"+mode+itoa(keep)), &sequenceSource{faces: faces})
		require.NoError(rt, err)

		sorted := append([]int(nil), faces...)
		sort.Ints(sorted)
		want := sorted[count-keep:]
		if lowest {
			want = sorted[:keep]
		}
		got := append([]int(nil), r.Dice...)
		sort.Ints(got)
		assert.Equal(rt, want, got)
		assert.Equal(rt, faces, r.Rolled)
	})
}

func TestLoggedRoller_LogsRoll(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	roller := dice.NewLoggedRoller(&sequenceSource{faces: []int{5}}, zap.New(core))
	r, err := roller.RollExpr("1d6+1")
	require.NoError(t, err)
	assert.Equal(t, 6, r.Total())
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "dice roll", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, int64(6), fields["total"])
	assert.NotContains(t, fields, "rolled", "plain terms log only kept dice")
}

func TestLoggedRoller_LogsDiscardedDice(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	roller := dice.NewLoggedRoller(&sequenceSource{faces: []int{4, 17}}, zap.New(core))
	r, err := roller.RollExpr("2d20kh")
	require.NoError(t, err)
	assert.Equal(t, 17, r.Total())
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "kh", fields["keep"])
	assert.Contains(t, fields, "rolled")
}

func TestLoggedRoller_RejectsMalformed(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	roller := dice.NewLoggedRoller(&sequenceSource{faces: []int{1}}, zap.New(core))
	_, err := roller.RollExpr("2d")
	assert.Error(t, err)
	assert.Equal(t, 0, logs.Len())
}
