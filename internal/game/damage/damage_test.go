package damage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/actioncards/internal/game/condition"
	"github.com/cory-johannsen/actioncards/internal/game/damage"
	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/effect"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
	"github.com/cory-johannsen/actioncards/internal/game/narrative"
	"github.com/cory-johannsen/actioncards/internal/game/threshold"
)

// fixedFace rolls the same face on every die.
type fixedFace struct{ face int }

func (f fixedFace) Intn(n int) int { return (f.face - 1) % n }

type fixture struct {
	store    *entity.Store
	log      *narrative.Log
	resolver *damage.Resolver
}

func newFixture(t *testing.T, face int) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := entity.NewStore(condition.NewRegistry())
	for _, e := range []*entity.Entity{
		{ID: "plain", MaxHP: 20, CurrentHP: 20},
		{ID: "ember", MaxHP: 20, CurrentHP: 20, Affinities: map[string]entity.Affinity{"fire": entity.AffinityResistant}},
		{ID: "frost", MaxHP: 20, CurrentHP: 20, Affinities: map[string]entity.Affinity{"fire": entity.AffinityVulnerable}},
		{ID: "golem", MaxHP: 20, CurrentHP: 20, Affinities: map[string]entity.Affinity{"fire": entity.AffinityImmune}},
		{ID: "hurt", MaxHP: 20, CurrentHP: 10},
	} {
		require.NoError(t, store.Add(e))
	}
	log := narrative.NewLog(logger, nil)
	eval := dice.NewEvaluator(fixedFace{face: face}, logger)
	return fixture{
		store:    store,
		log:      log,
		resolver: damage.NewResolver(store, eval, threshold.NewGate(logger, threshold.DefaultRollValue), log, logger),
	}
}

func hits(ids ...string) []threshold.TargetResult {
	var out []threshold.TargetResult
	for _, id := range ids {
		out = append(out, threshold.TargetResult{TargetID: id, OneHit: true, BothHit: true})
	}
	return out
}

func hp(t *testing.T, s *entity.Store, id string) int {
	t.Helper()
	snap, ok := s.Get(id)
	require.True(t, ok)
	return snap.HP
}

func TestResolve_AffinityScaling(t *testing.T) {
	f := newFixture(t, 5)
	results, err := f.resolver.Resolve(context.Background(), damage.Request{
		ActorID:  "hero",
		Instance: damage.Instance{Formula: "1d8+2", Type: "fire"},
		Targets:  hits("plain", "ember", "frost", "golem"),
		Auth:     effect.Privileged,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	amounts := map[string]int{}
	for _, r := range results {
		assert.True(t, r.Applied)
		amounts[r.TargetID] = r.Amount
	}
	assert.Equal(t, map[string]int{"plain": 7, "ember": 3, "frost": 14, "golem": 0}, amounts)
	assert.Equal(t, "floor((1d8+2) * 0.5)", results[1].Formula)
	assert.Equal(t, 13, hp(t, f.store, "plain"))
	assert.Equal(t, 6, hp(t, f.store, "frost"))
	assert.Equal(t, 20, hp(t, f.store, "golem"))
	assert.Len(t, f.log.Entries(), 4)
}

func TestResolve_HealingCappedAtMax(t *testing.T) {
	f := newFixture(t, 4)
	results, err := f.resolver.Resolve(context.Background(), damage.Request{
		Instance: damage.Instance{Formula: "2d4", Type: entity.DamageTypeHealing},
		Targets:  hits("hurt"),
		Auth:     effect.Privileged,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Healing)
	assert.Equal(t, 8, results[0].Amount)
	assert.Equal(t, 18, results[0].HP)

	_, err = f.resolver.Resolve(context.Background(), damage.Request{
		Instance: damage.Instance{Formula: "2d4", Type: entity.DamageTypeHealing},
		Targets:  hits("hurt"),
		Auth:     effect.Privileged,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, hp(t, f.store, "hurt"))
}

func TestResolve_DoubleDiceOnCrit(t *testing.T) {
	f := newFixture(t, 4)
	results, err := f.resolver.Resolve(context.Background(), damage.Request{
		Instance:   damage.Instance{Formula: "1d6+1", Type: "slashing"},
		Targets:    hits("plain"),
		DoubleDice: true,
		Auth:       effect.Privileged,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2d6+1", results[0].Formula)
	assert.Equal(t, 9, results[0].Amount)
}

func TestResolve_StandardCallerDoesNotMutate(t *testing.T) {
	f := newFixture(t, 5)
	results, err := f.resolver.Resolve(context.Background(), damage.Request{
		Instance: damage.Instance{Formula: "1d8", Type: "fire"},
		Targets:  hits("plain"),
		Auth:     effect.Standard,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].NeedsRemoteApplication)
	assert.False(t, results[0].Applied)
	assert.Equal(t, 5, results[0].Amount)
	assert.Equal(t, 20, hp(t, f.store, "plain"))
	assert.Empty(t, f.log.Entries())
}

func TestResolve_ThresholdGatesTargets(t *testing.T) {
	f := newFixture(t, 5)
	results, err := f.resolver.Resolve(context.Background(), damage.Request{
		Instance: damage.Instance{Formula: "1d8", Type: "fire", Threshold: threshold.Of(threshold.TwoSuccesses)},
		Targets: []threshold.TargetResult{
			{TargetID: "plain", OneHit: true, BothHit: false},
			{TargetID: "frost", OneHit: true, BothHit: true},
		},
		Auth: effect.Privileged,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "frost", results[0].TargetID)
}

func TestResolve_EvaluationErrorIsFatal(t *testing.T) {
	f := newFixture(t, 5)
	_, err := f.resolver.Resolve(context.Background(), damage.Request{
		Instance: damage.Instance{Formula: "1d8 +* 2", Type: "fire"},
		Targets:  hits("plain"),
		Auth:     effect.Privileged,
	})
	var evalErr *damage.EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "plain", evalErr.TargetID)
	assert.Equal(t, 20, hp(t, f.store, "plain"))
}

func TestResolve_UnknownTargetRecorded(t *testing.T) {
	f := newFixture(t, 5)
	results, err := f.resolver.Resolve(context.Background(), damage.Request{
		Instance: damage.Instance{Formula: "1d8", Type: "fire"},
		Targets:  hits("ghost", "plain"),
		Auth:     effect.Privileged,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Error)
	assert.False(t, results[0].Applied)
	assert.True(t, results[1].Applied)
}

func TestResolve_UsesVariables(t *testing.T) {
	f := newFixture(t, 1)
	results, err := f.resolver.Resolve(context.Background(), damage.Request{
		Instance: damage.Instance{Formula: "1d4 + @might", Type: "bludgeoning"},
		Targets:  hits("plain"),
		Vars:     map[string]float64{"might": 3},
		Auth:     effect.Privileged,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, results[0].Amount)
}

func TestPropertyResolve_ResistantNeverExceedsNormal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		face := rapid.IntRange(1, 8).Draw(rt, "face")
		bonus := rapid.IntRange(0, 10).Draw(rt, "bonus")
		f := newFixture(t, face)
		formula := "1d8+" + string(rune('0'+bonus%10))
		results, err := f.resolver.Resolve(context.Background(), damage.Request{
			Instance: damage.Instance{Formula: formula, Type: "fire"},
			Targets:  hits("plain", "ember", "frost"),
			Auth:     effect.Standard,
		})
		if err != nil {
			rt.Fatal(err)
		}
		normal, resisted, doubled := results[0].Amount, results[1].Amount, results[2].Amount
		if resisted != normal/2 || doubled != normal*2 {
			rt.Fatalf("normal %d resisted %d doubled %d", normal, resisted, doubled)
		}
	})
}
