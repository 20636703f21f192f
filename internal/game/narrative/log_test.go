package narrative_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/narrative"
)

type recordingSink struct {
	saved []narrative.Entry
	err   error
}

func (s *recordingSink) SaveEntry(_ context.Context, e narrative.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, e)
	return nil
}

func rollEntry(actor string, total int) narrative.Entry {
	return narrative.Entry{
		ActorID: actor,
		Kind:    narrative.KindRoll,
		Text:    "rolls",
		Roll:    &dice.Outcome{Formula: "1d20", Total: total},
	}
}

func TestLog_Append_StampsAndStores(t *testing.T) {
	sink := &recordingSink{}
	l := narrative.NewLog(zaptest.NewLogger(t), sink)
	e, err := l.Append(context.Background(), narrative.Entry{ActorID: "a", Kind: narrative.KindMessage, Text: "hello"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, []narrative.Entry{e}, l.Entries())
	assert.Equal(t, []narrative.Entry{e}, sink.saved)
}

func TestLog_Append_SinkFailureStoresNothing(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	l := narrative.NewLog(zaptest.NewLogger(t), sink)
	_, err := l.Append(context.Background(), narrative.Entry{ActorID: "a", Text: "x"})
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, l.Entries())
}

func TestLog_Append_CancelledContext(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Append(ctx, narrative.Entry{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLog_Subscribe_FiltersAndUnsubscribes(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	sub := l.Subscribe(func(e narrative.Entry) bool { return e.ActorID == "a" }, 4)

	_, err := l.Append(context.Background(), narrative.Entry{ActorID: "b", Text: "ignored"})
	require.NoError(t, err)
	want, err := l.Append(context.Background(), narrative.Entry{ActorID: "a", Text: "seen"})
	require.NoError(t, err)

	got := <-sub.C()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, 1, l.SubscriberCount())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, l.SubscriberCount())
	_, err = l.Append(context.Background(), narrative.Entry{ActorID: "a", Text: "after"})
	require.NoError(t, err)
	assert.Empty(t, sub.C())
}

func TestLog_SubscribeOnce_RemovesItself(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	sub := l.SubscribeOnce(func(narrative.Entry) bool { return true })
	_, _ = l.Append(context.Background(), narrative.Entry{Text: "one"})
	_, _ = l.Append(context.Background(), narrative.Entry{Text: "two"})
	assert.Equal(t, 0, l.SubscriberCount())
	assert.Equal(t, "one", (<-sub.C()).Text)
	assert.Empty(t, sub.C())
}

func TestCapture_ReceivesActorRoll(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	c := l.CaptureNextRoll("hero")

	go func() {
		_, _ = l.Append(context.Background(), narrative.Entry{ActorID: "hero", Kind: narrative.KindMessage, Text: "no roll"})
		_, _ = l.Append(context.Background(), rollEntry("villain", 3))
		_, _ = l.Append(context.Background(), rollEntry("hero", 17))
	}()

	o, err := c.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 17, o.Total)
	assert.Equal(t, 0, l.SubscriberCount())
}

func TestCapture_RollAlreadyLoggedBeforeWait(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	c := l.CaptureNextRoll("hero")
	_, err := l.Append(context.Background(), rollEntry("hero", 9))
	require.NoError(t, err)

	o, err := c.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 9, o.Total)
}

func TestCapture_Timeout(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	c := l.CaptureNextRoll("hero")
	_, err := c.Wait(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, narrative.ErrCaptureTimeout)
	assert.Equal(t, 0, l.SubscriberCount())

	// A late roll is not delivered anywhere.
	_, err = l.Append(context.Background(), rollEntry("hero", 5))
	require.NoError(t, err)
	assert.Equal(t, 0, l.SubscriberCount())
}

func TestCapture_ContextCancelled(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	c := l.CaptureNextRoll("hero")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, l.SubscriberCount())
}

func TestCapture_CancelIsIdempotent(t *testing.T) {
	l := narrative.NewLog(zaptest.NewLogger(t), nil)
	c := l.CaptureNextRoll("hero")
	assert.NotEqual(t, uuid.Nil, c.CorrelationID)
	c.Cancel()
	c.Cancel()
	assert.Equal(t, 0, l.SubscriberCount())
}

func TestPropertyCapture_NeverLeaksSubscriptions(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := narrative.NewLog(zaptest.NewLogger(t), nil)
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		for i := 0; i < n; i++ {
			c := l.CaptureNextRoll("hero")
			if rapid.Bool().Draw(rt, "rolls") {
				if _, err := l.Append(context.Background(), rollEntry("hero", i)); err != nil {
					rt.Fatal(err)
				}
				o, err := c.Wait(context.Background(), time.Second)
				if err != nil || o.Total != i {
					rt.Fatalf("capture %d: total %d err %v", i, o.Total, err)
				}
			} else {
				if _, err := c.Wait(context.Background(), time.Millisecond); !errors.Is(err, narrative.ErrCaptureTimeout) {
					rt.Fatalf("expected timeout, got %v", err)
				}
			}
		}
		if l.SubscriberCount() != 0 {
			rt.Fatalf("leaked %d subscriptions", l.SubscriberCount())
		}
	})
}
