package narrative

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
)

// ErrCaptureTimeout is returned by Capture.Wait when no roll by the actor was
// logged before the timeout.
var ErrCaptureTimeout = errors.New("narrative: roll capture timed out")

// Capture waits for the next roll logged for one actor. It is single-fire:
// exactly one of (roll seen, timeout, cancellation, Cancel) tears it down.
type Capture struct {
	// CorrelationID identifies this capture in logs.
	CorrelationID uuid.UUID
	// ActorID is the entity whose roll is awaited.
	ActorID string
	// Since is the earliest creation time an entry may have to match.
	Since time.Time

	sub *Subscription
}

// CaptureNextRoll subscribes to the next entry carrying a roll for actorID.
// Call it before triggering the roll so the entry cannot be missed.
//
// Postcondition: The returned Capture holds one live subscription until Wait
// returns or Cancel is called.
func (l *Log) CaptureNextRoll(actorID string) *Capture {
	since := l.now()
	c := &Capture{
		CorrelationID: uuid.New(),
		ActorID:       actorID,
		Since:         since,
	}
	c.sub = l.SubscribeOnce(func(e Entry) bool {
		return e.ActorID == actorID && e.Roll != nil && !e.CreatedAt.Before(since)
	})
	return c
}

// Wait blocks until the awaited roll is logged, timeout elapses, or ctx is done.
//
// Postcondition: The subscription is released on every return path. Returns
// ErrCaptureTimeout on timeout and ctx.Err() on cancellation.
func (c *Capture) Wait(ctx context.Context, timeout time.Duration) (dice.Outcome, error) {
	defer c.Cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-c.sub.C():
		return *e.Roll, nil
	case <-timer.C:
		return dice.Outcome{}, fmt.Errorf("%w: actor %q after %s (correlation %s)", ErrCaptureTimeout, c.ActorID, timeout, c.CorrelationID)
	case <-ctx.Done():
		return dice.Outcome{}, ctx.Err()
	}
}

// Cancel releases the capture's subscription. Safe to call more than once.
func (c *Capture) Cancel() {
	c.sub.Unsubscribe()
}
