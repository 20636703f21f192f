// Package narrative holds the narrative log of an action card table: rolls,
// damage, and effects in the order they happened, with subscriptions for
// observers waiting on a particular entry.
package narrative

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
)

// Kind classifies a log entry.
type Kind string

const (
	KindRoll     Kind = "roll"
	KindDamage   Kind = "damage"
	KindEffect   Kind = "effect"
	KindApproval Kind = "approval"
	KindMessage  Kind = "message"
)

// Entry is one narrative log record.
type Entry struct {
	ID        uuid.UUID     `json:"id"`
	ActorID   string        `json:"actor_id"`
	Kind      Kind          `json:"kind"`
	Text      string        `json:"text"`
	Roll      *dice.Outcome `json:"roll,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Sink persists entries outside the process.
type Sink interface {
	SaveEntry(ctx context.Context, e Entry) error
}

// Log is an append-only narrative log. All methods are safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	subs    map[uint64]*Subscription
	nextSub uint64
	sink    Sink
	logger  *zap.Logger
	now     func() time.Time
}

// NewLog creates an empty Log. sink may be nil.
//
// Precondition: logger must be non-nil.
func NewLog(logger *zap.Logger, sink Sink) *Log {
	return &Log{
		subs:   make(map[uint64]*Subscription),
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Append stamps e with an ID and creation time, persists it through the sink
// when one is configured, stores it, and notifies matching subscribers.
//
// Postcondition: On success the returned Entry has a non-nil ID and is the last
// element of Entries(). On sink failure nothing is stored.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	e.ID = uuid.New()
	e.CreatedAt = l.now()

	if l.sink != nil {
		if err := l.sink.SaveEntry(ctx, e); err != nil {
			return Entry{}, fmt.Errorf("narrative: persisting entry: %w", err)
		}
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	var fire []*Subscription
	for id, s := range l.subs {
		if s.filter(e) {
			fire = append(fire, s)
			if s.once {
				delete(l.subs, id)
			}
		}
	}
	l.mu.Unlock()

	for _, s := range fire {
		s.deliver(e)
	}
	l.logger.Debug("narrative entry",
		zap.String("id", e.ID.String()),
		zap.String("actor", e.ActorID),
		zap.String("kind", string(e.Kind)),
		zap.String("text", e.Text),
	)
	return e, nil
}

// Entries returns a copy of every entry in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// SubscriberCount returns the number of live subscriptions.
func (l *Log) SubscriberCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Subscribe registers filter and returns a Subscription receiving every
// matching entry appended from now on. Entries are dropped when the
// subscriber's buffer is full.
//
// Precondition: filter must be non-nil; buffer >= 1.
func (l *Log) Subscribe(filter func(Entry) bool, buffer int) *Subscription {
	return l.subscribe(filter, buffer, false)
}

// SubscribeOnce is Subscribe for at most one matching entry. The subscription
// removes itself from the log when that entry is delivered.
func (l *Log) SubscribeOnce(filter func(Entry) bool) *Subscription {
	return l.subscribe(filter, 1, true)
}

func (l *Log) subscribe(filter func(Entry) bool, buffer int, once bool) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSub++
	s := &Subscription{
		id:     l.nextSub,
		log:    l,
		filter: filter,
		once:   once,
		ch:     make(chan Entry, buffer),
	}
	l.subs[s.id] = s
	return s
}

func (l *Log) unsubscribe(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, id)
}

// Subscription receives entries matching its filter until Unsubscribe is called.
type Subscription struct {
	id     uint64
	log    *Log
	filter func(Entry) bool
	once   bool
	ch     chan Entry
	closer sync.Once
}

// C returns the channel on which matching entries are delivered.
func (s *Subscription) C() <-chan Entry { return s.ch }

func (s *Subscription) deliver(e Entry) {
	select {
	case s.ch <- e:
	default:
		s.log.logger.Warn("narrative subscriber buffer full, entry dropped",
			zap.Uint64("subscription", s.id),
			zap.String("entry", e.ID.String()),
		)
	}
}

// Unsubscribe detaches the subscription from the log. Safe to call more than once.
//
// Postcondition: No further entries are delivered.
func (s *Subscription) Unsubscribe() {
	s.closer.Do(func() { s.log.unsubscribe(s.id) })
}
