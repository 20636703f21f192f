package session

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultInboxSize is the notification buffer used when none is given.
const DefaultInboxSize = 64

var (
	// ErrInboxClosed is returned when delivering to an operator who left.
	ErrInboxClosed = errors.New("inbox closed")
	// ErrInboxFull is returned when the operator is not draining notifications.
	ErrInboxFull = errors.New("inbox full")
)

// Inbox buffers approval notifications for one operator until the transport
// drains them. A full inbox drops the notification rather than blocking the
// sender; the request itself stays in the mailbox either way.
type Inbox struct {
	owner string

	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped int
}

// NewInbox creates an open inbox for owner. A non-positive size selects
// DefaultInboxSize.
func NewInbox(owner string, size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{owner: owner, ch: make(chan []byte, size)}
}

// Owner returns the user ID the inbox belongs to.
func (b *Inbox) Owner() string { return b.owner }

// Deliver enqueues payload without blocking.
//
// Postcondition: Returns an error wrapping ErrInboxClosed or ErrInboxFull when
// payload was not enqueued.
func (b *Inbox) Deliver(payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("operator %s: %w", b.owner, ErrInboxClosed)
	}
	select {
	case b.ch <- payload:
		return nil
	default:
		b.dropped++
		return fmt.Errorf("operator %s: %w", b.owner, ErrInboxFull)
	}
}

// Notifications is drained by the transport delivering to the operator. It is
// closed when the inbox is.
func (b *Inbox) Notifications() <-chan []byte { return b.ch }

// Queued reports how many notifications await draining.
func (b *Inbox) Queued() int { return len(b.ch) }

// Dropped reports how many notifications were discarded because the inbox
// was full.
func (b *Inbox) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops delivery. Closing twice is a no-op.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

// Closed reports whether Close has been called.
func (b *Inbox) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
