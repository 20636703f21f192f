// Package approval holds requests from standard operators asking a privileged
// operator to run an action card on their behalf. Requests never expire; each
// is consumed exactly once by an approval or removed by a dismissal.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/session"
)

var (
	// ErrNotFound is returned when no pending request has the given ID.
	ErrNotFound = errors.New("approval request not found")
	// ErrNotPrivileged is returned when a standard operator tries to approve.
	ErrNotPrivileged = errors.New("operator is not privileged")
	// ErrForbidden is returned when an operator may not dismiss a request.
	ErrForbidden = errors.New("operator may not dismiss this request")
)

// Request asks a privileged operator to execute an action card. It carries
// everything the initiator already computed so the approver's results match
// what the initiator saw.
type Request struct {
	ID               uuid.UUID         `json:"id"`
	TableID          string            `json:"table_id"`
	ActorID          string            `json:"actor_id"`
	CardID           string            `json:"card_id"`
	RequestingUserID string            `json:"requesting_user_id"`
	Targets          []string          `json:"targets"`
	Roll             *dice.Outcome     `json:"roll,omitempty"`
	Repetitions      int               `json:"repetitions"`
	Transformations  map[string]string `json:"transformations,omitempty"` // target ID → transformation choice ID
	CreatedAt        time.Time         `json:"created_at"`
}

// Store persists pending requests.
type Store interface {
	// Save stores req, replacing any request with the same ID.
	Save(ctx context.Context, req Request) error
	// Get returns the pending request with id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Request, error)
	// Pending returns every pending request for tableID.
	Pending(ctx context.Context, tableID string) ([]Request, error)
	// Take atomically removes and returns the request with id, or ErrNotFound.
	Take(ctx context.Context, id uuid.UUID) (Request, error)
}

// Notifier delivers a serialized request to the privileged operators at a table.
type Notifier interface {
	NotifyApprovers(tableID string, data []byte) (int, error)
}

// Mailbox is the request/response protocol between initiators and approvers.
type Mailbox struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewMailbox creates a Mailbox. notifier may be nil.
//
// Precondition: store and logger must be non-nil.
func NewMailbox(store Store, notifier Notifier, logger *zap.Logger) *Mailbox {
	return &Mailbox{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Submit enqueues req for approval and notifies the approvers at its table.
// Notification failures are logged, not returned.
//
// Postcondition: The stored request has a fresh ID and CreatedAt and is returned.
func (m *Mailbox) Submit(ctx context.Context, req Request) (Request, error) {
	req.ID = uuid.New()
	req.CreatedAt = m.now().UTC()
	if err := m.store.Save(ctx, req); err != nil {
		return Request{}, fmt.Errorf("approval: saving request: %w", err)
	}
	m.logger.Info("approval requested",
		zap.String("request", req.ID.String()),
		zap.String("card", req.CardID),
		zap.String("actor", req.ActorID),
		zap.String("user", req.RequestingUserID),
		zap.Strings("targets", req.Targets),
	)

	if m.notifier != nil {
		data, err := json.Marshal(req)
		if err != nil {
			m.logger.Warn("approval notification encoding failed", zap.Error(err))
			return req, nil
		}
		n, err := m.notifier.NotifyApprovers(req.TableID, data)
		if err != nil {
			m.logger.Warn("approval notification failed", zap.String("request", req.ID.String()), zap.Error(err))
		}
		if n == 0 {
			m.logger.Info("no approver online", zap.String("table", req.TableID))
		}
	}
	return req, nil
}

// Pending returns the requests awaiting approval at tableID, oldest first.
func (m *Mailbox) Pending(ctx context.Context, tableID string) ([]Request, error) {
	reqs, err := m.store.Pending(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("approval: listing pending: %w", err)
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

// Peek returns request id on behalf of approver without removing it.
//
// Postcondition: Returns ErrNotPrivileged when the approver is standard.
func (m *Mailbox) Peek(ctx context.Context, id uuid.UUID, approver *session.Operator) (Request, error) {
	if !approver.Privileged() {
		return Request{}, ErrNotPrivileged
	}
	return m.store.Get(ctx, id)
}

// Take removes request id from the mailbox on behalf of approver.
//
// Precondition: approver must be non-nil.
// Postcondition: Returns ErrNotPrivileged without removing anything when the
// approver is standard. A request is returned by Take at most once.
func (m *Mailbox) Take(ctx context.Context, id uuid.UUID, approver *session.Operator) (Request, error) {
	if !approver.Privileged() {
		return Request{}, ErrNotPrivileged
	}
	req, err := m.store.Take(ctx, id)
	if err != nil {
		return Request{}, err
	}
	m.logger.Info("approval taken",
		zap.String("request", id.String()),
		zap.String("approver", approver.UserID),
	)
	return req, nil
}

// Dismiss discards request id without executing it. The requesting user or
// any privileged operator may dismiss.
func (m *Mailbox) Dismiss(ctx context.Context, id uuid.UUID, op *session.Operator) error {
	req, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !op.Privileged() && op.UserID != req.RequestingUserID {
		return ErrForbidden
	}
	if _, err := m.store.Take(ctx, id); err != nil {
		return err
	}
	m.logger.Info("approval dismissed",
		zap.String("request", id.String()),
		zap.String("by", op.UserID),
	)
	return nil
}
