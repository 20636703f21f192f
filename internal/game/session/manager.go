package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Role constants for operator privilege levels.
const (
	RolePlayer = "player"
	RoleGM     = "gm"
	RoleAdmin  = "admin"
)

// Operator is a connected user able to initiate or approve action cards.
type Operator struct {
	// UserID is the unique operator identifier.
	UserID string
	// Username is the account username (for logging).
	Username string
	// Role is the account privilege level (player, gm, admin).
	Role string
	// TableID is the table the operator is currently seated at.
	TableID string
	// Inbox receives approval notifications addressed to the operator.
	Inbox *Inbox
}

// Privileged reports whether the operator may mutate any entity directly.
//
// Postcondition: Returns true iff Role is gm or admin.
func (o *Operator) Privileged() bool {
	return o.Role == RoleGM || o.Role == RoleAdmin
}

// Manager tracks all connected operators and table occupancy.
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	operators map[string]*Operator       // userID → operator
	tables    map[string]map[string]bool // tableID → set of user IDs
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		operators: make(map[string]*Operator),
		tables:    make(map[string]map[string]bool),
	}
}

// AddOperator registers a new operator at the given table.
//
// Precondition: userID, username, tableID, and role must be non-empty.
// Postcondition: Returns the created Operator, or an error if the user ID is already registered.
func (m *Manager) AddOperator(userID, username, tableID, role string) (*Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.operators[userID]; exists {
		return nil, fmt.Errorf("operator %q already connected", userID)
	}

	op := &Operator{
		UserID:   userID,
		Username: username,
		Role:     role,
		TableID:  tableID,
		Inbox:    NewInbox(userID, DefaultInboxSize),
	}
	m.operators[userID] = op
	if m.tables[tableID] == nil {
		m.tables[tableID] = make(map[string]bool)
	}
	m.tables[tableID][userID] = true
	return op, nil
}

// RemoveOperator removes an operator and cleans up table occupancy.
//
// Postcondition: The operator is removed from all tracking. Returns an error if not found.
func (m *Manager) RemoveOperator(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, exists := m.operators[userID]
	if !exists {
		return fmt.Errorf("operator %q not found", userID)
	}
	m.leaveTable(op.TableID, userID)
	op.Inbox.Close()
	delete(m.operators, userID)
	return nil
}

// MoveOperator seats an operator at a different table.
//
// Postcondition: Returns the old table ID, or an error if the operator is not found.
func (m *Manager) MoveOperator(userID, newTableID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, exists := m.operators[userID]
	if !exists {
		return "", fmt.Errorf("operator %q not found", userID)
	}
	old := op.TableID
	m.leaveTable(old, userID)
	op.TableID = newTableID
	if m.tables[newTableID] == nil {
		m.tables[newTableID] = make(map[string]bool)
	}
	m.tables[newTableID][userID] = true
	return old, nil
}

// leaveTable must be called with mu held.
func (m *Manager) leaveTable(tableID, userID string) {
	if set, ok := m.tables[tableID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(m.tables, tableID)
		}
	}
}

// SetRole changes a connected operator's role.
//
// Postcondition: Returns an error if the operator is not found.
func (m *Manager) SetRole(userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operators[userID]
	if !ok {
		return fmt.Errorf("operator %q not found", userID)
	}
	op.Role = role
	return nil
}

// GetOperator returns the operator for the given user ID.
//
// Postcondition: Returns (operator, true) if found, or (nil, false) otherwise.
func (m *Manager) GetOperator(userID string) (*Operator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operators[userID]
	return op, ok
}

// OperatorsAtTable returns the user IDs seated at tableID in ascending order.
func (m *Manager) OperatorsAtTable(tableID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.tables[tableID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Approvers returns the privileged operators seated at tableID, ordered by user ID.
//
// Postcondition: Every returned operator has Privileged() == true.
func (m *Manager) Approvers(tableID string) []*Operator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Operator
	for id := range m.tables[tableID] {
		if op := m.operators[id]; op != nil && op.Privileged() {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// NotifyApprovers pushes data to every privileged operator at tableID and
// returns how many received it. Delivery failures are collected, not fatal.
func (m *Manager) NotifyApprovers(tableID string, data []byte) (int, error) {
	var delivered int
	var errs []error
	for _, op := range m.Approvers(tableID) {
		if err := op.Inbox.Deliver(data); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if len(errs) > 0 {
		return delivered, fmt.Errorf("notifying approvers: %w", errors.Join(errs...))
	}
	return delivered, nil
}

// OperatorCount returns the total number of connected operators.
func (m *Manager) OperatorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.operators)
}
