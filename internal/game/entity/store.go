package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cory-johannsen/actioncards/internal/game/condition"
	"github.com/cory-johannsen/actioncards/internal/game/outcome"
	"github.com/cory-johannsen/actioncards/internal/game/session"
)

var (
	// ErrNotFound is returned when no entity has the requested ID.
	ErrNotFound = errors.New("entity not found")
	// ErrUnknownCondition is returned when a payload names an unregistered condition.
	ErrUnknownCondition = errors.New("unknown condition")
	// ErrUnknownItem is returned when an entity has no linked item with the requested ID.
	ErrUnknownItem = errors.New("unknown item")
	// ErrInsufficientQuantity is returned when a quantity adjustment would go below zero.
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	// ErrUnknownResource is returned for an adjustment path the store does not recognise.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrInvalidPayload is returned when an effect payload is malformed.
	ErrInvalidPayload = errors.New("invalid effect payload")
)

// PayloadKind selects what an effect payload does to its target.
type PayloadKind string

const (
	PayloadCondition      PayloadKind = "condition"
	PayloadTransformation PayloadKind = "transformation"
)

// Payload is the effect-creation data attached to a target.
type Payload struct {
	Kind        PayloadKind `yaml:"kind" json:"kind"`
	ConditionID string      `yaml:"condition,omitempty" json:"condition,omitempty"`
	Stacks      int         `yaml:"stacks,omitempty" json:"stacks,omitempty"`
	Duration    int         `yaml:"duration,omitempty" json:"duration,omitempty"` // 0 = condition default
	Form        string      `yaml:"form,omitempty" json:"form,omitempty"`
	Hook        string      `yaml:"hook,omitempty" json:"hook,omitempty"` // Lua hook run after a transformation lands
}

// ID returns a stable identifier for the payload, used in results and logs.
func (p Payload) ID() string {
	switch p.Kind {
	case PayloadCondition:
		return "condition:" + p.ConditionID
	case PayloadTransformation:
		return "transformation:" + p.Form
	default:
		return string(p.Kind)
	}
}

// Resource paths accepted by AdjustResource.
const (
	ResourceHP = "hp"
)

// ItemQuantityPath returns the AdjustResource path for an item's quantity.
func ItemQuantityPath(itemID string) string {
	return "items." + itemID + ".quantity"
}

// Store holds entities in memory. All methods are safe for concurrent use;
// each call observes and mutates one entity atomically.
type Store struct {
	mu         sync.RWMutex
	entities   map[string]*Entity
	conditions *condition.Registry
}

// NewStore creates an empty Store resolving condition payloads against reg.
//
// Precondition: reg must be non-nil.
func NewStore(reg *condition.Registry) *Store {
	return &Store{
		entities:   make(map[string]*Entity),
		conditions: reg,
	}
}

// Add stores a copy of e.
//
// Precondition: e.ID must be non-empty.
// Postcondition: CurrentHP is clamped to [0, MaxHP]; returns an error if the ID is taken.
func (s *Store) Add(e *Entity) error {
	if e.ID == "" {
		return fmt.Errorf("entity: id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[e.ID]; exists {
		return fmt.Errorf("entity %q already exists", e.ID)
	}
	cp := e.clone()
	if cp.Conditions == nil {
		cp.Conditions = condition.NewActiveSet()
	}
	cp.CurrentHP = clamp(cp.CurrentHP, 0, cp.MaxHP)
	s.entities[e.ID] = cp
	return nil
}

// Get returns a snapshot of the entity with id.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

func (s *Store) read(ctx context.Context, id string, fn func(*Entity)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	fn(e)
	return nil
}

func (s *Store) write(ctx context.Context, id string, fn func(*Entity) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return fn(e)
}

// DerivedStat returns the named derived stat of entity id.
func (s *Store) DerivedStat(ctx context.Context, id, name string) (float64, error) {
	var v float64
	err := s.read(ctx, id, func(e *Entity) { v = e.DerivedStat(name) })
	return v, err
}

// Vars returns the formula variable context of entity id.
func (s *Store) Vars(ctx context.Context, id string) (map[string]float64, error) {
	var v map[string]float64
	err := s.read(ctx, id, func(e *Entity) { v = e.Vars() })
	return v, err
}

// Thresholds returns the critical and fumble bands of entity id. An entity
// with no authored bands uses outcome.DefaultThresholds.
func (s *Store) Thresholds(ctx context.Context, id string) (outcome.Thresholds, error) {
	var t outcome.Thresholds
	err := s.read(ctx, id, func(e *Entity) { t = e.Thresholds })
	if err == nil && t == (outcome.Thresholds{}) {
		t = outcome.DefaultThresholds()
	}
	return t, err
}

// Affinity returns entity id's affinity to damageType.
func (s *Store) Affinity(ctx context.Context, id, damageType string) (Affinity, error) {
	var a Affinity
	err := s.read(ctx, id, func(e *Entity) { a = e.Affinity(damageType) })
	return a, err
}

// Item returns a copy of the linked item itemID on entity id.
func (s *Store) Item(ctx context.Context, id, itemID string) (Item, error) {
	var it Item
	var found bool
	err := s.read(ctx, id, func(e *Entity) {
		if p := e.item(itemID); p != nil {
			it, found = *p, true
		}
	})
	if err != nil {
		return Item{}, err
	}
	if !found {
		return Item{}, fmt.Errorf("%w: %q on %q", ErrUnknownItem, itemID, id)
	}
	return it, nil
}

// HasControlAuthority reports whether op may act on entity id directly.
//
// Postcondition: Privileged operators control every existing entity.
func (s *Store) HasControlAuthority(ctx context.Context, id string, op *session.Operator) (bool, error) {
	var ok bool
	err := s.read(ctx, id, func(e *Entity) { ok = op.Privileged() || e.ControlledBy(op.UserID) })
	return ok, err
}

// ApplyEffect materialises p on entity id.
//
// Postcondition: On success a condition payload has been added to the entity's
// active set, or a transformation payload has replaced its Form. On error the
// entity is unchanged.
func (s *Store) ApplyEffect(ctx context.Context, id string, p Payload) error {
	return s.write(ctx, id, func(e *Entity) error {
		switch p.Kind {
		case PayloadCondition:
			def, ok := s.conditions.Get(p.ConditionID)
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownCondition, p.ConditionID)
			}
			stacks := p.Stacks
			if stacks <= 0 {
				stacks = 1
			}
			return e.Conditions.Apply(def, stacks, p.Duration)
		case PayloadTransformation:
			if p.Form == "" {
				return fmt.Errorf("%w: transformation without form", ErrInvalidPayload)
			}
			e.Form = p.Form
			return nil
		default:
			return fmt.Errorf("%w: kind %q", ErrInvalidPayload, p.Kind)
		}
	})
}

// AdjustResource adds delta to the resource at path on entity id and returns
// the new value. Hit points are clamped to [0, MaxHP]; item quantities may not
// go below zero.
//
// Precondition: path is ResourceHP or an ItemQuantityPath.
// Postcondition: On error the entity is unchanged.
func (s *Store) AdjustResource(ctx context.Context, id, path string, delta int) (int, error) {
	var out int
	err := s.write(ctx, id, func(e *Entity) error {
		if path == ResourceHP {
			e.CurrentHP = clamp(e.CurrentHP+delta, 0, e.MaxHP)
			out = e.CurrentHP
			return nil
		}
		itemID, ok := parseItemPath(path)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownResource, path)
		}
		it := e.item(itemID)
		if it == nil {
			return fmt.Errorf("%w: %q on %q", ErrUnknownItem, itemID, id)
		}
		if it.Quantity+delta < 0 {
			return fmt.Errorf("%w: %q has %d, needs %d", ErrInsufficientQuantity, itemID, it.Quantity, -delta)
		}
		it.Quantity += delta
		out = it.Quantity
		return nil
	})
	return out, err
}

// TickConditions advances the round-based conditions on entity id and returns
// the IDs of those that expired.
func (s *Store) TickConditions(ctx context.Context, id string) ([]string, error) {
	var expired []string
	err := s.write(ctx, id, func(e *Entity) error {
		expired = e.Conditions.Tick()
		return nil
	})
	return expired, err
}

func parseItemPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "items.")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ".quantity")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Entity returns a detached copy of the entity with id, suitable for
// persisting. Active conditions are not included.
func (s *Store) Entity(id string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	cp := e.clone()
	cp.Conditions = nil
	return cp, true
}

// IDs returns every entity ID in ascending order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
