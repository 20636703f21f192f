package actioncard

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Registry holds all known Cards keyed by ID.
type Registry struct {
	cards map[string]*Card
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cards: make(map[string]*Card)}
}

// Register adds card to the registry, overwriting any existing entry with the same ID.
// Precondition: card must not be nil and card.ID must not be empty.
func (r *Registry) Register(card *Card) {
	r.cards[card.ID] = card
}

// Get returns the Card for id, or (nil, false) if not found.
func (r *Registry) Get(id string) (*Card, bool) {
	c, ok := r.cards[id]
	return c, ok
}

// IDs returns the registered card IDs in ascending order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.cards))
	for id := range r.cards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParseCard decodes one card from YAML and validates it. With strict set,
// a card carrying an invalid threshold is rejected; otherwise the problem is
// logged and the card kept, relying on the resolution-time fallback.
//
// Postcondition: Returns a validated Card or an error.
func ParseCard(data []byte, strict bool, logger *zap.Logger) (*Card, error) {
	var card Card
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&card); err != nil {
		return nil, fmt.Errorf("parsing card: %w", err)
	}
	structural, thresholds := card.Validate()
	if structural != nil {
		return nil, fmt.Errorf("card %q: %w", card.ID, structural)
	}
	if thresholds != nil {
		if strict {
			return nil, fmt.Errorf("card %q: %w", card.ID, thresholds)
		}
		logger.Warn("card has invalid thresholds, resolution will fall back",
			zap.String("card", card.ID),
			zap.Error(thresholds),
		)
	}
	return &card, nil
}

// LoadDirectory reads every *.yaml file in dir as a Card and returns a populated Registry.
// Precondition: dir must be a readable directory.
// Postcondition: Returns a non-nil Registry, or an error if any file fails to parse or validate
// or two files declare the same card id.
func LoadDirectory(dir string, strict bool, logger *zap.Logger) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading card dir %q: %w", dir, err)
	}
	reg := NewRegistry()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		card, err := ParseCard(data, strict, logger)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", path, err)
		}
		if _, dup := reg.Get(card.ID); dup {
			return nil, fmt.Errorf("%q: duplicate card id %q", path, card.ID)
		}
		reg.Register(card)
	}
	return reg, nil
}
