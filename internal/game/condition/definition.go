package condition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Duration types.
const (
	DurationRounds    = "rounds"
	DurationUntilSave = "until_save"
	DurationPermanent = "permanent"
)

// Mode says how a Change combines with a stat's base value.
type Mode string

const (
	ModeAdd      Mode = "add"      // base + value*stacks
	ModeMultiply Mode = "multiply" // base * value
	ModeOverride Mode = "override" // value, replacing base
)

// Known reports whether m is a recognised mode.
func (m Mode) Known() bool {
	switch m {
	case ModeAdd, ModeMultiply, ModeOverride:
		return true
	}
	return false
}

// Change is one stat modification carried by a condition. The targeted stat
// and the combination mode are explicit fields.
type Change struct {
	TargetStat string  `yaml:"target_stat" json:"target_stat"`
	Mode       Mode    `yaml:"mode" json:"mode"`
	Value      float64 `yaml:"value" json:"value"`
}

// ConditionDef is the static definition of a condition, loaded from YAML.
type ConditionDef struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	DurationType    string   `yaml:"duration_type" json:"duration_type"`       // "rounds" | "until_save" | "permanent"
	DefaultDuration int      `yaml:"default_duration" json:"default_duration"` // rounds; used when an entry gives none
	MaxStacks       int      `yaml:"max_stacks" json:"max_stacks"`             // 0 = unstackable
	Changes         []Change `yaml:"changes" json:"changes"`
	RestrictActions []string `yaml:"restrict_actions" json:"restrict_actions"`
	LuaOnApply      string   `yaml:"lua_on_apply" json:"lua_on_apply"` // hook called after the condition attaches
}

// Validate checks the definition's invariants.
//
// Postcondition: Returns nil iff ID is set, DurationType is recognised, and every
// Change names a stat and a known Mode.
func (d *ConditionDef) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("condition: id must not be empty")
	}
	switch d.DurationType {
	case DurationRounds, DurationUntilSave, DurationPermanent:
	default:
		return fmt.Errorf("condition %q: unknown duration_type %q", d.ID, d.DurationType)
	}
	for i, c := range d.Changes {
		if c.TargetStat == "" {
			return fmt.Errorf("condition %q: change %d has no target_stat", d.ID, i)
		}
		if !c.Mode.Known() {
			return fmt.Errorf("condition %q: change %d has unknown mode %q", d.ID, i, c.Mode)
		}
	}
	return nil
}

// Registry holds all known ConditionDefs keyed by ID.
type Registry struct {
	defs map[string]*ConditionDef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*ConditionDef)}
}

// Register adds def to the registry, overwriting any existing entry with the same ID.
// Precondition: def must not be nil and def.ID must not be empty.
func (r *Registry) Register(def *ConditionDef) {
	r.defs[def.ID] = def
}

// Get returns the ConditionDef for id, or (nil, false) if not found.
func (r *Registry) Get(id string) (*ConditionDef, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// All returns every registered definition ordered by ID.
func (r *Registry) All() []*ConditionDef {
	out := make([]*ConditionDef, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDirectory reads every *.yaml or *.yml file in dir as one ConditionDef.
//
// Postcondition: Returns a populated Registry, or an error naming the first
// file that fails to parse, fails validation, or repeats an earlier ID.
func LoadDirectory(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading condition dir %q: %w", dir, err)
	}
	reg := NewRegistry()
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		var def ConditionDef
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("validating %q: %w", path, err)
		}
		if _, dup := reg.Get(def.ID); dup {
			return nil, fmt.Errorf("%q: duplicate condition id %q", path, def.ID)
		}
		reg.Register(&def)
	}
	return reg, nil
}
