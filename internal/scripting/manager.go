package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
)

// GlobalScope is the reserved key for shared scripts loaded via LoadGlobal.
// CallHook falls back to this VM when no scope VM is found.
const GlobalScope = "__global__"

// ErrHookNotDefined is returned by RunEffectHook when no loaded script defines the hook.
var ErrHookNotDefined = errors.New("scripting: hook not defined")

// EntityInfo is a snapshot of an entity passed to Lua callbacks.
type EntityInfo struct {
	ID         string
	Name       string
	HP         int
	MaxHP      int
	Form       string
	Conditions []string
	Stats      map[string]float64
}

// vm is one sandboxed state. L is single-threaded, so every use holds mu.
type vm struct {
	mu     sync.Mutex
	L      *lua.LState
	limit  int
	cancel context.CancelFunc
}

// Manager owns one sandboxed LState per scope and exposes hook dispatch.
//
// Manager is safe for concurrent use. Calls into the same scope are
// serialized; different scopes run concurrently.
type Manager struct {
	mu     sync.RWMutex
	vms    map[string]*vm
	roller *dice.Roller
	logger *zap.Logger

	// Injected after construction. nil = no-op in engine.* modules.
	GetEntity      func(id string) *EntityInfo
	ApplyCondition func(id, condID string, stacks, duration int) error
	AdjustHP       func(id string, delta int) (int, error)
	Narrate        func(actorID, text string)
}

// NewManager creates a Manager.
//
// Precondition: roller and logger must be non-nil.
// Postcondition: Returns a non-nil Manager with no scopes loaded.
func NewManager(roller *dice.Roller, logger *zap.Logger) *Manager {
	if roller == nil {
		panic("scripting.NewManager: roller must not be nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		vms:    make(map[string]*vm),
		roller: roller,
		logger: logger,
	}
}

// LoadScope creates a sandboxed VM for scopeID, registers all engine.* modules,
// then executes every *.lua file in scriptDir in lexicographic order. A scope
// already loaded is replaced.
//
// Precondition: scopeID must be non-empty; scriptDir must be a readable directory.
// Postcondition: Scope VM is registered; returns error on Lua load failure.
func (m *Manager) LoadScope(scopeID, scriptDir string, instLimit int) error {
	return m.loadInto(scopeID, scriptDir, instLimit)
}

// LoadGlobal creates the GlobalScope VM for scripts reachable from any scope.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: Global VM is registered; returns error on Lua load failure.
func (m *Manager) LoadGlobal(scriptDir string, instLimit int) error {
	return m.loadInto(GlobalScope, scriptDir, instLimit)
}

func (m *Manager) loadInto(key, scriptDir string, instLimit int) error {
	L, cancel := NewSandboxedState(instLimit)
	m.RegisterModules(L)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, key, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, key, err)
		}
	}

	m.mu.Lock()
	old := m.vms[key]
	m.vms[key] = &vm{L: L, limit: effectiveLimit(instLimit), cancel: cancel}
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
	return nil
}

func (v *vm) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
	v.L.Close()
}

// lookup returns scopeID's VM, falling back to the global VM.
func (m *Manager) lookup(scopeID string) *vm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.vms[scopeID]; ok {
		return v
	}
	return m.vms[GlobalScope]
}

// invoke calls hook in v with a fresh instruction budget.
//
// Postcondition: defined is false iff hook is not a global of v.
func (v *vm) invoke(hook string, args ...lua.LValue) (ret lua.LValue, defined bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fn := v.L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, false, nil
	}

	b := newBudget(v.limit)
	defer b.cancel()
	v.L.SetContext(b)

	if err := v.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		if b.Exhausted() {
			return lua.LNil, true, fmt.Errorf("%w after %d instructions: %v", ErrInstructionBudget, b.Used(), err)
		}
		return lua.LNil, true, err
	}
	ret = v.L.Get(-1)
	v.L.Pop(1)
	return ret, true, nil
}

// CallHook calls the named Lua global function in scopeID's VM. If the scope
// has no VM, the global VM is tried as a fallback. Returns (LNil, nil) if the
// hook is not defined or no VM exists. Lua runtime errors are logged at Warn
// level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(scopeID, hook string, args ...lua.LValue) (lua.LValue, error) {
	v := m.lookup(scopeID)
	if v == nil {
		m.logger.Info("scripting: no VM for scope",
			zap.String("scope", scopeID),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	ret, _, err := v.invoke(hook, args...)
	if err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("scope", scopeID),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}
	return ret, nil
}

// RunEffectHook calls hook(targetID, effectID) in the global VM after an
// effect has attached to targetID.
//
// Postcondition: Returns ErrHookNotDefined when no global script defines hook,
// or the Lua runtime error; the effect itself is unaffected either way.
func (m *Manager) RunEffectHook(hook, targetID, effectID string) error {
	v := m.lookup(GlobalScope)
	if v == nil {
		return fmt.Errorf("%w: %q (no global scripts loaded)", ErrHookNotDefined, hook)
	}
	_, defined, err := v.invoke(hook, lua.LString(targetID), lua.LString(effectID))
	if !defined {
		return fmt.Errorf("%w: %q", ErrHookNotDefined, hook)
	}
	if err != nil {
		return fmt.Errorf("scripting: hook %q on %q: %w", hook, targetID, err)
	}
	return nil
}

// Close releases every VM. Subsequent CallHook calls find no VM.
func (m *Manager) Close() {
	m.mu.Lock()
	vms := m.vms
	m.vms = make(map[string]*vm)
	m.mu.Unlock()
	for _, v := range vms {
		v.close()
	}
}
