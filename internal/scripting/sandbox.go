// Package scripting provides a sandboxed GopherLua environment for effect
// hooks: scripts that react after a status or transformation lands on an
// entity. It has no dependency on entity or effect packages; every game
// interaction is injected through Manager callback fields.
package scripting

import (
	"context"
	"errors"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the opcode budget of one script load or hook
// call when none is configured.
const DefaultInstructionLimit = 100_000

// ErrInstructionBudget is wrapped by hook errors caused by running out of
// instructions.
var ErrInstructionBudget = errors.New("lua instruction budget exhausted")

// unsafeGlobals are removed from every sandboxed state. They reach the file
// system or the module loader.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "collectgarbage", "require"}

// budget is a context that cancels itself on its limit-th Done call.
// GopherLua checks Done once per opcode, so the limit counts instructions.
type budget struct {
	context.Context
	cancel context.CancelFunc
	limit  int64
	used   atomic.Int64
}

func newBudget(limit int) *budget {
	ctx, cancel := context.WithCancel(context.Background())
	return &budget{Context: ctx, cancel: cancel, limit: int64(effectiveLimit(limit))}
}

func (b *budget) Done() <-chan struct{} {
	if b.used.Add(1) >= b.limit {
		b.cancel()
	}
	return b.Context.Done()
}

// Used reports how many instructions have been charged.
func (b *budget) Used() int64 { return b.used.Load() }

// Exhausted reports whether the limit was reached.
func (b *budget) Exhausted() bool { return b.used.Load() >= b.limit }

func effectiveLimit(instLimit int) int {
	if instLimit <= 0 {
		return DefaultInstructionLimit
	}
	return instLimit
}

// NewSandboxedState creates a GopherLua state with only the base, table,
// string, and math libraries, without unsafeGlobals, and limited to instLimit
// opcodes.
//
// Precondition: instLimit >= 0; 0 uses DefaultInstructionLimit.
// Postcondition: The caller owns L and the budget's cancel func and must
// call both cancel and L.Close().
func NewSandboxedState(instLimit int) (*lua.LState, context.CancelFunc) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	b := newBudget(instLimit)
	L.SetContext(b)
	return L, b.cancel
}
