package scripting

import (
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers all engine.* Lua tables into L.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine.log, engine.dice, engine.entity, and engine.narrative are defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetField(engine, "log", m.logModule(L))
	L.SetField(engine, "dice", m.diceModule(L))
	L.SetField(engine, "entity", m.entityModule(L))
	L.SetField(engine, "narrative", m.narrativeModule(L))
	L.SetGlobal("engine", engine)
}

func (m *Manager) logModule(L *lua.LState) *lua.LTable {
	logAt := func(fn func(string, ...zap.Field)) lua.LGFunction {
		return func(L *lua.LState) int {
			fn(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}
	}
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": logAt(m.logger.Debug),
		"info":  logAt(m.logger.Info),
		"warn":  logAt(m.logger.Warn),
		"error": logAt(m.logger.Error),
	})
}

// engine.dice.roll(expr) returns {total, dice, modifier}, where dice is the
// sum of the kept dice. A malformed expression raises a Lua error.
func (m *Manager) diceModule(L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"roll": func(L *lua.LState) int {
			r, err := m.roller.RollExpr(L.CheckString(1))
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			sum := 0
			for _, d := range r.Dice {
				sum += d
			}
			t := L.NewTable()
			t.RawSetString("total", lua.LNumber(r.Total()))
			t.RawSetString("dice", lua.LNumber(sum))
			t.RawSetString("modifier", lua.LNumber(r.Modifier))
			L.Push(t)
			return 1
		},
	})
}

func (m *Manager) entity(id string) *EntityInfo {
	if m.GetEntity == nil {
		return nil
	}
	return m.GetEntity(id)
}

// entityField builds a getter that pushes nil when the entity is unknown.
func (m *Manager) entityField(get func(*EntityInfo) lua.LValue) lua.LGFunction {
	return func(L *lua.LState) int {
		e := m.entity(L.CheckString(1))
		if e == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(get(e))
		return 1
	}
}

func (m *Manager) entityModule(L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get_hp":     m.entityField(func(e *EntityInfo) lua.LValue { return lua.LNumber(e.HP) }),
		"get_max_hp": m.entityField(func(e *EntityInfo) lua.LValue { return lua.LNumber(e.MaxHP) }),
		"get_name":   m.entityField(func(e *EntityInfo) lua.LValue { return lua.LString(e.Name) }),
		"get_form":   m.entityField(func(e *EntityInfo) lua.LValue { return lua.LString(e.Form) }),
		"get_conditions": func(L *lua.LState) int {
			e := m.entity(L.CheckString(1))
			if e == nil {
				L.Push(lua.LNil)
				return 1
			}
			t := L.NewTable()
			for _, c := range e.Conditions {
				t.Append(lua.LString(c))
			}
			L.Push(t)
			return 1
		},
		"get_stat": func(L *lua.LState) int {
			e := m.entity(L.CheckString(1))
			name := L.CheckString(2)
			v, ok := 0.0, false
			if e != nil {
				v, ok = e.Stats[name]
			}
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(v))
			return 1
		},
		"get_stats": func(L *lua.LState) int {
			e := m.entity(L.CheckString(1))
			if e == nil {
				L.Push(lua.LNil)
				return 1
			}
			names := make([]string, 0, len(e.Stats))
			for k := range e.Stats {
				names = append(names, k)
			}
			sort.Strings(names)
			t := L.NewTable()
			for _, k := range names {
				t.RawSetString(k, lua.LNumber(e.Stats[k]))
			}
			L.Push(t)
			return 1
		},
		// apply_condition(id, cond, stacks, duration) returns true, or false and a message.
		"apply_condition": func(L *lua.LState) int {
			id, cond := L.CheckString(1), L.CheckString(2)
			stacks, duration := L.OptInt(3, 1), L.OptInt(4, 0)
			if m.ApplyCondition == nil {
				L.Push(lua.LFalse)
				L.Push(lua.LString("conditions cannot be applied from scripts"))
				return 2
			}
			if err := m.ApplyCondition(id, cond, stacks, duration); err != nil {
				L.Push(lua.LFalse)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LTrue)
			return 1
		},
		// adjust_hp(id, delta) returns the new hit points, or nil and a message.
		"adjust_hp": func(L *lua.LState) int {
			id, delta := L.CheckString(1), L.CheckInt(2)
			if m.AdjustHP == nil {
				L.Push(lua.LNil)
				L.Push(lua.LString("hit points cannot be adjusted from scripts"))
				return 2
			}
			hp, err := m.AdjustHP(id, delta)
			if err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LNumber(hp))
			return 1
		},
	})
}

func (m *Manager) narrativeModule(L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"say": func(L *lua.LState) int {
			actor, text := L.CheckString(1), L.CheckString(2)
			if m.Narrate != nil {
				m.Narrate(actor, text)
			}
			return 0
		},
	})
}
