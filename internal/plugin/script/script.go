// Package script runs Lua-scripted plugins. A script is loaded into a
// sandboxed Lua state and exposed to the host through a Definition, so
// scripted and native plugins share the same lifecycle and capability
// gate.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/schemacanvas/internal/event"
	"github.com/dshills/schemacanvas/internal/plugin"
)

// Lifecycle hooks a script may define.
const (
	activateFunc   = "activate"
	deactivateFunc = "deactivate"
)

// ScriptFile is the init script filename inside a plugin directory.
const ScriptFile = "init.lua"

// ErrScriptClosed is returned when using a script after Close.
var ErrScriptClosed = errors.New("script state is closed")

// Script hosts one Lua-scripted plugin.
//
// gopher-lua's LState is not goroutine-safe. The mutex serializes
// state access from Go; Lua execution itself is single-threaded.
// Host functions run while the mutex is held, so a script must not
// emit an event it also subscribes to.
type Script struct {
	mu     sync.Mutex
	L      *lua.LState
	source string
	path   string
	closed bool
}

// LoadString prepares a script from Lua source.
func LoadString(source string) *Script {
	return &Script{source: source}
}

// LoadFile prepares a script from a Lua file.
func LoadFile(path string) (*Script, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return &Script{source: string(source), path: path}, nil
}

// LoadDir prepares a plugin directory's init script.
func LoadDir(dir string) (*Script, error) {
	return LoadFile(filepath.Join(dir, ScriptFile))
}

// Definition builds the runtime half of the scripted plugin. The Lua
// state is created on activation and torn down on deactivation, so a
// reactivated plugin starts from a clean state.
func (s *Script) Definition() plugin.Definition {
	return plugin.Definition{
		Activate:   s.activate,
		Deactivate: s.deactivate,
	}
}

// activate opens the sandboxed state, binds the host module to the
// plugin's restricted API, runs the script body, and invokes the
// script's activate hook if it defines one.
func (s *Script) activate(ctx context.Context, api *plugin.API) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	s.installHostModule(L, api)
	s.L = L
	s.closed = false

	if err := s.doWithRecovery(func() error { return L.DoString(s.source) }); err != nil {
		L.Close()
		s.L = nil
		s.closed = true
		return fmt.Errorf("script error: %w", err)
	}
	return s.callHookLocked(activateFunc)
}

// deactivate invokes the script's deactivate hook best-effort and
// closes the state.
func (s *Script) deactivate(ctx context.Context, api *plugin.API) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.L == nil {
		return nil
	}
	err := s.callHookLocked(deactivateFunc)
	s.L.Close()
	s.L = nil
	s.closed = true
	return err
}

// callHookLocked calls a global lifecycle hook if the script defines
// one. Must be called with mu held.
func (s *Script) callHookLocked(name string) error {
	fn := s.L.GetGlobal(name)
	if fn == lua.LNil {
		return nil
	}
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("%q is not a function (got %s)", name, fn.Type())
	}
	return s.doWithRecovery(func() error {
		return s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
}

// callHandler invokes a Lua handler the script registered for an
// event. The conversion and the call happen under the state lock.
func (s *Script) callHandler(fn *lua.LFunction, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.L == nil {
		return ErrScriptClosed
	}
	args := []lua.LValue{lua.LString(evt.Type), toLua(s.L, evt.Payload)}
	return s.doWithRecovery(func() error {
		return s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
	})
}

// doWithRecovery executes a function with panic recovery.
func (s *Script) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// openSafeLibraries opens only safe Lua standard libraries. io, os,
// debug and package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove loaders that could pull in arbitrary code.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// installHostModule binds the "host" module to the plugin's restricted
// API. Every function goes through the capability gate; a script
// without a capability gets the same warn-and-no-op the gate gives
// native plugins.
func (s *Script) installHostModule(L *lua.LState, api *plugin.API) {
	funcs := map[string]lua.LGFunction{
		"has_document": func(L *lua.LState) int {
			L.Push(lua.LBool(api.HasDocument()))
			return 1
		},
		"get": func(L *lua.LState) int {
			v, ok := api.DocumentValue(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, v))
			return 1
		},
		"set": func(L *lua.LState) int {
			path := L.CheckString(1)
			value := toGo(L.CheckAny(2))
			if err := api.SetDocumentValue(path, value); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
		"delete": func(L *lua.LState) int {
			if err := api.DeleteDocumentValue(L.CheckString(1)); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
		"selected": func(L *lua.LState) int {
			L.Push(lua.LString(api.SelectedPath()))
			return 1
		},
		"select": func(L *lua.LState) int {
			api.Select(L.CheckString(1))
			return 0
		},
		"view_mode": func(L *lua.LState) int {
			L.Push(lua.LString(api.ViewMode()))
			return 1
		},
		"set_view_mode": func(L *lua.LState) int {
			api.SetViewMode(L.CheckString(1))
			return 0
		},
		"dark_mode": func(L *lua.LState) int {
			L.Push(lua.LBool(api.DarkMode()))
			return 1
		},
		"set_dark_mode": func(L *lua.LState) int {
			api.SetDarkMode(L.ToBool(1))
			return 0
		},
		"emit": func(L *lua.LState) int {
			eventType := L.CheckString(1)
			var payload any
			if L.GetTop() >= 2 {
				payload = toGo(L.Get(2))
			}
			api.Emit(eventType, payload)
			return 0
		},
		"subscribe": func(L *lua.LState) int {
			eventType := L.CheckString(1)
			fn := L.CheckFunction(2)
			api.Subscribe(eventType, func(evt event.Event) {
				if err := s.callHandler(fn, evt); err != nil {
					api.Log().Warn("script event handler failed: " + err.Error())
				}
			})
			return 0
		},
		"service": func(L *lua.LState) int {
			L.Push(toLua(L, api.Service(L.CheckString(1))))
			return 1
		},
		"put": func(L *lua.LState) int {
			api.PutLocal(L.CheckString(1), toGo(L.CheckAny(2)))
			return 0
		},
		"get_local": func(L *lua.LState) int {
			v, ok := api.GetLocal(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, v))
			return 1
		},
		"log": func(L *lua.LState) int {
			api.Log().Info(L.CheckString(1))
			return 0
		},
		"plugin_id": func(L *lua.LState) int {
			L.Push(lua.LString(api.Plugin()))
			return 1
		},
	}
	L.SetGlobal("host", L.SetFuncs(L.NewTable(), funcs))
}
