// Package stubs provides a registry of host implementations for imported
// Win32 functions. Each DLL package registers its stubs into a Registry that
// is then installed on the sentinel addresses of an emulator.
//
// Stubs follow the calling convention of the real function: a stdcall stub
// releases its own arguments, a cdecl stub leaves them for the caller.
package stubs

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/zboralski/winemu/internal/emulator"
	glog "github.com/zboralski/winemu/internal/log"
)

// HookFunc is the signature for stub hook functions.
// Returns true to stop emulation, false to continue.
type HookFunc = emulator.AddressHookFunc

// Convention is the calling convention of a stub.
type Convention int

const (
	Stdcall Convention = iota // callee pops its arguments
	Cdecl                     // caller pops its arguments
)

func (c Convention) String() string {
	if c == Cdecl {
		return "cdecl"
	}
	return "stdcall"
}

// StubDef defines a stub with its symbol name and hook function.
type StubDef struct {
	Name       string   // Symbol name (e.g., "MessageBoxA")
	Aliases    []string // Alternative symbol names
	Hook       HookFunc
	Category   string // DLL for logging: "user32", "kernel32", "msvcrt"
	Convention Convention
	Args       int // stack arguments released by a stdcall stub
}

// Registry holds stub definitions by symbol name.
type Registry struct {
	mu    sync.RWMutex
	stubs map[string]*StubDef

	// OnCall is invoked for every Log call.
	OnCall func(category, name, detail string)

	// Fallbacks installs a missing-export hook on imports without a stub.
	Fallbacks bool
}

// NewRegistry creates an empty registry with fallbacks enabled.
func NewRegistry() *Registry {
	return &Registry{
		stubs:     make(map[string]*StubDef),
		Fallbacks: true,
	}
}

// Register adds a stub definition. A later registration for the same name
// replaces the earlier one.
func (r *Registry) Register(def StubDef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := def
	r.stubs[d.Name] = &d
	for _, alias := range d.Aliases {
		r.stubs[alias] = &d
	}

	if glog.L != nil {
		glog.L.Debug("registered",
			zap.String("cat", d.Category),
			zap.String("fn", d.Name),
			zap.Strings("aliases", d.Aliases),
		)
	}
}

// RegisterFunc is a convenience method to register a stdcall stub.
func (r *Registry) RegisterFunc(category, name string, args int, hook HookFunc, aliases ...string) {
	r.Register(StubDef{
		Name:     name,
		Aliases:  aliases,
		Hook:     hook,
		Category: category,
		Args:     args,
	})
}

// RegisterCdecl registers a cdecl stub.
func (r *Registry) RegisterCdecl(category, name string, hook HookFunc, aliases ...string) {
	r.Register(StubDef{
		Name:       name,
		Aliases:    aliases,
		Hook:       hook,
		Category:   category,
		Convention: Cdecl,
	})
}

// Lookup returns the stub registered under name.
func (r *Registry) Lookup(name string) (*StubDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.stubs[name]
	return def, ok
}

// Install hooks the registered stubs at their sentinel addresses. Imports
// without a stub get the missing-export fallback when Fallbacks is set.
// It returns the number of hooks installed.
func (r *Registry) Install(emu *emulator.Emulator, imports map[string]uint32) int {
	installed := 0
	for name, addr := range imports {
		if addr == 0 {
			continue
		}
		if r.Bind(emu, name, addr) || r.Fallbacks {
			installed++
		}
	}
	return installed
}

// Bind hooks the stub for name at addr. Without a stub it installs the
// missing-export fallback when Fallbacks is set. It reports whether a stub
// was found.
func (r *Registry) Bind(emu *emulator.Emulator, name string, addr uint32) bool {
	def, ok := r.Lookup(name)
	if !ok {
		if r.Fallbacks {
			emu.HookAddress(addr, func(e *emulator.Emulator) bool {
				e.MissingExport(name)
				return false
			})
			emu.Logger().Debug("installed fallback", glog.Fn(name), glog.Addr(addr))
		}
		return false
	}

	hook := def.Hook
	emu.HookAddress(addr, hook)
	emu.Logger().StubInstall(def.Category, name, addr, "import")
	return true
}

// Log reports a stub call: the OnCall callback, a trace event on the
// emulator and a debug log line.
func (r *Registry) Log(emu *emulator.Emulator, category, name, detail string) {
	r.mu.RLock()
	cb := r.OnCall
	r.mu.RUnlock()

	pc := emu.ReturnAddress()
	if cb != nil {
		cb(category, name, detail)
	}
	emu.AddTraceEvent(emulator.TraceEvent{
		Address: pc,
		Tag:     "#" + category,
		Detail:  name + " " + detail,
	})
	emu.Logger().Trace(pc, category, name, detail)
}

// Count returns the number of registered names, aliases included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stubs)
}

// List returns the registered stubs sorted by category and name, one entry
// per definition.
func (r *Registry) List() []*StubDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*StubDef]bool)
	defs := make([]*StubDef, 0, len(r.stubs))
	for _, def := range r.stubs {
		if seen[def] {
			continue
		}
		seen[def] = true
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Category != defs[j].Category {
			return defs[i].Category < defs[j].Category
		}
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// Helper functions for stubs

// ReturnFromStub sets eax to value, pops the return address and releases
// nargs stack arguments (0 for cdecl).
func ReturnFromStub(emu *emulator.Emulator, value uint32, nargs int) {
	emu.Return(value, nargs)
}

// FormatHex formats a value as hex string.
func FormatHex(v uint32) string {
	if v == 0 {
		return "0"
	}
	return fmt.Sprintf("0x%x", v)
}

// FormatPtr formats name=value pairs.
func FormatPtr(name string, val uint32) string {
	return name + "=" + FormatHex(val)
}

// FormatPtrPair formats two name=value pairs.
func FormatPtrPair(name1 string, val1 uint32, name2 string, val2 uint32) string {
	if name2 == "" {
		return FormatPtr(name1, val1)
	}
	return FormatPtr(name1, val1) + " " + FormatPtr(name2, val2)
}
