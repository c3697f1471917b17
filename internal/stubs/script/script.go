// Package script lets API stubs be written in JavaScript. A script calls
//
//	stub("user32", "MessageBoxA", {args: 4}, function (ctx) {
//		ctx.log(ctx.str(ctx.arg(1)))
//		return 1
//	})
//
// to register or replace a stub. The function's return value becomes eax.
// Options default to stdcall with no arguments; {convention: "cdecl"}
// leaves the arguments on the stack.
package script

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/zboralski/winemu/internal/emulator"
	glog "github.com/zboralski/winemu/internal/log"
	"github.com/zboralski/winemu/internal/stubs"
)

// Script is one loaded JavaScript file and the runtime its stubs run in.
// A goja runtime is not safe for concurrent use, so calls are serialized.
type Script struct {
	Name  string
	Stubs []string

	mu sync.Mutex
	vm *goja.Runtime
	r  *stubs.Registry
}

// LoadFile reads path from fs and evaluates it.
func LoadFile(r *stubs.Registry, fs billy.Filesystem, path string) (*Script, error) {
	src, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Load(r, path, string(src))
}

// Load evaluates src. Every stub() call registers into r.
func Load(r *stubs.Registry, name, src string) (*Script, error) {
	s := &Script{Name: name, vm: goja.New(), r: r}
	s.vm.Set("stub", s.define)
	s.vm.Set("print", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			glog.Or(nil).Info("script", zap.String("script", name), zap.Any("value", a.Export()))
		}
		return goja.Undefined()
	})

	s.mu.Lock()
	_, err := s.vm.RunScript(name, src)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run script %s: %w", name, err)
	}
	return s, nil
}

// define implements stub(dll, name, options, fn).
func (s *Script) define(call goja.FunctionCall) goja.Value {
	vm := s.vm
	dll := call.Argument(0).String()
	name := call.Argument(1).String()

	conv := stubs.Stdcall
	args := 0
	fnArg := call.Argument(2)
	if len(call.Arguments) > 3 {
		if o := call.Argument(2); !goja.IsUndefined(o) && !goja.IsNull(o) {
			opts := o.ToObject(vm)
			if v := opts.Get("args"); v != nil && !goja.IsUndefined(v) {
				args = int(v.ToInteger())
			}
			if v := opts.Get("convention"); v != nil && !goja.IsUndefined(v) {
				switch v.String() {
				case "stdcall":
				case "cdecl":
					conv = stubs.Cdecl
				default:
					panic(vm.NewTypeError("stub %s: unknown convention %q", name, v.String()))
				}
			}
		}
		fnArg = call.Argument(3)
	}
	fn, ok := goja.AssertFunction(fnArg)
	if !ok {
		panic(vm.NewTypeError("stub %s: handler is not a function", name))
	}
	if args < 0 {
		panic(vm.NewTypeError("stub %s: negative argument count", name))
	}

	pop := args
	if conv == stubs.Cdecl {
		pop = 0
	}
	s.r.Register(stubs.StubDef{
		Name:       name,
		Category:   dll,
		Convention: conv,
		Args:       args,
		Hook:       s.hook(dll, name, fn, pop),
	})
	s.Stubs = append(s.Stubs, name)
	return goja.Undefined()
}

func (s *Script) hook(dll, name string, fn goja.Callable, pop int) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		s.mu.Lock()
		ctx := s.context(emu, dll, name)
		v, err := fn(goja.Undefined(), ctx)
		s.mu.Unlock()
		if err != nil {
			emu.Fail(fmt.Errorf("script stub %s: %w", name, err))
			return false
		}
		if exited, _ := emu.Exited(); exited {
			return false
		}
		var ret uint32
		if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			ret = uint32(v.ToInteger())
		}
		stubs.ReturnFromStub(emu, ret, pop)
		return false
	}
}

// context builds the ctx object handed to a stub.
func (s *Script) context(emu *emulator.Emulator, dll, name string) *goja.Object {
	ctx := s.vm.NewObject()
	ctx.Set("name", name)
	ctx.Set("arg", func(i int) uint32 { return emu.Arg(i) })
	ctx.Set("str", func(p uint32) string { return stubs.String(emu, p) })
	ctx.Set("wstr", func(p uint32) string { return stubs.WideString(emu, p) })
	ctx.Set("read32", func(p uint32) uint32 { return emu.Mem.ReadDword(p) })
	ctx.Set("write32", func(p, v uint32) {
		if err := emu.Mem.WriteDword(p, v); err != nil {
			panic(s.vm.NewGoError(err))
		}
	})
	ctx.Set("writeString", func(p uint32, str string) int {
		n, err := emu.Mem.WriteString(p, str)
		if err != nil {
			panic(s.vm.NewGoError(err))
		}
		return n
	})
	ctx.Set("alloc", func(n uint32) uint32 { return emu.Malloc(n) })
	ctx.Set("log", func(msg string) { s.r.Log(emu, dll, name, msg) })
	ctx.Set("exit", func(code uint32) { emu.Exit(code) })
	return ctx
}
