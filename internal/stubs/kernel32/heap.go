package kernel32

import (
	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/stubs"
)

const pageSize = 0x1000

// All heaps share the emulator's bump allocator. Frees succeed and release
// nothing; fresh allocations are always zero-filled.
func registerHeap(k *kernel32) {
	r := k.r
	r.RegisterFunc(dll, "GetProcessHeap", 0, k.constant("GetProcessHeap", ProcessHeap, 0))
	r.RegisterFunc(dll, "HeapCreate", 3, k.heapCreate)
	r.RegisterFunc(dll, "HeapAlloc", 3, k.alloc("HeapAlloc", 2, 3))
	r.RegisterFunc(dll, "HeapFree", 3, k.constant("HeapFree", 1, 3))
	r.RegisterFunc(dll, "GlobalAlloc", 2, k.alloc("GlobalAlloc", 1, 2))
	r.RegisterFunc(dll, "GlobalFree", 1, k.constant("GlobalFree", 0, 1))
	r.RegisterFunc(dll, "LocalAlloc", 2, k.alloc("LocalAlloc", 1, 2))
	r.RegisterFunc(dll, "LocalFree", 1, k.constant("LocalFree", 0, 1))
	r.RegisterFunc(dll, "VirtualAlloc", 4, k.virtualAlloc)
	r.RegisterFunc(dll, "VirtualFree", 3, k.constant("VirtualFree", 1, 3))
}

func (k *kernel32) heapCreate(emu *emulator.Emulator) bool {
	p := state(emu)
	h := p.nextHeap
	p.nextHeap += 0x10000
	k.r.Log(emu, dll, "HeapCreate", stubs.FormatPtr("heap", h))
	stubs.ReturnFromStub(emu, h, 3)
	return false
}

// alloc returns a stub that allocates the byte count found in argument
// sizeArg of a stdcall function taking nargs arguments.
func (k *kernel32) alloc(name string, sizeArg, nargs int) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		size := emu.Arg(sizeArg)
		addr := emu.Malloc(size)
		if addr == 0 {
			SetLastError(emu, ErrorNotEnoughMemory)
		}
		k.r.Log(emu, dll, name, stubs.FormatPtrPair("size", size, "ptr", addr))
		stubs.ReturnFromStub(emu, addr, nargs)
		return false
	}
}

// virtualAlloc honours a requested address (memory is mapped on first
// touch) and otherwise returns page-aligned heap memory.
func (k *kernel32) virtualAlloc(emu *emulator.Emulator) bool {
	want, size := emu.Arg(0), emu.Arg(1)
	addr := want
	if addr == 0 {
		if raw := emu.Malloc(size + pageSize - 1); raw != 0 {
			addr = (raw + pageSize - 1) &^ (pageSize - 1)
		}
	}
	if addr == 0 {
		SetLastError(emu, ErrorNotEnoughMemory)
	}
	k.r.Log(emu, dll, "VirtualAlloc", stubs.FormatPtrPair("size", size, "ptr", addr))
	stubs.ReturnFromStub(emu, addr, 4)
	return false
}
