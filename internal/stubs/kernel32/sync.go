package kernel32

import (
	"fmt"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/stubs"
)

// TLS slots live in the TEB like on Windows.
const (
	tlsSlots    = 64
	tlsSlotsOff = 0xE10
	tlsOutOfIdx = 0xFFFFFFFF
)

// Emulated time is derived from the instruction count so runs are
// reproducible.
const (
	// BootTicks is GetTickCount at the first instruction.
	BootTicks = 0x00100000
	// BootFileTime is 2001-10-25 00:00 UTC as a FILETIME.
	BootFileTime = 126484416000000000
	// PerfFrequency is the QueryPerformanceFrequency rate.
	PerfFrequency = 10_000_000

	// instructionsPerTick converts instructions to milliseconds.
	instructionsPerTick = 1000
)

func registerSync(k *kernel32) {
	r := k.r
	r.RegisterFunc(dll, "GetTickCount", 0, k.getTickCount)
	r.RegisterFunc(dll, "QueryPerformanceCounter", 1, k.queryPerformanceCounter)
	r.RegisterFunc(dll, "QueryPerformanceFrequency", 1, k.queryPerformanceFrequency)
	r.RegisterFunc(dll, "GetSystemTimeAsFileTime", 1, k.getSystemTimeAsFileTime)

	// One thread: critical sections never contend.
	for _, name := range []string{
		"InitializeCriticalSection",
		"EnterCriticalSection",
		"LeaveCriticalSection",
		"DeleteCriticalSection",
	} {
		r.RegisterFunc(dll, name, 1, k.constant(name, 0, 1))
	}

	r.RegisterFunc(dll, "TlsAlloc", 0, k.tlsAlloc)
	r.RegisterFunc(dll, "TlsFree", 1, k.tlsFree)
	r.RegisterFunc(dll, "TlsGetValue", 1, k.tlsGetValue)
	r.RegisterFunc(dll, "TlsSetValue", 2, k.tlsSetValue)
}

// Ticks returns the emulated millisecond clock.
func Ticks(emu *emulator.Emulator) uint32 {
	return BootTicks + uint32(emu.CPU.Instructions/instructionsPerTick)
}

func (k *kernel32) getTickCount(emu *emulator.Emulator) bool {
	t := Ticks(emu)
	k.r.Log(emu, dll, "GetTickCount", fmt.Sprint(t))
	stubs.ReturnFromStub(emu, t, 0)
	return false
}

// writeQword stores v at addr and fails the process if the write is refused.
func writeQword(emu *emulator.Emulator, name string, addr uint32, v uint64) bool {
	w := stubs.NewWriter(emu, name)
	w.Dword(addr, uint32(v))
	w.Dword(addr+4, uint32(v>>32))
	return w.Done()
}

// the counter runs at PerfFrequency with one instruction per 100ns
func (k *kernel32) queryPerformanceCounter(emu *emulator.Emulator) bool {
	p := emu.Arg(0)
	v := emu.CPU.Instructions
	if p != 0 && !writeQword(emu, "QueryPerformanceCounter", p, v) {
		return false
	}
	k.r.Log(emu, dll, "QueryPerformanceCounter", fmt.Sprint(v))
	stubs.ReturnFromStub(emu, stubs.Bool(p != 0), 1)
	return false
}

func (k *kernel32) queryPerformanceFrequency(emu *emulator.Emulator) bool {
	p := emu.Arg(0)
	if p != 0 && !writeQword(emu, "QueryPerformanceFrequency", p, PerfFrequency) {
		return false
	}
	k.r.Log(emu, dll, "QueryPerformanceFrequency", fmt.Sprint(PerfFrequency))
	stubs.ReturnFromStub(emu, stubs.Bool(p != 0), 1)
	return false
}

func (k *kernel32) getSystemTimeAsFileTime(emu *emulator.Emulator) bool {
	p := emu.Arg(0)
	ft := uint64(BootFileTime) + emu.CPU.Instructions
	if p != 0 && !writeQword(emu, "GetSystemTimeAsFileTime", p, ft) {
		return false
	}
	k.r.Log(emu, dll, "GetSystemTimeAsFileTime", fmt.Sprint(ft))
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

func tlsAddr(idx uint32) uint32 {
	return emulator.TEBBase + tlsSlotsOff + 4*idx
}

func (k *kernel32) tlsAlloc(emu *emulator.Emulator) bool {
	p := state(emu)
	idx := uint32(tlsOutOfIdx)
	for i, used := range p.tls {
		if !used {
			p.tls[i] = true
			idx = uint32(i)
			if err := emu.Mem.WriteDword(tlsAddr(idx), 0); err != nil {
				emu.Fail(fmt.Errorf("TlsAlloc: %w", err))
				return false
			}
			break
		}
	}
	if idx == tlsOutOfIdx {
		SetLastError(emu, ErrorNoMoreItems)
	}
	k.r.Log(emu, dll, "TlsAlloc", fmt.Sprintf("index=%d", int32(idx)))
	stubs.ReturnFromStub(emu, idx, 0)
	return false
}

func (k *kernel32) tlsFree(emu *emulator.Emulator) bool {
	idx := emu.Arg(0)
	p := state(emu)
	ok := idx < tlsSlots && p.tls[idx]
	if ok {
		p.tls[idx] = false
	} else {
		SetLastError(emu, ErrorInvalidParam)
	}
	k.r.Log(emu, dll, "TlsFree", fmt.Sprintf("index=%d", idx))
	stubs.ReturnFromStub(emu, stubs.Bool(ok), 1)
	return false
}

func (k *kernel32) tlsGetValue(emu *emulator.Emulator) bool {
	idx := emu.Arg(0)
	var v uint32
	if idx < tlsSlots {
		v = emu.Mem.ReadDword(tlsAddr(idx))
		SetLastError(emu, ErrorSuccess)
	} else {
		SetLastError(emu, ErrorInvalidParam)
	}
	k.r.Log(emu, dll, "TlsGetValue", stubs.FormatPtrPair("index", idx, "value", v))
	stubs.ReturnFromStub(emu, v, 1)
	return false
}

func (k *kernel32) tlsSetValue(emu *emulator.Emulator) bool {
	idx, v := emu.Arg(0), emu.Arg(1)
	ok := idx < tlsSlots
	if ok {
		if err := emu.Mem.WriteDword(tlsAddr(idx), v); err != nil {
			emu.Fail(fmt.Errorf("TlsSetValue: %w", err))
			return false
		}
	} else {
		SetLastError(emu, ErrorInvalidParam)
	}
	k.r.Log(emu, dll, "TlsSetValue", stubs.FormatPtrPair("index", idx, "value", v))
	stubs.ReturnFromStub(emu, stubs.Bool(ok), 2)
	return false
}
