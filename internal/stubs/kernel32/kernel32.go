// Package kernel32 provides stub implementations for kernel32.dll: process
// control, modules, heaps, strings, the console and thread-local storage.
package kernel32

import (
	"fmt"
	"strings"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/stubs"
)

const dll = "kernel32"

// Win32 error codes set by the stubs.
const (
	ErrorSuccess         = 0
	ErrorInvalidHandle   = 6
	ErrorNotEnoughMemory = 8
	ErrorInvalidParam    = 87
	ErrorInsufficientBuf = 122
	ErrorModNotFound     = 126
	ErrorProcNotFound    = 127
	ErrorEnvvarNotFound  = 203
	ErrorNoMoreItems     = 259
)

// Pseudo handles.
const (
	CurrentProcess = 0xFFFFFFFF
	ProcessHeap    = 0x00150000

	StdInput  = 0x00000003
	StdOutput = 0x00000007
	StdError  = 0x0000000B

	// module handles for DLLs are handed out from here
	moduleBase = 0x70000000
	moduleStep = 0x00100000
)

// Version reported by GetVersion: Windows XP SP3, build 2600.
const (
	VersionMajor = 5
	VersionMinor = 1
	VersionBuild = 2600
)

// process is the kernel32 state of one emulated process.
type process struct {
	lastError  uint32
	modules    map[string]uint32
	names      map[uint32]string
	nextModule uint32
	nextHeap   uint32
	cmdA, cmdW uint32
	tls        [tlsSlots]bool
	filter     uint32
}

func state(emu *emulator.Emulator) *process {
	return stubs.State(emu, "kernel32", func() *process {
		return &process{
			modules:    make(map[string]uint32),
			names:      make(map[uint32]string),
			nextModule: moduleBase,
			nextHeap:   ProcessHeap + 0x10000,
		}
	})
}

// LastError returns the thread's last-error value.
func LastError(emu *emulator.Emulator) uint32 {
	return state(emu).lastError
}

// SetLastError sets the thread's last-error value.
func SetLastError(emu *emulator.Emulator, code uint32) {
	state(emu).lastError = code
}

type kernel32 struct {
	r *stubs.Registry
	h host.Host
}

// Register adds the kernel32 stubs to r.
func Register(r *stubs.Registry, h host.Host) {
	k := &kernel32{r: r, h: h}

	// Process
	r.RegisterFunc(dll, "ExitProcess", 1, k.exitProcess)
	r.RegisterFunc(dll, "TerminateProcess", 2, k.terminateProcess)
	r.RegisterFunc(dll, "GetCurrentProcess", 0, k.constant("GetCurrentProcess", CurrentProcess, 0))
	r.RegisterFunc(dll, "GetCurrentProcessId", 0, k.constant("GetCurrentProcessId", emulator.ProcessID, 0))
	r.RegisterFunc(dll, "GetCurrentThreadId", 0, k.constant("GetCurrentThreadId", emulator.ThreadID, 0))
	r.RegisterFunc(dll, "GetVersion", 0, k.constant("GetVersion", VersionBuild<<16|VersionMinor<<8|VersionMajor, 0))
	r.RegisterFunc(dll, "GetVersionExA", 1, k.getVersionExA)
	r.RegisterFunc(dll, "GetCommandLineA", 0, k.getCommandLineA)
	r.RegisterFunc(dll, "GetCommandLineW", 0, k.getCommandLineW)
	r.RegisterFunc(dll, "GetStartupInfoA", 1, k.getStartupInfoA)
	r.RegisterFunc(dll, "GetEnvironmentVariableA", 3, k.getEnvironmentVariableA)
	r.RegisterFunc(dll, "IsDebuggerPresent", 0, k.constant("IsDebuggerPresent", 0, 0))
	r.RegisterFunc(dll, "SetUnhandledExceptionFilter", 1, k.setUnhandledExceptionFilter)
	r.RegisterFunc(dll, "GetLastError", 0, k.getLastError)
	r.RegisterFunc(dll, "SetLastError", 1, k.setLastError)
	r.RegisterFunc(dll, "Sleep", 1, k.sleep)
	r.RegisterFunc(dll, "OutputDebugStringA", 1, k.outputDebugStringA)
	r.RegisterFunc(dll, "OutputDebugStringW", 1, k.outputDebugStringW)

	// Modules
	r.RegisterFunc(dll, "GetModuleHandleA", 1, k.getModuleHandleA)
	r.RegisterFunc(dll, "GetModuleHandleW", 1, k.getModuleHandleW)
	r.RegisterFunc(dll, "GetModuleFileNameA", 3, k.getModuleFileNameA)
	r.RegisterFunc(dll, "LoadLibraryA", 1, k.loadLibraryA)
	r.RegisterFunc(dll, "FreeLibrary", 1, k.constant("FreeLibrary", 1, 1))
	r.RegisterFunc(dll, "GetProcAddress", 2, k.getProcAddress)

	registerHeap(k)
	registerText(k)
	registerSync(k)
}

// constant returns a stub that logs and returns v.
func (k *kernel32) constant(name string, v uint32, nargs int) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		k.r.Log(emu, dll, name, stubs.FormatHex(v))
		stubs.ReturnFromStub(emu, v, nargs)
		return false
	}
}

func (k *kernel32) exitProcess(emu *emulator.Emulator) bool {
	code := emu.Arg(0)
	k.r.Log(emu, dll, "ExitProcess", fmt.Sprintf("code=%d", code))
	emu.Exit(code)
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

func (k *kernel32) terminateProcess(emu *emulator.Emulator) bool {
	proc, code := emu.Arg(0), emu.Arg(1)
	k.r.Log(emu, dll, "TerminateProcess", stubs.FormatPtrPair("process", proc, "code", code))
	if proc == CurrentProcess {
		emu.Exit(code)
	}
	stubs.ReturnFromStub(emu, 1, 2)
	return false
}

// getVersionExA fills an OSVERSIONINFOA.
func (k *kernel32) getVersionExA(emu *emulator.Emulator) bool {
	info := emu.Arg(0)
	k.r.Log(emu, dll, "GetVersionExA", stubs.FormatPtr("info", info))
	if info == 0 {
		SetLastError(emu, ErrorInvalidHandle)
		stubs.ReturnFromStub(emu, 0, 1)
		return false
	}
	w := stubs.NewWriter(emu, "GetVersionExA")
	w.Dword(info+4, VersionMajor)
	w.Dword(info+8, VersionMinor)
	w.Dword(info+12, VersionBuild)
	w.Dword(info+16, 2) // VER_PLATFORM_WIN32_NT
	w.String(info+20, "Service Pack 3")
	if !w.Done() {
		return false
	}
	stubs.ReturnFromStub(emu, 1, 1)
	return false
}

func (k *kernel32) getCommandLineA(emu *emulator.Emulator) bool {
	p := state(emu)
	cl := stubs.CommandLine(emu)
	if p.cmdA == 0 {
		p.cmdA = emu.Malloc(uint32(len(cl) + 1))
		if _, err := emu.Mem.WriteString(p.cmdA, cl); err != nil {
			emu.Fail(fmt.Errorf("GetCommandLineA: %w", err))
			return false
		}
	}
	k.r.Log(emu, dll, "GetCommandLineA", cl)
	stubs.ReturnFromStub(emu, p.cmdA, 0)
	return false
}

func (k *kernel32) getCommandLineW(emu *emulator.Emulator) bool {
	p := state(emu)
	cl := stubs.CommandLine(emu)
	if p.cmdW == 0 {
		p.cmdW = emu.Malloc(uint32(2 * (len(cl) + 1)))
		if _, err := emu.Mem.WriteWideString(p.cmdW, cl); err != nil {
			emu.Fail(fmt.Errorf("GetCommandLineW: %w", err))
			return false
		}
	}
	k.r.Log(emu, dll, "GetCommandLineW", cl)
	stubs.ReturnFromStub(emu, p.cmdW, 0)
	return false
}

// getStartupInfoA fills a zeroed STARTUPINFOA.
func (k *kernel32) getStartupInfoA(emu *emulator.Emulator) bool {
	info := emu.Arg(0)
	k.r.Log(emu, dll, "GetStartupInfoA", stubs.FormatPtr("info", info))
	if info != 0 {
		w := stubs.NewWriter(emu, "GetStartupInfoA")
		w.Bytes(info, make([]byte, 68))
		w.Dword(info, 68)
		if !w.Done() {
			return false
		}
	}
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

var environment = map[string]string{
	"OS":           "Windows_NT",
	"SYSTEMROOT":   `C:\WINDOWS`,
	"WINDIR":       `C:\WINDOWS`,
	"TEMP":         `C:\TEMP`,
	"TMP":          `C:\TEMP`,
	"COMPUTERNAME": "WINEMU",
	"USERNAME":     "user",
}

// getEnvironmentVariableA returns the value length, or the required buffer
// size when the buffer is too small.
func (k *kernel32) getEnvironmentVariableA(emu *emulator.Emulator) bool {
	name := stubs.StringArg(emu, 0)
	buf, size := emu.Arg(1), emu.Arg(2)
	val, ok := environment[strings.ToUpper(name)]
	k.r.Log(emu, dll, "GetEnvironmentVariableA", name+"="+val)

	var ret uint32
	switch {
	case !ok:
		SetLastError(emu, ErrorEnvvarNotFound)
	case buf == 0 || size < uint32(len(val)+1):
		ret = uint32(len(val) + 1)
	default:
		w := stubs.NewWriter(emu, "GetEnvironmentVariableA")
		w.String(buf, val)
		if !w.Done() {
			return false
		}
		ret = uint32(len(val))
	}
	stubs.ReturnFromStub(emu, ret, 3)
	return false
}

func (k *kernel32) setUnhandledExceptionFilter(emu *emulator.Emulator) bool {
	p := state(emu)
	prev := p.filter
	p.filter = emu.Arg(0)
	k.r.Log(emu, dll, "SetUnhandledExceptionFilter", stubs.FormatPtr("filter", p.filter))
	stubs.ReturnFromStub(emu, prev, 1)
	return false
}

func (k *kernel32) getLastError(emu *emulator.Emulator) bool {
	v := LastError(emu)
	k.r.Log(emu, dll, "GetLastError", fmt.Sprint(v))
	stubs.ReturnFromStub(emu, v, 0)
	return false
}

func (k *kernel32) setLastError(emu *emulator.Emulator) bool {
	v := emu.Arg(0)
	SetLastError(emu, v)
	k.r.Log(emu, dll, "SetLastError", fmt.Sprint(v))
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

// sleep returns immediately; emulated time only advances with instructions.
func (k *kernel32) sleep(emu *emulator.Emulator) bool {
	k.r.Log(emu, dll, "Sleep", fmt.Sprintf("%dms", emu.Arg(0)))
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

func (k *kernel32) outputDebugStringA(emu *emulator.Emulator) bool {
	s := stubs.StringArg(emu, 0)
	k.r.Log(emu, dll, "OutputDebugStringA", s)
	k.h.DebugOutput(s)
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

func (k *kernel32) outputDebugStringW(emu *emulator.Emulator) bool {
	s := stubs.WideArg(emu, 0)
	k.r.Log(emu, dll, "OutputDebugStringW", s)
	k.h.DebugOutput(s)
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

// moduleKey normalises a module name: lower case, ".dll" when no extension.
func moduleKey(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	if !strings.Contains(name, ".") {
		name += ".dll"
	}
	return name
}

func isImage(emu *emulator.Emulator, key string) bool {
	return key == moduleKey(stubs.ImagePath(emu))
}

// moduleHandle returns the handle of a loaded module. load allocates a
// handle for a module that was not seen before.
func moduleHandle(emu *emulator.Emulator, name string, load bool) uint32 {
	img := emu.Image()
	key := moduleKey(name)
	if img != nil && isImage(emu, key) {
		return img.ImageBase
	}
	p := state(emu)
	if h, ok := p.modules[key]; ok {
		return h
	}
	known := false
	if img != nil {
		for _, d := range img.DLLs {
			if moduleKey(d) == key {
				known = true
				break
			}
		}
	}
	if !known && !load {
		return 0
	}
	h := p.nextModule
	p.nextModule += moduleStep
	p.modules[key] = h
	p.names[h] = name
	return h
}

func (k *kernel32) getModuleHandle(emu *emulator.Emulator, fn, name string, null bool) bool {
	var h uint32
	if null {
		if img := emu.Image(); img != nil {
			h = img.ImageBase
		}
	} else {
		h = moduleHandle(emu, name, false)
	}
	if h == 0 {
		SetLastError(emu, ErrorModNotFound)
	}
	k.r.Log(emu, dll, fn, name+" "+stubs.FormatPtr("handle", h))
	stubs.ReturnFromStub(emu, h, 1)
	return false
}

func (k *kernel32) getModuleHandleA(emu *emulator.Emulator) bool {
	return k.getModuleHandle(emu, "GetModuleHandleA", stubs.StringArg(emu, 0), emu.Arg(0) == 0)
}

func (k *kernel32) getModuleHandleW(emu *emulator.Emulator) bool {
	return k.getModuleHandle(emu, "GetModuleHandleW", stubs.WideArg(emu, 0), emu.Arg(0) == 0)
}

// getModuleFileNameA copies the image path, truncated to the buffer.
func (k *kernel32) getModuleFileNameA(emu *emulator.Emulator) bool {
	mod, buf, size := emu.Arg(0), emu.Arg(1), emu.Arg(2)
	name := stubs.ImagePath(emu)
	if p := state(emu); mod != 0 && p.names[mod] != "" {
		name = `C:\WINDOWS\system32\` + moduleKey(p.names[mod])
	}
	k.r.Log(emu, dll, "GetModuleFileNameA", name)

	var ret uint32
	if buf != 0 && size > 0 {
		if uint32(len(name)) >= size {
			name = name[:size-1]
		}
		w := stubs.NewWriter(emu, "GetModuleFileNameA")
		w.String(buf, name)
		if !w.Done() {
			return false
		}
		ret = uint32(len(name))
	}
	stubs.ReturnFromStub(emu, ret, 3)
	return false
}

func (k *kernel32) loadLibraryA(emu *emulator.Emulator) bool {
	name := stubs.StringArg(emu, 0)
	h := moduleHandle(emu, name, true)
	k.r.Log(emu, dll, "LoadLibraryA", name+" "+stubs.FormatPtr("handle", h))
	stubs.ReturnFromStub(emu, h, 1)
	return false
}

// getProcAddress hands out a sentinel for the name. A name that was not
// imported statically gets a fresh sentinel bound to its stub, or to the
// missing-export fallback.
func (k *kernel32) getProcAddress(emu *emulator.Emulator) bool {
	mod, proc := emu.Arg(0), emu.Arg(1)

	var sym string
	if proc < 0x10000 {
		p := state(emu)
		sym = fmt.Sprintf("%s!#%d", p.names[mod], proc)
	} else {
		sym = stubs.String(emu, proc)
	}

	addr, fresh := emu.ResolveAPI(sym)
	if fresh {
		k.r.Bind(emu, sym, addr)
	}
	if addr == 0 {
		SetLastError(emu, ErrorProcNotFound)
	}
	k.r.Log(emu, dll, "GetProcAddress", sym+" "+stubs.FormatPtr("addr", addr))
	stubs.ReturnFromStub(emu, addr, 2)
	return false
}
