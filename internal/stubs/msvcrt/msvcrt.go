// Package msvcrt provides stub implementations for msvcrt.dll. Every
// function here is cdecl: stubs never release their arguments.
package msvcrt

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/stubs"
)

const dll = "msvcrt"

// DefaultControlWord is returned by _controlfp.
const DefaultControlWord = 0x0009001F

// maxCopy bounds memcpy and memset.
const maxCopy = 1 << 24

// maxStr bounds the str* functions. It is far above stubs.MaxString, which
// only limits strings that are logged or formatted.
const maxStr = 1 << 20

type process struct {
	fmode, commode uint32
	argv           uint32
	argc           uint32
	envp           uint32
}

func state(emu *emulator.Emulator) *process {
	return stubs.State(emu, "msvcrt", func() *process { return &process{} })
}

type msvcrt struct {
	r *stubs.Registry
	h host.Host
}

// Register adds the msvcrt stubs to r.
func Register(r *stubs.Registry, h host.Host) {
	m := &msvcrt{r: r, h: h}

	// stdio
	r.RegisterCdecl(dll, "printf", m.printf)
	r.RegisterCdecl(dll, "sprintf", m.sprintf)
	r.RegisterCdecl(dll, "puts", m.puts)

	// string.h
	r.RegisterCdecl(dll, "strlen", m.strlen)
	r.RegisterCdecl(dll, "strcpy", m.strcpy)
	r.RegisterCdecl(dll, "strcat", m.strcat)
	r.RegisterCdecl(dll, "strcmp", m.strcmp)
	r.RegisterCdecl(dll, "memcpy", m.memcpy)
	r.RegisterCdecl(dll, "memset", m.memset)

	// stdlib.h
	r.RegisterCdecl(dll, "malloc", m.malloc)
	r.RegisterCdecl(dll, "calloc", m.calloc)
	r.RegisterCdecl(dll, "free", m.ret("free", 0))
	r.RegisterCdecl(dll, "atoi", m.atoi)
	r.RegisterCdecl(dll, "exit", m.exit("exit"))
	r.RegisterCdecl(dll, "_exit", m.exit("_exit"))

	// CRT startup
	r.RegisterCdecl(dll, "__getmainargs", m.getmainargs)
	r.RegisterCdecl(dll, "__set_app_type", m.ret("__set_app_type", 0))
	r.RegisterCdecl(dll, "__p__fmode", m.global("__p__fmode", func(p *process) *uint32 { return &p.fmode }))
	r.RegisterCdecl(dll, "__p__commode", m.global("__p__commode", func(p *process) *uint32 { return &p.commode }))
	r.RegisterCdecl(dll, "_controlfp", m.ret("_controlfp", DefaultControlWord))
	r.RegisterCdecl(dll, "_initterm", m.initterm)
	r.RegisterCdecl(dll, "_cexit", m.ret("_cexit", 0))
	r.RegisterCdecl(dll, "_XcptFilter", m.ret("_XcptFilter", 0))
}

func (m *msvcrt) ret(name string, v uint32) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		m.r.Log(emu, dll, name, stubs.FormatHex(v))
		stubs.ReturnFromStub(emu, v, 0)
		return false
	}
}

func (m *msvcrt) printf(emu *emulator.Emulator) bool {
	s := stubs.Sprintf(emu, stubs.StringArg(emu, 0), emu.ESP()+8)
	m.h.WriteConsole(s)
	m.r.Log(emu, dll, "printf", fmt.Sprintf("%q", s))
	stubs.ReturnFromStub(emu, uint32(len(s)), 0)
	return false
}

func (m *msvcrt) sprintf(emu *emulator.Emulator) bool {
	buf := emu.Arg(0)
	s := stubs.Sprintf(emu, stubs.StringArg(emu, 1), emu.ESP()+12)
	w := stubs.NewWriter(emu, "sprintf")
	n := w.String(buf, s)
	if !w.Done() {
		return false
	}
	m.r.Log(emu, dll, "sprintf", fmt.Sprintf("%q", s))
	stubs.ReturnFromStub(emu, uint32(n), 0)
	return false
}

func (m *msvcrt) puts(emu *emulator.Emulator) bool {
	s := stubs.StringArg(emu, 0)
	m.h.WriteConsole(s + "\n")
	m.r.Log(emu, dll, "puts", fmt.Sprintf("%q", s))
	stubs.ReturnFromStub(emu, 0, 0)
	return false
}

func (m *msvcrt) strlen(emu *emulator.Emulator) bool {
	n := uint32(len(emu.Mem.ReadCString(emu.Arg(0), maxStr)))
	m.r.Log(emu, dll, "strlen", stubs.FormatPtr("len", n))
	stubs.ReturnFromStub(emu, n, 0)
	return false
}

func (m *msvcrt) strcpy(emu *emulator.Emulator) bool {
	dst := emu.Arg(0)
	raw := emu.Mem.ReadCString(emu.Arg(1), maxStr)
	w := stubs.NewWriter(emu, "strcpy")
	w.Bytes(dst, append(raw, 0))
	if !w.Done() {
		return false
	}
	m.r.Log(emu, dll, "strcpy", fmt.Sprintf("%q", raw))
	stubs.ReturnFromStub(emu, dst, 0)
	return false
}

func (m *msvcrt) strcat(emu *emulator.Emulator) bool {
	dst := emu.Arg(0)
	end := dst + uint32(len(emu.Mem.ReadCString(dst, maxStr)))
	raw := emu.Mem.ReadCString(emu.Arg(1), maxStr)
	w := stubs.NewWriter(emu, "strcat")
	w.Bytes(end, append(raw, 0))
	if !w.Done() {
		return false
	}
	m.r.Log(emu, dll, "strcat", fmt.Sprintf("%q", raw))
	stubs.ReturnFromStub(emu, dst, 0)
	return false
}

func (m *msvcrt) strcmp(emu *emulator.Emulator) bool {
	a := emu.Mem.ReadCString(emu.Arg(0), maxStr)
	b := emu.Mem.ReadCString(emu.Arg(1), maxStr)
	v := int32(bytes.Compare(a, b))
	m.r.Log(emu, dll, "strcmp", fmt.Sprintf("%q %q = %d", a, b, v))
	stubs.ReturnFromStub(emu, uint32(v), 0)
	return false
}

func (m *msvcrt) memcpy(emu *emulator.Emulator) bool {
	dst, src, n := emu.Arg(0), emu.Arg(1), emu.Arg(2)
	if n > 0 && n < maxCopy {
		w := stubs.NewWriter(emu, "memcpy")
		w.Bytes(dst, emu.Mem.Read(src, int(n)))
		if !w.Done() {
			return false
		}
	}
	m.r.Log(emu, dll, "memcpy", fmt.Sprintf("dst=0x%x src=0x%x n=%d", dst, src, n))
	stubs.ReturnFromStub(emu, dst, 0)
	return false
}

func (m *msvcrt) memset(emu *emulator.Emulator) bool {
	dst, c, n := emu.Arg(0), byte(emu.Arg(1)), emu.Arg(2)
	if n > 0 && n < maxCopy {
		w := stubs.NewWriter(emu, "memset")
		w.Bytes(dst, bytes.Repeat([]byte{c}, int(n)))
		if !w.Done() {
			return false
		}
	}
	m.r.Log(emu, dll, "memset", fmt.Sprintf("dst=0x%x c=0x%02x n=%d", dst, c, n))
	stubs.ReturnFromStub(emu, dst, 0)
	return false
}

func (m *msvcrt) malloc(emu *emulator.Emulator) bool {
	size := emu.Arg(0)
	p := emu.Malloc(size)
	m.r.Log(emu, dll, "malloc", stubs.FormatPtrPair("size", size, "ptr", p))
	stubs.ReturnFromStub(emu, p, 0)
	return false
}

// calloc relies on the heap never reusing memory: fresh pages are zero.
func (m *msvcrt) calloc(emu *emulator.Emulator) bool {
	n, size := emu.Arg(0), emu.Arg(1)
	total := uint64(n) * uint64(size)
	var p uint32
	if total <= 0xFFFFFFFF {
		p = emu.Malloc(uint32(total))
	}
	m.r.Log(emu, dll, "calloc", stubs.FormatPtrPair("size", uint32(total), "ptr", p))
	stubs.ReturnFromStub(emu, p, 0)
	return false
}

// atoi parses leading whitespace, an optional sign and decimal digits.
func (m *msvcrt) atoi(emu *emulator.Emulator) bool {
	s := strings.TrimLeft(stubs.StringArg(emu, 0), " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, err := strconv.ParseInt(s[:end], 10, 32)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		v = 0
	}
	m.r.Log(emu, dll, "atoi", fmt.Sprintf("%q = %d", s, int32(v)))
	stubs.ReturnFromStub(emu, uint32(int32(v)), 0)
	return false
}

func (m *msvcrt) exit(name string) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		code := emu.Arg(0)
		m.r.Log(emu, dll, name, fmt.Sprintf("code=%d", code))
		emu.Exit(code)
		stubs.ReturnFromStub(emu, 0, 0)
		return false
	}
}

// global returns a stub handing out the address of a CRT global, allocated
// on first use.
func (m *msvcrt) global(name string, slot func(*process) *uint32) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		p := slot(state(emu))
		if *p == 0 {
			*p = emu.Malloc(4)
		}
		m.r.Log(emu, dll, name, stubs.FormatPtr("ptr", *p))
		stubs.ReturnFromStub(emu, *p, 0)
		return false
	}
}

// SplitCommandLine splits a command line the way the CRT builds argv:
// whitespace separates arguments, double quotes group them.
func SplitCommandLine(cl string) []string {
	var args []string
	var cur strings.Builder
	quoted, have := false, false
	for i := 0; i < len(cl); i++ {
		c := cl[i]
		switch {
		case c == '"':
			quoted = !quoted
			have = true
		case (c == ' ' || c == '\t') && !quoted:
			if have {
				args = append(args, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteByte(c)
			have = true
		}
	}
	if have {
		args = append(args, cur.String())
	}
	return args
}

// getmainargs(int *argc, char ***argv, char ***envp, int wildcard, startinfo*)
// builds argv from the command line once per process.
func (m *msvcrt) getmainargs(emu *emulator.Emulator) bool {
	p := state(emu)
	w := stubs.NewWriter(emu, "__getmainargs")
	if p.argv == 0 {
		args := SplitCommandLine(stubs.CommandLine(emu))
		p.argc = uint32(len(args))
		p.argv = emu.Malloc(4 * (p.argc + 1))
		for i, a := range args {
			s := emu.Malloc(uint32(len(a) + 1))
			w.String(s, a)
			w.Dword(p.argv+4*uint32(i), s)
		}
		p.envp = emu.Malloc(4)
	}
	if a := emu.Arg(0); a != 0 {
		w.Dword(a, p.argc)
	}
	if a := emu.Arg(1); a != 0 {
		w.Dword(a, p.argv)
	}
	if a := emu.Arg(2); a != 0 {
		w.Dword(a, p.envp)
	}
	if !w.Done() {
		return false
	}
	m.r.Log(emu, dll, "__getmainargs", fmt.Sprintf("argc=%d", p.argc))
	stubs.ReturnFromStub(emu, 0, 0)
	return false
}

// initterm runs the non-NULL function pointers in [start, end). They take no
// arguments, so they are chained through the stack: each one returns into
// the next and the last into the caller of _initterm.
func (m *msvcrt) initterm(emu *emulator.Emulator) bool {
	start, end := emu.Arg(0), emu.Arg(1)
	var fns []uint32
	for a := start; a < end && len(fns) < 4096; a += 4 {
		if fn := emu.Mem.ReadDword(a); fn != 0 {
			fns = append(fns, fn)
		}
	}
	m.r.Log(emu, dll, "_initterm", fmt.Sprintf("%d initializers", len(fns)))
	if len(fns) == 0 {
		stubs.ReturnFromStub(emu, 0, 0)
		return false
	}
	for i := len(fns) - 1; i > 0; i-- {
		if err := emu.CPU.Push(fns[i]); err != nil {
			emu.Fail(fmt.Errorf("_initterm: %w", err))
			return false
		}
	}
	emu.CPU.SetEIP(fns[0])
	return false
}
