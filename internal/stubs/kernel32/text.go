package kernel32

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/stubs"
)

// ANSICodePage is the code page reported by GetACP.
const ANSICodePage = 1252

func registerText(k *kernel32) {
	r := k.r
	r.RegisterFunc(dll, "lstrlenA", 1, k.lstrlenA)
	r.RegisterFunc(dll, "lstrlenW", 1, k.lstrlenW)
	r.RegisterFunc(dll, "lstrcpyA", 2, k.lstrcpyA)
	r.RegisterFunc(dll, "lstrcatA", 2, k.lstrcatA)
	r.RegisterFunc(dll, "lstrcmpA", 2, k.lstrcmp("lstrcmpA", false))
	r.RegisterFunc(dll, "lstrcmpiA", 2, k.lstrcmp("lstrcmpiA", true))
	r.RegisterFunc(dll, "GetACP", 0, k.constant("GetACP", ANSICodePage, 0))
	r.RegisterFunc(dll, "MultiByteToWideChar", 6, k.multiByteToWideChar)
	r.RegisterFunc(dll, "WideCharToMultiByte", 8, k.wideCharToMultiByte)

	// Console
	r.RegisterFunc(dll, "GetStdHandle", 1, k.getStdHandle)
	r.RegisterFunc(dll, "WriteFile", 5, k.write("WriteFile"))
	r.RegisterFunc(dll, "WriteConsoleA", 5, k.write("WriteConsoleA"))
}

func (k *kernel32) lstrlenA(emu *emulator.Emulator) bool {
	n := uint32(len(emu.Mem.ReadCString(emu.Arg(0), stubs.MaxString)))
	k.r.Log(emu, dll, "lstrlenA", stubs.FormatPtr("len", n))
	stubs.ReturnFromStub(emu, n, 1)
	return false
}

func (k *kernel32) lstrlenW(emu *emulator.Emulator) bool {
	p := emu.Arg(0)
	var n uint32
	for p != 0 && n < stubs.MaxString && emu.Mem.ReadWord(p+2*n) != 0 {
		n++
	}
	k.r.Log(emu, dll, "lstrlenW", stubs.FormatPtr("len", n))
	stubs.ReturnFromStub(emu, n, 1)
	return false
}

func (k *kernel32) lstrcpyA(emu *emulator.Emulator) bool {
	dst, src := emu.Arg(0), emu.Arg(1)
	raw := emu.Mem.ReadCString(src, stubs.MaxString)
	w := stubs.NewWriter(emu, "lstrcpyA")
	w.Bytes(dst, append(raw, 0))
	if !w.Done() {
		return false
	}
	k.r.Log(emu, dll, "lstrcpyA", fmt.Sprintf("%q", raw))
	stubs.ReturnFromStub(emu, dst, 2)
	return false
}

func (k *kernel32) lstrcatA(emu *emulator.Emulator) bool {
	dst, src := emu.Arg(0), emu.Arg(1)
	end := dst + uint32(len(emu.Mem.ReadCString(dst, stubs.MaxString)))
	raw := emu.Mem.ReadCString(src, stubs.MaxString)
	w := stubs.NewWriter(emu, "lstrcatA")
	w.Bytes(end, append(raw, 0))
	if !w.Done() {
		return false
	}
	k.r.Log(emu, dll, "lstrcatA", fmt.Sprintf("%q", raw))
	stubs.ReturnFromStub(emu, dst, 2)
	return false
}

func (k *kernel32) lstrcmp(name string, fold bool) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		a, b := stubs.StringArg(emu, 0), stubs.StringArg(emu, 1)
		if fold {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		v := int32(strings.Compare(a, b))
		k.r.Log(emu, dll, name, fmt.Sprintf("%q %q = %d", a, b, v))
		stubs.ReturnFromStub(emu, uint32(v), 2)
		return false
	}
}

var (
	ansi  encoding.Encoding = charmap.Windows1252
	utf16 encoding.Encoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// multiByteToWideChar converts cb bytes (-1 for a NUL-terminated string,
// terminator included) to UTF-16. A zero destination size queries the
// required number of code units.
func (k *kernel32) multiByteToWideChar(emu *emulator.Emulator) bool {
	src, cb := emu.Arg(2), int32(emu.Arg(3))
	dst, cch := emu.Arg(4), emu.Arg(5)

	var raw []byte
	if cb < 0 {
		raw = append(emu.Mem.ReadCString(src, stubs.MaxString), 0)
	} else {
		raw = emu.Mem.Read(src, int(min(cb, stubs.MaxString)))
	}
	text, _ := ansi.NewDecoder().Bytes(raw)
	wide, _ := utf16.NewEncoder().Bytes(text)
	n := uint32(len(wide) / 2)

	ret := n
	switch {
	case cch == 0:
	case cch < n:
		SetLastError(emu, ErrorInsufficientBuf)
		ret = 0
	default:
		w := stubs.NewWriter(emu, "MultiByteToWideChar")
		w.Bytes(dst, wide)
		if !w.Done() {
			return false
		}
	}
	k.r.Log(emu, dll, "MultiByteToWideChar", fmt.Sprintf("%q units=%d", strings.TrimRight(string(text), "\x00"), n))
	stubs.ReturnFromStub(emu, ret, 6)
	return false
}

// wideCharToMultiByte is the inverse of multiByteToWideChar. Characters
// outside Windows-1252 become '?'.
func (k *kernel32) wideCharToMultiByte(emu *emulator.Emulator) bool {
	src, cch := emu.Arg(2), int32(emu.Arg(3))
	dst, cb := emu.Arg(4), emu.Arg(5)

	var raw []byte
	if cch < 0 {
		for i := uint32(0); i < stubs.MaxString; i++ {
			w := emu.Mem.ReadWord(src + 2*i)
			raw = append(raw, byte(w), byte(w>>8))
			if w == 0 {
				break
			}
		}
	} else {
		raw = emu.Mem.Read(src, 2*int(min(cch, stubs.MaxString)))
	}
	text, _ := utf16.NewDecoder().Bytes(raw)
	out := make([]byte, 0, len(text))
	for _, r := range string(text) {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	n := uint32(len(out))

	ret := n
	switch {
	case cb == 0:
	case cb < n:
		SetLastError(emu, ErrorInsufficientBuf)
		ret = 0
	default:
		w := stubs.NewWriter(emu, "WideCharToMultiByte")
		w.Bytes(dst, out)
		if !w.Done() {
			return false
		}
	}
	k.r.Log(emu, dll, "WideCharToMultiByte", fmt.Sprintf("%q bytes=%d", strings.TrimRight(string(text), "\x00"), n))
	stubs.ReturnFromStub(emu, ret, 8)
	return false
}

// getStdHandle maps STD_INPUT_HANDLE (-10), STD_OUTPUT_HANDLE (-11) and
// STD_ERROR_HANDLE (-12) to fixed handles.
func (k *kernel32) getStdHandle(emu *emulator.Emulator) bool {
	var h uint32
	switch int32(emu.Arg(0)) {
	case -10:
		h = StdInput
	case -11:
		h = StdOutput
	case -12:
		h = StdError
	default:
		h = 0xFFFFFFFF // INVALID_HANDLE_VALUE
		SetLastError(emu, ErrorInvalidHandle)
	}
	k.r.Log(emu, dll, "GetStdHandle", stubs.FormatPtr("handle", h))
	stubs.ReturnFromStub(emu, h, 1)
	return false
}

// write implements WriteFile and WriteConsoleA for the standard handles.
// Both take (handle, buffer, count, written*, reserved).
func (k *kernel32) write(name string) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		h, buf, n, written := emu.Arg(0), emu.Arg(1), emu.Arg(2), emu.Arg(3)
		if h != StdOutput && h != StdError {
			SetLastError(emu, ErrorInvalidHandle)
			k.r.Log(emu, dll, name, stubs.FormatPtr("bad handle", h))
			stubs.ReturnFromStub(emu, 0, 5)
			return false
		}
		raw := emu.Mem.Read(buf, int(min(n, 1<<20)))
		text, err := ansi.NewDecoder().Bytes(raw)
		if err != nil {
			text = raw
		}
		k.h.WriteConsole(string(text))
		if written != 0 {
			w := stubs.NewWriter(emu, name)
			w.Dword(written, uint32(len(raw)))
			if !w.Done() {
				return false
			}
		}
		k.r.Log(emu, dll, name, fmt.Sprintf("%q", text))
		stubs.ReturnFromStub(emu, 1, 5)
		return false
	}
}
