package stubs

import (
	"path"

	"github.com/zboralski/winemu/internal/emulator"
)

// String reads the NUL-terminated ANSI string at p; NULL reads as "".
func String(emu *emulator.Emulator, p uint32) string {
	if p == 0 {
		return ""
	}
	return emu.Mem.ReadString(p, MaxString)
}

// WideString reads the NUL-terminated UTF-16 string at p; NULL reads as "".
func WideString(emu *emulator.Emulator, p uint32) string {
	if p == 0 {
		return ""
	}
	return emu.Mem.ReadWideString(p, MaxString)
}

// StringArg reads the ANSI string pointed to by argument n.
func StringArg(emu *emulator.Emulator, n int) string {
	return String(emu, emu.Arg(n))
}

// WideArg reads the UTF-16 string pointed to by argument n.
func WideArg(emu *emulator.Emulator, n int) string {
	return WideString(emu, emu.Arg(n))
}

// Bool converts a Go bool to a Win32 BOOL.
func Bool(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// State returns the per-process value stored under key, creating it with
// init on first use.
func State[T any](emu *emulator.Emulator, key string, init func() T) T {
	if v, ok := emu.Value(key).(T); ok {
		return v
	}
	v := init()
	emu.SetValue(key, v)
	return v
}

// DefaultImageDir is the directory the guest believes it was started from.
const DefaultImageDir = `C:\winemu\`

// ImagePath returns the Windows path of the running executable.
func ImagePath(emu *emulator.Emulator) string {
	name := "app.exe"
	if img := emu.Image(); img != nil && img.Path != "" {
		name = path.Base(img.Path)
	}
	return DefaultImageDir + name
}

// CommandLine returns the configured command line, or the quoted image
// path when none is set.
func CommandLine(emu *emulator.Emulator) string {
	if cl := emu.Options().CommandLine; cl != "" {
		return cl
	}
	return `"` + ImagePath(emu) + `"`
}
