// Package user32 provides stub implementations for user32.dll. Message boxes
// and windows are forwarded to the host; the message loop is empty and
// GetMessage reports WM_QUIT straight away.
package user32

import (
	"fmt"
	"strings"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/stubs"
)

const dll = "user32"

const (
	WMQuit = 0x0012

	// DesktopWindow is the handle returned by GetDesktopWindow.
	DesktopWindow = 0x00010014
	// DeviceContext is the handle returned by GetDC.
	DeviceContext = 0x01010001

	firstAtom = 0xC000

	// wsprintf writes at most 1024 bytes including the terminator.
	wsprintfMax = 1024
)

// GetSystemMetrics values.
const (
	ScreenWidth  = 1024
	ScreenHeight = 768
)

type process struct {
	classes  map[string]uint32
	nextAtom uint32
	quit     uint32
}

func state(emu *emulator.Emulator) *process {
	return stubs.State(emu, "user32", func() *process {
		return &process{classes: make(map[string]uint32), nextAtom: firstAtom}
	})
}

type user32 struct {
	r *stubs.Registry
	h host.Host
}

// Register adds the user32 stubs to r.
func Register(r *stubs.Registry, h host.Host) {
	u := &user32{r: r, h: h}

	// Dialogs
	r.RegisterFunc(dll, "MessageBoxA", 4, u.messageBoxA)
	r.RegisterFunc(dll, "MessageBoxW", 4, u.messageBoxW)
	r.RegisterFunc(dll, "MessageBoxExA", 5, u.messageBoxExA)

	// Windows
	r.RegisterFunc(dll, "RegisterClassA", 1, u.registerClass("RegisterClassA", 36))
	r.RegisterFunc(dll, "RegisterClassExA", 1, u.registerClass("RegisterClassExA", 40))
	r.RegisterFunc(dll, "CreateWindowExA", 12, u.createWindowEx("CreateWindowExA", stubs.String))
	r.RegisterFunc(dll, "CreateWindowExW", 12, u.createWindowEx("CreateWindowExW", stubs.WideString))
	r.RegisterFunc(dll, "ShowWindow", 2, u.constant("ShowWindow", 0, 2))
	r.RegisterFunc(dll, "UpdateWindow", 1, u.constant("UpdateWindow", 1, 1))
	r.RegisterFunc(dll, "DestroyWindow", 1, u.constant("DestroyWindow", 1, 1))
	r.RegisterFunc(dll, "DefWindowProcA", 4, u.constant("DefWindowProcA", 0, 4))
	r.RegisterFunc(dll, "SetWindowTextA", 2, u.setWindowTextA)
	r.RegisterFunc(dll, "SendMessageA", 4, u.constant("SendMessageA", 0, 4))
	r.RegisterFunc(dll, "GetDesktopWindow", 0, u.constant("GetDesktopWindow", DesktopWindow, 0))
	r.RegisterFunc(dll, "GetDC", 1, u.constant("GetDC", DeviceContext, 1))
	r.RegisterFunc(dll, "ReleaseDC", 2, u.constant("ReleaseDC", 1, 2))
	r.RegisterFunc(dll, "LoadIconA", 2, u.loadResource("LoadIconA", 0x00020000))
	r.RegisterFunc(dll, "LoadCursorA", 2, u.loadResource("LoadCursorA", 0x00030000))
	r.RegisterFunc(dll, "GetSystemMetrics", 1, u.getSystemMetrics)

	// Message loop
	r.RegisterFunc(dll, "GetMessageA", 4, u.getMessageA)
	r.RegisterFunc(dll, "PeekMessageA", 5, u.constant("PeekMessageA", 0, 5))
	r.RegisterFunc(dll, "TranslateMessage", 1, u.constant("TranslateMessage", 0, 1))
	r.RegisterFunc(dll, "DispatchMessageA", 1, u.constant("DispatchMessageA", 0, 1))
	r.RegisterFunc(dll, "PostQuitMessage", 1, u.postQuitMessage)

	// Strings
	r.RegisterCdecl(dll, "wsprintfA", u.wsprintfA)
	r.RegisterFunc(dll, "wvsprintfA", 3, u.wvsprintfA)
	r.RegisterFunc(dll, "CharUpperA", 1, u.charUpperA)
}

func (u *user32) constant(name string, v uint32, nargs int) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		u.r.Log(emu, dll, name, stubs.FormatHex(v))
		stubs.ReturnFromStub(emu, v, nargs)
		return false
	}
}

// messageBox shows the box on the host. A NULL caption reads "Error" as on
// Windows.
func (u *user32) messageBox(emu *emulator.Emulator, name, text, caption string, style uint32, nargs int) bool {
	if caption == "" {
		caption = "Error"
	}
	icon, buttons := host.DecodeStyle(style)
	u.r.Log(emu, dll, name, fmt.Sprintf("%q %q icon=%s buttons=%s", caption, text, icon, buttons))
	ret := u.h.MessageBox(text, caption, icon, buttons)
	stubs.ReturnFromStub(emu, uint32(ret), nargs)
	return false
}

func (u *user32) messageBoxA(emu *emulator.Emulator) bool {
	return u.messageBox(emu, "MessageBoxA", stubs.StringArg(emu, 1), stubs.StringArg(emu, 2), emu.Arg(3), 4)
}

func (u *user32) messageBoxW(emu *emulator.Emulator) bool {
	return u.messageBox(emu, "MessageBoxW", stubs.WideArg(emu, 1), stubs.WideArg(emu, 2), emu.Arg(3), 4)
}

func (u *user32) messageBoxExA(emu *emulator.Emulator) bool {
	return u.messageBox(emu, "MessageBoxExA", stubs.StringArg(emu, 1), stubs.StringArg(emu, 2), emu.Arg(3), 5)
}

// className reads a class name argument, which may also be an atom.
func className(emu *emulator.Emulator, p uint32, read func(*emulator.Emulator, uint32) string) string {
	if p != 0 && p < 0x10000 {
		return fmt.Sprintf("#%d", p)
	}
	return read(emu, p)
}

// registerClass returns a stub for RegisterClass(Ex)A whose class-name
// pointer is at nameOff in the WNDCLASS structure.
func (u *user32) registerClass(name string, nameOff uint32) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		wc := emu.Arg(0)
		p := state(emu)
		cls := className(emu, emu.Mem.ReadDword(wc+nameOff), stubs.String)
		atom, ok := p.classes[cls]
		if !ok {
			atom = p.nextAtom
			p.nextAtom++
			p.classes[cls] = atom
		}
		u.r.Log(emu, dll, name, fmt.Sprintf("%q atom=0x%04x", cls, atom))
		stubs.ReturnFromStub(emu, atom, 1)
		return false
	}
}

// createWindowEx forwards CreateWindowEx(exStyle, class, title, style, x, y,
// w, h, parent, menu, instance, param) to the host.
func (u *user32) createWindowEx(name string, read func(*emulator.Emulator, uint32) string) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		w := host.Window{
			Class:  className(emu, emu.Arg(1), read),
			Title:  read(emu, emu.Arg(2)),
			Style:  emu.Arg(3),
			X:      int32(emu.Arg(4)),
			Y:      int32(emu.Arg(5)),
			Width:  int32(emu.Arg(6)),
			Height: int32(emu.Arg(7)),
		}
		hwnd := u.h.CreateWindow(w)
		u.r.Log(emu, dll, name, fmt.Sprintf("%s %q hwnd=0x%08x", w.Class, w.Title, hwnd))
		stubs.ReturnFromStub(emu, hwnd, 12)
		return false
	}
}

func (u *user32) setWindowTextA(emu *emulator.Emulator) bool {
	u.r.Log(emu, dll, "SetWindowTextA", fmt.Sprintf("hwnd=0x%08x %q", emu.Arg(0), stubs.StringArg(emu, 1)))
	stubs.ReturnFromStub(emu, 1, 2)
	return false
}

func (u *user32) loadResource(name string, base uint32) stubs.HookFunc {
	return func(emu *emulator.Emulator) bool {
		h := base | emu.Arg(1)&0xFFFF
		u.r.Log(emu, dll, name, stubs.FormatPtr("handle", h))
		stubs.ReturnFromStub(emu, h, 2)
		return false
	}
}

func (u *user32) getSystemMetrics(emu *emulator.Emulator) bool {
	var v uint32
	switch emu.Arg(0) {
	case 0: // SM_CXSCREEN
		v = ScreenWidth
	case 1: // SM_CYSCREEN
		v = ScreenHeight
	}
	u.r.Log(emu, dll, "GetSystemMetrics", fmt.Sprintf("%d = %d", emu.Arg(0), v))
	stubs.ReturnFromStub(emu, v, 1)
	return false
}

// getMessageA fills the MSG with WM_QUIT and returns 0 so message loops end.
func (u *user32) getMessageA(emu *emulator.Emulator) bool {
	msg := emu.Arg(0)
	if msg != 0 {
		w := stubs.NewWriter(emu, "GetMessageA")
		w.Bytes(msg, make([]byte, 28))
		w.Dword(msg+4, WMQuit)
		w.Dword(msg+8, state(emu).quit)
		if !w.Done() {
			return false
		}
	}
	u.r.Log(emu, dll, "GetMessageA", "WM_QUIT")
	stubs.ReturnFromStub(emu, 0, 4)
	return false
}

func (u *user32) postQuitMessage(emu *emulator.Emulator) bool {
	state(emu).quit = emu.Arg(0)
	u.r.Log(emu, dll, "PostQuitMessage", fmt.Sprintf("code=%d", emu.Arg(0)))
	stubs.ReturnFromStub(emu, 0, 1)
	return false
}

func (u *user32) format(emu *emulator.Emulator, name string, buf, fmtp, argp uint32) (uint32, bool) {
	s := stubs.Sprintf(emu, stubs.String(emu, fmtp), argp)
	if len(s) >= wsprintfMax {
		s = s[:wsprintfMax-1]
	}
	w := stubs.NewWriter(emu, name)
	n := w.String(buf, s)
	if !w.Done() {
		return 0, false
	}
	u.r.Log(emu, dll, name, fmt.Sprintf("%q", s))
	return uint32(n), true
}

// wsprintfA(buf, format, ...) is cdecl.
func (u *user32) wsprintfA(emu *emulator.Emulator) bool {
	n, ok := u.format(emu, "wsprintfA", emu.Arg(0), emu.Arg(1), emu.ESP()+12)
	if !ok {
		return false
	}
	stubs.ReturnFromStub(emu, n, 0)
	return false
}

func (u *user32) wvsprintfA(emu *emulator.Emulator) bool {
	n, ok := u.format(emu, "wvsprintfA", emu.Arg(0), emu.Arg(1), emu.Arg(2))
	if !ok {
		return false
	}
	stubs.ReturnFromStub(emu, n, 3)
	return false
}

// charUpperA converts a single character when the argument is below
// 0x10000, otherwise the string in place.
func (u *user32) charUpperA(emu *emulator.Emulator) bool {
	p := emu.Arg(0)
	if p < 0x10000 {
		c := strings.ToUpper(string(rune(byte(p))))
		v := uint32(byte(p))
		if len(c) == 1 {
			v = uint32(c[0])
		}
		u.r.Log(emu, dll, "CharUpperA", fmt.Sprintf("%q", rune(v)))
		stubs.ReturnFromStub(emu, v, 1)
		return false
	}
	s := strings.ToUpper(stubs.String(emu, p))
	w := stubs.NewWriter(emu, "CharUpperA")
	w.String(p, s)
	if !w.Done() {
		return false
	}
	u.r.Log(emu, dll, "CharUpperA", s)
	stubs.ReturnFromStub(emu, p, 1)
	return false
}
