package user32_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/memory"
	"github.com/zboralski/winemu/internal/stubs/stubtest"
	"github.com/zboralski/winemu/internal/stubs/user32"
)

const (
	mbYesNo           = 0x04
	mbIconExclamation = 0x30
	mbIconHand        = 0x10
)

func TestMessageBoxA(t *testing.T) {
	p := stubtest.New(t, user32.Register)

	res := p.Call(t, "MessageBoxA", 0, p.String("Overwrite?"), p.String("Setup"), mbYesNo|mbIconExclamation)
	assert.Equal(t, uint32(host.IDYES), res.EAX)
	assert.Equal(t, 4, res.Released)

	boxes := p.Host.MessageBoxes()
	require.Len(t, boxes, 1)
	assert.Equal(t, host.MessageBoxCall{
		Text:    "Overwrite?",
		Caption: "Setup",
		Icon:    host.IconExclamation,
		Buttons: host.ButtonsYesNo,
	}, boxes[0])
}

func TestMessageBoxAnswer(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	p.Host.Answer = func(host.MessageBoxCall) int { return host.IDNO }

	assert.Equal(t, uint32(host.IDNO), p.Call(t, "MessageBoxA", 0, p.String("q"), p.String("c"), mbYesNo).EAX)
}

func TestMessageBoxNullCaption(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	res := p.Call(t, "MessageBoxW", 0, p.WideString("échec"), 0, mbIconHand)
	assert.Equal(t, uint32(host.IDOK), res.EAX)

	boxes := p.Host.MessageBoxes()
	require.Len(t, boxes, 1)
	assert.Equal(t, "échec", boxes[0].Text)
	assert.Equal(t, "Error", boxes[0].Caption)
	assert.Equal(t, host.IconHand, boxes[0].Icon)
	assert.Equal(t, host.ButtonsOK, boxes[0].Buttons)
}

func TestMessageBoxExA(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	res := p.Call(t, "MessageBoxExA", 0, p.String("t"), p.String("c"), 0, 0x409)
	assert.Equal(t, 5, res.Released)
}

func TestRegisterClass(t *testing.T) {
	p := stubtest.New(t, user32.Register)

	wcx := p.Buffer(48)
	p.Emu.Mem.WriteDword(wcx, 48)
	p.Emu.Mem.WriteDword(wcx+40, p.String("MainWnd"))
	res := p.Call(t, "RegisterClassExA", wcx)
	assert.Equal(t, uint32(0xC000), res.EAX)
	assert.Equal(t, 1, res.Released)
	assert.Equal(t, uint32(0xC000), p.Call(t, "RegisterClassExA", wcx).EAX)

	wc := p.Buffer(40)
	p.Emu.Mem.WriteDword(wc+36, p.String("Other"))
	assert.Equal(t, uint32(0xC001), p.Call(t, "RegisterClassA", wc).EAX)
}

func TestCreateWindow(t *testing.T) {
	p := stubtest.New(t, user32.Register)

	res := p.Call(t, "CreateWindowExA", 0, p.String("MainWnd"), p.String("Hello"), 0x00CF0000,
		10, 20, 300, 200, 0, 0, 0x400000, 0)
	assert.Equal(t, uint32(host.FirstWindowHandle), res.EAX)
	assert.Equal(t, 12, res.Released)

	second := p.Call(t, "CreateWindowExW", 0, 0xC000, p.WideString("Wide"), 0,
		0xFFFFFFFF, 0, 640, 480, 0, 0, 0, 0)
	assert.Equal(t, uint32(host.FirstWindowHandle+0x10), second.EAX)

	windows := p.Host.Windows()
	require.Len(t, windows, 2)
	assert.Equal(t, host.Window{Class: "MainWnd", Title: "Hello", X: 10, Y: 20, Width: 300, Height: 200, Style: 0x00CF0000}, windows[0])
	assert.Equal(t, "#49152", windows[1].Class)
	assert.Equal(t, "Wide", windows[1].Title)
	assert.Equal(t, int32(-1), windows[1].X)

	assert.Equal(t, 2, p.Call(t, "ShowWindow", res.EAX, 5).Released)
	assert.Equal(t, uint32(1), p.Call(t, "UpdateWindow", res.EAX).EAX)
	assert.Equal(t, uint32(1), p.Call(t, "SetWindowTextA", res.EAX, p.String("title")).EAX)
}

func TestMessageLoop(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	msg := p.Buffer(28)
	p.Emu.Mem.WriteDword(msg+4, 0x0F)

	p.Call(t, "PostQuitMessage", 3)
	res := p.Call(t, "GetMessageA", msg, 0, 0, 0)
	assert.Equal(t, uint32(0), res.EAX)
	assert.Equal(t, 4, res.Released)
	assert.Equal(t, uint32(user32.WMQuit), p.Emu.Mem.ReadDword(msg+4))
	assert.Equal(t, uint32(3), p.Emu.Mem.ReadDword(msg+8))

	assert.Equal(t, uint32(0), p.Call(t, "PeekMessageA", msg, 0, 0, 0, 1).EAX)
	assert.Equal(t, 1, p.Call(t, "TranslateMessage", msg).Released)
	assert.Equal(t, 1, p.Call(t, "DispatchMessageA", msg).Released)
}

func TestResourcesAndMetrics(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	assert.Equal(t, uint32(0x00027F00), p.Call(t, "LoadIconA", 0, 32512).EAX)
	assert.Equal(t, uint32(0x00037F00), p.Call(t, "LoadCursorA", 0, 32512).EAX)
	assert.Equal(t, uint32(user32.ScreenWidth), p.Call(t, "GetSystemMetrics", 0).EAX)
	assert.Equal(t, uint32(user32.ScreenHeight), p.Call(t, "GetSystemMetrics", 1).EAX)
	assert.Equal(t, uint32(0), p.Call(t, "GetSystemMetrics", 99).EAX)
	assert.Equal(t, uint32(user32.DesktopWindow), p.Call(t, "GetDesktopWindow").EAX)
	assert.Equal(t, uint32(user32.DeviceContext), p.Call(t, "GetDC", 0).EAX)
}

func TestWsprintf(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	buf := p.Buffer(64)

	res := p.Call(t, "wsprintfA", buf, p.String("%s=%d"), p.String("x"), 42)
	assert.Equal(t, uint32(4), res.EAX)
	assert.Equal(t, 0, res.Released, "cdecl")
	assert.Equal(t, "x=42", p.Emu.Mem.ReadString(buf, 64))

	args := p.Buffer(8)
	p.Emu.Mem.WriteDword(args, 0xBEEF)
	res = p.Call(t, "wvsprintfA", buf, p.String("%04X"), args)
	assert.Equal(t, 3, res.Released)
	assert.Equal(t, "BEEF", p.Emu.Mem.ReadString(buf, 64))
}

func TestCharUpper(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	s := p.String("abc1")
	assert.Equal(t, s, p.Call(t, "CharUpperA", s).EAX)
	assert.Equal(t, "ABC1", p.Emu.Mem.ReadString(s, 16))

	assert.Equal(t, uint32('A'), p.Call(t, "CharUpperA", 'a').EAX)
}

func TestFormatIntoProtectedCodeFaults(t *testing.T) {
	p := stubtest.New(t, user32.Register)
	buf := p.Buffer(64)
	format := p.String("%d")
	p.Emu.Mem.Protect(buf, 64)

	out, err := p.Fault(t, "wsprintfA", buf, format, 42)
	assert.ErrorIs(t, err, memory.ErrSelfModifyingCode)
	assert.Contains(t, out.Detail, "wsprintfA")
	assert.Empty(t, p.Emu.Mem.ReadString(buf, 64))
}
