package host

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeStyle(t *testing.T) {
	tests := []struct {
		style   uint32
		icon    Icon
		buttons Buttons
	}{
		{0x00, IconNone, ButtonsOK},
		{0x10, IconError, ButtonsOK},
		{0x21, IconQuestion, ButtonsOKCancel},
		{0x24, IconQuestion, ButtonsYesNo},
		{0x30, IconWarning, ButtonsOK},
		{0x43, IconInformation, ButtonsYesNoCancel},
		{0x06, IconNone, ButtonsCancelTryContinue},
		{0x0F, IconNone, ButtonsOK},
		{0x80, IconNone, ButtonsOK},
		{0x40042, IconInformation, ButtonsAbortRetryIgnore},
	}
	for _, tt := range tests {
		icon, buttons := DecodeStyle(tt.style)
		assert.Equal(t, tt.icon, icon, "style 0x%x", tt.style)
		assert.Equal(t, tt.buttons, buttons, "style 0x%x", tt.style)
	}
}

func TestButtonResults(t *testing.T) {
	assert.Equal(t, []int{IDOK}, ButtonsOK.Results())
	assert.Equal(t, []int{IDYES, IDNO, IDCANCEL}, ButtonsYesNoCancel.Results())
	assert.Equal(t, []string{"Retry", "Cancel"}, ButtonsRetryCancel.Labels())
	assert.Equal(t, IDCANCEL, ButtonsCancelTryContinue.Default())
	assert.Equal(t, IDABORT, ButtonsAbortRetryIgnore.Default())
	assert.Equal(t, IDOK, Buttons(42).Default())
}

func TestConsoleMessageBox(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)

	got := c.MessageBox("Hello, world", "Greeting", IconInformation, ButtonsYesNo)
	assert.Equal(t, IDYES, got)
	assert.Contains(t, out.String(), "Hello, world")
	assert.Contains(t, out.String(), "Greeting")
	assert.Contains(t, out.String(), "Yes")
	assert.Contains(t, out.String(), "No")
}

func TestConsoleWindowsAndOutput(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)

	a := c.CreateWindow(Window{Class: "MainWnd", Title: "Demo", Width: 640, Height: 480})
	b := c.CreateWindow(Window{Class: "MainWnd"})
	assert.Equal(t, uint32(FirstWindowHandle), a)
	assert.NotEqual(t, a, b)
	assert.NotZero(t, b)

	c.DebugOutput("checkpoint\r\n")
	c.WriteConsole("raw text")
	assert.Contains(t, out.String(), "checkpoint")
	assert.Contains(t, out.String(), "raw text")
	assert.Contains(t, out.String(), `"Demo"`)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	assert.Equal(t, IDOK, r.MessageBox("a", "b", IconNone, ButtonsOKCancel))

	r.Answer = func(c MessageBoxCall) int {
		if c.Caption == "Quit?" {
			return IDNO
		}
		return IDYES
	}
	assert.Equal(t, IDNO, r.MessageBox("sure", "Quit?", IconQuestion, ButtonsYesNo))

	boxes := r.MessageBoxes()
	assert.Len(t, boxes, 2)
	assert.Equal(t, IconQuestion, boxes[1].Icon)

	h1 := r.CreateWindow(Window{Class: "A"})
	h2 := r.CreateWindow(Window{Class: "B"})
	assert.NotEqual(t, h1, h2)
	assert.Len(t, r.Windows(), 2)

	r.DebugOutput("x")
	r.WriteConsole("one ")
	r.WriteConsole("two")
	assert.Equal(t, []string{"x"}, r.Debug())
	assert.Equal(t, "one two", r.Console())
}
