// Package host defines the callbacks emulated Win32 APIs use to reach the
// outside world: message boxes, windows, debug output and the console.
package host

import "fmt"

// Icon is the icon part of a MessageBox style.
type Icon int

const (
	IconNone Icon = iota
	IconHand
	IconQuestion
	IconExclamation
	IconAsterisk

	IconError       = IconHand
	IconWarning     = IconExclamation
	IconInformation = IconAsterisk
)

var iconNames = [...]string{"none", "error", "question", "warning", "information"}

func (i Icon) String() string {
	if i >= 0 && int(i) < len(iconNames) {
		return iconNames[i]
	}
	return fmt.Sprintf("icon(%d)", int(i))
}

// Buttons is the button-set part of a MessageBox style.
type Buttons int

const (
	ButtonsOK Buttons = iota
	ButtonsOKCancel
	ButtonsAbortRetryIgnore
	ButtonsYesNoCancel
	ButtonsYesNo
	ButtonsRetryCancel
	ButtonsCancelTryContinue
)

// MessageBox results.
const (
	IDOK       = 1
	IDCANCEL   = 2
	IDABORT    = 3
	IDRETRY    = 4
	IDIGNORE   = 5
	IDYES      = 6
	IDNO       = 7
	IDTRYAGAIN = 10
	IDCONTINUE = 11
)

type button struct {
	label string
	id    int
}

var buttonSets = [...][]button{
	ButtonsOK:                {{"OK", IDOK}},
	ButtonsOKCancel:          {{"OK", IDOK}, {"Cancel", IDCANCEL}},
	ButtonsAbortRetryIgnore:  {{"Abort", IDABORT}, {"Retry", IDRETRY}, {"Ignore", IDIGNORE}},
	ButtonsYesNoCancel:       {{"Yes", IDYES}, {"No", IDNO}, {"Cancel", IDCANCEL}},
	ButtonsYesNo:             {{"Yes", IDYES}, {"No", IDNO}},
	ButtonsRetryCancel:       {{"Retry", IDRETRY}, {"Cancel", IDCANCEL}},
	ButtonsCancelTryContinue: {{"Cancel", IDCANCEL}, {"Try Again", IDTRYAGAIN}, {"Continue", IDCONTINUE}},
}

func (b Buttons) set() []button {
	if b < 0 || int(b) >= len(buttonSets) {
		return buttonSets[ButtonsOK]
	}
	return buttonSets[b]
}

// Labels returns the button captions in display order.
func (b Buttons) Labels() []string {
	set := b.set()
	out := make([]string, len(set))
	for i, btn := range set {
		out[i] = btn.label
	}
	return out
}

// Results returns the IDxxx value of each button in display order.
func (b Buttons) Results() []int {
	set := b.set()
	out := make([]int, len(set))
	for i, btn := range set {
		out[i] = btn.id
	}
	return out
}

// Default is the result of pressing the first button.
func (b Buttons) Default() int {
	return b.set()[0].id
}

func (b Buttons) String() string {
	switch b {
	case ButtonsOK:
		return "ok"
	case ButtonsOKCancel:
		return "ok-cancel"
	case ButtonsAbortRetryIgnore:
		return "abort-retry-ignore"
	case ButtonsYesNoCancel:
		return "yes-no-cancel"
	case ButtonsYesNo:
		return "yes-no"
	case ButtonsRetryCancel:
		return "retry-cancel"
	case ButtonsCancelTryContinue:
		return "cancel-try-continue"
	}
	return fmt.Sprintf("buttons(%d)", int(b))
}

// DecodeStyle splits a MessageBox uType into its icon and button set.
// Unknown values decode to IconNone and ButtonsOK.
func DecodeStyle(style uint32) (Icon, Buttons) {
	icon := Icon((style >> 4) & 0xF)
	if icon > IconAsterisk {
		icon = IconNone
	}
	buttons := Buttons(style & 0xF)
	if buttons > ButtonsCancelTryContinue {
		buttons = ButtonsOK
	}
	return icon, buttons
}

// Window is a CreateWindowEx request.
type Window struct {
	Class  string
	Title  string
	X, Y   int32
	Width  int32
	Height int32
	Style  uint32
}

// Host receives the side effects of emulated APIs.
type Host interface {
	// MessageBox shows a message box and returns the IDxxx of the chosen button.
	MessageBox(text, caption string, icon Icon, buttons Buttons) int
	// CreateWindow returns an opaque, non-zero window handle.
	CreateWindow(w Window) uint32
	DebugOutput(line string)
	WriteConsole(text string)
}
