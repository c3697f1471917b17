package host

import (
	"strings"
	"sync"
)

// MessageBoxCall is one recorded MessageBox request.
type MessageBoxCall struct {
	Text    string
	Caption string
	Icon    Icon
	Buttons Buttons
}

// Recorder is a Host that keeps every call for inspection. It answers
// message boxes with Answer, or the default button when Answer is nil.
type Recorder struct {
	mu sync.Mutex

	Answer func(MessageBoxCall) int

	boxes   []MessageBoxCall
	windows []Window
	debug   []string
	console strings.Builder
}

func (r *Recorder) MessageBox(text, caption string, icon Icon, buttons Buttons) int {
	r.mu.Lock()
	call := MessageBoxCall{Text: text, Caption: caption, Icon: icon, Buttons: buttons}
	r.boxes = append(r.boxes, call)
	answer := r.Answer
	r.mu.Unlock()

	if answer != nil {
		return answer(call)
	}
	return buttons.Default()
}

func (r *Recorder) CreateWindow(w Window) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
	return FirstWindowHandle + uint32(len(r.windows)-1)*0x10
}

func (r *Recorder) DebugOutput(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debug = append(r.debug, line)
}

func (r *Recorder) WriteConsole(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.console.WriteString(text)
}

// MessageBoxes returns the recorded message boxes.
func (r *Recorder) MessageBoxes() []MessageBoxCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MessageBoxCall(nil), r.boxes...)
}

// Windows returns the recorded CreateWindow requests.
func (r *Recorder) Windows() []Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Window(nil), r.windows...)
}

// Debug returns the recorded debug-output lines.
func (r *Recorder) Debug() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.debug...)
}

// Console returns everything written to the console.
func (r *Recorder) Console() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.console.String()
}
