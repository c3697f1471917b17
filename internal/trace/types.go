// Package trace provides types for trace event collection and analysis.
package trace

import "strings"

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events.
const (
	Kernel32 Tag = "kernel32"
	User32   Tag = "user32"
	Msvcrt   Tag = "msvcrt"
	Fallback Tag = "fallback"

	Dialog  Tag = "dialog"
	Window  Tag = "window"
	Heap    Tag = "heap"
	Console Tag = "console"
	Dynload Tag = "dynload"
	String  Tag = "string"
	Time    Tag = "time"
	TLS     Tag = "tls"
	Exit    Tag = "exit"
	Startup Tag = "crt"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for trace events.
type Annotations map[string]string

// Event is one API call seen during a run.
type Event struct {
	PC          uint32      // return address of the call
	Tags        Tags        // first is the DLL
	Name        string      // e.g. "MessageBoxA"
	Detail      string      // e.g. `"Hello" icon=information`
	Annotations Annotations // Key-value metadata
}

// NewEvent creates a new trace event with the given parameters.
func NewEvent(pc uint32, category, name, detail string) *Event {
	return &Event{
		PC:          pc,
		Tags:        Tags{Tag(category)},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
	}
}

// Parse builds an event from a "#category" tag and a "name detail" string,
// the form the emulator records.
func Parse(pc uint32, tag, text string) *Event {
	name, detail, _ := strings.Cut(text, " ")
	return NewEvent(pc, strings.TrimPrefix(tag, "#"), name, detail)
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations[k] = v
}

// PrimaryTag returns the primary (first) tag with # prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Enricher enriches trace events based on category and name.
type Enricher func(e *Event)

// DefaultEnricher adds tags describing what an API call does.
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 {
		return
	}

	switch name := e.Name; {
	case strings.HasPrefix(name, "Tls"):
		e.AddTag(TLS)
	case strings.HasPrefix(name, "MessageBox"):
		e.AddTag(Dialog)
	case strings.HasPrefix(name, "CreateWindow"), strings.HasPrefix(name, "RegisterClass"),
		name == "ShowWindow", name == "GetMessageA", name == "PostQuitMessage":
		e.AddTag(Window)
	case strings.HasSuffix(name, "Alloc"), name == "malloc", name == "calloc",
		strings.HasSuffix(name, "Free"),
		name == "free", name == "HeapCreate", name == "GetProcessHeap":
		e.AddTag(Heap)
	case name == "WriteFile", name == "WriteConsoleA", name == "printf", name == "puts",
		strings.HasPrefix(name, "OutputDebugString"):
		e.AddTag(Console)
	case name == "LoadLibraryA", name == "FreeLibrary", name == "GetProcAddress",
		strings.HasPrefix(name, "GetModuleHandle"):
		e.AddTag(Dynload)
	case strings.HasPrefix(name, "lstr"), strings.HasPrefix(name, "str"), strings.HasPrefix(name, "mem"),
		strings.Contains(name, "sprintf"), strings.HasSuffix(name, "ToWideChar"), strings.HasSuffix(name, "ToMultiByte"):
		e.AddTag(String)
	case name == "GetTickCount", strings.HasPrefix(name, "QueryPerformance"), name == "GetSystemTimeAsFileTime", name == "Sleep":
		e.AddTag(Time)
	case name == "ExitProcess", name == "TerminateProcess", name == "exit", name == "_exit":
		e.AddTag(Exit)
	case strings.HasPrefix(name, "__"), name == "_initterm", name == "_controlfp", name == "_cexit":
		e.AddTag(Startup)
	}
}
