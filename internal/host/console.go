package host

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// FirstWindowHandle is the handle given to the first window a host creates.
const FirstWindowHandle = 0x00010010

var iconGlyphs = [...]string{"", "(x)", "(?)", "(!)", "(i)"}

// Console renders host callbacks on a terminal. Message boxes are answered
// with their default button.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	next uint32

	box     lipgloss.Style
	caption lipgloss.Style
	btn     lipgloss.Style
	dim     lipgloss.Style
}

// NewConsole creates a console host writing to out.
func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:     out,
		next:    FirstWindowHandle,
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		caption: r.NewStyle().Bold(true),
		btn:     r.NewStyle().Reverse(true).Padding(0, 1),
		dim:     r.NewStyle().Faint(true),
	}
}

func (c *Console) MessageBox(text, caption string, icon Icon, buttons Buttons) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := text
	if icon > IconNone && int(icon) < len(iconGlyphs) {
		body = iconGlyphs[icon] + " " + text
	}
	labels := buttons.Labels()
	for i, l := range labels {
		labels[i] = c.btn.Render(l)
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		c.caption.Render(caption),
		"",
		body,
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, labels...),
	)
	fmt.Fprintln(c.out, c.box.Render(content))
	return buttons.Default()
}

func (c *Console) CreateWindow(w Window) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.next
	c.next += 0x10
	fmt.Fprintln(c.out, c.dim.Render(fmt.Sprintf("[window 0x%08x] %s %q %dx%d at (%d,%d) style 0x%08x",
		h, w.Class, w.Title, w.Width, w.Height, w.X, w.Y, w.Style)))
	return h
}

func (c *Console) DebugOutput(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.dim.Render("[debug] "+strings.TrimRight(line, "\r\n")))
}

func (c *Console) WriteConsole(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, text)
}
