// Package tui is a full-screen stepper: disassembly around eip, the
// register file and a scrolling log of API calls.
package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/zboralski/winemu/internal/disasm"
	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/x86"
)

// RunChunk bounds how many instructions one "run" key press executes.
const RunChunk = 100_000

type keyMap struct {
	Step key.Binding
	Over key.Binding
	Run  key.Binding
	Up   key.Binding
	Down key.Binding
	Help key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Step, k.Run, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Step, k.Over, k.Run},
		{k.Up, k.Down},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Step: key.NewBinding(key.WithKeys("s", "right"), key.WithHelp("s", "step")),
	Over: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "step 10")),
	Run:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "run")),
	Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll log")),
	Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll log")),
	Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	apiStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	faultStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

// Model is the bubbletea model.
type Model struct {
	emu  *emulator.Emulator
	syms *disasm.Symbols

	keys keyMap
	help help.Model
	log  viewport.Model

	lines   []string
	width   int
	height  int
	outcome *emulator.Outcome
}

// New returns a model over emu. It enables trace collection to feed the
// API log.
func New(emu *emulator.Emulator) Model {
	if !emu.TraceEnabled() {
		emu.EnableTrace(0)
	}
	return Model{
		emu:    emu,
		syms:   disasm.FromEmulator(emu),
		keys:   keys,
		help:   help.New(),
		log:    viewport.New(80, 8),
		width:  100,
		height: 30,
	}
}

// Outcome returns how the process stopped, or nil while it can still run.
func (m Model) Outcome() *emulator.Outcome { return m.outcome }

// APILog returns the API calls seen so far.
func (m Model) APILog() []string { return m.lines }

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Step):
			m.steps(1)
		case key.Matches(msg, m.keys.Over):
			m.steps(10)
		case key.Matches(msg, m.keys.Run):
			m.steps(RunChunk)
		default:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	m.help.Width = w
	m.log.Width = max(w-4, 20)
	m.log.Height = max(h/3-2, 3)
}

func (m *Model) steps(n int) {
	for i := 0; i < n && m.outcome == nil; i++ {
		if out, _ := m.emu.Step(); out != nil {
			m.outcome = out
		}
	}
	m.drain()
}

// drain moves new trace events into the API log.
func (m *Model) drain() {
	events := m.emu.GetTraceEvents()
	if len(events) == 0 {
		return
	}
	m.emu.ClearTrace()
	for _, e := range events {
		m.lines = append(m.lines, fmt.Sprintf("%08X  %-10s %s", e.Address, e.Tag, e.Detail))
	}
	m.log.SetContent(apiStyle.Render(strings.Join(m.lines, "\n")))
	m.log.GotoBottom()
}

func (m Model) View() string {
	code := m.codeView()
	regs := m.regsView()
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(titleStyle.Render("code")+"\n"+code),
		paneStyle.Render(titleStyle.Render("registers")+"\n"+regs),
	)
	api := paneStyle.Width(max(m.width-2, 20)).Render(titleStyle.Render("api calls") + "\n" + m.log.View())
	return lipgloss.JoinVertical(lipgloss.Left, top, api, m.status(), m.help.View(m.keys))
}

func (m Model) codeView() string {
	eip := m.emu.EIP()
	if name, ok := m.emu.APIName(eip); ok {
		return currentStyle.Render(fmt.Sprintf("=> %08X  <%s>", eip, name))
	}
	n := max(m.height-m.log.Height-10, 4)
	var b strings.Builder
	for i, l := range disasm.Range(m.emu.Mem, eip, n, m.syms) {
		text := fmt.Sprintf("%08X  %-16s %s", l.Addr, l.HexBytes(), l.Text)
		if l.Ref != "" {
			text += "  ; " + l.Ref
		}
		if i == 0 {
			b.WriteString(currentStyle.Render("=> " + text))
		} else {
			b.WriteString("   " + text)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) regsView() string {
	c := m.emu.CPU
	var b strings.Builder
	for r := x86.EAX; r <= x86.EDI; r++ {
		fmt.Fprintf(&b, "%s %08X\n", strings.ToUpper(r.String()), c.Reg32(r))
	}
	fmt.Fprintf(&b, "EIP %08X\n", c.EIP())
	fmt.Fprintf(&b, "FLG %08X\n", c.Flags.Value())
	fmt.Fprintf(&b, "    %s", c.Flags)
	return b.String()
}

func (m Model) status() string {
	s := fmt.Sprintf("%d instructions  %d api calls", m.emu.CPU.Instructions, len(m.lines))
	if m.outcome == nil {
		return statusStyle.Render(s)
	}
	st := statusStyle
	if !m.outcome.Normal() {
		st = faultStyle
	}
	return st.Render(s + "  " + m.outcome.String())
}

// Run shows the TUI on the terminal until the user quits.
func Run(emu *emulator.Emulator) (*emulator.Outcome, error) {
	m := New(emu)
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		m.resize(w, h)
	}
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return nil, fmt.Errorf("run tui: %w", err)
	}
	return final.(Model).Outcome(), nil
}
