package tui

import (
	"encoding/binary"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/pe/petest"
	"github.com/zboralski/winemu/internal/stubs/all"
)

func newModel(t *testing.T) (Model, *emulator.PEInfo) {
	t.Helper()
	b := petest.New()
	b.Import("kernel32.dll", "ExitProcess")
	code := []byte{
		0xB8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
		0x6A, 0x03, // push 3
		0xFF, 0x15, // call [ExitProcess]
	}
	code = binary.LittleEndian.AppendUint32(code, b.IAT("ExitProcess"))
	b.Code(code)

	emu, err := emulator.New()
	require.NoError(t, err)
	info, err := emu.LoadPE(b.Bytes())
	require.NoError(t, err)
	all.NewRegistry(&host.Recorder{}).Install(emu, info.Imports)
	return New(emu), info
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	return next.(Model), cmd
}

func TestStepKey(t *testing.T) {
	m, info := newModel(t)
	m, _ = press(t, m, "s")
	assert.Equal(t, info.Entry+5, m.emu.EIP())
	assert.Nil(t, m.Outcome())

	view := m.View()
	assert.Contains(t, view, "EAX 00000001")
	assert.Contains(t, view, "push 0x3")
}

func TestRunToExit(t *testing.T) {
	m, _ := newModel(t)
	m, _ = press(t, m, "c")
	require.NotNil(t, m.Outcome())
	assert.Equal(t, emulator.ReasonExit, m.Outcome().Reason)
	assert.Equal(t, uint32(3), m.Outcome().ExitCode)

	require.Len(t, m.APILog(), 1)
	assert.Contains(t, m.APILog()[0], "#kernel32")
	assert.Contains(t, m.APILog()[0], "ExitProcess")
	assert.Contains(t, m.View(), "exit at")

	// further steps are ignored once stopped
	m, _ = press(t, m, "s")
	assert.Equal(t, emulator.ReasonExit, m.Outcome().Reason)
}

func TestResizeAndQuit(t *testing.T) {
	m, _ := newModel(t)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(Model)
	assert.Equal(t, 116, m.log.Width)
	assert.Equal(t, 11, m.log.Height)

	m, _ = press(t, m, "?")
	assert.True(t, m.help.ShowAll)

	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
