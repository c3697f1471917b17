package debugger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/pe/petest"
	"github.com/zboralski/winemu/internal/stubs/all"
	"github.com/zboralski/winemu/internal/ui/colorize"
)

type fixture struct {
	d    *Debugger
	out  *bytes.Buffer
	info *emulator.PEInfo
}

// newFixture loads: mov eax, 1; inc eax; push 7; call [ExitProcess]
func newFixture(t *testing.T) *fixture {
	t.Helper()
	colorize.SetEnabled(false)
	t.Cleanup(func() { colorize.SetEnabled(false) })

	b := petest.New()
	b.Import("kernel32.dll", "ExitProcess")
	code := []byte{
		0xB8, 0x01, 0x00, 0x00, 0x00,
		0x40,
		0x6A, 0x07,
		0xFF, 0x15,
	}
	code = binary.LittleEndian.AppendUint32(code, b.IAT("ExitProcess"))
	b.Code(code)

	emu, err := emulator.New()
	require.NoError(t, err)
	info, err := emu.LoadPE(b.Bytes())
	require.NoError(t, err)
	all.NewRegistry(&host.Recorder{}).Install(emu, info.Imports)

	out := &bytes.Buffer{}
	return &fixture{d: New(emu, out), out: out, info: info}
}

func TestStepAndRepeat(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.Exec("step"))
	assert.Equal(t, f.info.Entry+5, f.d.emu.EIP())
	assert.Contains(t, f.out.String(), "inc eax")

	// an empty line repeats the last command
	require.NoError(t, f.d.Exec(""))
	assert.Equal(t, f.info.Entry+6, f.d.emu.EIP())
	assert.Equal(t, uint32(2), f.d.emu.EAX())

	f.out.Reset()
	require.NoError(t, f.d.Exec("regs"))
	assert.Contains(t, f.out.String(), "eax=00000002")
	assert.Contains(t, f.out.String(), "eip=")
}

func TestStepCount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.Exec("s 3"))
	assert.Equal(t, f.info.Entry+8, f.d.emu.EIP())

	f.out.Reset()
	require.NoError(t, f.d.Exec("stack 1"))
	assert.Contains(t, f.out.String(), "00000007")

	assert.ErrorContains(t, f.d.Exec("step zero"), "bad count")
}

func TestBreakOnAPI(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.Exec("break ExitProcess"))
	assert.Equal(t, []uint32{f.info.Imports["ExitProcess"]}, f.d.Breakpoints())

	require.NoError(t, f.d.Exec("continue"))
	assert.Equal(t, f.info.Imports["ExitProcess"], f.d.emu.EIP())
	assert.Contains(t, f.out.String(), "breakpoint")
	assert.Contains(t, f.out.String(), "<ExitProcess>")
	assert.Nil(t, f.d.Outcome)

	f.out.Reset()
	require.NoError(t, f.d.Exec("calls"))
	assert.Contains(t, f.out.String(), "ExitProcess")

	require.NoError(t, f.d.Exec("c"))
	require.NotNil(t, f.d.Outcome)
	assert.Equal(t, emulator.ReasonExit, f.d.Outcome.Reason)
	assert.Equal(t, uint32(7), f.d.Outcome.ExitCode)

	assert.ErrorIs(t, f.d.Exec("step"), ErrStopped)
}

func TestBreakpointsList(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.Exec("break"))
	assert.Contains(t, f.out.String(), "no breakpoints")

	require.NoError(t, f.d.Exec("b start"))
	next := f.info.Entry + 5
	require.NoError(t, f.d.Exec(fmt.Sprintf("b 0x%x", next)))
	assert.Equal(t, []uint32{f.info.Entry, next}, f.d.Breakpoints())

	require.NoError(t, f.d.Exec("delete start"))
	assert.Equal(t, []uint32{next}, f.d.Breakpoints())
	assert.ErrorContains(t, f.d.Exec("delete start"), "no breakpoint")

	require.NoError(t, f.d.Exec("d"))
	assert.Empty(t, f.d.Breakpoints())

	assert.ErrorContains(t, f.d.Exec("b nowhere_at_all"), "unknown address or symbol")
}

func TestDisassembleAndDump(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.Exec("dis start 4"))
	out := f.out.String()
	assert.Contains(t, out, "=> ")
	assert.Contains(t, out, "mov eax, 0x1")
	assert.Contains(t, out, "push 0x7")
	assert.Contains(t, out, "; __imp_ExitProcess")

	f.out.Reset()
	require.NoError(t, f.d.Exec("mem start 5"))
	assert.Contains(t, f.out.String(), "b8 01 00 00 00")

	assert.Error(t, f.d.Exec("mem"))
}

func TestUnknownAndQuit(t *testing.T) {
	f := newFixture(t)
	assert.ErrorContains(t, f.d.Exec("frobnicate"), "unknown command")
	assert.ErrorIs(t, f.d.Exec("quit"), ErrQuit)

	require.NoError(t, f.d.Exec("help"))
	assert.Contains(t, f.out.String(), "continue")
}
