// Package stubtest drives individual stubs without a guest image: it pushes
// arguments and a return address, points eip at the sentinel and steps once.
package stubtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/stubs"
	"github.com/zboralski/winemu/internal/x86"
)

// Process is an emulator with a registry and a recording host.
type Process struct {
	Emu  *emulator.Emulator
	Reg  *stubs.Registry
	Host *host.Recorder
}

// Result is the state after a stub returned.
type Result struct {
	EAX uint32
	// Released is the number of argument dwords the stub popped.
	Released int
	// Return is where execution continues.
	Return uint32
}

// New creates a process and lets register fill the registry.
func New(t testing.TB, register func(*stubs.Registry, host.Host), opts ...emulator.Option) *Process {
	t.Helper()
	emu, err := emulator.New(opts...)
	require.NoError(t, err)
	emu.EnableTrace(0)
	p := &Process{Emu: emu, Reg: stubs.NewRegistry(), Host: &host.Recorder{}}
	register(p.Reg, p.Host)
	return p
}

// String allocates s as an ANSI string and returns its address.
func (p *Process) String(s string) uint32 {
	a := p.Emu.Malloc(uint32(len(s) + 1))
	p.Emu.Mem.WriteString(a, s)
	return a
}

// WideString allocates s as a UTF-16 string.
func (p *Process) WideString(s string) uint32 {
	a := p.Emu.Malloc(uint32(2*len(s) + 2))
	p.Emu.Mem.WriteWideString(a, s)
	return a
}

// Buffer allocates n zeroed bytes.
func (p *Process) Buffer(n uint32) uint32 {
	return p.Emu.Malloc(n)
}

// enter pushes args and a return address and points eip at the stub bound
// to name. It returns the stub address and esp on entry.
func (p *Process) enter(t testing.TB, name string, args []uint32) (uint32, uint32) {
	t.Helper()
	emu := p.Emu
	addr, fresh := emu.ResolveAPI(name)
	require.NotZero(t, addr)
	if fresh {
		p.Reg.Bind(emu, name, addr)
	}

	for i := len(args) - 1; i >= 0; i-- {
		require.NoError(t, emu.CPU.Push(args[i]))
	}
	require.NoError(t, emu.CPU.Push(x86.ExitAddress))
	emu.CPU.SetEIP(addr)
	return addr, emu.ESP()
}

// Call invokes the stub bound to name with args and returns once it has
// returned to the caller.
func (p *Process) Call(t testing.TB, name string, args ...uint32) Result {
	t.Helper()
	emu := p.Emu
	addr, entry := p.enter(t, name, args)

	out, err := emu.Step()
	require.NoError(t, err)
	if out != nil {
		// ExitProcess and friends stop the process from inside the stub.
		require.Equal(t, emulator.ReasonExit, out.Reason, out.Detail)
		return Result{EAX: emu.EAX(), Return: emu.EIP()}
	}
	require.NotEqual(t, addr, emu.EIP(), "%s did not return", name)

	released := int(emu.ESP()-entry)/4 - 1
	res := Result{EAX: emu.EAX(), Released: released, Return: emu.EIP()}

	// Drop whatever the caller would clean up.
	emu.CPU.SetReg32(x86.ESP, entry+4+4*uint32(len(args)))
	return res
}

// Fault invokes the stub bound to name and expects it to stop the process
// with a fault. It returns the outcome and the error Step reported.
func (p *Process) Fault(t testing.TB, name string, args ...uint32) (*emulator.Outcome, error) {
	t.Helper()
	p.enter(t, name, args)
	out, err := p.Emu.Step()
	require.Error(t, err)
	require.NotNil(t, out)
	require.Equal(t, emulator.ReasonFault, out.Reason, out.Detail)
	return out, err
}
