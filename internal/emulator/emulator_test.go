package emulator

import (
	"encoding/binary"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/winemu/internal/pe/petest"
	"github.com/zboralski/winemu/internal/x86"
)

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// callIAT assembles CALL [slot].
func callIAT(slot uint32) []byte {
	return cat([]byte{0xFF, 0x15}, le32(slot))
}

func newImage(code func(b *petest.Builder) []byte) (*petest.Builder, []byte) {
	b := petest.New()
	b.Import("user32.dll", "MessageBoxA")
	b.Import("kernel32.dll", "ExitProcess", "GetTickCount")
	b.Code(code(b))
	return b, b.Bytes()
}

func load(t *testing.T, data []byte, opts ...Option) (*Emulator, *PEInfo) {
	t.Helper()
	emu, err := New(opts...)
	require.NoError(t, err)
	info, err := emu.LoadPE(data)
	require.NoError(t, err)
	return emu, info
}

func TestNewLayout(t *testing.T) {
	emu, err := New()
	require.NoError(t, err)

	assert.Equal(t, uint32(DefaultStackTop-4), emu.ESP())
	assert.Equal(t, uint32(x86.ExitAddress), emu.ReturnAddress())
	assert.Equal(t, uint32(DefaultStackTop), emu.CPU.Reg32(x86.EBP))

	assert.Equal(t, uint32(TEBBase), emu.Mem.ReadDword(TEBBase+0x18))
	assert.Equal(t, uint32(DefaultStackTop), emu.Mem.ReadDword(TEBBase+4))
	assert.Equal(t, uint32(DefaultStackTop-DefaultStackSize), emu.Mem.ReadDword(TEBBase+8))
	assert.Equal(t, uint32(ProcessID), emu.Mem.ReadDword(TEBBase+0x20))
	assert.Equal(t, uint32(ThreadID), emu.Mem.ReadDword(TEBBase+0x24))
	assert.Equal(t, uint32(PEBBase), emu.Mem.ReadDword(TEBBase+0x30))
}

func TestNewRejectsBadStack(t *testing.T) {
	_, err := New(WithStack(0x1000, 0x2000))
	assert.Error(t, err)

	_, err = New(WithStack(0x1000, 0))
	assert.Error(t, err)
}

func TestLoadPEBindsSentinels(t *testing.T) {
	b, data := newImage(func(*petest.Builder) []byte { return []byte{0xC3} })
	emu, info := load(t, data)

	slot := emu.Mem.ReadDword(b.IAT("MessageBoxA"))
	assert.GreaterOrEqual(t, slot, uint32(0xFFFF0000))
	assert.True(t, IsAPI(slot))
	assert.Equal(t, info.Imports["MessageBoxA"], slot)

	name, ok := emu.APIName(slot)
	require.True(t, ok)
	assert.Equal(t, "MessageBoxA", name)

	assert.Equal(t, b.Entry(), emu.EIP())
	assert.Equal(t, uint32(petest.DefaultImageBase), emu.Mem.ReadDword(PEBBase+8))
	assert.Equal(t, []string{"user32.dll", "kernel32.dll"}, info.DLLs)
	assert.Equal(t, byte('M'), emu.Mem.ReadByte(info.ImageBase))
}

func TestSentinelsDistinct(t *testing.T) {
	_, data := newImage(func(*petest.Builder) []byte { return []byte{0xC3} })
	_, info := load(t, data)

	seen := make(map[uint32]string)
	for sym, addr := range info.Imports {
		if prev, ok := seen[addr]; ok {
			t.Fatalf("%s and %s share sentinel 0x%08x", prev, sym, addr)
		}
		seen[addr] = sym
		assert.False(t, info.Contains(addr), sym)
		assert.NotEqual(t, uint32(x86.ExitAddress), addr)
	}
	assert.Len(t, seen, 3)
}

func TestLoadPEIsIdempotent(t *testing.T) {
	_, data := newImage(func(b *petest.Builder) []byte {
		b.String("mapped twice")
		return []byte{0xC3}
	})

	a, infoA := load(t, data)
	b, infoB := load(t, data)
	assert.Equal(t, infoA.Imports, infoB.Imports)
	require.Len(t, infoB.Sections, len(infoA.Sections))
	for _, s := range infoA.Sections {
		va := infoA.ImageBase + s.VirtualAddress
		assert.Equal(t, a.Mem.Read(va, int(s.Size())), b.Mem.Read(va, int(s.Size())), s.Name)
	}

	// dirty the image, then map it again over itself
	for _, s := range infoA.Sections {
		require.NoError(t, a.Mem.WriteByte(infoA.ImageBase+s.VirtualAddress, 0xCC))
	}
	again, err := a.LoadPE(data)
	require.NoError(t, err)
	assert.Equal(t, infoA.Imports, again.Imports)
	assert.Equal(t, infoA.Entry, again.Entry)
	for _, s := range again.Sections {
		va := again.ImageBase + s.VirtualAddress
		assert.Equal(t, b.Mem.Read(va, int(s.Size())), a.Mem.Read(va, int(s.Size())), s.Name)
	}
}

func TestLoadFile(t *testing.T) {
	_, data := newImage(func(*petest.Builder) []byte { return []byte{0xC3} })
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/bin/hello.exe", data, 0o644))

	emu, err := New()
	require.NoError(t, err)
	info, err := emu.LoadFile(fs, "/bin/hello.exe")
	require.NoError(t, err)
	assert.Equal(t, "/bin/hello.exe", info.Path)
	assert.Same(t, info, emu.Image())

	_, err = emu.LoadFile(fs, "/missing.exe")
	assert.Error(t, err)
}

func TestLoadPERejectsGarbage(t *testing.T) {
	emu, err := New()
	require.NoError(t, err)
	_, err = emu.LoadPE([]byte("not a PE image at all, just some bytes padding it out to a header"))
	assert.Error(t, err)
}

func TestRunReturnsToExitAddress(t *testing.T) {
	// mov eax, 42; ret
	_, data := newImage(func(*petest.Builder) []byte {
		return []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}
	})
	emu, _ := load(t, data)

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonReturn, out.Reason)
	assert.Equal(t, uint32(42), emu.EAX())
	assert.Equal(t, uint64(2), out.Instructions)
	assert.True(t, out.Normal())
}

func TestCallRetBalancesStack(t *testing.T) {
	// call +1; int3; ret
	b, data := newImage(func(*petest.Builder) []byte {
		return []byte{0xE8, 0x01, 0x00, 0x00, 0x00, 0xCC, 0xC3}
	})
	emu, _ := load(t, data)
	esp := emu.ESP()

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonHalt, out.Reason)
	assert.Equal(t, esp, emu.ESP())
	assert.Empty(t, emu.CallStack())

	tree := emu.CallTree()
	require.Len(t, tree.Children, 1)
	assert.Equal(t, b.Entry()+6, tree.Children[0].Target)
	assert.Equal(t, 1, tree.Children[0].Calls)
}

func TestMissingExportFallback(t *testing.T) {
	// mov eax, 0x1234; push 0 x4; call [MessageBoxA]; add esp, 16; ret
	_, data := newImage(func(b *petest.Builder) []byte {
		return cat(
			[]byte{0xB8, 0x34, 0x12, 0x00, 0x00},
			[]byte{0x6A, 0x00, 0x6A, 0x00, 0x6A, 0x00, 0x6A, 0x00},
			callIAT(b.IAT("MessageBoxA")),
			[]byte{0x83, 0xC4, 0x10, 0xC3},
		)
	})
	emu, _ := load(t, data)
	emu.EnableTrace(0)

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonReturn, out.Reason)
	assert.Equal(t, uint32(0), emu.EAX())
	assert.Equal(t, uint32(DefaultStackTop), emu.ESP())
	assert.Equal(t, uint64(1), out.APICalls)

	events := emu.GetTraceEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "#fallback", events[0].Tag)
	assert.Equal(t, "MessageBoxA", events[0].Detail)
}

func TestHookExitProcess(t *testing.T) {
	// push 7; call [ExitProcess]; int3
	_, data := newImage(func(b *petest.Builder) []byte {
		return cat([]byte{0x6A, 0x07}, callIAT(b.IAT("ExitProcess")), []byte{0xCC})
	})
	emu, info := load(t, data)
	emu.HookAddress(info.Imports["ExitProcess"], func(emu *Emulator) bool {
		emu.Exit(emu.Arg(0))
		emu.Return(0, 1)
		return false
	})

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonExit, out.Reason)
	assert.Equal(t, uint32(7), out.ExitCode)

	exited, code := emu.Exited()
	assert.True(t, exited)
	assert.Equal(t, uint32(7), code)
}

func TestHookStdcallReturn(t *testing.T) {
	// push 3; push 2; call [GetTickCount]; ret
	_, data := newImage(func(b *petest.Builder) []byte {
		return cat([]byte{0x6A, 0x03, 0x6A, 0x02}, callIAT(b.IAT("GetTickCount")), []byte{0xC3})
	})
	emu, info := load(t, data)
	var args []uint32
	emu.HookAddress(info.Imports["GetTickCount"], func(emu *Emulator) bool {
		args = []uint32{emu.Arg(0), emu.Arg(1)}
		emu.Return(emu.Arg(0)+emu.Arg(1), 2)
		return false
	})

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonReturn, out.Reason)
	assert.Equal(t, []uint32{2, 3}, args)
	assert.Equal(t, uint32(5), emu.EAX())
	assert.Equal(t, uint32(DefaultStackTop), emu.ESP())
}

func TestHookMustReturn(t *testing.T) {
	_, data := newImage(func(b *petest.Builder) []byte {
		return cat(callIAT(b.IAT("GetTickCount")), []byte{0xC3})
	})
	emu, info := load(t, data)
	emu.HookAddress(info.Imports["GetTickCount"], func(*Emulator) bool { return false })

	out, err := emu.Run()
	assert.ErrorIs(t, err, ErrStubReturn)
	assert.Equal(t, ReasonFault, out.Reason)
	assert.False(t, out.Normal())
}

func TestHookStops(t *testing.T) {
	b, data := newImage(func(*petest.Builder) []byte { return []byte{0x90, 0x90, 0xC3} })
	emu, _ := load(t, data)
	emu.HookAddress(b.Entry()+1, func(*Emulator) bool { return true })

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, out.Reason)
	assert.Equal(t, b.Entry()+1, out.EIP)

	emu.RemoveAddressHook(b.Entry() + 1)
	out, err = emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonReturn, out.Reason)
}

func TestObservingHookRunsInstruction(t *testing.T) {
	// inc eax; ret
	b, data := newImage(func(*petest.Builder) []byte { return []byte{0x40, 0xC3} })
	emu, _ := load(t, data)
	hits := 0
	emu.HookAddress(b.Entry(), func(*Emulator) bool {
		hits++
		return false
	})

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonReturn, out.Reason)
	assert.Equal(t, 1, hits)
	assert.Equal(t, uint32(1), emu.EAX())
}

func TestCodeHook(t *testing.T) {
	b, data := newImage(func(*petest.Builder) []byte { return []byte{0x90, 0x90, 0xC3} })
	emu, _ := load(t, data)
	var addrs []uint32
	emu.HookCode(func(_ *Emulator, addr uint32) {
		addrs = append(addrs, addr)
	})

	_, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, []uint32{b.Entry(), b.Entry() + 1, b.Entry() + 2}, addrs)
}

func TestInstructionBudget(t *testing.T) {
	// jmp $
	_, data := newImage(func(*petest.Builder) []byte { return []byte{0xEB, 0xFE} })
	emu, _ := load(t, data, WithMaxInstructions(100))

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonBudget, out.Reason)
	assert.Equal(t, uint64(100), out.Instructions)
}

func TestRepStringRespectsBudget(t *testing.T) {
	// mov edi, 0x00600000; mov ecx, 0x00400000; rep stosd
	_, data := newImage(func(*petest.Builder) []byte {
		return cat([]byte{0xBF}, le32(0x00600000), []byte{0xB9}, le32(0x00400000), []byte{0xF3, 0xAB})
	})
	emu, info := load(t, data, WithMaxInstructions(100))
	pages := emu.Mem.PageCount()

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonBudget, out.Reason)
	assert.Equal(t, uint64(100), out.Instructions)
	assert.Equal(t, uint32(0x00400000-98), emu.CPU.Reg32(x86.ECX))
	assert.Equal(t, uint32(0x00600000+98*4), emu.CPU.Reg32(x86.EDI))
	assert.Equal(t, info.Entry+10, out.EIP, "eip stays on the repeated instruction")
	assert.LessOrEqual(t, emu.Mem.PageCount()-pages, 1)
}

func TestZeroRunHalts(t *testing.T) {
	b, data := newImage(func(*petest.Builder) []byte { return []byte{0x90} })
	emu, _ := load(t, data)

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonZeroRun, out.Reason)
	assert.Equal(t, b.Entry()+1, out.EIP)
}

func TestLeavingImageHalts(t *testing.T) {
	// mov eax, 0x20000000; jmp eax
	_, data := newImage(func(*petest.Builder) []byte {
		return []byte{0xB8, 0x00, 0x00, 0x00, 0x20, 0xFF, 0xE0}
	})
	emu, _ := load(t, data)
	require.NoError(t, emu.Mem.Write(0x20000000, []byte{0x90, 0xC3}))

	out, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonLeftImage, out.Reason)

	emu2, _ := load(t, data, WithBoundToImage(false))
	require.NoError(t, emu2.Mem.Write(0x20000000, []byte{0x90, 0xC3}))
	out, err = emu2.Run()
	require.NoError(t, err)
	assert.Equal(t, ReasonReturn, out.Reason)
}

func TestFaultKeepsEIP(t *testing.T) {
	// xor eax, eax; call eax
	b, data := newImage(func(*petest.Builder) []byte { return []byte{0x31, 0xC0, 0xFF, 0xD0} })
	emu, _ := load(t, data)

	out, err := emu.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, x86.ErrInvalidFunctionPointer)
	assert.Equal(t, ReasonFault, out.Reason)
	require.NotNil(t, out.Trap)
	assert.Equal(t, b.Entry()+2, out.Trap.EIP)
	assert.Equal(t, b.Entry()+2, emu.EIP())
}

func TestProtectCode(t *testing.T) {
	// mov [0x401000], eax
	b := petest.New()
	b.Import("kernel32.dll", "ExitProcess")
	text := b.Entry()
	b.Code(cat([]byte{0xA3}, le32(text), []byte{0xC3}))
	emu, _ := load(t, b.Bytes(), WithProtectCode(true))

	out, err := emu.Run()
	require.Error(t, err)
	assert.Equal(t, ReasonFault, out.Reason)
	assert.Equal(t, text, out.EIP)
}

func TestMalloc(t *testing.T) {
	emu, err := New()
	require.NoError(t, err)

	a := emu.Malloc(1)
	b := emu.Malloc(20)
	assert.Equal(t, uint32(DefaultHeapBase), a)
	assert.Equal(t, a+16, b)
	assert.Zero(t, b%16)
	assert.Equal(t, uint32(48), emu.HeapUsed())

	assert.Zero(t, emu.Malloc(HeapSize))
	assert.Equal(t, b+32, emu.Malloc(4))
}

func TestResolveAPI(t *testing.T) {
	emu, err := New()
	require.NoError(t, err)

	a, fresh := emu.ResolveAPI("lstrlenA")
	assert.True(t, fresh)
	assert.Equal(t, uint32(APIBase), a)

	again, fresh := emu.ResolveAPI("lstrlenA")
	assert.False(t, fresh)
	assert.Equal(t, a, again)

	b, _ := emu.ResolveAPI("lstrcpyA")
	assert.Equal(t, a+1, b)
	assert.Len(t, emu.Imports(), 2)
}

func TestStopAndFail(t *testing.T) {
	_, data := newImage(func(*petest.Builder) []byte { return []byte{0xEB, 0xFE} })
	emu, _ := load(t, data)

	emu.Stop()
	out, err := emu.Step()
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, out.Reason)

	out, err = emu.Step()
	require.NoError(t, err)
	assert.Nil(t, out)

	boom := assert.AnError
	emu.Fail(boom)
	out, err = emu.Step()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ReasonFault, out.Reason)
}

func TestTraceLimit(t *testing.T) {
	emu, err := New()
	require.NoError(t, err)

	emu.AddTraceEvent(TraceEvent{Tag: "#ignored"})
	assert.Empty(t, emu.GetTraceEvents())

	emu.EnableTrace(2)
	for i := 0; i < 5; i++ {
		emu.AddTraceEvent(TraceEvent{Address: uint32(i)})
	}
	assert.Len(t, emu.GetTraceEvents(), 2)

	emu.ClearTrace()
	assert.Empty(t, emu.GetTraceEvents())
}

func TestFSReadsTEB(t *testing.T) {
	// mov eax, fs:[0x18]; ret
	_, data := newImage(func(*petest.Builder) []byte {
		return []byte{0x64, 0xA1, 0x18, 0x00, 0x00, 0x00, 0xC3}
	})
	emu, _ := load(t, data)

	_, err := emu.Run()
	require.NoError(t, err)
	assert.Equal(t, uint32(TEBBase), emu.EAX())
}
