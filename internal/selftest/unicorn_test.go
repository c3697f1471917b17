//go:build unicorn

package selftest

import (
	"encoding/binary"
	"testing"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/zboralski/winemu/internal/x86"
)

var ucRegs = [8]int{
	uc.X86_REG_EAX, uc.X86_REG_ECX, uc.X86_REG_EDX, uc.X86_REG_EBX,
	uc.X86_REG_ESP, uc.X86_REG_EBP, uc.X86_REG_ESI, uc.X86_REG_EDI,
}

// executeUnicorn runs v on Unicorn with the same layout Execute uses.
func executeUnicorn(t *testing.T, v Vector) State {
	t.Helper()
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	if err != nil {
		t.Fatalf("create unicorn: %v", err)
	}
	defer mu.Close()

	if err := mu.MemMap(0, 0x10000); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := mu.MemWrite(CodeBase, v.Code); err != nil {
		t.Fatalf("write code: %v", err)
	}
	for addr, val := range v.Mem {
		buf := binary.LittleEndian.AppendUint32(nil, val)
		if err := mu.MemWrite(uint64(addr), buf); err != nil {
			t.Fatalf("write memory: %v", err)
		}
	}
	if err := mu.RegWrite(uc.X86_REG_ESP, StackTop); err != nil {
		t.Fatal(err)
	}
	for r, val := range v.Regs {
		if err := mu.RegWrite(ucRegs[r], uint64(val)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mu.RegWrite(uc.X86_REG_EFLAGS, uint64(v.Flags|x86.FlagIF|0x2)); err != nil {
		t.Fatal(err)
	}
	if err := mu.StartWithOptions(CodeBase, uint64(v.End()), &uc.UcOptions{Count: MaxSteps}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var s State
	for i, r := range ucRegs {
		val, err := mu.RegRead(r)
		if err != nil {
			t.Fatal(err)
		}
		s.Regs[i] = uint32(val)
	}
	flags, err := mu.RegRead(uc.X86_REG_EFLAGS)
	if err != nil {
		t.Fatal(err)
	}
	s.EFLAGS = uint32(flags)
	s.Mem = make(map[uint32]uint32, len(v.WantMem))
	for addr := range v.WantMem {
		b, err := mu.MemRead(uint64(addr), 4)
		if err != nil {
			t.Fatal(err)
		}
		s.Mem[addr] = binary.LittleEndian.Uint32(b)
	}
	return s
}

// TestUnicornAgrees checks that the vectors describe real hardware
// behaviour and that the interpreter matches it on every register.
func TestUnicornAgrees(t *testing.T) {
	for _, v := range Vectors() {
		t.Run(v.Name, func(t *testing.T) {
			ref := executeUnicorn(t, v)
			for _, m := range Check(v, ref) {
				t.Errorf("unicorn: %s", m)
			}

			got, err := Execute(v)
			if err != nil {
				t.Fatal(err)
			}
			for i := range got.Regs {
				if got.Regs[i] != ref.Regs[i] {
					t.Errorf("%s = 0x%08x, unicorn 0x%08x", x86.Reg(i), got.Regs[i], ref.Regs[i])
				}
			}
			if a, b := got.EFLAGS&v.FlagMask, ref.EFLAGS&v.FlagMask; a != b {
				t.Errorf("flags 0x%x, unicorn 0x%x", a, b)
			}
		})
	}
}
