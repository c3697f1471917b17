package x86

import (
	"errors"
	"testing"

	"github.com/zboralski/winemu/internal/memory"
)

const (
	testBase  = 0x1000
	testStack = 0x8000
)

func newTestCPU(t *testing.T, code []byte) *CPU {
	t.Helper()
	mem := memory.New()
	if err := mem.Write(testBase, code); err != nil {
		t.Fatalf("Failed to load code: %v", err)
	}
	c := New(mem, Options{})
	c.Regs.EIP = testBase
	c.Regs.GPR[ESP] = testStack
	return c
}

func mustStep(t *testing.T, c *CPU) {
	t.Helper()
	if err := c.Step(); err != nil {
		t.Fatalf("Step at 0x%08x: %v", c.Regs.EIP, err)
	}
}

func TestAddRegReg(t *testing.T) {
	// ADD EAX, EBX
	c := newTestCPU(t, []byte{0x01, 0xD8})
	c.Regs.GPR[EAX] = 1
	c.Regs.GPR[EBX] = 2
	mustStep(t, c)
	if got := c.Regs.GPR[EAX]; got != 3 {
		t.Errorf("Expected EAX=3, got EAX=%d", got)
	}
	if c.Regs.EIP != testBase+2 {
		t.Errorf("Expected EIP=0x%x, got 0x%x", testBase+2, c.Regs.EIP)
	}
}

func TestRet(t *testing.T) {
	c := newTestCPU(t, []byte{0xC3})
	c.Regs.GPR[ESP] = testStack - 4
	c.Mem.WriteDword(testStack-4, 0x12345678)
	mustStep(t, c)
	if c.Regs.EIP != 0x12345678 {
		t.Errorf("Expected EIP=0x12345678, got 0x%08x", c.Regs.EIP)
	}
	if c.Regs.GPR[ESP] != testStack {
		t.Errorf("Expected ESP=0x%x, got 0x%x", testStack, c.Regs.GPR[ESP])
	}
}

func TestRetImm(t *testing.T) {
	// RET 8
	c := newTestCPU(t, []byte{0xC2, 0x08, 0x00})
	c.Push(2)
	c.Push(1)
	c.Push(0x4000)
	mustStep(t, c)
	if c.Regs.EIP != 0x4000 {
		t.Errorf("Expected EIP=0x4000, got 0x%08x", c.Regs.EIP)
	}
	if c.Regs.GPR[ESP] != testStack {
		t.Errorf("Expected ESP restored to 0x%x, got 0x%x", testStack, c.Regs.GPR[ESP])
	}
}

func TestCallRetNetZero(t *testing.T) {
	// 0x1000: CALL +1 ; 0x1005: NOP ; 0x1006: RET
	c := newTestCPU(t, []byte{0xE8, 0x01, 0x00, 0x00, 0x00, 0x90, 0xC3})
	esp := c.Regs.GPR[ESP]
	mustStep(t, c)
	if c.Regs.EIP != testBase+6 {
		t.Fatalf("Expected CALL to land at 0x%x, got 0x%x", testBase+6, c.Regs.EIP)
	}
	if c.Regs.GPR[ESP] != esp-4 {
		t.Errorf("Expected ESP=0x%x after CALL, got 0x%x", esp-4, c.Regs.GPR[ESP])
	}
	if got := c.Mem.ReadDword(c.Regs.GPR[ESP]); got != testBase+5 {
		t.Errorf("Expected return address 0x%x, got 0x%x", testBase+5, got)
	}
	mustStep(t, c)
	if c.Regs.GPR[ESP] != esp {
		t.Errorf("Expected ESP=0x%x after RET, got 0x%x", esp, c.Regs.GPR[ESP])
	}
	if c.Regs.EIP != testBase+5 {
		t.Errorf("Expected EIP=0x%x after RET, got 0x%x", testBase+5, c.Regs.EIP)
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	var r Registers
	values := []uint32{0, 1, 0x7FFFFFFF, 0x80000000, 0xFFFFFFFF, 0xDEADBEEF}
	for n := EAX; n <= EDI; n++ {
		for _, v := range values {
			r.Set32(n, v)
			if got := r.Get32(n); got != v {
				t.Errorf("%s: wrote 0x%08x, read 0x%08x", n, v, got)
			}
		}
	}
}

func TestSubRegisterViews(t *testing.T) {
	var r Registers
	r.Set32(EAX, 0x11223344)
	r.Set8(0, 0xAA) // AL
	if got := r.Get32(EAX); got != 0x112233AA {
		t.Errorf("AL write: got 0x%08x, want 0x112233AA", got)
	}
	r.Set8(4, 0xBB) // AH
	if got := r.Get32(EAX); got != 0x1122BBAA {
		t.Errorf("AH write: got 0x%08x, want 0x1122BBAA", got)
	}
	r.Set16(EAX, 0xCCDD)
	if got := r.Get32(EAX); got != 0x1122CCDD {
		t.Errorf("AX write: got 0x%08x, want 0x1122CCDD", got)
	}
	r.Set32(EBX, 0x0000FF00)
	if got := r.Get8(7); got != 0xFF { // BH
		t.Errorf("BH read: got 0x%02x", got)
	}
}

func TestPushPopSymmetry(t *testing.T) {
	c := newTestCPU(t, nil)
	esp := c.Regs.GPR[ESP]
	for _, v := range []uint32{0, 0x12345678, 0xFFFFFFFF} {
		if err := c.Push(v); err != nil {
			t.Fatalf("Push: %v", err)
		}
		got, err := c.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got != v {
			t.Errorf("Pop: got 0x%x, want 0x%x", got, v)
		}
		if c.Regs.GPR[ESP] != esp {
			t.Errorf("ESP drifted: 0x%x != 0x%x", c.Regs.GPR[ESP], esp)
		}
	}
}

func TestStackLimits(t *testing.T) {
	c := newTestCPU(t, nil)
	c.SetStackLimits(testStack-8, testStack)
	if err := c.Push(1); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := c.Push(2); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if err := c.Push(3); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("Expected ErrStackOverflow, got %v", err)
	}
	c.Pop()
	c.Pop()
	if _, err := c.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Expected ErrStackUnderflow, got %v", err)
	}
	if c.Regs.GPR[ESP] != testStack {
		t.Errorf("failed pop moved ESP to 0x%x", c.Regs.GPR[ESP])
	}
}

func TestPushadPopad(t *testing.T) {
	c := newTestCPU(t, []byte{0x60, 0x61})
	for n := EAX; n <= EDI; n++ {
		if n != ESP {
			c.Regs.Set32(n, 0x100+uint32(n))
		}
	}
	mustStep(t, c)
	if got := c.Regs.GPR[ESP]; got != testStack-32 {
		t.Fatalf("PUSHAD: ESP=0x%x", got)
	}
	if got := c.Mem.ReadDword(testStack - 4); got != 0x100 {
		t.Errorf("EAX slot: 0x%x", got)
	}
	if got := c.Mem.ReadDword(testStack - 20); got != testStack {
		t.Errorf("ESP slot: got 0x%x, want original ESP", got)
	}
	for n := EAX; n <= EDI; n++ {
		if n != ESP {
			c.Regs.Set32(n, 0)
		}
	}
	mustStep(t, c)
	for n := EAX; n <= EDI; n++ {
		if n == ESP {
			continue
		}
		if got := c.Regs.Get32(n); got != 0x100+uint32(n) {
			t.Errorf("%s: got 0x%x", n, got)
		}
	}
	if c.Regs.GPR[ESP] != testStack {
		t.Errorf("POPAD: ESP=0x%x", c.Regs.GPR[ESP])
	}
}

func TestIndirectCallThroughMemory(t *testing.T) {
	// CALL [0x2000]
	c := newTestCPU(t, []byte{0xFF, 0x15, 0x00, 0x20, 0x00, 0x00})
	c.Mem.WriteDword(0x2000, 0xFFFF0001)
	mustStep(t, c)
	if c.Regs.EIP != 0xFFFF0001 {
		t.Errorf("Expected EIP=0xFFFF0001, got 0x%08x", c.Regs.EIP)
	}
	if got := c.Mem.ReadDword(c.Regs.GPR[ESP]); got != testBase+6 {
		t.Errorf("Expected return address 0x%x, got 0x%x", testBase+6, got)
	}
}

func TestCallNullPointer(t *testing.T) {
	// CALL EAX with EAX=0
	c := newTestCPU(t, []byte{0xFF, 0xD0})
	err := c.Step()
	if KindOf(err) != TrapFault {
		t.Fatalf("Expected fault, got %v", err)
	}
	if !errors.Is(err, ErrInvalidFunctionPointer) {
		t.Errorf("Expected ErrInvalidFunctionPointer, got %v", err)
	}
	if c.Regs.EIP != testBase {
		t.Errorf("fault should leave EIP at the instruction, got 0x%x", c.Regs.EIP)
	}
	if c.Regs.GPR[ESP] != testStack {
		t.Errorf("fault should not push, ESP=0x%x", c.Regs.GPR[ESP])
	}
}

func TestBranchBelowMinCode(t *testing.T) {
	mem := memory.New()
	mem.Write(0x401000, []byte{0xFF, 0xE0}) // JMP EAX
	c := New(mem, Options{MinCodeAddress: 0x10000})
	c.Regs.EIP = 0x401000
	c.Regs.GPR[EAX] = 0x400
	if err := c.Step(); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Expected ErrInvalidTarget, got %v", err)
	}
}

func TestReturnHalts(t *testing.T) {
	c := newTestCPU(t, []byte{0xC3})
	c.Push(ExitAddress)
	err := c.Step()
	if KindOf(err) != TrapHalt {
		t.Fatalf("Expected halt on exit address, got %v", err)
	}

	mem := memory.New()
	mem.Write(0x401000, []byte{0xC3})
	c = New(mem, Options{ReturnThreshold: 0x1000})
	c.Regs.EIP = 0x401000
	c.Regs.GPR[ESP] = testStack
	c.Push(0x20)
	err = c.Step()
	var trap *Trap
	if !errors.As(err, &trap) || trap.Kind != TrapHalt {
		t.Fatalf("Expected halt below threshold, got %v", err)
	}
	if trap.EIP != 0x401000 {
		t.Errorf("trap EIP: got 0x%x", trap.EIP)
	}
}

func TestHlt(t *testing.T) {
	c := newTestCPU(t, []byte{0xF4})
	if KindOf(c.Step()) != TrapHalt {
		t.Error("Expected HLT to halt")
	}
}

func TestInvalidOpcode(t *testing.T) {
	c := newTestCPU(t, []byte{0xD6})
	err := c.Step()
	if KindOf(err) != TrapFault || !errors.Is(err, ErrInvalidOpcode) {
		t.Fatalf("Expected invalid opcode fault, got %v", err)
	}
	var trap *Trap
	errors.As(err, &trap)
	if len(trap.Opcode) != 1 || trap.Opcode[0] != 0xD6 {
		t.Errorf("trap opcode bytes: % x", trap.Opcode)
	}
}

func TestSkipUnknownTwoByte(t *testing.T) {
	// PREFETCHT0 [EAX] ; NOP
	c := newTestCPU(t, []byte{0x0F, 0x18, 0x08, 0x90})
	err := c.Step()
	if KindOf(err) != TrapSkip {
		t.Fatalf("Expected skip, got %v", err)
	}
	if c.Regs.EIP != testBase+3 {
		t.Errorf("Expected EIP past 3-byte instruction, got 0x%x", c.Regs.EIP)
	}
	mustStep(t, c)
}

func TestSkipFPU(t *testing.T) {
	// FLD DWORD [EBP-8]
	c := newTestCPU(t, []byte{0xD9, 0x45, 0xF8})
	if KindOf(c.Step()) != TrapSkip {
		t.Fatal("Expected x87 escape to skip")
	}
	if c.Regs.EIP != testBase+3 {
		t.Errorf("EIP after skip: 0x%x", c.Regs.EIP)
	}
}

func TestSelfModifyingCodeFault(t *testing.T) {
	// MOV BYTE [0x1000], 0xCC
	c := newTestCPU(t, []byte{0xC6, 0x05, 0x00, 0x10, 0x00, 0x00, 0xCC})
	c.Mem.Protect(testBase, 0x1000)
	err := c.Step()
	if KindOf(err) != TrapFault || !errors.Is(err, memory.ErrSelfModifyingCode) {
		t.Fatalf("Expected self-modifying code fault, got %v", err)
	}
}

func TestFSOverride(t *testing.T) {
	// MOV EAX, FS:[0x18]
	mem := memory.New()
	mem.Write(testBase, []byte{0x64, 0xA1, 0x18, 0x00, 0x00, 0x00})
	mem.WriteDword(0x7FFDE018, 0x7FFDE000)
	c := New(mem, Options{FSBase: 0x7FFDE000})
	c.Regs.EIP = testBase
	mustStep(t, c)
	if got := c.Regs.GPR[EAX]; got != 0x7FFDE000 {
		t.Errorf("Expected TEB self pointer, got 0x%x", got)
	}
	if c.Regs.EIP != testBase+6 {
		t.Errorf("EIP: 0x%x", c.Regs.EIP)
	}
}

func TestOperandSizePrefix(t *testing.T) {
	// MOV AX, 0x1234
	c := newTestCPU(t, []byte{0x66, 0xB8, 0x34, 0x12})
	c.Regs.GPR[EAX] = 0xAAAA0000
	mustStep(t, c)
	if got := c.Regs.GPR[EAX]; got != 0xAAAA1234 {
		t.Errorf("Expected 0xAAAA1234, got 0x%08x", got)
	}
	if c.Regs.EIP != testBase+4 {
		t.Errorf("EIP: 0x%x", c.Regs.EIP)
	}
}

type recordingTracer struct {
	calls, returns int
}

func (r *recordingTracer) Call(site, target, ret uint32) { r.calls++ }
func (r *recordingTracer) Return(site, target uint32)    { r.returns++ }

func TestTracer(t *testing.T) {
	c := newTestCPU(t, []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3})
	tr := &recordingTracer{}
	c.SetTracer(tr)
	mustStep(t, c)
	c.Regs.EIP = testBase + 5
	mustStep(t, c)
	if tr.calls != 1 || tr.returns != 1 {
		t.Errorf("Expected 1 call and 1 return, got %d/%d", tr.calls, tr.returns)
	}
}
