// Package x86 implements a 32-bit x86 interpreter over a sparse paged memory.
package x86

import (
	"fmt"

	"github.com/zboralski/winemu/internal/memory"
)

// ExitAddress is the return address that ends execution cleanly when a RET pops it.
const ExitAddress = 0xFFFFFFFF

// maxInsnLen is the architectural instruction length limit.
const maxInsnLen = 15

// Tracer observes control transfers. It is used for call-stack diagnostics only.
type Tracer interface {
	Call(site, target, ret uint32)
	Return(site, target uint32)
}

// Options configures a CPU. Zero values disable the corresponding check.
type Options struct {
	// Push below StackLow fails with ErrStackOverflow; Pop when esp+4 would
	// pass StackHigh fails with ErrStackUnderflow.
	StackLow  uint32
	StackHigh uint32

	// CALL/JMP targets below MinCodeAddress fault. Target 0 always faults.
	MinCodeAddress uint32

	// RET to an address below ReturnThreshold halts as "program exited".
	ReturnThreshold uint32

	// FSBase is added to memory operands carrying an fs: prefix.
	FSBase uint32

	// Table is the opcode dispatch table; nil means NewTable().
	Table *Table

	Tracer Tracer
}

// CPU is the interpreter state: registers, flags, memory and the dispatch table.
type CPU struct {
	Regs  Registers
	Flags Flags
	Mem   *memory.Memory

	// Instructions counts retired steps, including skipped ones.
	Instructions uint64

	opts  Options
	table *Table

	// per-instruction decode state
	start    uint32 // eip of the first prefix byte
	next     uint32 // address of the next byte to fetch
	opsize   int    // 2 or 4
	rep      byte   // 0, 0xF2 or 0xF3
	segBase  uint32
	branched bool
}

// New creates a CPU bound to mem.
func New(mem *memory.Memory, opts Options) *CPU {
	t := opts.Table
	if t == nil {
		t = NewTable()
	}
	c := &CPU{
		Mem:   mem,
		opts:  opts,
		table: t,
	}
	c.Flags.IF = true
	return c
}

// Options returns the CPU configuration.
func (c *CPU) Options() Options {
	return c.opts
}

// SetTracer installs a control-transfer observer.
func (c *CPU) SetTracer(t Tracer) {
	c.opts.Tracer = t
}

// SetStackLimits changes the push/pop water marks.
func (c *CPU) SetStackLimits(low, high uint32) {
	c.opts.StackLow = low
	c.opts.StackHigh = high
}

// SetFSBase sets the base used for fs: memory operands.
func (c *CPU) SetFSBase(base uint32) {
	c.opts.FSBase = base
}

// EIP returns the instruction pointer.
func (c *CPU) EIP() uint32 {
	return c.Regs.EIP
}

// SetEIP sets the instruction pointer.
func (c *CPU) SetEIP(v uint32) {
	c.Regs.EIP = v
}

// Reg32 returns a 32-bit general register.
func (c *CPU) Reg32(r Reg) uint32 {
	return c.Regs.Get32(r)
}

// SetReg32 writes a 32-bit general register.
func (c *CPU) SetReg32(r Reg, v uint32) {
	c.Regs.Set32(r, v)
}

// Reg16 returns the low word of a general register.
func (c *CPU) Reg16(r Reg) uint16 {
	return c.Regs.Get16(r)
}

// SetReg16 writes the low word of a general register.
func (c *CPU) SetReg16(r Reg, v uint16) {
	c.Regs.Set16(r, v)
}

// Reg8 returns an 8-bit register in encoding order: AL CL DL BL AH CH DH BH.
func (c *CPU) Reg8(n byte) byte {
	return c.Regs.Get8(n)
}

// SetReg8 writes an 8-bit register in encoding order.
func (c *CPU) SetReg8(n byte, v byte) {
	c.Regs.Set8(n, v)
}

// Step executes one instruction. A nil error means execution continues;
// otherwise the error is a *Trap describing a skip, a halt or a fault.
// On a fault eip is left at the faulting instruction.
func (c *CPU) Step() error {
	c.start = c.Regs.EIP
	c.next = c.start
	c.opsize = 4
	c.rep = 0
	c.segBase = 0
	c.branched = false

	err := c.dispatch()
	if err == nil {
		if !c.branched {
			c.Regs.EIP = c.next
		}
		c.Instructions++
		return nil
	}

	t, ok := err.(*Trap)
	if !ok {
		t = &Trap{Kind: TrapFault, Reason: err.Error(), Err: err}
	}
	t.EIP = c.start
	t.Opcode = c.consumed()
	if t.Kind != TrapFault {
		if !c.branched {
			c.Regs.EIP = c.next
		}
		c.Instructions++
	} else {
		c.Regs.EIP = c.start
	}
	return t
}

func (c *CPU) consumed() []byte {
	n := int(c.next - c.start)
	if n < 1 {
		n = 1
	}
	if n > maxInsnLen {
		n = maxInsnLen
	}
	return c.Mem.Read(c.start, n)
}

func (c *CPU) dispatch() error {
	for i := 0; ; i++ {
		if i >= maxInsnLen {
			return fmt.Errorf("too many prefixes: %w", ErrInvalidOpcode)
		}
		op := c.fetch8()
		switch op {
		case 0x66:
			c.opsize = 2
			continue
		case 0xF2, 0xF3:
			c.rep = op
			continue
		case 0xF0, 0x26, 0x2E, 0x36, 0x3E, 0x65:
			continue
		case 0x64:
			c.segBase = c.opts.FSBase
			continue
		case 0x67:
			return fmt.Errorf("16-bit addressing: %w", ErrUnsupported)
		}
		h := c.table.base[op]
		if h == nil {
			return fmt.Errorf("opcode 0x%02x: %w", op, ErrInvalidOpcode)
		}
		return h(c, op)
	}
}

// fetch helpers advance the decode cursor

func (c *CPU) fetch8() byte {
	b := c.Mem.ReadByte(c.next)
	c.next++
	return b
}

func (c *CPU) fetch16() uint16 {
	v := c.Mem.ReadWord(c.next)
	c.next += 2
	return v
}

func (c *CPU) fetch32() uint32 {
	v := c.Mem.ReadDword(c.next)
	c.next += 4
	return v
}

// fetchImm reads an immediate of the given operand size. 32-bit operands
// take a 32-bit immediate.
func (c *CPU) fetchImm(size int) uint32 {
	switch size {
	case 1:
		return uint32(c.fetch8())
	case 2:
		return uint32(c.fetch16())
	}
	return c.fetch32()
}

// fetchSImm8 reads a sign-extended 8-bit immediate.
func (c *CPU) fetchSImm8() uint32 {
	return uint32(int32(int8(c.fetch8())))
}

// decode reads the ModRM operand at the cursor without applying a segment base.
func (c *CPU) decode() (ModRM, error) {
	window := c.Mem.Read(c.next, 6)
	m, err := DecodeModRM(window, &c.Regs)
	if err != nil {
		return m, err
	}
	c.next += uint32(m.Len)
	return m, nil
}

// modrm reads the ModRM operand and applies any segment override.
func (c *CPU) modrm() (ModRM, error) {
	m, err := c.decode()
	if err != nil {
		return m, err
	}
	if !m.IsReg() {
		m.Addr += c.segBase
	}
	return m, nil
}

func (c *CPU) sizeOf(wide bool) int {
	if !wide {
		return 1
	}
	return c.opsize
}

func (c *CPU) load(addr uint32, size int) uint32 {
	switch size {
	case 1:
		return uint32(c.Mem.ReadByte(addr))
	case 2:
		return uint32(c.Mem.ReadWord(addr))
	}
	return c.Mem.ReadDword(addr)
}

func (c *CPU) store(addr uint32, size int, v uint32) error {
	switch size {
	case 1:
		return c.Mem.WriteByte(addr, byte(v))
	case 2:
		return c.Mem.WriteWord(addr, uint16(v))
	}
	return c.Mem.WriteDword(addr, v)
}

func (c *CPU) readRM(m ModRM, size int) uint32 {
	if m.IsReg() {
		return c.Regs.get(size, m.RM)
	}
	return c.load(m.Addr, size)
}

func (c *CPU) writeRM(m ModRM, size int, v uint32) error {
	if m.IsReg() {
		c.Regs.set(size, m.RM, v)
		return nil
	}
	return c.store(m.Addr, size, v)
}

// Push decrements esp by 4 and stores v at the new top of stack.
func (c *CPU) Push(v uint32) error {
	return c.push(v, 4)
}

// Pop loads the dword at esp and increments esp by 4.
func (c *CPU) Pop() (uint32, error) {
	return c.pop(4)
}

func (c *CPU) push(v uint32, size int) error {
	esp := c.Regs.GPR[ESP] - uint32(size)
	if c.opts.StackLow != 0 && esp < c.opts.StackLow {
		return fmt.Errorf("push at 0x%08x below 0x%08x: %w", esp, c.opts.StackLow, ErrStackOverflow)
	}
	if err := c.store(esp, size, v); err != nil {
		return err
	}
	c.Regs.GPR[ESP] = esp
	return nil
}

func (c *CPU) pop(size int) (uint32, error) {
	esp := c.Regs.GPR[ESP]
	if c.opts.StackHigh != 0 && uint64(esp)+uint64(size) > uint64(c.opts.StackHigh) {
		return 0, fmt.Errorf("pop at 0x%08x above 0x%08x: %w", esp, c.opts.StackHigh, ErrStackUnderflow)
	}
	v := c.load(esp, size)
	c.Regs.GPR[ESP] = esp + uint32(size)
	return v, nil
}

// checkTarget validates an indirect or relative branch destination.
func (c *CPU) checkTarget(target uint32) error {
	if target == 0 {
		return fmt.Errorf("branch to 0x00000000: %w", ErrInvalidFunctionPointer)
	}
	if target < c.opts.MinCodeAddress {
		return fmt.Errorf("branch to 0x%08x: %w", target, ErrInvalidTarget)
	}
	return nil
}

func (c *CPU) jump(target uint32) error {
	if c.opsize == 2 {
		target &= 0xFFFF
	}
	if err := c.checkTarget(target); err != nil {
		return err
	}
	c.Regs.EIP = target
	c.branched = true
	return nil
}

func (c *CPU) call(target uint32) error {
	if err := c.checkTarget(target); err != nil {
		return err
	}
	ret := c.next
	if err := c.Push(ret); err != nil {
		return err
	}
	c.Regs.EIP = target
	c.branched = true
	if c.opts.Tracer != nil {
		c.opts.Tracer.Call(c.start, target, ret)
	}
	return nil
}
