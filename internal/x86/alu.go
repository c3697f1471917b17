package x86

import (
	"fmt"
	"math"
)

// ALU operations in opcode order (bits 3-5 of 0x00-0x3F, reg field of group 1).
const (
	aluAdd = iota
	aluOr
	aluAdc
	aluSbb
	aluAnd
	aluSub
	aluXor
	aluCmp
)

func (c *CPU) alu(op int, a, b uint32, size int) uint32 {
	switch op {
	case aluAdd:
		return c.flagsAdd(a, b, 0, size)
	case aluOr:
		r := (a | b) & mask(size)
		c.flagsLogic(r, size)
		return r
	case aluAdc:
		return c.flagsAdd(a, b, b2u(c.Flags.CF), size)
	case aluSbb:
		return c.flagsSub(a, b, b2u(c.Flags.CF), size)
	case aluAnd:
		r := a & b & mask(size)
		c.flagsLogic(r, size)
		return r
	case aluXor:
		r := (a ^ b) & mask(size)
		c.flagsLogic(r, size)
		return r
	}
	// aluSub, aluCmp
	return c.flagsSub(a, b, 0, size)
}

// opALU handles 0x00-0x3D: bits 3-5 select the operation, bits 0-2 the form.
func opALU(c *CPU, op byte) error {
	kind := int(op >> 3)
	switch op & 7 {
	case 0, 1: // Eb,Gb / Ev,Gv
		size := c.sizeOf(op&1 == 1)
		m, err := c.modrm()
		if err != nil {
			return err
		}
		r := c.alu(kind, c.readRM(m, size), c.Regs.get(size, m.Reg), size)
		if kind != aluCmp {
			return c.writeRM(m, size, r)
		}
	case 2, 3: // Gb,Eb / Gv,Ev
		size := c.sizeOf(op&1 == 1)
		m, err := c.modrm()
		if err != nil {
			return err
		}
		r := c.alu(kind, c.Regs.get(size, m.Reg), c.readRM(m, size), size)
		if kind != aluCmp {
			c.Regs.set(size, m.Reg, r)
		}
	case 4: // AL,Ib
		r := c.alu(kind, c.Regs.get(1, 0), uint32(c.fetch8()), 1)
		if kind != aluCmp {
			c.Regs.set(1, 0, r)
		}
	case 5: // eAX,Iz
		size := c.opsize
		r := c.alu(kind, c.Regs.get(size, 0), c.fetchImm(size), size)
		if kind != aluCmp {
			c.Regs.set(size, 0, r)
		}
	}
	return nil
}

// opGroup1 handles 0x80-0x83: ALU r/m, imm with the operation in the reg field.
func opGroup1(c *CPU, op byte) error {
	size := c.sizeOf(op&1 == 1)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	var imm uint32
	switch op {
	case 0x81:
		imm = c.fetchImm(size)
	case 0x83:
		imm = c.fetchSImm8()
	default:
		imm = uint32(c.fetch8())
	}
	kind := int(m.Reg)
	r := c.alu(kind, c.readRM(m, size), imm, size)
	if kind != aluCmp {
		return c.writeRM(m, size, r)
	}
	return nil
}

// opTest handles TEST r/m,reg (0x84/0x85) and TEST acc,imm (0xA8/0xA9).
func opTest(c *CPU, op byte) error {
	switch op {
	case 0x84, 0x85:
		size := c.sizeOf(op == 0x85)
		m, err := c.modrm()
		if err != nil {
			return err
		}
		c.flagsLogic(c.readRM(m, size)&c.Regs.get(size, m.Reg), size)
	case 0xA8:
		c.flagsLogic(c.Regs.get(1, 0)&uint32(c.fetch8()), 1)
	case 0xA9:
		size := c.opsize
		c.flagsLogic(c.Regs.get(size, 0)&c.fetchImm(size), size)
	}
	return nil
}

// inc and dec leave CF untouched.
func (c *CPU) inc(v uint32, size int) uint32 {
	cf := c.Flags.CF
	r := c.flagsAdd(v, 1, 0, size)
	c.Flags.CF = cf
	return r
}

func (c *CPU) dec(v uint32, size int) uint32 {
	cf := c.Flags.CF
	r := c.flagsSub(v, 1, 0, size)
	c.Flags.CF = cf
	return r
}

// opIncDecReg handles 0x40-0x4F.
func opIncDecReg(c *CPU, op byte) error {
	n := op & 7
	size := c.opsize
	v := c.Regs.get(size, n)
	if op < 0x48 {
		c.Regs.set(size, n, c.inc(v, size))
	} else {
		c.Regs.set(size, n, c.dec(v, size))
	}
	return nil
}

// opGroup4 handles 0xFE: INC/DEC r/m8.
func opGroup4(c *CPU, op byte) error {
	m, err := c.modrm()
	if err != nil {
		return err
	}
	v := c.readRM(m, 1)
	switch m.Reg {
	case 0:
		return c.writeRM(m, 1, c.inc(v, 1))
	case 1:
		return c.writeRM(m, 1, c.dec(v, 1))
	}
	return fmt.Errorf("0xfe /%d: %w", m.Reg, ErrInvalidOpcode)
}

// opGroup5 handles 0xFF: INC, DEC, CALL, JMP and PUSH through r/m.
// Indirect CALL/JMP is how guest code reaches imported functions through the IAT.
func opGroup5(c *CPU, op byte) error {
	m, err := c.modrm()
	if err != nil {
		return err
	}
	size := c.opsize
	switch m.Reg {
	case 0:
		return c.writeRM(m, size, c.inc(c.readRM(m, size), size))
	case 1:
		return c.writeRM(m, size, c.dec(c.readRM(m, size), size))
	case 2:
		return c.call(c.readRM(m, 4))
	case 4:
		return c.jump(c.readRM(m, 4))
	case 6:
		return c.push(c.readRM(m, size), size)
	}
	return fmt.Errorf("0xff /%d: %w", m.Reg, ErrInvalidOpcode)
}

// opGroup3 handles 0xF6/0xF7: TEST, NOT, NEG, MUL, IMUL, DIV, IDIV.
func opGroup3(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xF7)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	v := c.readRM(m, size)
	switch m.Reg {
	case 0, 1:
		c.flagsLogic(v&c.fetchImm(size), size)
		return nil
	case 2:
		return c.writeRM(m, size, ^v&mask(size))
	case 3:
		r := c.flagsSub(0, v, 0, size)
		return c.writeRM(m, size, r)
	case 4:
		c.mul(v, size)
		return nil
	case 5:
		c.imul1(v, size)
		return nil
	case 6:
		return c.div(v, size)
	}
	return c.idiv(v, size)
}

func (c *CPU) mul(src uint32, size int) {
	switch size {
	case 1:
		r := uint32(c.Regs.Get8(0)) * (src & 0xFF)
		c.Regs.Set16(EAX, uint16(r))
		c.Flags.CF = r>>8 != 0
	case 2:
		r := uint32(c.Regs.Get16(EAX)) * (src & 0xFFFF)
		c.Regs.Set16(EAX, uint16(r))
		c.Regs.Set16(EDX, uint16(r>>16))
		c.Flags.CF = r>>16 != 0
	default:
		r := uint64(c.Regs.GPR[EAX]) * uint64(src)
		c.Regs.GPR[EAX] = uint32(r)
		c.Regs.GPR[EDX] = uint32(r >> 32)
		c.Flags.CF = r>>32 != 0
	}
	c.Flags.OF = c.Flags.CF
}

func (c *CPU) imul1(src uint32, size int) {
	switch size {
	case 1:
		r := int16(int8(c.Regs.Get8(0))) * int16(int8(src))
		c.Regs.Set16(EAX, uint16(r))
		c.Flags.CF = r != int16(int8(r))
	case 2:
		r := int32(int16(c.Regs.Get16(EAX))) * int32(int16(src))
		c.Regs.Set16(EAX, uint16(r))
		c.Regs.Set16(EDX, uint16(uint32(r)>>16))
		c.Flags.CF = r != int32(int16(r))
	default:
		r := int64(int32(c.Regs.GPR[EAX])) * int64(int32(src))
		c.Regs.GPR[EAX] = uint32(r)
		c.Regs.GPR[EDX] = uint32(uint64(r) >> 32)
		c.Flags.CF = r != int64(int32(r))
	}
	c.Flags.OF = c.Flags.CF
}

// imul2 is the truncating two- and three-operand form.
func (c *CPU) imul2(a, b uint32, size int) uint32 {
	full := int64(int32(signExtend(a, size))) * int64(int32(signExtend(b, size)))
	r := uint32(full) & mask(size)
	c.Flags.CF = full != int64(int32(signExtend(r, size)))
	c.Flags.OF = c.Flags.CF
	return r
}

func (c *CPU) div(src uint32, size int) error {
	src &= mask(size)
	if src == 0 {
		return fmt.Errorf("div by zero: %w", ErrDivide)
	}
	switch size {
	case 1:
		n := uint32(c.Regs.Get16(EAX))
		q := n / src
		if q > 0xFF {
			return fmt.Errorf("div quotient overflow: %w", ErrDivide)
		}
		c.Regs.Set8(0, byte(q))
		c.Regs.Set8(4, byte(n%src))
	case 2:
		n := uint32(c.Regs.Get16(EDX))<<16 | uint32(c.Regs.Get16(EAX))
		q := n / src
		if q > 0xFFFF {
			return fmt.Errorf("div quotient overflow: %w", ErrDivide)
		}
		c.Regs.Set16(EAX, uint16(q))
		c.Regs.Set16(EDX, uint16(n%src))
	default:
		n := uint64(c.Regs.GPR[EDX])<<32 | uint64(c.Regs.GPR[EAX])
		q := n / uint64(src)
		if q > math.MaxUint32 {
			return fmt.Errorf("div quotient overflow: %w", ErrDivide)
		}
		c.Regs.GPR[EAX] = uint32(q)
		c.Regs.GPR[EDX] = uint32(n % uint64(src))
	}
	return nil
}

func (c *CPU) idiv(src uint32, size int) error {
	d := int64(int32(signExtend(src&mask(size), size)))
	if d == 0 {
		return fmt.Errorf("idiv by zero: %w", ErrDivide)
	}
	var n, lo, hi int64
	switch size {
	case 1:
		n = int64(int16(c.Regs.Get16(EAX)))
		lo, hi = math.MinInt8, math.MaxInt8
	case 2:
		n = int64(int32(uint32(c.Regs.Get16(EDX))<<16 | uint32(c.Regs.Get16(EAX))))
		lo, hi = math.MinInt16, math.MaxInt16
	default:
		n = int64(uint64(c.Regs.GPR[EDX])<<32 | uint64(c.Regs.GPR[EAX]))
		lo, hi = math.MinInt32, math.MaxInt32
	}
	if n == math.MinInt64 && d == -1 {
		return fmt.Errorf("idiv quotient overflow: %w", ErrDivide)
	}
	q, r := n/d, n%d
	if q < lo || q > hi {
		return fmt.Errorf("idiv quotient overflow: %w", ErrDivide)
	}
	switch size {
	case 1:
		c.Regs.Set8(0, byte(q))
		c.Regs.Set8(4, byte(r))
	case 2:
		c.Regs.Set16(EAX, uint16(q))
		c.Regs.Set16(EDX, uint16(r))
	default:
		c.Regs.GPR[EAX] = uint32(q)
		c.Regs.GPR[EDX] = uint32(r)
	}
	return nil
}

// opImul handles 0x69 (Gv,Ev,Iz), 0x6B (Gv,Ev,Ib) and 0x0F 0xAF (Gv,Ev).
func opImul(c *CPU, op byte) error {
	size := c.opsize
	m, err := c.modrm()
	if err != nil {
		return err
	}
	src := c.readRM(m, size)
	var r uint32
	switch op {
	case 0x69:
		r = c.imul2(src, c.fetchImm(size), size)
	case 0x6B:
		r = c.imul2(src, c.fetchSImm8(), size)
	default:
		r = c.imul2(c.Regs.get(size, m.Reg), src, size)
	}
	c.Regs.set(size, m.Reg, r)
	return nil
}
