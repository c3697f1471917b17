package x86

import (
	"fmt"
	"math/bits"
)

// opMov handles 0x88-0x8B.
func opMov(c *CPU, op byte) error {
	size := c.sizeOf(op&1 == 1)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	if op < 0x8A {
		return c.writeRM(m, size, c.Regs.get(size, m.Reg))
	}
	c.Regs.set(size, m.Reg, c.readRM(m, size))
	return nil
}

// opMovFromSeg handles 0x8C: MOV r/m, Sreg.
func opMovFromSeg(c *CPU, op byte) error {
	m, err := c.modrm()
	if err != nil {
		return err
	}
	sel := uint32(SelectorDS)
	switch m.Reg {
	case 1:
		sel = SelectorCS
	case 4:
		sel = SelectorFS
	case 5:
		sel = SelectorGS
	}
	if m.IsReg() {
		c.Regs.set(c.opsize, m.RM, sel)
		return nil
	}
	return c.store(m.Addr, 2, sel)
}

// opMovToSeg handles 0x8E. Segment loads are accepted and ignored.
func opMovToSeg(c *CPU, op byte) error {
	_, err := c.modrm()
	return err
}

// opLea handles 0x8D. The segment base is not applied.
func opLea(c *CPU, op byte) error {
	m, err := c.decode()
	if err != nil {
		return err
	}
	if m.IsReg() {
		return fmt.Errorf("lea with register operand: %w", ErrInvalidOpcode)
	}
	c.Regs.set(c.opsize, m.Reg, m.Addr)
	return nil
}

// opMovMoffs handles 0xA0-0xA3: accumulator to/from an absolute address.
// fs:[0x18] reads of the thread block go through here.
func opMovMoffs(c *CPU, op byte) error {
	size := c.sizeOf(op&1 == 1)
	addr := c.fetch32() + c.segBase
	if op < 0xA2 {
		c.Regs.set(size, 0, c.load(addr, size))
		return nil
	}
	return c.store(addr, size, c.Regs.get(size, 0))
}

// opMovRegImm handles 0xB0-0xBF.
func opMovRegImm(c *CPU, op byte) error {
	if op < 0xB8 {
		c.Regs.Set8(op&7, c.fetch8())
		return nil
	}
	c.Regs.set(c.opsize, op&7, c.fetchImm(c.opsize))
	return nil
}

// opMovRMImm handles 0xC6 /0 and 0xC7 /0.
func opMovRMImm(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xC7)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	if m.Reg != 0 {
		return fmt.Errorf("0x%02x /%d: %w", op, m.Reg, ErrInvalidOpcode)
	}
	return c.writeRM(m, size, c.fetchImm(size))
}

// opXchg handles 0x86/0x87.
func opXchg(c *CPU, op byte) error {
	size := c.sizeOf(op == 0x87)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	a := c.readRM(m, size)
	b := c.Regs.get(size, m.Reg)
	if err := c.writeRM(m, size, b); err != nil {
		return err
	}
	c.Regs.set(size, m.Reg, a)
	return nil
}

// opXchgAcc handles 0x90-0x97. 0x90 is NOP (and PAUSE with 0xF3).
func opXchgAcc(c *CPU, op byte) error {
	n := op & 7
	if n == 0 {
		return nil
	}
	size := c.opsize
	a := c.Regs.get(size, 0)
	c.Regs.set(size, 0, c.Regs.get(size, n))
	c.Regs.set(size, n, a)
	return nil
}

// opCwde handles 0x98: CWDE, or CBW under 0x66.
func opCwde(c *CPU, op byte) error {
	if c.opsize == 2 {
		c.Regs.Set16(EAX, uint16(signExtend(uint32(c.Regs.Get8(0)), 1)))
	} else {
		c.Regs.GPR[EAX] = signExtend(uint32(c.Regs.Get16(EAX)), 2)
	}
	return nil
}

// opCdq handles 0x99: CDQ, or CWD under 0x66.
func opCdq(c *CPU, op byte) error {
	if c.opsize == 2 {
		var hi uint16
		if c.Regs.Get16(EAX)&0x8000 != 0 {
			hi = 0xFFFF
		}
		c.Regs.Set16(EDX, hi)
		return nil
	}
	if c.Regs.GPR[EAX]&0x80000000 != 0 {
		c.Regs.GPR[EDX] = 0xFFFFFFFF
	} else {
		c.Regs.GPR[EDX] = 0
	}
	return nil
}

// opSahf handles 0x9E.
func opSahf(c *CPU, op byte) error {
	ah := uint32(c.Regs.Get8(4))
	c.Flags.SF = ah&FlagSF != 0
	c.Flags.ZF = ah&FlagZF != 0
	c.Flags.AF = ah&FlagAF != 0
	c.Flags.PF = ah&FlagPF != 0
	c.Flags.CF = ah&FlagCF != 0
	return nil
}

// opLahf handles 0x9F.
func opLahf(c *CPU, op byte) error {
	c.Regs.Set8(4, byte(c.Flags.Value()))
	return nil
}

// opXlat handles 0xD7: AL = [EBX + AL].
func opXlat(c *CPU, op byte) error {
	addr := c.Regs.GPR[EBX] + uint32(c.Regs.Get8(0)) + c.segBase
	c.Regs.Set8(0, c.Mem.ReadByte(addr))
	return nil
}

// opFlag handles CMC, CLC, STC, CLI, STI, CLD and STD.
func opFlag(c *CPU, op byte) error {
	switch op {
	case 0xF5:
		c.Flags.CF = !c.Flags.CF
	case 0xF8:
		c.Flags.CF = false
	case 0xF9:
		c.Flags.CF = true
	case 0xFA:
		c.Flags.IF = false
	case 0xFB:
		c.Flags.IF = true
	case 0xFC:
		c.Flags.DF = false
	case 0xFD:
		c.Flags.DF = true
	}
	return nil
}

// opMovx handles MOVZX (0x0F 0xB6/0xB7) and MOVSX (0x0F 0xBE/0xBF).
func opMovx(c *CPU, op byte) error {
	m, err := c.modrm()
	if err != nil {
		return err
	}
	src := 1
	if op&1 == 1 {
		src = 2
	}
	v := c.readRM(m, src)
	if op >= 0xBE {
		v = signExtend(v, src)
	}
	c.Regs.set(c.opsize, m.Reg, v&mask(c.opsize))
	return nil
}

// opCmov handles 0x0F 0x40-0x4F. The source is read even when the condition is false.
func opCmov(c *CPU, op byte) error {
	m, err := c.modrm()
	if err != nil {
		return err
	}
	v := c.readRM(m, c.opsize)
	if c.cond(op & 0xF) {
		c.Regs.set(c.opsize, m.Reg, v)
	}
	return nil
}

// opSetcc handles 0x0F 0x90-0x9F.
func opSetcc(c *CPU, op byte) error {
	m, err := c.modrm()
	if err != nil {
		return err
	}
	return c.writeRM(m, 1, b2u(c.cond(op&0xF)))
}

// opBswap handles 0x0F 0xC8-0xCF.
func opBswap(c *CPU, op byte) error {
	n := Reg(op & 7)
	c.Regs.Set32(n, bits.ReverseBytes32(c.Regs.Get32(n)))
	return nil
}

// opXadd handles 0x0F 0xC0/0xC1.
func opXadd(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xC1)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	dst := c.readRM(m, size)
	src := c.Regs.get(size, m.Reg)
	sum := c.flagsAdd(dst, src, 0, size)
	c.Regs.set(size, m.Reg, dst)
	return c.writeRM(m, size, sum)
}

// opCmpxchg handles 0x0F 0xB0/0xB1.
func opCmpxchg(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xB1)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	dst := c.readRM(m, size)
	c.flagsSub(c.Regs.get(size, 0), dst, 0, size)
	if c.Flags.ZF {
		return c.writeRM(m, size, c.Regs.get(size, m.Reg))
	}
	c.Regs.set(size, 0, dst)
	return nil
}

// bit test operations in 0x0F 0xBA reg-field order (4-7)
const (
	btTest = iota
	btSet
	btReset
	btComplement
)

// opBt handles BT/BTS/BTR/BTC with a register bit offset (0x0F 0xA3/0xAB/0xB3/0xBB)
// and with an immediate (0x0F 0xBA /4-/7).
func opBt(c *CPU, op byte) error {
	size := c.opsize
	width := uint32(size * 8)
	m, err := c.modrm()
	if err != nil {
		return err
	}

	var kind int
	var bit uint32
	if op == 0xBA {
		if m.Reg < 4 {
			return fmt.Errorf("0x0f 0xba /%d: %w", m.Reg, ErrInvalidOpcode)
		}
		kind = int(m.Reg - 4)
		bit = uint32(c.fetch8()) % width
	} else {
		switch op {
		case 0xAB:
			kind = btSet
		case 0xB3:
			kind = btReset
		case 0xBB:
			kind = btComplement
		default:
			kind = btTest
		}
		off := c.Regs.get(size, m.Reg)
		if m.IsReg() {
			bit = off % width
		} else {
			// a register offset may address bits outside the operand
			soff := int32(signExtend(off, size))
			m.Addr += uint32((soff >> bits.TrailingZeros32(width)) * int32(size))
			bit = uint32(soff) & (width - 1)
		}
	}

	v := c.readRM(m, size)
	c.Flags.CF = (v>>bit)&1 != 0
	switch kind {
	case btSet:
		v |= 1 << bit
	case btReset:
		v &^= 1 << bit
	case btComplement:
		v ^= 1 << bit
	default:
		return nil
	}
	return c.writeRM(m, size, v)
}

// opBitScan handles BSF (0x0F 0xBC) and BSR (0x0F 0xBD). A zero source sets
// ZF and leaves the destination unchanged.
func opBitScan(c *CPU, op byte) error {
	size := c.opsize
	m, err := c.modrm()
	if err != nil {
		return err
	}
	v := c.readRM(m, size) & mask(size)
	if v == 0 {
		c.Flags.ZF = true
		return nil
	}
	c.Flags.ZF = false
	var idx int
	if op == 0xBC {
		idx = bits.TrailingZeros32(v)
	} else {
		idx = bits.Len32(v) - 1
	}
	c.Regs.set(size, m.Reg, uint32(idx))
	return nil
}
