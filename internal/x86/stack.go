package x86

import "fmt"

// opPushReg handles 0x50-0x57. PUSH ESP stores the value before the decrement.
func opPushReg(c *CPU, op byte) error {
	return c.push(c.Regs.get(c.opsize, op&7), c.opsize)
}

// opPopReg handles 0x58-0x5F.
func opPopReg(c *CPU, op byte) error {
	v, err := c.pop(c.opsize)
	if err != nil {
		return err
	}
	c.Regs.set(c.opsize, op&7, v)
	return nil
}

// opPushImm handles 0x68 (Iz) and 0x6A (Ib sign-extended).
func opPushImm(c *CPU, op byte) error {
	var v uint32
	if op == 0x68 {
		v = c.fetchImm(c.opsize)
	} else {
		v = c.fetchSImm8()
	}
	return c.push(v, c.opsize)
}

// opPopRM handles 0x8F /0. esp is incremented before the destination
// address is computed.
func opPopRM(c *CPU, op byte) error {
	v, err := c.pop(c.opsize)
	if err != nil {
		return err
	}
	m, err := c.modrm()
	if err != nil {
		return err
	}
	if m.Reg != 0 {
		return fmt.Errorf("0x8f /%d: %w", m.Reg, ErrInvalidOpcode)
	}
	return c.writeRM(m, c.opsize, v)
}

// opPushad handles 0x60: EAX, ECX, EDX, EBX, original ESP, EBP, ESI, EDI.
func opPushad(c *CPU, op byte) error {
	size := c.opsize
	orig := c.Regs.get(size, byte(ESP))
	for r := byte(0); r < 8; r++ {
		v := c.Regs.get(size, r)
		if Reg(r) == ESP {
			v = orig
		}
		if err := c.push(v, size); err != nil {
			return err
		}
	}
	return nil
}

// opPopad handles 0x61. The stored ESP slot is discarded.
func opPopad(c *CPU, op byte) error {
	size := c.opsize
	for r := 7; r >= 0; r-- {
		v, err := c.pop(size)
		if err != nil {
			return err
		}
		if Reg(r) != ESP {
			c.Regs.set(size, byte(r), v)
		}
	}
	return nil
}

// opPushfd handles 0x9C.
func opPushfd(c *CPU, op byte) error {
	return c.push(c.Flags.Value(), c.opsize)
}

// opPopfd handles 0x9D.
func opPopfd(c *CPU, op byte) error {
	v, err := c.pop(c.opsize)
	if err != nil {
		return err
	}
	if c.opsize == 2 {
		v = c.Flags.Value()&0xFFFF0000 | v&0xFFFF
	}
	c.Flags.SetValue(v)
	return nil
}

// opEnter handles 0xC8: ENTER imm16, imm8.
func opEnter(c *CPU, op byte) error {
	size := uint32(c.fetch16())
	level := c.fetch8() & 0x1F
	if err := c.Push(c.Regs.GPR[EBP]); err != nil {
		return err
	}
	frame := c.Regs.GPR[ESP]
	if level > 0 {
		ebp := c.Regs.GPR[EBP]
		for i := byte(1); i < level; i++ {
			ebp -= 4
			if err := c.Push(c.Mem.ReadDword(ebp)); err != nil {
				return err
			}
		}
		if err := c.Push(frame); err != nil {
			return err
		}
	}
	c.Regs.GPR[EBP] = frame
	esp := c.Regs.GPR[ESP] - size
	if c.opts.StackLow != 0 && esp < c.opts.StackLow {
		return fmt.Errorf("enter frame at 0x%08x: %w", esp, ErrStackOverflow)
	}
	c.Regs.GPR[ESP] = esp
	return nil
}

// opLeave handles 0xC9: ESP = EBP, then pop EBP.
func opLeave(c *CPU, op byte) error {
	c.Regs.GPR[ESP] = c.Regs.GPR[EBP]
	v, err := c.Pop()
	if err != nil {
		return err
	}
	c.Regs.GPR[EBP] = v
	return nil
}

// opPushSeg pushes a fixed selector for ES/CS/SS/DS (0x06/0x0E/0x16/0x1E)
// and FS/GS (0x0F 0xA0/0xA8).
func opPushSeg(c *CPU, op byte) error {
	sel := uint32(SelectorDS)
	switch op {
	case 0x0E:
		sel = SelectorCS
	case 0xA0:
		sel = SelectorFS
	case 0xA8:
		sel = SelectorGS
	}
	return c.push(sel, c.opsize)
}

// opPopSeg discards the popped selector; the address space is flat.
func opPopSeg(c *CPU, op byte) error {
	_, err := c.pop(c.opsize)
	return err
}
