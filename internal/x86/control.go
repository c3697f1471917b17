package x86

import "fmt"

// opJccShort handles 0x70-0x7F.
func opJccShort(c *CPU, op byte) error {
	disp := c.fetchSImm8()
	if c.cond(op & 0xF) {
		return c.jump(c.next + disp)
	}
	return nil
}

// opJccNear handles 0x0F 0x80-0x8F.
func opJccNear(c *CPU, op byte) error {
	disp := c.fetchRel()
	if c.cond(op & 0xF) {
		return c.jump(c.next + disp)
	}
	return nil
}

// fetchRel reads a near displacement: rel32, or rel16 under 0x66.
func (c *CPU) fetchRel() uint32 {
	if c.opsize == 2 {
		return signExtend(uint32(c.fetch16()), 2)
	}
	return c.fetch32()
}

// opCallRel handles 0xE8. The return address is the byte after the displacement.
func opCallRel(c *CPU, op byte) error {
	disp := c.fetchRel()
	return c.call(c.next + disp)
}

// opJmp handles 0xE9 (rel32) and 0xEB (rel8).
func opJmp(c *CPU, op byte) error {
	var disp uint32
	if op == 0xEB {
		disp = c.fetchSImm8()
	} else {
		disp = c.fetchRel()
	}
	return c.jump(c.next + disp)
}

// opRet handles 0xC3 and 0xC2 (RET imm16). Returning to ExitAddress or below
// the configured threshold is a normal halt, not a fault.
func opRet(c *CPU, op byte) error {
	var release uint32
	if op == 0xC2 {
		release = uint32(c.fetch16())
	}
	ret, err := c.Pop()
	if err != nil {
		return err
	}
	c.Regs.GPR[ESP] += release
	c.Regs.EIP = ret
	c.branched = true
	if c.opts.Tracer != nil {
		c.opts.Tracer.Return(c.start, ret)
	}
	if ret == ExitAddress {
		return c.halt("returned to exit address")
	}
	if ret < c.opts.ReturnThreshold {
		return c.halt(fmt.Sprintf("returned to 0x%08x, program probably exited", ret))
	}
	return nil
}

// opLoop handles LOOPNE (0xE0), LOOPE (0xE1), LOOP (0xE2) and JECXZ (0xE3).
// ECX is decremented without touching flags.
func opLoop(c *CPU, op byte) error {
	disp := c.fetchSImm8()
	ecx := c.Regs.GPR[ECX]
	var taken bool
	if op == 0xE3 {
		taken = ecx == 0
	} else {
		ecx--
		c.Regs.GPR[ECX] = ecx
		switch op {
		case 0xE0:
			taken = ecx != 0 && !c.Flags.ZF
		case 0xE1:
			taken = ecx != 0 && c.Flags.ZF
		default:
			taken = ecx != 0
		}
	}
	if taken {
		return c.jump(c.next + disp)
	}
	return nil
}

// opHlt handles 0xF4.
func opHlt(c *CPU, op byte) error {
	return c.halt("hlt")
}

// opInt3 handles 0xCC as a breakpoint stop.
func opInt3(c *CPU, op byte) error {
	return c.halt("breakpoint")
}

// opInt handles INT imm8 (0xCD) and INTO (0xCE). No interrupt vectors exist.
func opInt(c *CPU, op byte) error {
	if op == 0xCE {
		if !c.Flags.OF {
			return nil
		}
		return fmt.Errorf("into: %w", ErrInterrupt)
	}
	vec := c.fetch8()
	return fmt.Errorf("int 0x%02x: %w", vec, ErrInterrupt)
}
