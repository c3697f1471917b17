package x86

// String instructions. The source is DS:ESI (segment override applies),
// the destination ES:EDI. The direction flag selects increment or decrement.

func (c *CPU) strDelta(size int) uint32 {
	if c.Flags.DF {
		return uint32(-size)
	}
	return uint32(size)
}

// repeat runs body once. Under a REP prefix each step runs one iteration
// and leaves eip on the instruction until ECX reaches zero, so a long
// repetition retires one instruction per element. For CMPS and SCAS REPE
// stops when ZF clears and REPNE stops when ZF sets.
func (c *CPU) repeat(cmp bool, body func() error) error {
	if c.rep == 0 {
		return body()
	}
	if c.Regs.GPR[ECX] == 0 {
		return nil
	}
	if err := body(); err != nil {
		return err
	}
	c.Regs.GPR[ECX]--
	if c.Regs.GPR[ECX] == 0 {
		return nil
	}
	if cmp && (c.rep == 0xF3 && !c.Flags.ZF || c.rep == 0xF2 && c.Flags.ZF) {
		return nil
	}
	c.Regs.EIP = c.start
	c.branched = true
	return nil
}

// opMovs handles 0xA4/0xA5.
func opMovs(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xA5)
	d := c.strDelta(size)
	return c.repeat(false, func() error {
		v := c.load(c.Regs.GPR[ESI]+c.segBase, size)
		if err := c.store(c.Regs.GPR[EDI], size, v); err != nil {
			return err
		}
		c.Regs.GPR[ESI] += d
		c.Regs.GPR[EDI] += d
		return nil
	})
}

// opCmps handles 0xA6/0xA7.
func opCmps(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xA7)
	d := c.strDelta(size)
	return c.repeat(true, func() error {
		a := c.load(c.Regs.GPR[ESI]+c.segBase, size)
		b := c.load(c.Regs.GPR[EDI], size)
		c.flagsSub(a, b, 0, size)
		c.Regs.GPR[ESI] += d
		c.Regs.GPR[EDI] += d
		return nil
	})
}

// opStos handles 0xAA/0xAB.
func opStos(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xAB)
	d := c.strDelta(size)
	v := c.Regs.get(size, 0)
	return c.repeat(false, func() error {
		if err := c.store(c.Regs.GPR[EDI], size, v); err != nil {
			return err
		}
		c.Regs.GPR[EDI] += d
		return nil
	})
}

// opLods handles 0xAC/0xAD.
func opLods(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xAD)
	d := c.strDelta(size)
	return c.repeat(false, func() error {
		c.Regs.set(size, 0, c.load(c.Regs.GPR[ESI]+c.segBase, size))
		c.Regs.GPR[ESI] += d
		return nil
	})
}

// opScas handles 0xAE/0xAF.
func opScas(c *CPU, op byte) error {
	size := c.sizeOf(op == 0xAF)
	d := c.strDelta(size)
	return c.repeat(true, func() error {
		c.flagsSub(c.Regs.get(size, 0), c.load(c.Regs.GPR[EDI], size), 0, size)
		c.Regs.GPR[EDI] += d
		return nil
	})
}
