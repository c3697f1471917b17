package x86

// Shift and rotate operations in reg-field order for 0xC0/0xC1/0xD0-0xD3.
const (
	shROL = iota
	shROR
	shRCL
	shRCR
	shSHL
	shSHR
	shSAL
	shSAR
)

// shift applies a group-2 operation. The count is masked to 5 bits; a
// masked count of zero leaves the operand and all flags unchanged. OF is
// only defined for a count of one and is otherwise left alone.
func (c *CPU) shift(kind byte, v, count uint32, size int) uint32 {
	count &= 0x1F
	m := mask(size)
	v &= m
	if count == 0 {
		return v
	}
	bits := uint32(size * 8)
	sign := signBit(size)
	f := &c.Flags

	switch kind {
	case shROL:
		r := v
		if n := count % bits; n != 0 {
			r = (v<<n | v>>(bits-n)) & m
		}
		f.CF = r&1 != 0
		if count == 1 {
			f.OF = (r&sign != 0) != f.CF
		}
		return r
	case shROR:
		r := v
		if n := count % bits; n != 0 {
			r = (v>>n | v<<(bits-n)) & m
		}
		f.CF = r&sign != 0
		if count == 1 {
			f.OF = (r&sign != 0) != (r&(sign>>1) != 0)
		}
		return r
	case shRCL:
		r := v
		for i := uint32(0); i < count%(bits+1); i++ {
			out := r&sign != 0
			r = (r<<1 | b2u(f.CF)) & m
			f.CF = out
		}
		if count == 1 {
			f.OF = (r&sign != 0) != f.CF
		}
		return r
	case shRCR:
		if count == 1 {
			f.OF = (v&sign != 0) != f.CF
		}
		r := v
		for i := uint32(0); i < count%(bits+1); i++ {
			out := r&1 != 0
			r = r>>1 | b2u(f.CF)<<(bits-1)
			f.CF = out
		}
		return r
	case shSHL, shSAL:
		r := (v << count) & m
		if count <= bits {
			f.CF = (v>>(bits-count))&1 != 0
		} else {
			f.CF = false
		}
		if count == 1 {
			f.OF = (r&sign != 0) != f.CF
		}
		c.setSZP(r, size)
		return r
	case shSHR:
		r := v >> count
		f.CF = (v>>(count-1))&1 != 0
		if count == 1 {
			f.OF = v&sign != 0
		}
		c.setSZP(r, size)
		return r
	}
	// shSAR
	sv := int32(signExtend(v, size))
	r := uint32(sv>>count) & m
	f.CF = (sv>>(count-1))&1 != 0
	if count == 1 {
		f.OF = false
	}
	c.setSZP(r, size)
	return r
}

// opGroup2 handles 0xC0/0xC1 (imm8 count), 0xD0/0xD1 (count 1) and 0xD2/0xD3 (count CL).
func opGroup2(c *CPU, op byte) error {
	size := c.sizeOf(op&1 == 1)
	m, err := c.modrm()
	if err != nil {
		return err
	}
	var count uint32
	switch op {
	case 0xC0, 0xC1:
		count = uint32(c.fetch8())
	case 0xD0, 0xD1:
		count = 1
	default:
		count = uint32(c.Regs.Get8(1))
	}
	r := c.shift(m.Reg, c.readRM(m, size), count, size)
	return c.writeRM(m, size, r)
}

// opShiftDouble handles SHLD (0x0F 0xA4/0xA5) and SHRD (0x0F 0xAC/0xAD).
func opShiftDouble(c *CPU, op byte) error {
	size := c.opsize
	m, err := c.modrm()
	if err != nil {
		return err
	}
	var count uint32
	if op == 0xA4 || op == 0xAC {
		count = uint32(c.fetch8())
	} else {
		count = uint32(c.Regs.Get8(1))
	}
	count &= 0x1F
	if count == 0 {
		return nil
	}
	msk := mask(size)
	bits := uint(size * 8)
	dst := c.readRM(m, size) & msk
	src := c.Regs.get(size, m.Reg) & msk
	n := uint(count)

	var r uint32
	if op == 0xA4 || op == 0xA5 {
		wide := uint64(dst)<<bits | uint64(src)
		r = uint32((wide<<n)>>bits) & msk
		c.Flags.CF = (wide>>(2*bits-n))&1 != 0
	} else {
		wide := uint64(src)<<bits | uint64(dst)
		r = uint32(wide>>n) & msk
		c.Flags.CF = (wide>>(n-1))&1 != 0
	}
	if count == 1 {
		c.Flags.OF = (r^dst)&signBit(size) != 0
	}
	c.setSZP(r, size)
	return c.writeRM(m, size, r)
}
