package x86

import "strings"

// EFLAGS bit positions
const (
	FlagCF = 1 << 0
	FlagPF = 1 << 2
	FlagAF = 1 << 4
	FlagZF = 1 << 6
	FlagSF = 1 << 7
	FlagTF = 1 << 8
	FlagIF = 1 << 9
	FlagDF = 1 << 10
	FlagOF = 1 << 11
)

// Flags holds the condition and control flags as independent booleans.
// Handlers write only the flags an instruction defines.
type Flags struct {
	CF, PF, AF, ZF, SF, TF, IF, DF, OF bool
}

// Value packs the flags into EFLAGS layout. Bit 1 is always set.
func (f *Flags) Value() uint32 {
	v := uint32(0x2)
	bits := []struct {
		set bool
		bit uint32
	}{
		{f.CF, FlagCF}, {f.PF, FlagPF}, {f.AF, FlagAF}, {f.ZF, FlagZF},
		{f.SF, FlagSF}, {f.TF, FlagTF}, {f.IF, FlagIF}, {f.DF, FlagDF}, {f.OF, FlagOF},
	}
	for _, b := range bits {
		if b.set {
			v |= b.bit
		}
	}
	return v
}

// SetValue unpacks an EFLAGS value.
func (f *Flags) SetValue(v uint32) {
	f.CF = v&FlagCF != 0
	f.PF = v&FlagPF != 0
	f.AF = v&FlagAF != 0
	f.ZF = v&FlagZF != 0
	f.SF = v&FlagSF != 0
	f.TF = v&FlagTF != 0
	f.IF = v&FlagIF != 0
	f.DF = v&FlagDF != 0
	f.OF = v&FlagOF != 0
}

func (f Flags) String() string {
	var parts []string
	add := func(set bool, name string) {
		if set {
			parts = append(parts, name)
		}
	}
	add(f.CF, "CF")
	add(f.PF, "PF")
	add(f.AF, "AF")
	add(f.ZF, "ZF")
	add(f.SF, "SF")
	add(f.DF, "DF")
	add(f.OF, "OF")
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// parity reports even parity of the low byte.
func parity(v byte) bool {
	v ^= v >> 4
	v ^= v >> 2
	v ^= v >> 1
	return v&1 == 0
}

func (c *CPU) setSZP(r uint32, size int) {
	r &= mask(size)
	c.Flags.ZF = r == 0
	c.Flags.SF = r&signBit(size) != 0
	c.Flags.PF = parity(byte(r))
}

// flagsAdd computes a+b+carry and sets CF, OF, AF, SF, ZF and PF.
func (c *CPU) flagsAdd(a, b, carry uint32, size int) uint32 {
	m := mask(size)
	a &= m
	b &= m
	wide := uint64(a) + uint64(b) + uint64(carry)
	r := uint32(wide) & m
	c.Flags.CF = wide > uint64(m)
	c.Flags.OF = (^(a^b))&(a^r)&signBit(size) != 0
	c.Flags.AF = (a^b^r)&0x10 != 0
	c.setSZP(r, size)
	return r
}

// flagsSub computes a-b-borrow and sets CF, OF, AF, SF, ZF and PF.
func (c *CPU) flagsSub(a, b, borrow uint32, size int) uint32 {
	m := mask(size)
	a &= m
	b &= m
	r := (a - b - borrow) & m
	c.Flags.CF = uint64(a) < uint64(b)+uint64(borrow)
	c.Flags.OF = (a^b)&(a^r)&signBit(size) != 0
	c.Flags.AF = (a^b^r)&0x10 != 0
	c.setSZP(r, size)
	return r
}

// flagsLogic sets flags for AND, OR, XOR and TEST: CF and OF are always cleared.
func (c *CPU) flagsLogic(r uint32, size int) {
	c.Flags.CF = false
	c.Flags.OF = false
	c.Flags.AF = false
	c.setSZP(r, size)
}

// cond evaluates a condition code (low nibble of Jcc, SETcc, CMOVcc).
func (c *CPU) cond(cc byte) bool {
	f := &c.Flags
	var r bool
	switch cc >> 1 {
	case 0:
		r = f.OF
	case 1:
		r = f.CF
	case 2:
		r = f.ZF
	case 3:
		r = f.CF || f.ZF
	case 4:
		r = f.SF
	case 5:
		r = f.PF
	case 6:
		r = f.SF != f.OF
	case 7:
		r = f.ZF || f.SF != f.OF
	}
	if cc&1 != 0 {
		return !r
	}
	return r
}

// CondName returns the mnemonic suffix for a condition code.
func CondName(cc byte) string {
	return [16]string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np", "l", "ge", "le", "g"}[cc&0xF]
}
