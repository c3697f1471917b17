package x86

import (
	"errors"
	"fmt"
)

// ErrTruncated is returned when a ModRM operand runs past the supplied bytes.
var ErrTruncated = errors.New("truncated operand")

// ModRM is a decoded ModRM operand with its effective address.
type ModRM struct {
	Mod byte
	Reg byte // reg field: register operand or group sub-operation
	RM  byte

	HasSIB bool
	Scale  byte
	Index  byte // 4 means no index
	Base   byte
	NoBase bool // [disp32] or SIB with base=5, mod=0

	Disp int32
	Addr uint32 // effective address, valid when Mod != 3

	// Len counts the ModRM byte, the SIB byte and the displacement.
	Len int
}

// IsReg reports whether the r/m operand is a register.
func (m ModRM) IsReg() bool {
	return m.Mod == 3
}

// DecodeModRM decodes the ModRM byte at code[0] together with any SIB byte and
// displacement that follow, and computes the effective address from regs.
// It reads only code and regs.
func DecodeModRM(code []byte, regs *Registers) (ModRM, error) {
	if len(code) < 1 {
		return ModRM{}, ErrTruncated
	}
	b := code[0]
	m := ModRM{
		Mod: b >> 6,
		Reg: (b >> 3) & 7,
		RM:  b & 7,
		Len: 1,
	}
	if m.Mod == 3 {
		return m, nil
	}

	need := func(n int) error {
		if len(code) < m.Len+n {
			return fmt.Errorf("modrm 0x%02x needs %d more bytes: %w", b, n, ErrTruncated)
		}
		return nil
	}
	disp32 := func() int32 {
		p := code[m.Len:]
		return int32(uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24)
	}

	var addr uint32
	switch {
	case m.RM == 4:
		if err := need(1); err != nil {
			return m, err
		}
		sib := code[m.Len]
		m.Len++
		m.HasSIB = true
		m.Scale = sib >> 6
		m.Index = (sib >> 3) & 7
		m.Base = sib & 7
		if m.Base == 5 && m.Mod == 0 {
			if err := need(4); err != nil {
				return m, err
			}
			m.NoBase = true
			m.Disp = disp32()
			m.Len += 4
			addr = uint32(m.Disp)
		} else {
			addr = regs.GPR[m.Base]
		}
		if m.Index != 4 {
			addr += regs.GPR[m.Index] << m.Scale
		}
	case m.RM == 5 && m.Mod == 0:
		if err := need(4); err != nil {
			return m, err
		}
		m.NoBase = true
		m.Disp = disp32()
		m.Len += 4
		m.Addr = uint32(m.Disp)
		return m, nil
	default:
		addr = regs.GPR[m.RM]
	}

	switch m.Mod {
	case 1:
		if err := need(1); err != nil {
			return m, err
		}
		m.Disp = int32(int8(code[m.Len]))
		m.Len++
		addr += uint32(m.Disp)
	case 2:
		if err := need(4); err != nil {
			return m, err
		}
		m.Disp = disp32()
		m.Len += 4
		addr += uint32(m.Disp)
	}
	m.Addr = addr
	return m, nil
}

// String renders the memory operand in Intel syntax, e.g. [ebx+ecx*4+0x8].
func (m ModRM) String() string {
	if m.IsReg() {
		return RegName(m.RM, 4)
	}
	var s string
	switch {
	case m.HasSIB:
		if !m.NoBase {
			s = regNames32[m.Base]
		}
		if m.Index != 4 {
			if s != "" {
				s += "+"
			}
			s += fmt.Sprintf("%s*%d", regNames32[m.Index], 1<<m.Scale)
		}
	case !m.NoBase:
		s = regNames32[m.RM]
	}
	switch {
	case s == "":
		s = fmt.Sprintf("0x%x", uint32(m.Disp))
	case m.Disp > 0:
		s += fmt.Sprintf("+0x%x", m.Disp)
	case m.Disp < 0:
		s += fmt.Sprintf("-0x%x", -int64(m.Disp))
	}
	return "[" + s + "]"
}
