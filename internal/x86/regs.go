package x86

// Reg is a general register number as encoded in ModRM and opcode low bits.
type Reg uint8

// General registers in encoding order.
const (
	EAX Reg = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

var (
	regNames32 = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	regNames16 = [8]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
	regNames8  = [8]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}
)

func (r Reg) String() string {
	if r > EDI {
		return "?"
	}
	return regNames32[r]
}

// RegName returns the assembler name of register n at the given operand size.
func RegName(n byte, size int) string {
	n &= 7
	switch size {
	case 1:
		return regNames8[n]
	case 2:
		return regNames16[n]
	}
	return regNames32[n]
}

// Registers is the integer register file. Sub-registers have no storage of
// their own; AL, AH and AX are views of EAX.
type Registers struct {
	GPR [8]uint32
	EIP uint32
}

// Get32 returns a 32-bit register.
func (r *Registers) Get32(n Reg) uint32 {
	return r.GPR[n&7]
}

// Set32 writes a 32-bit register.
func (r *Registers) Set32(n Reg, v uint32) {
	r.GPR[n&7] = v
}

// Get16 returns the low 16 bits of a register.
func (r *Registers) Get16(n Reg) uint16 {
	return uint16(r.GPR[n&7])
}

// Set16 writes the low 16 bits of a register, keeping bits 16-31.
func (r *Registers) Set16(n Reg, v uint16) {
	r.GPR[n&7] = r.GPR[n&7]&0xFFFF0000 | uint32(v)
}

// Get8 returns an 8-bit register using the encoding order AL, CL, DL, BL, AH, CH, DH, BH.
func (r *Registers) Get8(n byte) byte {
	n &= 7
	if n < 4 {
		return byte(r.GPR[n])
	}
	return byte(r.GPR[n-4] >> 8)
}

// Set8 writes an 8-bit register. Writing AL keeps bits 8-31 of EAX; writing
// AH keeps bits 0-7 and 16-31.
func (r *Registers) Set8(n byte, v byte) {
	n &= 7
	if n < 4 {
		r.GPR[n] = r.GPR[n]&0xFFFFFF00 | uint32(v)
		return
	}
	r.GPR[n-4] = r.GPR[n-4]&0xFFFF00FF | uint32(v)<<8
}

func (r *Registers) get(size int, n byte) uint32 {
	switch size {
	case 1:
		return uint32(r.Get8(n))
	case 2:
		return uint32(r.Get16(Reg(n)))
	}
	return r.GPR[n&7]
}

func (r *Registers) set(size int, n byte, v uint32) {
	switch size {
	case 1:
		r.Set8(n, byte(v))
	case 2:
		r.Set16(Reg(n), uint16(v))
	default:
		r.GPR[n&7] = v
	}
}

// Segment selector values reported for PUSH Sreg and MOV r/m, Sreg.
// They match what a 32-bit Windows user-mode thread observes.
const (
	SelectorCS = 0x1B
	SelectorDS = 0x23
	SelectorFS = 0x3B
	SelectorGS = 0x00
)

func mask(size int) uint32 {
	switch size {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	}
	return 0xFFFFFFFF
}

func signBit(size int) uint32 {
	return 1 << (uint(size)*8 - 1)
}

func signExtend(v uint32, size int) uint32 {
	switch size {
	case 1:
		return uint32(int32(int8(v)))
	case 2:
		return uint32(int32(int16(v)))
	}
	return v
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
