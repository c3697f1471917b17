package x86

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// CPUID identity: a Pentium II class GenuineIntel part with FPU, TSC, CX8 and CMOV.
const (
	cpuidSignature = 0x00000633
	cpuidFeatures  = 1<<0 | 1<<4 | 1<<8 | 1<<15
)

// tscBase seeds the time-stamp counter, which then advances with retired instructions.
const tscBase = 0x0000_0001_0000_0000

// opTwoByte dispatches the 0x0F escape through the secondary table.
func opTwoByte(c *CPU, op byte) error {
	op2 := c.fetch8()
	if h := c.table.ext[op2]; h != nil {
		return h(c, op2)
	}
	return c.skipUnknown(fmt.Sprintf("0x0f 0x%02x", op2))
}

// skipUnknown measures the instruction at the start address with the
// disassembler and steps over it.
func (c *CPU) skipUnknown(what string) error {
	inst, err := x86asm.Decode(c.Mem.Read(c.start, maxInsnLen), 32)
	if err != nil {
		return fmt.Errorf("%s: %w", what, ErrInvalidOpcode)
	}
	c.next = c.start + uint32(inst.Len)
	return c.skip(fmt.Sprintf("unimplemented %s (%s)", what, inst.Op))
}

// opCpuid handles 0x0F 0xA2.
func opCpuid(c *CPU, op byte) error {
	r := &c.Regs
	switch r.GPR[EAX] {
	case 0:
		r.GPR[EAX] = 1
		r.GPR[EBX] = 0x756E6547 // "Genu"
		r.GPR[EDX] = 0x49656E69 // "ineI"
		r.GPR[ECX] = 0x6C65746E // "ntel"
	case 1:
		r.GPR[EAX] = cpuidSignature
		r.GPR[EBX] = 0
		r.GPR[ECX] = 0
		r.GPR[EDX] = cpuidFeatures
	default:
		r.GPR[EAX], r.GPR[EBX], r.GPR[ECX], r.GPR[EDX] = 0, 0, 0, 0
	}
	return nil
}

// opRdtsc handles 0x0F 0x31 with a deterministic counter.
func opRdtsc(c *CPU, op byte) error {
	tsc := uint64(tscBase) + c.Instructions
	c.Regs.GPR[EAX] = uint32(tsc)
	c.Regs.GPR[EDX] = uint32(tsc >> 32)
	return nil
}

// opNopRM handles the multi-byte NOP 0x0F 0x1F /0.
func opNopRM(c *CPU, op byte) error {
	_, err := c.decode()
	return err
}

// opUD2 handles 0x0F 0x0B.
func opUD2(c *CPU, op byte) error {
	return fmt.Errorf("ud2: %w", ErrInvalidOpcode)
}

// opWait handles 0x9B.
func opWait(c *CPU, op byte) error {
	return nil
}

// opFPU decodes an x87 escape (0xD8-0xDF) and steps over it.
func opFPU(c *CPU, op byte) error {
	if _, err := c.decode(); err != nil {
		return err
	}
	return c.skip(fmt.Sprintf("x87 escape 0x%02x", op))
}
