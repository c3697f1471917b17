package x86

type handler func(c *CPU, op byte) error

// Table maps opcode bytes to handlers: base holds the one-byte map, ext the
// 0x0F-prefixed map. A nil base entry is an invalid opcode; a nil ext entry
// is skipped as unimplemented. Tables are read-only once built and may be
// shared between CPUs.
type Table struct {
	base [256]handler
	ext  [256]handler
}

// NewTable builds the dispatch table.
func NewTable() *Table {
	t := &Table{}
	b := &t.base
	e := &t.ext

	for op := 0; op < 0x40; op++ {
		if op&7 < 6 {
			b[op] = opALU
		}
	}
	for _, op := range []byte{0x06, 0x0E, 0x16, 0x1E} {
		b[op] = opPushSeg
	}
	for _, op := range []byte{0x07, 0x17, 0x1F} {
		b[op] = opPopSeg
	}
	b[0x0F] = opTwoByte

	setRange(b, 0x40, 0x4F, opIncDecReg)
	setRange(b, 0x50, 0x57, opPushReg)
	setRange(b, 0x58, 0x5F, opPopReg)
	b[0x60] = opPushad
	b[0x61] = opPopad
	b[0x68] = opPushImm
	b[0x69] = opImul
	b[0x6A] = opPushImm
	b[0x6B] = opImul
	setRange(b, 0x70, 0x7F, opJccShort)
	setRange(b, 0x80, 0x83, opGroup1)
	b[0x84] = opTest
	b[0x85] = opTest
	b[0x86] = opXchg
	b[0x87] = opXchg
	setRange(b, 0x88, 0x8B, opMov)
	b[0x8C] = opMovFromSeg
	b[0x8D] = opLea
	b[0x8E] = opMovToSeg
	b[0x8F] = opPopRM
	setRange(b, 0x90, 0x97, opXchgAcc)
	b[0x98] = opCwde
	b[0x99] = opCdq
	b[0x9B] = opWait
	b[0x9C] = opPushfd
	b[0x9D] = opPopfd
	b[0x9E] = opSahf
	b[0x9F] = opLahf
	setRange(b, 0xA0, 0xA3, opMovMoffs)
	b[0xA4] = opMovs
	b[0xA5] = opMovs
	b[0xA6] = opCmps
	b[0xA7] = opCmps
	b[0xA8] = opTest
	b[0xA9] = opTest
	b[0xAA] = opStos
	b[0xAB] = opStos
	b[0xAC] = opLods
	b[0xAD] = opLods
	b[0xAE] = opScas
	b[0xAF] = opScas
	setRange(b, 0xB0, 0xBF, opMovRegImm)
	b[0xC0] = opGroup2
	b[0xC1] = opGroup2
	b[0xC2] = opRet
	b[0xC3] = opRet
	b[0xC6] = opMovRMImm
	b[0xC7] = opMovRMImm
	b[0xC8] = opEnter
	b[0xC9] = opLeave
	b[0xCC] = opInt3
	b[0xCD] = opInt
	b[0xCE] = opInt
	setRange(b, 0xD0, 0xD3, opGroup2)
	b[0xD7] = opXlat
	setRange(b, 0xD8, 0xDF, opFPU)
	setRange(b, 0xE0, 0xE3, opLoop)
	b[0xE8] = opCallRel
	b[0xE9] = opJmp
	b[0xEB] = opJmp
	b[0xF4] = opHlt
	b[0xF5] = opFlag
	b[0xF6] = opGroup3
	b[0xF7] = opGroup3
	setRange(b, 0xF8, 0xFD, opFlag)
	b[0xFE] = opGroup4
	b[0xFF] = opGroup5

	e[0x0B] = opUD2
	e[0x1F] = opNopRM
	e[0x31] = opRdtsc
	setRange(e, 0x40, 0x4F, opCmov)
	setRange(e, 0x80, 0x8F, opJccNear)
	setRange(e, 0x90, 0x9F, opSetcc)
	e[0xA0] = opPushSeg
	e[0xA1] = opPopSeg
	e[0xA2] = opCpuid
	e[0xA3] = opBt
	e[0xA4] = opShiftDouble
	e[0xA5] = opShiftDouble
	e[0xA8] = opPushSeg
	e[0xA9] = opPopSeg
	e[0xAB] = opBt
	e[0xAC] = opShiftDouble
	e[0xAD] = opShiftDouble
	e[0xAF] = opImul
	e[0xB0] = opCmpxchg
	e[0xB1] = opCmpxchg
	e[0xB3] = opBt
	e[0xB6] = opMovx
	e[0xB7] = opMovx
	e[0xBA] = opBt
	e[0xBB] = opBt
	e[0xBC] = opBitScan
	e[0xBD] = opBitScan
	e[0xBE] = opMovx
	e[0xBF] = opMovx
	e[0xC0] = opXadd
	e[0xC1] = opXadd
	setRange(e, 0xC8, 0xCF, opBswap)
	return t
}

func setRange(tbl *[256]handler, lo, hi int, h handler) {
	for op := lo; op <= hi; op++ {
		tbl[op] = h
	}
}

// Implemented reports whether op (or 0x0F op when ext is true) has a handler.
func (t *Table) Implemented(op byte, ext bool) bool {
	if ext {
		return t.ext[op] != nil
	}
	return t.base[op] != nil
}
