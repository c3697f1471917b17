// Package disasm renders guest code as Intel-syntax x86 for traces, the
// debugger and the TUI.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/memory"
)

// MaxInsnLen is the longest x86 encoding.
const MaxInsnLen = 15

// Line is one decoded instruction.
type Line struct {
	Addr  uint32
	Bytes []byte
	Text  string
	Op    x86asm.Op // 0 when the bytes did not decode

	// Ref names the symbol a branch target, absolute memory operand or
	// immediate points at.
	Ref string
}

// Len returns the encoded length.
func (l Line) Len() int { return len(l.Bytes) }

// Symbols maps guest addresses to names.
type Symbols struct {
	names map[uint32]string
}

func NewSymbols() *Symbols {
	return &Symbols{names: make(map[uint32]string)}
}

// Add names addr. The shorter name wins when an address is named twice.
func (s *Symbols) Add(addr uint32, name string) {
	if old, ok := s.names[addr]; ok && len(old) <= len(name) {
		return
	}
	s.names[addr] = name
}

// Name returns the name bound to addr.
func (s *Symbols) Name(addr uint32) (string, bool) {
	if s == nil {
		return "", false
	}
	name, ok := s.names[addr]
	return name, ok
}

// Len returns the number of named addresses.
func (s *Symbols) Len() int { return len(s.names) }

// Lookup implements x86asm.SymLookup. Addresses are truncated to 32 bits so
// backward branches that wrapped in 64-bit arithmetic still resolve.
func (s *Symbols) Lookup(addr uint64) (string, uint64) {
	if name, ok := s.Name(uint32(addr)); ok {
		return name, addr
	}
	return "", 0
}

// FromEmulator names the entry point, every bound sentinel and every IAT
// slot of the loaded image.
func FromEmulator(emu *emulator.Emulator) *Symbols {
	s := NewSymbols()
	for sym, addr := range emu.Imports() {
		s.Add(addr, sym)
	}
	if img := emu.Image(); img != nil {
		s.Add(img.Entry, "start")
		for _, imp := range img.ImportList {
			s.Add(img.ImageBase+imp.IATRVA, "__imp_"+imp.Symbol())
		}
	}
	return s
}

// Decode decodes the instruction at the start of code, which lives at pc.
// Bytes that do not decode become a one-byte "db" line.
func Decode(code []byte, pc uint32, syms *Symbols) Line {
	inst, err := x86asm.Decode(code, 32)
	if err != nil || inst.Op == 0 {
		if len(code) == 0 {
			return Line{Addr: pc, Text: "??"}
		}
		return Line{Addr: pc, Bytes: code[:1], Text: fmt.Sprintf("db 0x%02x", code[0])}
	}
	line := Line{
		Addr:  pc,
		Bytes: code[:inst.Len],
		Op:    inst.Op,
	}
	var lookup x86asm.SymLookup
	if syms != nil {
		lookup = syms.Lookup
	}
	line.Text = x86asm.IntelSyntax(inst, uint64(pc), lookup)
	line.Ref = ref(inst, pc, syms)
	return line
}

func ref(inst x86asm.Inst, pc uint32, syms *Symbols) string {
	if syms == nil {
		return ""
	}
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		var addr uint32
		switch a := a.(type) {
		case x86asm.Rel:
			addr = pc + uint32(inst.Len) + uint32(int32(a))
		case x86asm.Mem:
			if a.Base != 0 || a.Index != 0 {
				continue
			}
			addr = uint32(a.Disp)
		case x86asm.Imm:
			addr = uint32(a)
		default:
			continue
		}
		if name, ok := syms.Name(addr); ok {
			return name
		}
	}
	return ""
}

// At decodes the instruction at addr in mem.
func At(mem *memory.Memory, addr uint32, syms *Symbols) Line {
	return Decode(mem.Read(addr, MaxInsnLen), addr, syms)
}

// Range decodes n instructions starting at addr.
func Range(mem *memory.Memory, addr uint32, n int, syms *Symbols) []Line {
	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		l := At(mem, addr, syms)
		lines = append(lines, l)
		addr += uint32(max(l.Len(), 1))
	}
	return lines
}

// HexBytes formats the encoding as space-free upper-case hex.
func (l Line) HexBytes() string {
	return fmt.Sprintf("%X", l.Bytes)
}

// Tags returns the trace tags of an instruction.
func (l Line) Tags() []string {
	var tags []string
	switch l.Op {
	case x86asm.CALL:
		tags = append(tags, "#call")
		if l.indirect() {
			tags = append(tags, "#br")
		}
	case x86asm.JMP:
		if l.indirect() {
			tags = append(tags, "#br")
		}
	case x86asm.RET, x86asm.LRET:
		tags = append(tags, "#ret")
	case x86asm.XOR, x86asm.PXOR, x86asm.XORPS:
		// xor reg, reg is a zeroing idiom, not data mixing
		f := operands(l.Text)
		if len(f) != 2 || f[0] != f[1] {
			tags = append(tags, "#xor")
		}
	case x86asm.INT, x86asm.INTO, x86asm.SYSENTER:
		tags = append(tags, "#syscall")
	case x86asm.HLT:
		tags = append(tags, "#halt")
	}
	if strings.HasPrefix(l.Text, "rep") {
		tags = append(tags, "#rep")
	}
	return tags
}

// IsBlockEnd reports whether the instruction ends a basic block.
func (l Line) IsBlockEnd() bool {
	switch l.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.IRET, x86asm.IRETD, x86asm.HLT,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JO, x86asm.JNO,
		x86asm.JP, x86asm.JNP, x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}

func (l Line) indirect() bool {
	f := strings.Fields(l.Text)
	if len(f) < 2 {
		return false
	}
	// direct branches print a bare target
	return strings.Contains(l.Text, "[") || isRegister(f[len(f)-1])
}

func operands(text string) []string {
	_, rest, ok := strings.Cut(text, " ")
	if !ok {
		return nil
	}
	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isRegister(s string) bool {
	switch s {
	case "eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp":
		return true
	}
	return false
}
