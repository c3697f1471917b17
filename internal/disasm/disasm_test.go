package disasm

import (
	"slices"
	"testing"

	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/memory"
	"github.com/zboralski/winemu/internal/pe/petest"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		text  string
		tags  []string
		end   bool
		bytes int
	}{
		{"push", []byte{0x55}, "push ebp", nil, false, 1},
		{"mov", []byte{0x89, 0xE5}, "mov ebp, esp", nil, false, 2},
		{"zero", []byte{0x31, 0xC0}, "xor eax, eax", nil, false, 2},
		{"xor", []byte{0x31, 0xD8}, "xor eax, ebx", []string{"#xor"}, false, 2},
		{"ret", []byte{0xC3}, "ret", []string{"#ret"}, true, 1},
		{"jmp reg", []byte{0xFF, 0xE0}, "jmp eax", []string{"#br"}, true, 2},
		{"hlt", []byte{0xF4}, "hlt", []string{"#halt"}, true, 1},
		{"truncated", []byte{0x0F}, "db 0x0f", nil, false, 1},
		{"truncated escape", []byte{0x0F, 0x38}, "db 0x0f", nil, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Decode(tt.code, 0x401000, nil)
			if l.Text != tt.text {
				t.Errorf("Text = %q, want %q", l.Text, tt.text)
			}
			if l.Len() != tt.bytes {
				t.Errorf("Len = %d, want %d", l.Len(), tt.bytes)
			}
			if got := l.Tags(); !slices.Equal(got, tt.tags) {
				t.Errorf("Tags = %v, want %v", got, tt.tags)
			}
			if l.IsBlockEnd() != tt.end {
				t.Errorf("IsBlockEnd = %v", l.IsBlockEnd())
			}
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	l := Decode(nil, 0x1000, nil)
	if l.Text != "??" || l.Len() != 0 {
		t.Errorf("got %+v", l)
	}
}

func TestDecodeSymbols(t *testing.T) {
	syms := NewSymbols()
	syms.Add(0x401020, "start")
	syms.Add(0x402000, "__imp_MessageBoxA")

	// call rel32 to 0x401020
	l := Decode([]byte{0xE8, 0x1B, 0x00, 0x00, 0x00}, 0x401000, syms)
	if l.Text != "call start" || l.Ref != "start" {
		t.Errorf("direct call = %q ref %q", l.Text, l.Ref)
	}
	if got := l.Tags(); !slices.Equal(got, []string{"#call"}) {
		t.Errorf("Tags = %v", got)
	}

	// call dword ptr [0x402000]
	l = Decode([]byte{0xFF, 0x15, 0x00, 0x20, 0x40, 0x00}, 0x401000, syms)
	if l.Ref != "__imp_MessageBoxA" {
		t.Errorf("Ref = %q", l.Ref)
	}
	if got := l.Tags(); !slices.Equal(got, []string{"#call", "#br"}) {
		t.Errorf("Tags = %v", got)
	}
	if l.HexBytes() != "FF1500204000" {
		t.Errorf("HexBytes = %q", l.HexBytes())
	}
}

func TestSymbolsShorterNameWins(t *testing.T) {
	s := NewSymbols()
	s.Add(0x10, "longer_name")
	s.Add(0x10, "short")
	s.Add(0x10, "much_longer_name")
	if name, _ := s.Name(0x10); name != "short" {
		t.Errorf("Name = %q", name)
	}
	if name, base := s.Lookup(0x10); name != "short" || base != 0x10 {
		t.Errorf("Lookup = %q 0x%x", name, base)
	}
	if name, _ := s.Lookup(0x20); name != "" {
		t.Errorf("unexpected name %q", name)
	}
}

func TestRange(t *testing.T) {
	mem := memory.New()
	// push ebp; mov ebp, esp; pop ebp; ret
	if err := mem.Write(0x1000, []byte{0x55, 0x89, 0xE5, 0x5D, 0xC3}); err != nil {
		t.Fatal(err)
	}
	lines := Range(mem, 0x1000, 4, nil)
	want := []struct {
		addr uint32
		text string
	}{
		{0x1000, "push ebp"},
		{0x1001, "mov ebp, esp"},
		{0x1003, "pop ebp"},
		{0x1004, "ret"},
	}
	for i, w := range want {
		if lines[i].Addr != w.addr || lines[i].Text != w.text {
			t.Errorf("line %d = 0x%x %q, want 0x%x %q", i, lines[i].Addr, lines[i].Text, w.addr, w.text)
		}
	}
}

func TestFromEmulator(t *testing.T) {
	b := petest.New()
	b.Import("user32.dll", "MessageBoxA")
	b.Code([]byte{0xC3})

	emu, err := emulator.New()
	if err != nil {
		t.Fatal(err)
	}
	info, err := emu.LoadPE(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	syms := FromEmulator(emu)

	if name, _ := syms.Name(info.Entry); name != "start" {
		t.Errorf("entry = %q", name)
	}
	if name, _ := syms.Name(b.IAT("MessageBoxA")); name != "__imp_MessageBoxA" {
		t.Errorf("IAT slot = %q", name)
	}
	if name, _ := syms.Name(info.Imports["MessageBoxA"]); name != "MessageBoxA" {
		t.Errorf("sentinel = %q", name)
	}
}
