package x86

import (
	"errors"
	"testing"
)

func TestDecodeModRMSIB(t *testing.T) {
	var regs Registers
	regs.Set32(EBX, 0x2000)
	regs.Set32(ECX, 3)

	// mod=2 rm=4, SIB scale=2 index=ECX base=EBX, disp32=8
	m, err := DecodeModRM([]byte{0x84, 0x8B, 0x08, 0x00, 0x00, 0x00}, &regs)
	if err != nil {
		t.Fatalf("DecodeModRM: %v", err)
	}
	if m.Addr != 0x2014 {
		t.Errorf("Expected EA 0x2014, got 0x%x", m.Addr)
	}
	if m.Len != 6 {
		t.Errorf("Expected 6 bytes after opcode, got %d", m.Len)
	}
	if got := m.String(); got != "[ebx+ecx*4+0x8]" {
		t.Errorf("String: %s", got)
	}
}

func TestDecodeModRMForms(t *testing.T) {
	var regs Registers
	regs.Set32(EAX, 0x1000)
	regs.Set32(EBP, 0x8000)
	regs.Set32(ESP, 0x7000)
	regs.Set32(ESI, 0x10)

	tests := []struct {
		name   string
		code   []byte
		addr   uint32
		length int
		noBase bool
	}{
		{"[eax]", []byte{0x00}, 0x1000, 1, false},
		{"[disp32]", []byte{0x05, 0x78, 0x56, 0x34, 0x12}, 0x12345678, 5, true},
		{"[ebp-8]", []byte{0x45, 0xF8}, 0x7FF8, 2, false},
		{"[eax+0x100]", []byte{0x80, 0x00, 0x01, 0x00, 0x00}, 0x1100, 5, false},
		{"[esp+4]", []byte{0x44, 0x24, 0x04}, 0x7004, 3, false},
		{"sib no base", []byte{0x04, 0xB5, 0x00, 0x20, 0x00, 0x00}, 0x2000 + 0x10*4, 6, true},
		{"sib no index", []byte{0x04, 0x20}, 0x1000, 2, false},
		{"sib ebp base mod1", []byte{0x44, 0x35, 0x04}, 0x8000 + 0x10 + 4, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeModRM(tt.code, &regs)
			if err != nil {
				t.Fatalf("DecodeModRM: %v", err)
			}
			if m.Addr != tt.addr {
				t.Errorf("addr: got 0x%x, want 0x%x", m.Addr, tt.addr)
			}
			if m.Len != tt.length {
				t.Errorf("len: got %d, want %d", m.Len, tt.length)
			}
			if m.NoBase != tt.noBase {
				t.Errorf("NoBase: got %v", m.NoBase)
			}
		})
	}
}

func TestDecodeModRMRegister(t *testing.T) {
	var regs Registers
	m, err := DecodeModRM([]byte{0xC3}, &regs)
	if err != nil {
		t.Fatalf("DecodeModRM: %v", err)
	}
	if !m.IsReg() || m.RM != 3 || m.Reg != 0 || m.Len != 1 {
		t.Errorf("unexpected decode: %+v", m)
	}
}

func TestDecodeModRMTruncated(t *testing.T) {
	var regs Registers
	_, err := DecodeModRM([]byte{0x05, 0x01}, &regs)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("Expected ErrTruncated, got %v", err)
	}
}

func TestDecodeModRMIsPure(t *testing.T) {
	var regs Registers
	regs.Set32(EAX, 0x1234)
	before := regs
	DecodeModRM([]byte{0x80, 0x10, 0x00, 0x00, 0x00}, &regs)
	if regs != before {
		t.Error("DecodeModRM modified registers")
	}
}
