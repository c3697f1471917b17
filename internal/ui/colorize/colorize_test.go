package colorize

import (
	"strings"
	"testing"
)

func TestDisabled(t *testing.T) {
	SetEnabled(false)
	defer mode.Store(0)

	if got := Address(0x401000); got != "00401000" {
		t.Errorf("Address = %q", got)
	}
	if got := Instruction("mov eax, 0x1"); got != "mov eax, 0x1" {
		t.Errorf("Instruction = %q", got)
	}
	if got := Tag("#user32"); got != "#user32" {
		t.Errorf("Tag = %q", got)
	}
}

func TestEnabled(t *testing.T) {
	SetEnabled(true)
	defer mode.Store(0)

	got := Address(0x401000)
	if !strings.HasPrefix(got, "\033[") || !strings.Contains(got, "00401000") {
		t.Errorf("Address = %q", got)
	}
	if got := Instruction("push ebp"); !strings.Contains(got, "\033[") {
		t.Errorf("Instruction not coloured: %q", got)
	}
}

func TestNoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if !IsDisabled() {
		t.Error("NO_COLOR should disable colour")
	}
}
