package stubs

import (
	"fmt"

	"github.com/zboralski/winemu/internal/emulator"
)

// Writer performs a stub's guest memory writes and keeps the first error,
// such as a write into protected code.
type Writer struct {
	emu  *emulator.Emulator
	name string
	err  error
}

// NewWriter returns a Writer for the stub called name.
func NewWriter(emu *emulator.Emulator, name string) *Writer {
	return &Writer{emu: emu, name: name}
}

// Bytes writes p at addr.
func (w *Writer) Bytes(addr uint32, p []byte) {
	if w.err == nil {
		w.err = w.emu.Mem.Write(addr, p)
	}
}

// Dword writes a little-endian dword at addr.
func (w *Writer) Dword(addr, v uint32) {
	if w.err == nil {
		w.err = w.emu.Mem.WriteDword(addr, v)
	}
}

// String writes s and its terminator at addr and returns the length of s.
func (w *Writer) String(addr uint32, s string) int {
	if w.err != nil {
		return 0
	}
	n, err := w.emu.Mem.WriteString(addr, s)
	w.err = err
	return n
}

// WideString writes s as UTF-16 with a terminator at addr.
func (w *Writer) WideString(addr uint32, s string) int {
	if w.err != nil {
		return 0
	}
	n, err := w.emu.Mem.WriteWideString(addr, s)
	w.err = err
	return n
}

// Err returns the first failed write.
func (w *Writer) Err() error {
	return w.err
}

// Done fails the process with the first failed write and reports whether
// every write landed. A stub that gets false returns without touching eip.
func (w *Writer) Done() bool {
	if w.err == nil {
		return true
	}
	w.emu.Fail(fmt.Errorf("%s: %w", w.name, w.err))
	return false
}
