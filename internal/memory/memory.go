// Package memory implements the sparse paged address space of an emulated process.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Page geometry
const (
	PageSize  = 0x1000
	PageShift = 12
	pageMask  = PageSize - 1
)

// ErrSelfModifyingCode is returned when a write lands inside the protected code region.
var ErrSelfModifyingCode = errors.New("self-modifying code")

type page [PageSize]byte

// Memory is a sparse 32-bit address space made of 4 KiB pages.
// Pages are allocated and zero-filled the first time any byte in them is
// read or written, so there is no unmapped access in normal operation.
type Memory struct {
	pages map[uint32]*page

	// single-entry lookup cache; instruction fetch hits the same page repeatedly
	lastBase uint32
	last     *page

	protected bool
	codeStart uint64
	codeEnd   uint64 // exclusive
}

// New creates an empty address space.
func New() *Memory {
	return &Memory{pages: make(map[uint32]*page)}
}

func (m *Memory) page(addr uint32) *page {
	base := addr &^ pageMask
	if m.last != nil && m.lastBase == base {
		return m.last
	}
	p, ok := m.pages[base]
	if !ok {
		p = new(page)
		m.pages[base] = p
	}
	m.lastBase = base
	m.last = p
	return p
}

// Protect marks [start, start+size) as code. Writes into it fail with
// ErrSelfModifyingCode until Unprotect is called.
func (m *Memory) Protect(start, size uint32) {
	m.protected = true
	m.codeStart = uint64(start)
	m.codeEnd = uint64(start) + uint64(size)
}

// Unprotect removes code-region protection.
func (m *Memory) Unprotect() {
	m.protected = false
}

// Protected reports whether addr is inside the protected code region.
func (m *Memory) Protected(addr uint32) bool {
	return m.protected && uint64(addr) >= m.codeStart && uint64(addr) < m.codeEnd
}

func (m *Memory) checkWrite(addr uint32, n int) error {
	if !m.protected {
		return nil
	}
	lo := uint64(addr)
	hi := lo + uint64(n)
	if lo < m.codeEnd && hi > m.codeStart {
		return fmt.Errorf("write 0x%08x: %w", addr, ErrSelfModifyingCode)
	}
	return nil
}

// ReadByte returns the byte at addr.
func (m *Memory) ReadByte(addr uint32) byte {
	return m.page(addr)[addr&pageMask]
}

// WriteByte stores v at addr.
func (m *Memory) WriteByte(addr uint32, v byte) error {
	if err := m.checkWrite(addr, 1); err != nil {
		return err
	}
	m.page(addr)[addr&pageMask] = v
	return nil
}

// ReadWord reads a little-endian 16-bit value.
func (m *Memory) ReadWord(addr uint32) uint16 {
	off := addr & pageMask
	if off <= PageSize-2 {
		return binary.LittleEndian.Uint16(m.page(addr)[off:])
	}
	return uint16(m.ReadByte(addr)) | uint16(m.ReadByte(addr+1))<<8
}

// ReadDword reads a little-endian 32-bit value.
func (m *Memory) ReadDword(addr uint32) uint32 {
	off := addr & pageMask
	if off <= PageSize-4 {
		return binary.LittleEndian.Uint32(m.page(addr)[off:])
	}
	return uint32(m.ReadWord(addr)) | uint32(m.ReadWord(addr+2))<<16
}

// WriteWord stores a little-endian 16-bit value.
func (m *Memory) WriteWord(addr uint32, v uint16) error {
	if err := m.checkWrite(addr, 2); err != nil {
		return err
	}
	off := addr & pageMask
	if off <= PageSize-2 {
		binary.LittleEndian.PutUint16(m.page(addr)[off:], v)
		return nil
	}
	m.page(addr)[off] = byte(v)
	m.page(addr + 1)[(addr+1)&pageMask] = byte(v >> 8)
	return nil
}

// WriteDword stores a little-endian 32-bit value.
func (m *Memory) WriteDword(addr uint32, v uint32) error {
	if err := m.checkWrite(addr, 4); err != nil {
		return err
	}
	off := addr & pageMask
	if off <= PageSize-4 {
		binary.LittleEndian.PutUint32(m.page(addr)[off:], v)
		return nil
	}
	for i := uint32(0); i < 4; i++ {
		a := addr + i
		m.page(a)[a&pageMask] = byte(v >> (8 * i))
	}
	return nil
}

// Read copies n bytes starting at addr.
func (m *Memory) Read(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; {
		a := addr + uint32(i)
		off := int(a & pageMask)
		c := copy(out[i:], m.page(a)[off:])
		i += c
	}
	return out
}

// Write copies data into memory starting at addr.
func (m *Memory) Write(addr uint32, data []byte) error {
	if err := m.checkWrite(addr, len(data)); err != nil {
		return err
	}
	for i := 0; i < len(data); {
		a := addr + uint32(i)
		off := int(a & pageMask)
		c := copy(m.page(a)[off:], data[i:])
		i += c
	}
	return nil
}

// ReadCString returns the raw bytes of a NUL-terminated string, at most max bytes.
func (m *Memory) ReadCString(addr uint32, max int) []byte {
	var out []byte
	for i := 0; i < max; i++ {
		b := m.ReadByte(addr + uint32(i))
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return out
}

// ReadString reads a NUL-terminated ANSI (Windows-1252) string.
func (m *Memory) ReadString(addr uint32, max int) string {
	raw := m.ReadCString(addr, max)
	s, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}

// ReadWideString reads a NUL-terminated UTF-16LE string of at most max code units.
func (m *Memory) ReadWideString(addr uint32, max int) string {
	var raw []byte
	for i := 0; i < max; i++ {
		w := m.ReadWord(addr + uint32(2*i))
		if w == 0 {
			break
		}
		raw = append(raw, byte(w), byte(w>>8))
	}
	s, err := utf16le().NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return string(s)
}

// WriteString stores s as a NUL-terminated ANSI string and returns the
// number of bytes written, excluding the terminator.
func (m *Memory) WriteString(addr uint32, s string) (int, error) {
	enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	raw, err := enc.Bytes([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("encode ansi: %w", err)
	}
	if err := m.Write(addr, append(raw, 0)); err != nil {
		return 0, err
	}
	return len(raw), nil
}

// WriteWideString stores s as a NUL-terminated UTF-16LE string and returns
// the number of code units written, excluding the terminator.
func (m *Memory) WriteWideString(addr uint32, s string) (int, error) {
	raw, err := utf16le().NewEncoder().Bytes([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("encode utf-16: %w", err)
	}
	if err := m.Write(addr, append(raw, 0, 0)); err != nil {
		return 0, err
	}
	return len(raw) / 2, nil
}

func utf16le() encoding.Encoding {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
}

// PageCount returns the number of allocated pages.
func (m *Memory) PageCount() int {
	return len(m.pages)
}

// Pages returns the base addresses of all allocated pages in ascending order.
func (m *Memory) Pages() []uint32 {
	bases := make([]uint32, 0, len(m.pages))
	for b := range m.pages {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases
}
