// Package pe parses 32-bit Windows PE images: headers, sections and the
// import directory.
package pe

import (
	"bytes"
	stdpe "debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotMZ        = errors.New("not an MZ executable")
	ErrBadSignature = errors.New("missing PE signature")
	ErrNotPE32      = errors.New("not a PE32 image")
	ErrTruncated    = errors.New("truncated image")
	ErrBadRVA       = errors.New("rva not backed by file data")
)

// Header offsets. The optional header starts 24 bytes after the PE signature.
const (
	dosHeaderSize  = 0x40
	lfanewOffset   = 0x3C
	descriptorSize = 20

	// MagicPE32 is the optional-header magic of a 32-bit image.
	MagicPE32 = 0x10B

	// MachineI386 is the COFF machine type of IA-32 images.
	MachineI386 = 0x14C

	ordinalFlag = 0x80000000

	// malformed-input limits for the import walk
	maxDescriptors = 4096
	maxThunks      = 1 << 16
)

// Section is one entry of the section table together with its raw data.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	RawOffset       uint32
	RawSize         uint32
	Characteristics uint32

	data []byte
}

// Data returns the bytes that are mapped at VirtualAddress: the first
// min(VirtualSize, RawSize) bytes of raw data. A zero VirtualSize maps the
// whole raw size.
func (s *Section) Data() []byte {
	n := s.VirtualSize
	if n == 0 || n > uint32(len(s.data)) {
		n = uint32(len(s.data))
	}
	return s.data[:n]
}

// Size returns the mapped extent of the section.
func (s *Section) Size() uint32 {
	if s.VirtualSize != 0 {
		return s.VirtualSize
	}
	return s.RawSize
}

// Contains reports whether rva falls inside the section.
func (s *Section) Contains(rva uint32) bool {
	return rva >= s.VirtualAddress && rva-s.VirtualAddress < max(s.Size(), s.RawSize)
}

// Import is one IAT slot.
type Import struct {
	DLL       string
	Name      string // empty for ordinal imports
	Hint      uint16
	Ordinal   uint16
	ByOrdinal bool
	IATRVA    uint32 // rva of the slot the loader patches
}

// Symbol is the lookup key used for the import: the function name, or
// dll!#ordinal for ordinal imports.
func (i Import) Symbol() string {
	if i.ByOrdinal {
		return fmt.Sprintf("%s!#%d", i.DLL, i.Ordinal)
	}
	return i.Name
}

// File is a parsed PE32 image.
type File struct {
	Machine       uint16
	Magic         uint16
	ImageBase     uint32
	EntryRVA      uint32
	SizeOfImage   uint32
	SizeOfHeaders uint32
	Subsystem     uint16

	// StackReserve and StackCommit come from the optional header.
	StackReserve uint32
	StackCommit  uint32

	ImportDir stdpe.DataDirectory

	Sections []*Section
	Imports  []Import

	raw []byte
}

// Entry returns the virtual address of the entry point.
func (f *File) Entry() uint32 {
	return f.ImageBase + f.EntryRVA
}

// Headers returns the header bytes mapped at ImageBase.
func (f *File) Headers() []byte {
	n := min(int(f.SizeOfHeaders), len(f.raw))
	return f.raw[:n]
}

// Contains reports whether va is inside the mapped image.
func (f *File) Contains(va uint32) bool {
	return va >= f.ImageBase && va-f.ImageBase < f.SizeOfImage
}

// Section returns the named section, or nil.
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SectionAt returns the section containing rva, or nil.
func (f *File) SectionAt(rva uint32) *Section {
	for _, s := range f.Sections {
		if s.Contains(rva) {
			return s
		}
	}
	return nil
}

// RVAToOffset translates an rva to a file offset.
func (f *File) RVAToOffset(rva uint32) (uint32, error) {
	if rva < f.SizeOfHeaders && rva < uint32(len(f.raw)) {
		return rva, nil
	}
	s := f.SectionAt(rva)
	if s == nil {
		return 0, fmt.Errorf("rva 0x%x: %w", rva, ErrBadRVA)
	}
	delta := rva - s.VirtualAddress
	if delta >= s.RawSize {
		return 0, fmt.Errorf("rva 0x%x past raw data of %s: %w", rva, s.Name, ErrBadRVA)
	}
	off := s.RawOffset + delta
	if off >= uint32(len(f.raw)) {
		return 0, fmt.Errorf("rva 0x%x at offset 0x%x: %w", rva, off, ErrTruncated)
	}
	return off, nil
}

func (f *File) dword(rva uint32) (uint32, error) {
	off, err := f.RVAToOffset(rva)
	if err != nil {
		return 0, err
	}
	if int(off)+4 > len(f.raw) {
		return 0, fmt.Errorf("dword at 0x%x: %w", off, ErrTruncated)
	}
	return binary.LittleEndian.Uint32(f.raw[off:]), nil
}

func (f *File) cstring(rva uint32) (string, error) {
	off, err := f.RVAToOffset(rva)
	if err != nil {
		return "", err
	}
	b := f.raw[off:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// Parse validates the DOS and PE headers of data and reads the section table
// and import directory.
func Parse(data []byte) (*File, error) {
	if len(data) < dosHeaderSize {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrTruncated)
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return nil, ErrNotMZ
	}
	lfanew := binary.LittleEndian.Uint32(data[lfanewOffset:])
	if uint64(lfanew)+4 > uint64(len(data)) {
		return nil, fmt.Errorf("pe header at 0x%x: %w", lfanew, ErrTruncated)
	}
	if !bytes.Equal(data[lfanew:lfanew+4], []byte("PE\x00\x00")) {
		return nil, fmt.Errorf("at 0x%x: %w", lfanew, ErrBadSignature)
	}

	pf, err := stdpe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}
	defer pf.Close()

	oh, ok := pf.OptionalHeader.(*stdpe.OptionalHeader32)
	if !ok {
		return nil, ErrNotPE32
	}

	f := &File{
		Machine:       pf.FileHeader.Machine,
		Magic:         oh.Magic,
		ImageBase:     oh.ImageBase,
		EntryRVA:      oh.AddressOfEntryPoint,
		SizeOfImage:   oh.SizeOfImage,
		SizeOfHeaders: oh.SizeOfHeaders,
		Subsystem:     oh.Subsystem,
		StackReserve:  oh.SizeOfStackReserve,
		StackCommit:   oh.SizeOfStackCommit,
		raw:           data,
	}
	if oh.NumberOfRvaAndSizes > stdpe.IMAGE_DIRECTORY_ENTRY_IMPORT {
		f.ImportDir = oh.DataDirectory[stdpe.IMAGE_DIRECTORY_ENTRY_IMPORT]
	}

	for _, s := range pf.Sections {
		sec := &Section{
			Name:            s.Name,
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			RawOffset:       s.Offset,
			RawSize:         s.Size,
			Characteristics: s.Characteristics,
		}
		// raw data past the end of the file is treated as absent
		if s.Offset < uint32(len(data)) {
			end := min(uint64(s.Offset)+uint64(s.Size), uint64(len(data)))
			sec.data = data[s.Offset:end]
		}
		f.Sections = append(f.Sections, sec)
	}
	if f.SizeOfImage == 0 {
		for _, s := range f.Sections {
			f.SizeOfImage = max(f.SizeOfImage, s.VirtualAddress+s.Size())
		}
	}

	if f.ImportDir.VirtualAddress != 0 {
		if err := f.readImports(); err != nil {
			return nil, fmt.Errorf("imports: %w", err)
		}
	}
	return f, nil
}

// readImports walks the import descriptors until one with a zero name rva,
// and each descriptor's thunk array until a zero entry. The lookup table is
// OriginalFirstThunk when present and the IAT itself otherwise.
func (f *File) readImports() error {
	for i := uint32(0); i < maxDescriptors; i++ {
		d := f.ImportDir.VirtualAddress + i*descriptorSize
		nameRVA, err := f.dword(d + 12)
		if err != nil {
			return err
		}
		if nameRVA == 0 {
			return nil
		}
		origThunk, err := f.dword(d)
		if err != nil {
			return err
		}
		firstThunk, err := f.dword(d + 16)
		if err != nil {
			return err
		}
		dll, err := f.cstring(nameRVA)
		if err != nil {
			return err
		}
		lookup := origThunk
		if lookup == 0 {
			lookup = firstThunk
		}

		for j := uint32(0); j < maxThunks; j++ {
			thunk, err := f.dword(lookup + j*4)
			if err != nil {
				return err
			}
			if thunk == 0 {
				break
			}
			imp := Import{DLL: dll, IATRVA: firstThunk + j*4}
			if thunk&ordinalFlag != 0 {
				imp.ByOrdinal = true
				imp.Ordinal = uint16(thunk)
			} else {
				off, err := f.RVAToOffset(thunk)
				if err != nil {
					return err
				}
				if int(off)+2 > len(f.raw) {
					return fmt.Errorf("hint at 0x%x: %w", off, ErrTruncated)
				}
				imp.Hint = binary.LittleEndian.Uint16(f.raw[off:])
				if imp.Name, err = f.cstring(thunk + 2); err != nil {
					return err
				}
			}
			f.Imports = append(f.Imports, imp)
		}
	}
	return fmt.Errorf("more than %d descriptors", maxDescriptors)
}

// DLLs returns the imported module names in descriptor order.
func (f *File) DLLs() []string {
	var out []string
	seen := make(map[string]bool)
	for _, imp := range f.Imports {
		if !seen[imp.DLL] {
			seen[imp.DLL] = true
			out = append(out, imp.DLL)
		}
	}
	return out
}
