// Package petest builds minimal PE32 images for tests: an import section, an
// optional data section and a code section.
package petest

import (
	"bytes"
	"encoding/binary"
)

const (
	DefaultImageBase = 0x00400000

	FileAlignment    = 0x200
	SectionAlignment = 0x1000

	// IdataRVA is where the import section is placed. Its layout only
	// depends on the declared imports, so IAT addresses are known before
	// the code is assembled.
	IdataRVA = 0x1000
	DataRVA  = 0x2000
)

type fileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

type optionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16][2]uint32
}

type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

const (
	scnCode  = 0x00000020
	scnData  = 0x00000040
	scnExec  = 0x20000000
	scnRead  = 0x40000000
	scnWrite = 0x80000000
)

type function struct {
	name    string
	ordinal uint16
}

type dll struct {
	name  string
	funcs []function
}

// Builder assembles a PE32 image. Declare imports and data first, then
// query addresses, then set the code and call Bytes.
type Builder struct {
	ImageBase uint32
	Subsystem uint16

	dlls []*dll
	data []byte
	code []byte
}

// New returns a builder for an image at DefaultImageBase.
func New() *Builder {
	return &Builder{ImageBase: DefaultImageBase, Subsystem: 2}
}

func (b *Builder) module(name string) *dll {
	for _, d := range b.dlls {
		if d.name == name {
			return d
		}
	}
	d := &dll{name: name}
	b.dlls = append(b.dlls, d)
	return d
}

// Import declares a by-name import from lib.
func (b *Builder) Import(lib string, names ...string) *Builder {
	d := b.module(lib)
	for _, n := range names {
		d.funcs = append(d.funcs, function{name: n})
	}
	return b
}

// ImportOrdinal declares a by-ordinal import from lib.
func (b *Builder) ImportOrdinal(lib string, ordinal uint16) *Builder {
	d := b.module(lib)
	d.funcs = append(d.funcs, function{ordinal: ordinal})
	return b
}

// Data appends bytes to the data section and returns their virtual address.
func (b *Builder) Data(p []byte) uint32 {
	addr := b.ImageBase + DataRVA + uint32(len(b.data))
	b.data = append(b.data, p...)
	return addr
}

// String appends a NUL-terminated string to the data section.
func (b *Builder) String(s string) uint32 {
	return b.Data(append([]byte(s), 0))
}

// Code sets the contents of the code section.
func (b *Builder) Code(p []byte) *Builder {
	b.code = p
	return b
}

// TextRVA is the rva of the code section, which is also the entry point.
// It depends on the size of the data section.
func (b *Builder) TextRVA() uint32 {
	return DataRVA + align(max(uint32(len(b.data)), 1), SectionAlignment)
}

// Entry returns the virtual address of the entry point.
func (b *Builder) Entry() uint32 {
	return b.ImageBase + b.TextRVA()
}

// IAT returns the virtual address of the IAT slot for name, or 0.
func (b *Builder) IAT(name string) uint32 {
	l := b.layout()
	for i, d := range b.dlls {
		for j, f := range d.funcs {
			if f.name == name {
				return b.ImageBase + IdataRVA + l.iat[i] + uint32(j)*4
			}
		}
	}
	return 0
}

type idataLayout struct {
	ilt, iat []uint32 // per-dll offsets in the section
	hintName [][]uint32
	dllName  []uint32
	size     uint32
}

func (b *Builder) layout() idataLayout {
	var l idataLayout
	off := uint32(len(b.dlls)+1) * 20
	for _, d := range b.dlls {
		l.ilt = append(l.ilt, off)
		off += uint32(len(d.funcs)+1) * 4
	}
	for _, d := range b.dlls {
		l.iat = append(l.iat, off)
		off += uint32(len(d.funcs)+1) * 4
	}
	for _, d := range b.dlls {
		var hn []uint32
		for _, f := range d.funcs {
			if f.name == "" {
				hn = append(hn, 0)
				continue
			}
			hn = append(hn, off)
			off += align(2+uint32(len(f.name))+1, 2)
		}
		l.hintName = append(l.hintName, hn)
	}
	for _, d := range b.dlls {
		l.dllName = append(l.dllName, off)
		off += uint32(len(d.name)) + 1
	}
	l.size = off
	return l
}

func (b *Builder) idata() []byte {
	l := b.layout()
	buf := make([]byte, l.size)
	put := func(off, v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
	}
	for i, d := range b.dlls {
		desc := uint32(i) * 20
		put(desc, IdataRVA+l.ilt[i])
		put(desc+12, IdataRVA+l.dllName[i])
		put(desc+16, IdataRVA+l.iat[i])
		copy(buf[l.dllName[i]:], d.name)

		for j, f := range d.funcs {
			thunk := uint32(0x80000000) | uint32(f.ordinal)
			if f.name != "" {
				thunk = IdataRVA + l.hintName[i][j]
				binary.LittleEndian.PutUint16(buf[l.hintName[i][j]:], uint16(j))
				copy(buf[l.hintName[i][j]+2:], f.name)
			}
			put(l.ilt[i]+uint32(j)*4, thunk)
			put(l.iat[i]+uint32(j)*4, thunk)
		}
	}
	return buf
}

type section struct {
	name  string
	rva   uint32
	data  []byte
	flags uint32
}

// Bytes assembles the image.
func (b *Builder) Bytes() []byte {
	var sections []section
	idata := b.idata()
	sections = append(sections, section{".idata", IdataRVA, idata, scnData | scnRead | scnWrite})
	if len(b.data) > 0 {
		sections = append(sections, section{".data", DataRVA, b.data, scnData | scnRead | scnWrite})
	}
	text := b.TextRVA()
	sections = append(sections, section{".text", text, b.code, scnCode | scnExec | scnRead})

	const optSize = 0xE0
	headerSize := uint32(0x40 + 4 + 20 + optSize + 40*len(sections))
	sizeOfHeaders := align(headerSize, FileAlignment)

	imageEnd := text + align(max(uint32(len(b.code)), 1), SectionAlignment)
	oh := optionalHeader32{
		Magic:                 0x10B,
		MajorLinkerVersion:    6,
		SizeOfCode:            align(uint32(len(b.code)), FileAlignment),
		SizeOfInitializedData: align(uint32(len(idata)+len(b.data)), FileAlignment),
		AddressOfEntryPoint:   text,
		BaseOfCode:            text,
		BaseOfData:            IdataRVA,
		ImageBase:             b.ImageBase,
		SectionAlignment:      SectionAlignment,
		FileAlignment:         FileAlignment,

		MajorOperatingSystemVersion: 4,
		MajorSubsystemVersion:       4,

		SizeOfImage:         imageEnd,
		SizeOfHeaders:       sizeOfHeaders,
		Subsystem:           b.Subsystem,
		SizeOfStackReserve:  0x100000,
		SizeOfStackCommit:   0x1000,
		SizeOfHeapReserve:   0x100000,
		SizeOfHeapCommit:    0x1000,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[1] = [2]uint32{IdataRVA, uint32(len(idata))}

	var out bytes.Buffer
	dos := make([]byte, 0x40)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3C:], 0x40)
	out.Write(dos)
	out.WriteString("PE\x00\x00")
	binary.Write(&out, binary.LittleEndian, fileHeader{
		Machine:              0x14C,
		NumberOfSections:     uint16(len(sections)),
		SizeOfOptionalHeader: optSize,
		Characteristics:      0x0102,
	})
	binary.Write(&out, binary.LittleEndian, oh)

	raw := sizeOfHeaders
	for _, s := range sections {
		var sh sectionHeader
		copy(sh.Name[:], s.name)
		sh.VirtualSize = uint32(len(s.data))
		sh.VirtualAddress = s.rva
		sh.SizeOfRawData = align(uint32(len(s.data)), FileAlignment)
		sh.PointerToRawData = raw
		sh.Characteristics = s.flags
		binary.Write(&out, binary.LittleEndian, sh)
		raw += sh.SizeOfRawData
	}
	out.Write(make([]byte, int(sizeOfHeaders)-out.Len()))

	for _, s := range sections {
		out.Write(s.data)
		out.Write(make([]byte, int(align(uint32(len(s.data)), FileAlignment))-len(s.data)))
	}
	return out.Bytes()
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
