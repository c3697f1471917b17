package emulator

import (
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	glog "github.com/zboralski/winemu/internal/log"
	"github.com/zboralski/winemu/internal/pe"
)

// PEInfo describes an image mapped into the emulator.
type PEInfo struct {
	Path        string
	ImageBase   uint32
	Entry       uint32
	SizeOfImage uint32
	Subsystem   uint16
	Sections    []*pe.Section

	// Imports maps each import symbol to its sentinel address.
	Imports    map[string]uint32
	ImportList []pe.Import
	DLLs       []string
}

// Contains reports whether va is inside the mapped image.
func (p *PEInfo) Contains(va uint32) bool {
	return va >= p.ImageBase && va-p.ImageBase < p.SizeOfImage
}

// SectionAt returns the section mapped at va, or nil.
func (p *PEInfo) SectionAt(va uint32) *pe.Section {
	if !p.Contains(va) {
		return nil
	}
	rva := va - p.ImageBase
	for _, s := range p.Sections {
		if s.Contains(rva) {
			return s
		}
	}
	return nil
}

// LoadFile reads a PE image from fs and loads it.
func (e *Emulator) LoadFile(fs billy.Filesystem, path string) (*PEInfo, error) {
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	info, err := e.LoadPE(data)
	if err != nil {
		return nil, err
	}
	info.Path = path
	return info, nil
}

// LoadPE maps the headers and sections of a PE32 image at its preferred
// base, points every IAT slot at the sentinel of its import and sets eip to
// the entry point. Loading the same image twice yields the same addresses.
func (e *Emulator) LoadPE(data []byte) (*PEInfo, error) {
	f, err := pe.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse PE: %w", err)
	}
	if f.Machine != pe.MachineI386 {
		e.log.Warn("unexpected machine type", zap.Uint16("machine", f.Machine))
	}

	// mapping replaces any earlier image
	e.Mem.Unprotect()

	if err := e.Mem.Write(f.ImageBase, f.Headers()); err != nil {
		return nil, fmt.Errorf("map headers: %w", err)
	}
	for _, s := range f.Sections {
		va := f.ImageBase + s.VirtualAddress
		if err := e.Mem.Write(va, s.Data()); err != nil {
			return nil, fmt.Errorf("map section %s at %s: %w", s.Name, glog.Hex(va), err)
		}
		e.log.Debug("section",
			zap.String("name", s.Name),
			glog.Addr(va),
			glog.Size(s.Size()),
		)
	}

	info := &PEInfo{
		ImageBase:   f.ImageBase,
		Entry:       f.Entry(),
		SizeOfImage: f.SizeOfImage,
		Subsystem:   f.Subsystem,
		Sections:    f.Sections,
		Imports:     make(map[string]uint32, len(f.Imports)),
		ImportList:  f.Imports,
		DLLs:        f.DLLs(),
	}

	for _, imp := range f.Imports {
		sym := imp.Symbol()
		addr, _ := e.ResolveAPI(sym)
		if addr == 0 {
			return nil, fmt.Errorf("import %s: sentinel range exhausted", sym)
		}
		slot := f.ImageBase + imp.IATRVA
		if err := e.Mem.WriteDword(slot, addr); err != nil {
			return nil, fmt.Errorf("patch IAT slot %s for %s: %w", glog.Hex(slot), sym, err)
		}
		info.Imports[sym] = addr
		e.log.Debug("import",
			zap.String("dll", imp.DLL),
			glog.Fn(sym),
			glog.Ptr("iat", slot),
			glog.Ptr("sentinel", addr),
		)
	}

	if e.opts.ProtectCode {
		if s := info.SectionAt(info.Entry); s != nil {
			e.Mem.Protect(f.ImageBase+s.VirtualAddress, s.Size())
		}
	}

	if err := e.Mem.WriteDword(PEBBase+8, f.ImageBase); err != nil {
		return nil, fmt.Errorf("init PEB: %w", err)
	}

	e.CPU.SetEIP(info.Entry)
	e.image = info
	e.log.Info("loaded image",
		glog.Ptr("base", f.ImageBase),
		glog.Ptr("entry", info.Entry),
		zap.Int("sections", len(f.Sections)),
		zap.Int("imports", len(f.Imports)),
	)
	return info, nil
}
