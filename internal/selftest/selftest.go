// Package selftest runs hand-assembled instruction vectors through the
// interpreter and checks the resulting registers, flags and memory.
package selftest

import (
	"fmt"
	"sort"

	"github.com/zboralski/winemu/internal/memory"
	"github.com/zboralski/winemu/internal/x86"
)

// Vector layout
const (
	CodeBase = 0x1000
	DataBase = 0x4000
	StackTop = 0x8000
	MaxSteps = 10000
)

// ArithFlags are the six status flags.
const ArithFlags = x86.FlagCF | x86.FlagPF | x86.FlagAF | x86.FlagZF | x86.FlagSF | x86.FlagOF

// Vector is one test program. It runs from CodeBase until eip reaches the
// end of Code. Only the flags in FlagMask are compared.
type Vector struct {
	Name  string
	Code  []byte
	Regs  map[x86.Reg]uint32
	Flags uint32
	Mem   map[uint32]uint32

	Want      map[x86.Reg]uint32
	WantFlags uint32
	FlagMask  uint32
	WantMem   map[uint32]uint32
}

// End returns the address execution stops at.
func (v *Vector) End() uint32 {
	return CodeBase + uint32(len(v.Code))
}

// State is the machine state after a vector ran.
type State struct {
	Regs   [8]uint32
	EFLAGS uint32
	Mem    map[uint32]uint32
	Steps  int
}

// Result is the outcome of one vector.
type Result struct {
	Name       string
	State      State
	Err        error
	Mismatches []string
}

func (r Result) Passed() bool {
	return r.Err == nil && len(r.Mismatches) == 0
}

// Execute runs v on a fresh interpreter.
func Execute(v Vector) (State, error) {
	var s State
	mem := memory.New()
	if err := mem.Write(CodeBase, v.Code); err != nil {
		return s, fmt.Errorf("map code: %w", err)
	}
	for addr, val := range v.Mem {
		if err := mem.WriteDword(addr, val); err != nil {
			return s, fmt.Errorf("init memory: %w", err)
		}
	}

	c := x86.New(mem, x86.Options{})
	c.SetReg32(x86.ESP, StackTop)
	for r, val := range v.Regs {
		c.SetReg32(r, val)
	}
	c.Flags.SetValue(v.Flags | x86.FlagIF)
	c.SetEIP(CodeBase)

	end := v.End()
	for c.EIP() != end {
		if s.Steps == MaxSteps {
			return s, fmt.Errorf("no exit after %d steps, eip 0x%08x", MaxSteps, c.EIP())
		}
		if err := c.Step(); err != nil {
			return s, fmt.Errorf("step %d: %w", s.Steps, err)
		}
		s.Steps++
	}

	s.Regs = c.Regs.GPR
	s.EFLAGS = c.Flags.Value()
	s.Mem = make(map[uint32]uint32, len(v.WantMem))
	for addr := range v.WantMem {
		s.Mem[addr] = mem.ReadDword(addr)
	}
	return s, nil
}

// Check lists every difference between s and the expectations of v.
func Check(v Vector, s State) []string {
	var out []string
	regs := make([]x86.Reg, 0, len(v.Want))
	for r := range v.Want {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	for _, r := range regs {
		if got, want := s.Regs[r], v.Want[r]; got != want {
			out = append(out, fmt.Sprintf("%s = 0x%08x, want 0x%08x", r, got, want))
		}
	}

	if got, want := s.EFLAGS&v.FlagMask, v.WantFlags&v.FlagMask; got != want {
		var g, w x86.Flags
		g.SetValue(got)
		w.SetValue(want)
		out = append(out, fmt.Sprintf("flags = %s, want %s", g, w))
	}

	addrs := make([]uint32, 0, len(v.WantMem))
	for a := range v.WantMem {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, a := range addrs {
		if got, want := s.Mem[a], v.WantMem[a]; got != want {
			out = append(out, fmt.Sprintf("[0x%08x] = 0x%08x, want 0x%08x", a, got, want))
		}
	}
	return out
}

// Run executes and checks each vector.
func Run(vectors []Vector) []Result {
	results := make([]Result, 0, len(vectors))
	for _, v := range vectors {
		s, err := Execute(v)
		r := Result{Name: v.Name, State: s, Err: err}
		if err == nil {
			r.Mismatches = Check(v, s)
		}
		results = append(results, r)
	}
	return results
}

// Summary counts passed and failed results.
func Summary(results []Result) (passed, failed int) {
	for _, r := range results {
		if r.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
