// Package debugger is an interactive command loop over an emulated process:
// single-stepping, breakpoints on addresses or API names, register and
// memory dumps.
package debugger

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/zboralski/winemu/internal/disasm"
	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/ui/colorize"
	"github.com/zboralski/winemu/internal/x86"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// ErrStopped is returned when a command needs a live process.
var ErrStopped = errors.New("process has stopped")

// Debugger drives one emulator.
type Debugger struct {
	emu    *emulator.Emulator
	syms   *disasm.Symbols
	out    io.Writer
	breaks map[uint32]bool
	last   string

	// Outcome is set once the process has stopped for good.
	Outcome *emulator.Outcome
}

// New returns a debugger writing to out.
func New(emu *emulator.Emulator, out io.Writer) *Debugger {
	return &Debugger{
		emu:    emu,
		syms:   disasm.FromEmulator(emu),
		out:    out,
		breaks: make(map[uint32]bool),
	}
}

type command struct {
	name    string
	alias   string
	usage   string
	handler func(d *Debugger, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"step", "s", "step [n]          execute n instructions (default 1)", (*Debugger).step},
		{"continue", "c", "continue          run to a breakpoint or the end", (*Debugger).cont},
		{"regs", "r", "regs              show registers and flags", (*Debugger).regs},
		{"mem", "x", "mem <addr> [n]    hex dump n bytes (default 64)", (*Debugger).mem},
		{"dis", "u", "dis [addr] [n]    disassemble n instructions (default 10)", (*Debugger).dis},
		{"break", "b", "break [addr|name] set a breakpoint, or list them", (*Debugger).setBreak},
		{"delete", "d", "delete [addr|name] remove one breakpoint, or all", (*Debugger).deleteBreak},
		{"stack", "k", "stack [n]         show n dwords from esp (default 8)", (*Debugger).stack},
		{"calls", "bt", "calls             show the call stack", (*Debugger).calls},
		{"help", "h", "help              show this list", (*Debugger).help},
		{"quit", "q", "quit              leave the debugger", func(*Debugger, []string) error { return ErrQuit }},
	}
}

// Exec runs one command line. An empty line repeats the previous command.
func (d *Debugger) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		line = d.last
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	for _, c := range commands {
		if fields[0] == c.name || fields[0] == c.alias {
			d.last = line
			return c.handler(d, fields[1:])
		}
	}
	return fmt.Errorf("unknown command %q, try help", fields[0])
}

// Run reads commands until quit or end of input.
func (d *Debugger) Run(historyFile string) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c.name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "(winemu) ",
		HistoryFile:  historyFile,
		AutoComplete: readline.NewPrefixCompleter(items...),
		Stdout:       d.out,
	})
	if err != nil {
		return fmt.Errorf("start readline: %w", err)
	}
	defer rl.Close()

	d.where()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		if err := d.Exec(line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintln(d.out, colorize.Error(err.Error()))
		}
	}
}

func (d *Debugger) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format, args...)
}

// where prints the next instruction.
func (d *Debugger) where() {
	eip := d.emu.EIP()
	if name, ok := d.emu.APIName(eip); ok {
		d.printf("%s  %s\n", colorize.Address(eip), colorize.FuncName("<"+name+">"))
		return
	}
	d.printLine(disasm.At(d.emu.Mem, eip, d.syms))
}

func (d *Debugger) printLine(l disasm.Line) {
	marker := "  "
	if l.Addr == d.emu.EIP() {
		marker = "=>"
	} else if d.breaks[l.Addr] {
		marker = "* "
	}
	text := colorize.Instruction(l.Text)
	if l.Ref != "" {
		text += "  " + colorize.Comment("; "+l.Ref)
	}
	d.printf("%s %s  %-30s %s\n", marker, colorize.Address(l.Addr), colorize.HexBytes(l.HexBytes()), text)
}

// single steps once, recording a terminal outcome.
func (d *Debugger) single() (bool, error) {
	if d.Outcome != nil {
		return false, fmt.Errorf("%w: %s", ErrStopped, d.Outcome)
	}
	out, err := d.emu.Step()
	if out != nil {
		d.Outcome = out
		d.printf("%s %s\n", colorize.Header("stopped:"), out)
		return false, nil
	}
	return true, err
}

func (d *Debugger) step(args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("bad count %q", args[0])
		}
		n = v
	}
	for i := 0; i < n; i++ {
		ok, err := d.single()
		if err != nil || !ok {
			return err
		}
	}
	d.where()
	return nil
}

func (d *Debugger) cont([]string) error {
	for first := true; ; first = false {
		if !first && d.breaks[d.emu.EIP()] {
			d.printf("%s %s\n", colorize.Header("breakpoint"), colorize.Address(d.emu.EIP()))
			d.where()
			return nil
		}
		ok, err := d.single()
		if err != nil || !ok {
			return err
		}
	}
}

func (d *Debugger) regs([]string) error {
	c := d.emu.CPU
	for i := x86.EAX; i <= x86.EDI; i++ {
		d.printf("%s=%s", i, colorize.Address(c.Reg32(i)))
		if i%4 == 3 {
			d.printf("\n")
		} else {
			d.printf("  ")
		}
	}
	d.printf("eip=%s  eflags=%08x [%s]  insn=%d\n", colorize.Address(c.EIP()), c.Flags.Value(), c.Flags, c.Instructions)
	return nil
}

// resolve parses a hex address or a symbol name.
func (d *Debugger) resolve(s string) (uint32, error) {
	if v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32); err == nil {
		return uint32(v), nil
	}
	if addr, ok := d.emu.Imports()[s]; ok {
		return addr, nil
	}
	if s == "start" || s == "entry" {
		if img := d.emu.Image(); img != nil {
			return img.Entry, nil
		}
	}
	return 0, fmt.Errorf("unknown address or symbol %q", s)
}

func (d *Debugger) count(args []string, i, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("bad count %q", args[i])
	}
	return n, nil
}

func (d *Debugger) mem(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: mem <addr> [n]")
	}
	addr, err := d.resolve(args[0])
	if err != nil {
		return err
	}
	n, err := d.count(args, 1, 64)
	if err != nil {
		return err
	}
	data := d.emu.Mem.Read(addr, n)
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]
		var hex, ascii strings.Builder
		for _, b := range row {
			fmt.Fprintf(&hex, "%02x ", b)
			if b >= 0x20 && b < 0x7F {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		d.printf("%s  %-48s %s\n", colorize.Address(addr+uint32(off)), hex.String(), ascii.String())
	}
	return nil
}

func (d *Debugger) dis(args []string) error {
	addr := d.emu.EIP()
	if len(args) > 0 {
		a, err := d.resolve(args[0])
		if err != nil {
			return err
		}
		addr = a
	}
	n, err := d.count(args, 1, 10)
	if err != nil {
		return err
	}
	for _, l := range disasm.Range(d.emu.Mem, addr, n, d.syms) {
		d.printLine(l)
	}
	return nil
}

func (d *Debugger) setBreak(args []string) error {
	if len(args) == 0 {
		addrs := d.Breakpoints()
		if len(addrs) == 0 {
			d.printf("no breakpoints\n")
		}
		for _, a := range addrs {
			name, _ := d.syms.Name(a)
			d.printf("%s %s\n", colorize.Address(a), colorize.FuncName(name))
		}
		return nil
	}
	addr, err := d.resolve(args[0])
	if err != nil {
		return err
	}
	d.breaks[addr] = true
	d.printf("breakpoint at %s\n", colorize.Address(addr))
	return nil
}

func (d *Debugger) deleteBreak(args []string) error {
	if len(args) == 0 {
		clear(d.breaks)
		return nil
	}
	addr, err := d.resolve(args[0])
	if err != nil {
		return err
	}
	if !d.breaks[addr] {
		return fmt.Errorf("no breakpoint at 0x%08x", addr)
	}
	delete(d.breaks, addr)
	return nil
}

// Breakpoints returns the breakpoint addresses in order.
func (d *Debugger) Breakpoints() []uint32 {
	out := make([]uint32, 0, len(d.breaks))
	for a := range d.breaks {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Debugger) stack(args []string) error {
	n, err := d.count(args, 0, 8)
	if err != nil {
		return err
	}
	esp := d.emu.ESP()
	for i := 0; i < n; i++ {
		a := esp + uint32(4*i)
		v := d.emu.Mem.ReadDword(a)
		note := ""
		if name, ok := d.syms.Name(v); ok {
			note = colorize.FuncName(name)
		} else if v == x86.ExitAddress {
			note = colorize.FuncName("<exit>")
		}
		d.printf("%s  %08x  %s\n", colorize.Address(a), v, note)
	}
	return nil
}

func (d *Debugger) calls([]string) error {
	frames := d.emu.CallStack()
	if len(frames) == 0 {
		d.printf("no active calls\n")
	}
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		d.printf("#%-2d %s %s  from %s\n", len(frames)-1-i, colorize.Address(f.Target), colorize.FuncName(f.Name), colorize.Address(f.Site))
	}
	return nil
}

func (d *Debugger) help([]string) error {
	for _, c := range commands {
		d.printf("  %-3s %s\n", c.alias, c.usage)
	}
	return nil
}
