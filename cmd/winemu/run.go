package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/zboralski/winemu/internal/disasm"
	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/trace"
	"github.com/zboralski/winemu/internal/ui/colorize"
	"github.com/zboralski/winemu/internal/x86"
)

// traceCollector gathers API events recorded by stubs between two
// instructions.
type traceCollector struct {
	mu     sync.Mutex
	events []*trace.Event
	all    []*trace.Event
}

func (tc *traceCollector) Add(e *trace.Event) {
	tc.mu.Lock()
	tc.events = append(tc.events, e)
	tc.all = append(tc.all, e)
	tc.mu.Unlock()
}

func (tc *traceCollector) GetAndClear() []*trace.Event {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	events := tc.events
	tc.events = nil
	return events
}

// collect moves the emulator's recorded events into the collector.
func (tc *traceCollector) collect(emu *emulator.Emulator) {
	events := emu.GetTraceEvents()
	if len(events) == 0 {
		return
	}
	emu.ClearTrace()
	for _, te := range events {
		e := trace.Parse(te.Address, te.Tag, te.Detail)
		trace.DefaultEnricher(e)
		tc.Add(e)
	}
}

// outputWriter streams trace lines through a buffered writer flushed on a
// timer, so the interpreter never waits on the terminal per instruction.
type outputWriter struct {
	ch     chan string
	done   chan struct{}
	writer *bufio.Writer
}

func newOutputWriter(w io.Writer) *outputWriter {
	ow := &outputWriter{
		ch:     make(chan string, 2048),
		done:   make(chan struct{}),
		writer: bufio.NewWriterSize(w, 64*1024),
	}
	go ow.run()
	return ow
}

func (w *outputWriter) run() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case line, ok := <-w.ch:
			if !ok {
				w.writer.Flush()
				close(w.done)
				return
			}
			w.writer.WriteString(line)
			w.writer.WriteByte('\n')
		case <-ticker.C:
			w.writer.Flush()
		}
	}
}

func (w *outputWriter) Write(line string) {
	w.ch <- line
}

func (w *outputWriter) Close() {
	close(w.ch)
	<-w.done
}

const insnCol = 56

func formatLine(l disasm.Line, funcName string, events []*trace.Event) string {
	var b strings.Builder
	b.Grow(256)

	hex := l.HexBytes()
	b.WriteString(colorize.Address(l.Addr))
	b.WriteString("  ")
	b.WriteString(colorize.HexBytes(fmt.Sprintf("%-16s", hex)))
	b.WriteString("  ")
	b.WriteString(colorize.Instruction(l.Text))
	visibleLen := 8 + 2 + max(16, len(hex)) + 2 + len(l.Text)

	for visibleLen < insnCol {
		b.WriteByte(' ')
		visibleLen++
	}

	tags := l.Tags()
	var comments []string
	if l.Ref != "" {
		comments = append(comments, l.Ref)
	}
	for _, e := range events {
		tags = append(tags, e.Tags.Strings()...)
		if e.Detail != "" {
			comments = append(comments, e.Detail)
		}
		keys := make([]string, 0, len(e.Annotations))
		for k := range e.Annotations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			comments = append(comments, k+"="+e.Annotations[k])
		}
	}

	if len(tags) > 0 || len(comments) > 0 {
		var parts []string
		if len(tags) > 0 {
			parts = append(parts, strings.Join(tags, " "))
		}
		if len(comments) > 0 {
			parts = append(parts, strings.Join(comments, ", "))
		}
		b.WriteString(colorize.Comment("; " + strings.Join(parts, " ")))
		b.WriteString("  ")
	}

	var names []string
	if funcName != "" {
		names = append(names, funcName)
	}
	for _, e := range events {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	b.WriteString(colorize.FuncName(strings.Join(names, " ")))

	return strings.TrimRight(b.String(), " ")
}

func printHeader(w *outputWriter, s *session) {
	w.Write("")
	w.Write(fmt.Sprintf("%s winemu ─ IA-32 emulation trace", colorize.Header("▶")))
	w.Write(fmt.Sprintf("  %s %s", colorize.Detail("Loading:"), s.info.Path))
	w.Write(fmt.Sprintf("  %s %s  %s %s  %s %s",
		colorize.Detail("Base:"), colorize.Address(s.info.ImageBase),
		colorize.Detail("Entry:"), colorize.Address(s.info.Entry),
		colorize.Detail("Size:"), colorize.Address(s.info.SizeOfImage)))
	w.Write(fmt.Sprintf("  %s %s  %s %s  %s %s",
		colorize.Detail("DLLs:"), colorize.FuncName(fmt.Sprintf("%d", len(s.info.DLLs))),
		colorize.Detail("Imports:"), colorize.FuncName(fmt.Sprintf("%d", len(s.info.Imports))),
		colorize.Detail("Stubs:"), colorize.FuncName(fmt.Sprintf("%d", s.installed))))
	w.Write(fmt.Sprintf("  %s %s", colorize.Detail("Command line:"), colorize.String(s.cfg.CommandLine)))
	w.Write("")
}

type counters struct {
	xor, ret, br, calls, stub int
}

func (c *counters) count(tags []string) {
	for _, tag := range tags {
		switch tag {
		case "#xor":
			c.xor++
		case "#ret":
			c.ret++
		case "#br":
			c.br++
		case "#call":
			c.calls++
		}
	}
}

func printRegisters(out io.Writer, emu *emulator.Emulator) {
	c := emu.CPU
	var b strings.Builder
	for r := x86.EAX; r <= x86.EDI; r++ {
		fmt.Fprintf(&b, "%s %s", colorize.Detail(r.String()+"="), colorize.Address(c.Reg32(r)))
		if r%4 == 3 {
			b.WriteByte('\n')
		} else {
			b.WriteString("  ")
		}
	}
	fmt.Fprintf(&b, "%s %s  %s %s [%s]\n",
		colorize.Detail("eip="), colorize.Address(c.EIP()),
		colorize.Detail("eflags="), colorize.Address(c.Flags.Value()), c.Flags)
	fmt.Fprint(out, b.String())
}

func printStats(out io.Writer, o *emulator.Outcome, c counters) {
	fmt.Fprintln(out)
	fmt.Fprint(out, colorize.Border("───────────────────────────────────────── "))
	fmt.Fprintf(out, "%s insn  %s api  %s stub",
		colorize.FuncName(fmt.Sprintf("%d", o.Instructions)),
		colorize.FuncName(fmt.Sprintf("%d", o.APICalls)),
		colorize.FuncName(fmt.Sprintf("%d", c.stub)))
	if o.Normal() {
		fmt.Fprintf(out, "  %s", colorize.Detail(o.Reason.String()+": "+o.Detail))
	} else {
		fmt.Fprintf(out, "  %s", colorize.Error(o.Reason.String()+": "+o.Detail))
	}
	fmt.Fprintln(out)
}

func printQuietSummary(out io.Writer, name string, o *emulator.Outcome, c counters) {
	fmt.Fprintf(out, "%s\n", colorize.FuncName(name))
	fmt.Fprintf(out, "%d %s", o.Instructions, colorize.Detail("insn"))
	if c.stub > 0 {
		fmt.Fprintf(out, "  %d %s", c.stub, colorize.Detail("stub"))
	}
	if c.calls > 0 {
		fmt.Fprintf(out, "  %d %s", c.calls, colorize.Detail("call"))
	}
	if c.ret > 0 {
		fmt.Fprintf(out, "  %d %s", c.ret, colorize.Detail("ret"))
	}
	if c.br > 0 {
		fmt.Fprintf(out, "  %d %s", c.br, colorize.Detail("br"))
	}
	if c.xor > 0 {
		fmt.Fprintf(out, "  %d %s", c.xor, colorize.String("xor"))
	}
	fmt.Fprintf(out, "  %s\n", o)
}

// callTree renders the emulator's call tree.
func callTree(root *emulator.CallNode) string {
	t := treeprint.New()
	t.SetValue(root.Name)
	addCalls(t, root)
	return t.String()
}

func addCalls(t treeprint.Tree, n *emulator.CallNode) {
	for _, c := range n.Children {
		label := fmt.Sprintf("%08X %s", c.Target, c.Name)
		if c.Calls > 1 {
			label += fmt.Sprintf(" x%d", c.Calls)
		}
		if len(c.Children) == 0 {
			t.AddNode(label)
			continue
		}
		addCalls(t.AddBranch(label), c)
	}
}

// fatalText describes a fault for the error message box.
func fatalText(o *emulator.Outcome) string {
	if o.Trap == nil {
		return fmt.Sprintf("eip 0x%08x: %s", o.EIP, o.Detail)
	}
	return fmt.Sprintf("opcode [% x] at eip 0x%08x: %s", o.Trap.Opcode, o.Trap.EIP, o.Trap.Reason)
}

// hostOut carries host output such as message boxes. While a trace is
// streaming it goes through the trace writer after the pending line.
type hostOut struct {
	direct io.Writer
	trace  *outputWriter
	before func()
}

func (h *hostOut) Write(p []byte) (int, error) {
	if h.trace == nil {
		return h.direct.Write(p)
	}
	if h.before != nil {
		h.before()
	}
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		h.trace.Write(line)
	}
	return len(p), nil
}

func (o *options) runTrace(cmd *cobra.Command, args []string) error {
	stdout := cmd.OutOrStdout()
	hout := &hostOut{direct: stdout}
	s, err := o.open(args[0], hout)
	if err != nil {
		return err
	}
	emu := s.emu

	var c counters
	collector := &traceCollector{}
	s.reg.OnCall = func(string, string, string) { c.stub++ }

	var out *outputWriter
	if !o.quiet {
		out = newOutputWriter(stdout)
		hout.trace = out
		printHeader(out, s)
	}

	syms := disasm.FromEmulator(emu)
	shown := 0
	var held *disasm.Line
	flush := func() {
		if held == nil {
			return
		}
		name, _ := syms.Name(held.Addr)
		out.Write(formatLine(*held, name, collector.GetAndClear()))
		if held.IsBlockEnd() {
			out.Write("")
		}
		held = nil
	}

	emu.HookCode(func(e *emulator.Emulator, addr uint32) {
		collector.collect(e)
		l := disasm.At(e.Mem, addr, syms)
		c.count(l.Tags())
		if out == nil {
			collector.GetAndClear()
			return
		}
		// events raised by a stub belong to the call that reached it
		flush()
		if shown < o.maxShow {
			shown++
			held = &l
		} else {
			collector.GetAndClear()
		}
	})

	hout.before = func() {
		collector.collect(emu)
		flush()
	}

	outcome, _ := emu.RunFrom(s.info.Entry)
	collector.collect(emu)
	if out != nil {
		flush()
		out.Close()
		hout.trace = nil
	}

	if o.quiet {
		printQuietSummary(stdout, s.info.Path, outcome, c)
	} else {
		fmt.Fprintln(stdout)
		printRegisters(stdout, emu)
		printStats(stdout, outcome, c)
	}

	if o.apiTrace {
		fmt.Fprintln(stdout)
		for _, e := range collector.all {
			fmt.Fprintf(stdout, "%s  %s %s %s\n",
				colorize.Address(e.PC), colorize.Tag(strings.Join(e.Tags.Strings(), " ")),
				colorize.FuncName(e.Name), colorize.Detail(e.Detail))
		}
	}
	if o.tree {
		fmt.Fprintln(stdout)
		fmt.Fprint(stdout, callTree(emu.CallTree()))
	}

	if !outcome.Normal() {
		text := fatalText(outcome)
		s.host.MessageBox(text, "winemu", host.IconError, host.ButtonsOK)
		return &exitError{code: 1, msg: text}
	}
	return nil
}
