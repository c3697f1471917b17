// Package emulator runs 32-bit Windows PE images on the x86 interpreter.
// Imported functions are bound to sentinel addresses; reaching one dispatches
// to an address hook instead of executing guest code.
package emulator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	glog "github.com/zboralski/winemu/internal/log"
	"github.com/zboralski/winemu/internal/memory"
	"github.com/zboralski/winemu/internal/x86"
)

// Memory layout constants
const (
	DefaultStackTop  = 0x00130000
	DefaultStackSize = 0x00100000
	DefaultHeapBase  = 0x10000000
	HeapSize         = 0x10000000 // 256MB heap

	TEBBase = 0x7FFDE000 // thread environment block, fs:0
	PEBBase = 0x7FFDF000 // process environment block

	// APIBase is the first sentinel address handed to an import. Sentinels
	// count up from here and never reach ExitAddress.
	APIBase = 0xFFFF0001
	APILast = 0xFFFFFFFE

	ProcessID = 0x00000F10
	ThreadID  = 0x00000F14
)

// Execution defaults
const (
	DefaultMaxInstructions = 1_000_000
	DefaultZeroRunLimit    = 16
	DefaultMinCodeAddress  = 0x1000
	DefaultReturnThreshold = 0x1000
)

// ErrStubReturn is reported when a hook at a sentinel address leaves eip unchanged.
var ErrStubReturn = errors.New("stub did not return")

// TraceEvent represents a single traced instruction or API call
type TraceEvent struct {
	Address     uint32
	Bytes       []byte
	Instruction string // Disassembled (if available)
	Tag         string // Hashtag like #user32
	Detail      string // Additional context
}

// CodeHookFunc is called before each guest instruction
type CodeHookFunc func(emu *Emulator, addr uint32)

// AddressHookFunc is called when execution reaches a specific address
type AddressHookFunc func(emu *Emulator) bool // return true to stop emulation

// Options configures an Emulator.
type Options struct {
	MaxInstructions uint64
	StackTop        uint32
	StackSize       uint32
	HeapBase        uint32
	ProtectCode     bool
	ZeroRunLimit    int
	MinCodeAddress  uint32
	ReturnThreshold uint32
	BoundToImage    bool
	CommandLine     string
	Logger          *glog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithMaxInstructions caps the number of steps per Run; 0 disables the cap.
func WithMaxInstructions(n uint64) Option {
	return func(o *Options) { o.MaxInstructions = n }
}

// WithStack places the stack below top.
func WithStack(top, size uint32) Option {
	return func(o *Options) {
		o.StackTop = top
		o.StackSize = size
	}
}

func WithHeapBase(base uint32) Option {
	return func(o *Options) { o.HeapBase = base }
}

// WithProtectCode makes writes into the entry section fault.
func WithProtectCode(on bool) Option {
	return func(o *Options) { o.ProtectCode = on }
}

// WithZeroRunLimit sets how many zero bytes at eip count as running into
// padding; 0 disables the check.
func WithZeroRunLimit(n int) Option {
	return func(o *Options) { o.ZeroRunLimit = n }
}

func WithMinCodeAddress(a uint32) Option {
	return func(o *Options) { o.MinCodeAddress = a }
}

func WithReturnThreshold(a uint32) Option {
	return func(o *Options) { o.ReturnThreshold = a }
}

// WithBoundToImage halts when eip leaves the image and the heap.
func WithBoundToImage(on bool) Option {
	return func(o *Options) { o.BoundToImage = on }
}

func WithCommandLine(s string) Option {
	return func(o *Options) { o.CommandLine = s }
}

func WithLogger(l *glog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxInstructions: DefaultMaxInstructions,
		StackTop:        DefaultStackTop,
		StackSize:       DefaultStackSize,
		HeapBase:        DefaultHeapBase,
		ZeroRunLimit:    DefaultZeroRunLimit,
		MinCodeAddress:  DefaultMinCodeAddress,
		ReturnThreshold: DefaultReturnThreshold,
		BoundToImage:    true,
	}
}

// Emulator is one emulated process: an address space, a CPU, the import
// sentinels and the hooks bound to them.
type Emulator struct {
	ID  uuid.UUID
	Mem *memory.Memory
	CPU *x86.CPU

	opts Options
	log  *glog.Logger

	// Memory management
	heapPtr uint32

	// Hooks
	codeHooks   []CodeHookFunc
	addrHooks   map[uint32]AddressHookFunc
	addrHooksMu sync.RWMutex

	// Import sentinels
	apis    map[uint32]string
	imports map[string]uint32
	nextAPI uint32

	image *PEInfo
	calls *callTracker

	// Trace collection
	traceEnabled bool
	traceLimit   int
	traceEvents  []TraceEvent
	traceMu      sync.Mutex

	// per-process state owned by stub packages
	values map[string]any

	steps    uint64
	apiCalls uint64
	stopped  bool
	exited   bool
	exitCode uint32
	failure  error
}

// New creates an emulator with a mapped stack and thread environment.
func New(opts ...Option) (*Emulator, error) {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.StackSize == 0 || o.StackTop < o.StackSize {
		return nil, fmt.Errorf("stack top 0x%08x size 0x%x: invalid layout", o.StackTop, o.StackSize)
	}

	id := uuid.New()
	emu := &Emulator{
		ID:        id,
		Mem:       memory.New(),
		opts:      o,
		log:       glog.Or(o.Logger).WithProcess(id.String()),
		heapPtr:   o.HeapBase,
		addrHooks: make(map[uint32]AddressHookFunc),
		apis:      make(map[uint32]string),
		imports:   make(map[string]uint32),
		nextAPI:   APIBase,
		values:    make(map[string]any),
	}
	emu.calls = newCallTracker(emu.symbolize)

	stackLow := o.StackTop - o.StackSize
	emu.CPU = x86.New(emu.Mem, x86.Options{
		StackLow:        stackLow,
		StackHigh:       o.StackTop,
		MinCodeAddress:  o.MinCodeAddress,
		ReturnThreshold: o.ReturnThreshold,
		FSBase:          TEBBase,
		Tracer:          emu.calls,
	})

	if err := emu.mapThread(stackLow, o.StackTop); err != nil {
		return nil, err
	}

	// The entry point returns into ExitAddress.
	emu.CPU.SetReg32(x86.ESP, o.StackTop)
	if err := emu.CPU.Push(x86.ExitAddress); err != nil {
		return nil, fmt.Errorf("push exit address: %w", err)
	}
	emu.CPU.SetReg32(x86.EBP, o.StackTop)
	return emu, nil
}

// mapThread writes the TEB and PEB that fs: accesses resolve against.
func (e *Emulator) mapThread(stackLow, stackTop uint32) error {
	teb := []struct {
		off uint32
		val uint32
	}{
		{0x00, 0xFFFFFFFF}, // SEH chain terminator
		{0x04, stackTop},
		{0x08, stackLow},
		{0x18, TEBBase},
		{0x20, ProcessID},
		{0x24, ThreadID},
		{0x30, PEBBase},
	}
	for _, f := range teb {
		if err := e.Mem.WriteDword(TEBBase+f.off, f.val); err != nil {
			return fmt.Errorf("init TEB +0x%x: %w", f.off, err)
		}
	}
	return nil
}

// Options returns the emulator configuration.
func (e *Emulator) Options() Options {
	return e.opts
}

// Logger returns the per-process logger.
func (e *Emulator) Logger() *glog.Logger {
	return e.log
}

// Image returns the loaded PE image, or nil.
func (e *Emulator) Image() *PEInfo {
	return e.image
}

// Value returns per-process state stored by key.
func (e *Emulator) Value(key string) any {
	return e.values[key]
}

// SetValue stores per-process state.
func (e *Emulator) SetValue(key string, v any) {
	e.values[key] = v
}

// Register access

func (e *Emulator) EAX() uint32 { return e.CPU.Reg32(x86.EAX) }
func (e *Emulator) ESP() uint32 { return e.CPU.Reg32(x86.ESP) }
func (e *Emulator) EIP() uint32 { return e.CPU.EIP() }

// SetEAX sets the return value register.
func (e *Emulator) SetEAX(v uint32) {
	e.CPU.SetReg32(x86.EAX, v)
}

// Arg returns the n-th stack argument of the function being entered:
// [esp] holds the return address, [esp+4] argument 0.
func (e *Emulator) Arg(n int) uint32 {
	return e.Mem.ReadDword(e.ESP() + 4 + uint32(n)*4)
}

// ReturnAddress returns the dword at [esp].
func (e *Emulator) ReturnAddress() uint32 {
	return e.Mem.ReadDword(e.ESP())
}

// Return completes an API call: eax = value, pop the return address and
// release nargs stack arguments (0 for cdecl).
func (e *Emulator) Return(value uint32, nargs int) {
	site := e.EIP()
	e.SetEAX(value)
	ret, err := e.CPU.Pop()
	if err != nil {
		e.Fail(fmt.Errorf("return from %s: %w", e.symbolize(site), err))
		return
	}
	e.CPU.SetReg32(x86.ESP, e.ESP()+uint32(nargs)*4)
	e.CPU.SetEIP(ret)
	e.calls.Return(site, ret)
}

// Malloc allocates memory from the heap (bump allocator, 16-byte aligned).
// It returns 0 when the heap is exhausted.
func (e *Emulator) Malloc(size uint32) uint32 {
	if size == 0 {
		size = 16
	}
	size = (size + 15) &^ 15

	addr := e.heapPtr
	if uint64(addr)+uint64(size) > uint64(e.opts.HeapBase)+HeapSize {
		e.log.Warn("heap exhausted", glog.Size(size))
		return 0
	}
	e.heapPtr += size
	return addr
}

// HeapUsed returns the number of bytes handed out by Malloc.
func (e *Emulator) HeapUsed() uint32 {
	return e.heapPtr - e.opts.HeapBase
}

// HookCode adds a code hook called before every guest instruction
func (e *Emulator) HookCode(fn CodeHookFunc) {
	e.codeHooks = append(e.codeHooks, fn)
}

// HookAddress adds a hook for a specific address
func (e *Emulator) HookAddress(addr uint32, fn AddressHookFunc) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	e.addrHooks[addr] = fn
}

// RemoveAddressHook removes an address hook
func (e *Emulator) RemoveAddressHook(addr uint32) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	delete(e.addrHooks, addr)
}

func (e *Emulator) addressHook(addr uint32) (AddressHookFunc, bool) {
	e.addrHooksMu.RLock()
	defer e.addrHooksMu.RUnlock()
	h, ok := e.addrHooks[addr]
	return h, ok
}

// IsAPI reports whether addr is in the sentinel range.
func IsAPI(addr uint32) bool {
	return addr >= APIBase && addr <= APILast
}

// ResolveAPI returns the sentinel for symbol, allocating one if needed.
// fresh is true when the address was allocated by this call. A zero address
// means the sentinel range is exhausted.
func (e *Emulator) ResolveAPI(symbol string) (addr uint32, fresh bool) {
	if a, ok := e.imports[symbol]; ok {
		return a, false
	}
	if e.nextAPI > APILast {
		return 0, false
	}
	addr = e.nextAPI
	e.nextAPI++
	e.imports[symbol] = addr
	e.apis[addr] = symbol
	return addr, true
}

// APIName returns the symbol bound to a sentinel address.
func (e *Emulator) APIName(addr uint32) (string, bool) {
	name, ok := e.apis[addr]
	return name, ok
}

// Imports returns a copy of the symbol to sentinel map.
func (e *Emulator) Imports() map[string]uint32 {
	out := make(map[string]uint32, len(e.imports))
	for k, v := range e.imports {
		out[k] = v
	}
	return out
}

// MissingExport is the default behaviour for a sentinel without a stub:
// log, return 0, pop nothing but the return address.
func (e *Emulator) MissingExport(name string) {
	e.log.StubFallback(name, e.ReturnAddress())
	e.AddTraceEvent(TraceEvent{Address: e.ReturnAddress(), Tag: "#fallback", Detail: name})
	e.Return(0, 0)
}

func (e *Emulator) symbolize(addr uint32) string {
	if name, ok := e.apis[addr]; ok {
		return name
	}
	if addr == x86.ExitAddress {
		return "<exit>"
	}
	return fmt.Sprintf("sub_%08x", addr)
}

// CallStack returns the active frames, innermost last.
func (e *Emulator) CallStack() []Frame {
	return e.calls.Stack()
}

// CallTree returns the root of the call tree collected so far.
func (e *Emulator) CallTree() *CallNode {
	return e.calls.root
}

// EnableTrace enables trace event collection; limit 0 means unbounded
func (e *Emulator) EnableTrace(limit int) {
	e.traceEnabled = true
	e.traceLimit = limit
}

// DisableTrace disables trace event collection
func (e *Emulator) DisableTrace() {
	e.traceEnabled = false
}

// TraceEnabled reports whether trace events are collected.
func (e *Emulator) TraceEnabled() bool {
	return e.traceEnabled
}

// GetTraceEvents returns collected trace events
func (e *Emulator) GetTraceEvents() []TraceEvent {
	e.traceMu.Lock()
	defer e.traceMu.Unlock()
	return append([]TraceEvent{}, e.traceEvents...)
}

// AddTraceEvent adds a trace event
func (e *Emulator) AddTraceEvent(event TraceEvent) {
	if !e.traceEnabled {
		return
	}
	e.traceMu.Lock()
	defer e.traceMu.Unlock()
	if e.traceLimit > 0 && len(e.traceEvents) >= e.traceLimit {
		return
	}
	e.traceEvents = append(e.traceEvents, event)
}

// ClearTrace clears trace events
func (e *Emulator) ClearTrace() {
	e.traceMu.Lock()
	defer e.traceMu.Unlock()
	e.traceEvents = nil
}

// Stop stops emulation before the next instruction
func (e *Emulator) Stop() {
	e.stopped = true
}

// Exit ends the process with code, as ExitProcess does.
func (e *Emulator) Exit(code uint32) {
	e.exited = true
	e.exitCode = code
}

// Fail ends the process with a fatal error raised outside the CPU, e.g. by a stub.
func (e *Emulator) Fail(err error) {
	if e.failure == nil {
		e.failure = err
	}
}

// Exited reports whether the process called Exit, and its code.
func (e *Emulator) Exited() (bool, uint32) {
	return e.exited, e.exitCode
}

// zeroRun reports whether eip points at ZeroRunLimit zero bytes.
func (e *Emulator) zeroRun(eip uint32) bool {
	n := e.opts.ZeroRunLimit
	if n <= 0 || e.Mem.ReadByte(eip) != 0 {
		return false
	}
	return bytes.Count(e.Mem.Read(eip, n), []byte{0}) == n
}

// inCode reports whether eip may be executed when BoundToImage is set:
// inside the loaded image or the heap.
func (e *Emulator) inCode(eip uint32) bool {
	if !e.opts.BoundToImage || e.image == nil {
		return true
	}
	if e.image.Contains(eip) {
		return true
	}
	return eip >= e.opts.HeapBase && eip < e.heapPtr
}

func (e *Emulator) outcome(r StopReason, detail string) *Outcome {
	return &Outcome{
		Reason:       r,
		Detail:       detail,
		ExitCode:     e.exitCode,
		EIP:          e.EIP(),
		Instructions: e.CPU.Instructions,
		APICalls:     e.apiCalls,
	}
}

// Step runs one guest instruction or one API hook. It returns a nil
// Outcome while execution may continue. The error is non-nil only for faults.
func (e *Emulator) Step() (*Outcome, error) {
	if out := e.pending(); out != nil {
		return out, e.failure
	}
	if e.opts.MaxInstructions > 0 && e.steps >= e.opts.MaxInstructions {
		return e.outcome(ReasonBudget, fmt.Sprintf("instruction budget %d exhausted", e.opts.MaxInstructions)), nil
	}
	e.steps++

	eip := e.EIP()
	if eip == x86.ExitAddress || eip < e.opts.ReturnThreshold {
		// a stub returned straight into the exit address
		return e.halt(ReasonReturn, "returned to "+glog.Hex(eip)), nil
	}
	api := IsAPI(eip)
	if api {
		e.apiCalls++
	}
	if hook, ok := e.addressHook(eip); ok {
		stop := hook(e)
		if out := e.pending(); out != nil {
			return out, e.failure
		}
		if stop {
			return e.outcome(ReasonStopped, "stopped by hook at "+glog.Hex(eip)), nil
		}
		if e.EIP() != eip {
			return nil, nil
		}
		if api {
			e.Fail(fmt.Errorf("%s: %w", e.symbolize(eip), ErrStubReturn))
			return e.pending(), e.failure
		}
		// a hook on guest code observes; the instruction still runs
	} else if api {
		e.MissingExport(e.symbolize(eip))
		return e.pending(), e.failure
	}

	if e.zeroRun(eip) {
		return e.halt(ReasonZeroRun, fmt.Sprintf("%d zero bytes at %s, reached data or padding", e.opts.ZeroRunLimit, glog.Hex(eip))), nil
	}
	if !e.inCode(eip) {
		return e.halt(ReasonLeftImage, "eip "+glog.Hex(eip)+" outside the code region"), nil
	}

	for _, h := range e.codeHooks {
		h(e, eip)
	}

	err := e.CPU.Step()
	switch x86.KindOf(err) {
	case 0:
		return nil, nil
	case x86.TrapSkip:
		t := err.(*x86.Trap)
		e.log.Skip(t.EIP, t.Opcode, t.Reason)
		return nil, nil
	case x86.TrapHalt:
		t := err.(*x86.Trap)
		reason := ReasonHalt
		if eip := e.EIP(); eip == x86.ExitAddress || eip < e.opts.ReturnThreshold {
			reason = ReasonReturn
		}
		return e.halt(reason, t.Reason), nil
	}

	var t *x86.Trap
	if !errors.As(err, &t) {
		t = &x86.Trap{Kind: x86.TrapFault, EIP: eip, Reason: err.Error(), Err: err}
	}
	e.log.Fault(t.EIP, t.Opcode, t.Err)
	out := e.outcome(ReasonFault, t.Reason)
	out.Trap = t
	return out, err
}

func (e *Emulator) halt(r StopReason, detail string) *Outcome {
	e.log.Halt(e.EIP(), detail, e.CPU.Instructions)
	return e.outcome(r, detail)
}

// pending reports a stop requested by a hook or stub since the last step.
func (e *Emulator) pending() *Outcome {
	switch {
	case e.failure != nil:
		e.log.Error("process failed", zap.Error(e.failure))
		return e.outcome(ReasonFault, e.failure.Error())
	case e.exited:
		return e.outcome(ReasonExit, fmt.Sprintf("exit code %d", e.exitCode))
	case e.stopped:
		e.stopped = false
		return e.outcome(ReasonStopped, "stop requested")
	}
	return nil
}

// Run executes until the process halts, exits, faults or exhausts its
// instruction budget.
func (e *Emulator) Run() (*Outcome, error) {
	for {
		out, err := e.Step()
		if out != nil || err != nil {
			return out, err
		}
	}
}

// RunFrom sets eip to start and runs.
func (e *Emulator) RunFrom(start uint32) (*Outcome, error) {
	e.CPU.SetEIP(start)
	return e.Run()
}
