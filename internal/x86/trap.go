package x86

import (
	"errors"
	"fmt"
)

// Fault causes. Handlers return these (wrapped) and Step turns them into a
// TrapFault.
var (
	ErrInvalidOpcode          = errors.New("invalid opcode")
	ErrDivide                 = errors.New("divide error")
	ErrStackOverflow          = errors.New("stack overflow")
	ErrStackUnderflow         = errors.New("stack underflow")
	ErrInvalidFunctionPointer = errors.New("invalid function pointer")
	ErrInvalidTarget          = errors.New("invalid branch target")
	ErrInterrupt              = errors.New("software interrupt")
	ErrUnsupported            = errors.New("unsupported encoding")
)

// TrapKind classifies the outcome of a single step.
type TrapKind uint8

const (
	// TrapSkip: the instruction was not executed but its length is known;
	// eip moved past it and execution may continue.
	TrapSkip TrapKind = iota + 1
	// TrapHalt: execution reached a normal stopping point.
	TrapHalt
	// TrapFault: the guest faulted and cannot continue.
	TrapFault
)

func (k TrapKind) String() string {
	switch k {
	case TrapSkip:
		return "skip"
	case TrapHalt:
		return "halt"
	case TrapFault:
		return "fault"
	}
	return "continue"
}

// Trap is the tagged result of a step that did not simply continue.
type Trap struct {
	Kind   TrapKind
	EIP    uint32 // address of the instruction
	Opcode []byte // instruction bytes consumed before the trap
	Reason string
	Err    error
}

func (t *Trap) Error() string {
	return fmt.Sprintf("%s at 0x%08x [% x]: %s", t.Kind, t.EIP, t.Opcode, t.Reason)
}

func (t *Trap) Unwrap() error {
	return t.Err
}

// KindOf returns the trap kind carried by err. A nil error means the step
// completed and execution continues (kind 0). Errors that are not traps
// count as faults.
func KindOf(err error) TrapKind {
	if err == nil {
		return 0
	}
	var t *Trap
	if errors.As(err, &t) {
		return t.Kind
	}
	return TrapFault
}

func (c *CPU) halt(reason string) error {
	return &Trap{Kind: TrapHalt, Reason: reason}
}

func (c *CPU) skip(reason string) error {
	return &Trap{Kind: TrapSkip, Reason: reason}
}
