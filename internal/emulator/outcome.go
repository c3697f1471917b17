package emulator

import (
	"fmt"

	"github.com/zboralski/winemu/internal/x86"
)

// StopReason says why Run returned.
type StopReason int

const (
	ReasonExit      StopReason = iota // ExitProcess or exit
	ReasonReturn                      // returned to ExitAddress or below the return threshold
	ReasonHalt                        // HLT or INT3
	ReasonZeroRun                     // ran into zero padding
	ReasonLeftImage                   // eip left the image
	ReasonBudget                      // instruction budget exhausted
	ReasonStopped                     // Stop or a hook asked to stop
	ReasonFault                       // fatal guest or stub error
)

var reasonNames = [...]string{
	ReasonExit:      "exit",
	ReasonReturn:    "return",
	ReasonHalt:      "halt",
	ReasonZeroRun:   "zero-run",
	ReasonLeftImage: "left-image",
	ReasonBudget:    "budget",
	ReasonStopped:   "stopped",
	ReasonFault:     "fault",
}

func (r StopReason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Outcome describes how a run ended.
type Outcome struct {
	Reason       StopReason
	Detail       string
	ExitCode     uint32
	EIP          uint32
	Instructions uint64
	APICalls     uint64

	// Trap is the CPU trap for ReasonFault outcomes raised by the CPU.
	Trap *x86.Trap
}

// Normal reports whether the run ended without a fault.
func (o *Outcome) Normal() bool {
	return o.Reason != ReasonFault
}

func (o *Outcome) String() string {
	return fmt.Sprintf("%s at 0x%08x after %d instructions: %s", o.Reason, o.EIP, o.Instructions, o.Detail)
}
