package block

import "fmt"

// ExecutionMode is the processor mode a block or interrupt was executed in.
type ExecutionMode uint8

const (
	X86_64 ExecutionMode = 0
	X86_32 ExecutionMode = 1
	X86_16 ExecutionMode = 2
)

func (m ExecutionMode) String() string {
	switch m {
	case X86_64:
		return "x86_64"
	case X86_32:
		return "x86_32"
	case X86_16:
		return "x86_16"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", uint8(m))
	}
}

// FormatVersion and WriterVersion are the contract constants stored in every
// trace's metadata header. Both follow SemVer; a reader refuses to open a
// database whose stored format_version isn't compatible (same major) with
// FormatVersion.
const (
	FormatVersion = "1.0.0"
	WriterVersion = "1.0.0"
)

// Descriptor identifies an executed block, as reported by the instrumented
// CPU: the address of its first instruction, its statically-known
// instruction count, and the mode it executed in. Two descriptors compare
// equal only if all three fields match; this equality is what the writer's
// dedup map uses to detect fingerprint collisions.
type Descriptor struct {
	PC               uint64
	InstructionCount uint16
	Mode             ExecutionMode
}

// InterruptDescriptor returns the descriptor used for the reserved
// interrupt sentinel block: a zero pc, zero instruction count, and an
// arbitrary mode (the field is never meaningful for this block, per the
// format contract).
func InterruptDescriptor() Descriptor {
	return Descriptor{PC: 0, InstructionCount: 0, Mode: X86_64}
}

// InterruptData is the literal payload stored as the interrupt sentinel
// block's instruction_data.
const InterruptData = "interrupt"

// Interrupt is a non-instruction event reported to the writer: a fault,
// hardware interrupt, or similar. HasRelatedInstruction tells the writer
// whether to attribute the interrupt to the block that was pending when it
// fired.
type Interrupt struct {
	PC                    uint64
	Mode                  ExecutionMode
	Number                uint32
	IsHW                  bool
	HasRelatedInstruction bool
}
