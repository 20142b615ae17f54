package store

import "github.com/tetrane/rvnblock/internal/block"

// BlockHandle identifies a row in the blocks table. Handle 1 is reserved for
// the interrupt sentinel block, seeded by every Writer at construction and
// verified by every Reader at open.
type BlockHandle int64

// InterruptBlockHandle is the reserved handle of the interrupt sentinel
// block.
const InterruptBlockHandle BlockHandle = 1

// StoredBlock is a block as persisted in the blocks table.
type StoredBlock struct {
	Descriptor      block.Descriptor
	InstructionData []byte
}

// BlockInstructions pairs a stored block with however much of its
// instruction offset table has been observed so far.
type BlockInstructions struct {
	Block StoredBlock
	// Offsets holds the byte offset (relative to Block.Descriptor.PC) at
	// which each instruction after the first begins. len(Offsets) is
	// always < Block.Descriptor.InstructionCount; the remainder is
	// unobserved.
	Offsets []uint32
}

// InstructionCount returns how many instructions of the block have been
// observed: 0 if the block's descriptor has an instruction count of 0 (as
// the interrupt sentinel does), otherwise len(Offsets)+1.
func (bi BlockInstructions) InstructionCount() uint32 {
	if bi.Block.Descriptor.InstructionCount == 0 {
		return 0
	}
	return uint32(len(bi.Offsets)) + 1
}

// Instruction is a single instruction's address and raw bytes, sliced out of
// its block's instruction_data.
type Instruction struct {
	PC   uint64
	Data []byte
}

// Instruction returns the i-th instruction of the block, or false if i is
// out of the observed range. The byte range of the last observed
// instruction is clamped to 15 bytes (the longest possible x86
// instruction), since its true end is only known once the next instruction
// in the block has also been observed.
func (bi BlockInstructions) Instruction(i uint32) (Instruction, bool) {
	if i >= bi.InstructionCount() {
		return Instruction{}, false
	}

	var begin uint32
	if i != 0 {
		begin = bi.Offsets[i-1]
	}
	end := uint32(len(bi.Block.InstructionData))
	if i < uint32(len(bi.Offsets)) {
		end = bi.Offsets[i]
	}

	size := end - begin
	if size > 15 {
		size = 15
	}
	return Instruction{
		PC:   bi.Block.Descriptor.PC + uint64(begin),
		Data: bi.Block.InstructionData[begin : begin+size],
	}, true
}

// ExecutionEvent is one row of the run-length-encoded execution trace: the
// transition range [Begin, End) spent executing Handle's block.
type ExecutionEvent struct {
	Begin  uint64
	End    uint64
	Handle BlockHandle
}

// ExecutionCount returns how many transitions the event covers (End-Begin),
// i.e. how many of the block's instructions were executed during it.
func (e ExecutionEvent) ExecutionCount() uint64 {
	return e.End - e.Begin
}

// HasInstructions reports whether this event refers to a real block, as
// opposed to the interrupt sentinel.
func (e ExecutionEvent) HasInstructions() bool {
	return e.Handle != InterruptBlockHandle
}

// Interrupt is a non-instruction event read back from the trace: a fault,
// hardware interrupt, or similar.
type Interrupt struct {
	PC            uint64
	Mode          block.ExecutionMode
	Number        uint32
	IsHW          bool
	relatedHandle BlockHandle
}

// HasRelatedInstruction reports whether this interrupt is attributed to a
// specific instruction in a specific block.
func (i Interrupt) HasRelatedInstruction() bool {
	return i.relatedHandle != 0
}
