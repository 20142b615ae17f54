package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tetrane/rvnblock/internal/block"
)

// Reader opens an existing rvnblock trace for point and streaming queries.
// A Reader is not safe for concurrent use; open a separate Reader per
// goroutine if concurrent access is needed.
type Reader struct {
	db *sql.DB

	stmtAfter       *sql.Stmt
	stmtBefore      *sql.Stmt
	stmtBlock       *sql.Stmt
	stmtBlockInst   *sql.Stmt
	stmtInterruptAt *sql.Stmt

	cache map[BlockHandle]StoredBlock

	resourceVersion string
	toolName        string
	toolVersion     string
	toolInfo        string
}

// NewReader opens path as an existing rvnblock trace. It fails if the file
// isn't a recognizable trace, or if its format_version's major version
// isn't compatible with this package's, or if the reserved interrupt
// sentinel block can't be found.
func NewReader(ctx context.Context, path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	h, err := readHeader(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if h.resourceType != resourceType {
		db.Close()
		return nil, &Error{Code: ErrOpenFailed, Message: fmt.Sprintf("unexpected resource_type %q", h.resourceType)}
	}
	if err := checkFormatVersionCompatible(h.formatVersion, block.FormatVersion); err != nil {
		db.Close()
		return nil, err
	}

	stmtAfter, err := db.PrepareContext(ctx,
		`SELECT transition_id, block_id FROM execution WHERE transition_id > ? ORDER BY transition_id ASC LIMIT 1`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare stmt_after: %w", err)
	}
	stmtBefore, err := db.PrepareContext(ctx,
		`SELECT transition_id FROM execution WHERE transition_id <= ? ORDER BY transition_id DESC LIMIT 1`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare stmt_before: %w", err)
	}
	stmtBlock, err := db.PrepareContext(ctx,
		`SELECT pc, instruction_data, instruction_count, mode FROM blocks WHERE rowid = ?`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare stmt_block: %w", err)
	}
	stmtBlockInst, err := db.PrepareContext(ctx,
		`SELECT instruction_index FROM instruction_indices WHERE block_id = ? ORDER BY instruction_id ASC`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare stmt_block_inst: %w", err)
	}
	stmtInterruptAt, err := db.PrepareContext(ctx,
		`SELECT pc, mode, number, is_hw, related_instruction_block_id FROM interrupts WHERE transition_id = ?`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare stmt_interrupt_at: %w", err)
	}

	r := &Reader{
		db:              db,
		stmtAfter:       stmtAfter,
		stmtBefore:      stmtBefore,
		stmtBlock:       stmtBlock,
		stmtBlockInst:   stmtBlockInst,
		stmtInterruptAt: stmtInterruptAt,
		cache:           make(map[BlockHandle]StoredBlock),
		resourceVersion: h.formatVersion,
		toolName:        h.toolName,
		toolVersion:     h.toolVersion,
		toolInfo:        h.toolInfo,
	}

	sentinel, err := r.Block(ctx, InterruptBlockHandle)
	if err != nil {
		db.Close()
		return nil, &Error{Code: ErrMissingInterruptBlock, Message: "could not find interrupt block"}
	}
	if string(sentinel.InstructionData) != block.InterruptData {
		db.Close()
		return nil, &Error{Code: ErrMissingInterruptBlock, Message: "interrupt block has unexpected payload"}
	}

	return r, nil
}

// Close releases the underlying database connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// ResourceVersion returns the trace's stored format_version.
func (r *Reader) ResourceVersion() string { return r.resourceVersion }

// ToolName, ToolVersion and ToolInfo return the trace's recorded producer
// identity.
func (r *Reader) ToolName() string    { return r.toolName }
func (r *Reader) ToolVersion() string { return r.toolVersion }
func (r *Reader) ToolInfo() string    { return r.toolInfo }

// CacheSize returns the number of blocks currently cached in memory.
func (r *Reader) CacheSize() int { return len(r.cache) }

// ClearCache drops all cached blocks. Subsequent lookups re-fetch from the
// database.
func (r *Reader) ClearCache() { r.cache = make(map[BlockHandle]StoredBlock) }

// Block returns the stored block at handle h, using the in-memory cache
// when possible.
func (r *Reader) Block(ctx context.Context, h BlockHandle) (StoredBlock, error) {
	if b, ok := r.cache[h]; ok {
		return b, nil
	}
	b, err := r.fetchBlock(ctx, h)
	if err != nil {
		return StoredBlock{}, err
	}
	r.cache[h] = b
	return b, nil
}

func (r *Reader) fetchBlock(ctx context.Context, h BlockHandle) (StoredBlock, error) {
	var pc int64
	var data []byte
	var instructionCount, mode int64
	err := r.stmtBlock.QueryRowContext(ctx, int64(h)).Scan(&pc, &data, &instructionCount, &mode)
	if err == sql.ErrNoRows {
		return StoredBlock{}, &Error{Code: ErrUnknownBlockHandle, Message: fmt.Sprintf("no block with handle %d", h)}
	}
	if err != nil {
		return StoredBlock{}, fmt.Errorf("fetch block %d: %w", h, err)
	}
	return StoredBlock{
		Descriptor: block.Descriptor{
			PC:               uint64(pc),
			InstructionCount: uint16(instructionCount),
			Mode:             block.ExecutionMode(mode),
		},
		InstructionData: data,
	}, nil
}

// BlockWithInstructions returns the stored block at handle h along with
// however much of its instruction offset table has been observed.
func (r *Reader) BlockWithInstructions(ctx context.Context, h BlockHandle) (BlockInstructions, error) {
	b, err := r.Block(ctx, h)
	if err != nil {
		return BlockInstructions{}, err
	}
	if b.Descriptor.InstructionCount == 0 {
		return BlockInstructions{Block: b}, nil
	}

	rows, err := r.stmtBlockInst.QueryContext(ctx, int64(h))
	if err != nil {
		return BlockInstructions{}, fmt.Errorf("fetch instruction indices for block %d: %w", h, err)
	}
	defer rows.Close()

	var offsets []uint32
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return BlockInstructions{}, fmt.Errorf("scan instruction index: %w", err)
		}
		offsets = append(offsets, uint32(idx))
	}
	if err := rows.Err(); err != nil {
		return BlockInstructions{}, fmt.Errorf("iterate instruction indices for block %d: %w", h, err)
	}

	return BlockInstructions{Block: b, Offsets: offsets}, nil
}

// EventAt returns the execution event covering transition, or ok == false
// if no event has been recorded at or after that transition.
func (r *Reader) EventAt(ctx context.Context, transition uint64) (event ExecutionEvent, ok bool, err error) {
	var end uint64
	var blockID int64
	err = r.stmtAfter.QueryRowContext(ctx, int64(transition)).Scan(&end, &blockID)
	if err == sql.ErrNoRows {
		return ExecutionEvent{}, false, nil
	}
	if err != nil {
		return ExecutionEvent{}, false, fmt.Errorf("event_at %d: %w", transition, err)
	}

	var begin uint64
	err = r.stmtBefore.QueryRowContext(ctx, int64(transition)).Scan(&begin)
	if err != nil && err != sql.ErrNoRows {
		return ExecutionEvent{}, false, fmt.Errorf("event_at %d: %w", transition, err)
	}
	if err == sql.ErrNoRows {
		begin = 0
	}

	return ExecutionEvent{Begin: begin, End: end, Handle: BlockHandle(blockID)}, true, nil
}

// InterruptAt returns the interrupt recorded at the given transition, or
// ok == false if none was recorded there.
func (r *Reader) InterruptAt(ctx context.Context, transition uint64) (in Interrupt, ok bool, err error) {
	var pc int64
	var mode, number, isHW, related int64
	err = r.stmtInterruptAt.QueryRowContext(ctx, int64(transition)).Scan(&pc, &mode, &number, &isHW, &related)
	if err == sql.ErrNoRows {
		return Interrupt{}, false, nil
	}
	if err != nil {
		return Interrupt{}, false, fmt.Errorf("interrupt_at %d: %w", transition, err)
	}
	return Interrupt{
		PC:            uint64(pc),
		Mode:          block.ExecutionMode(mode),
		Number:        uint32(number),
		IsHW:          isHW != 0,
		relatedHandle: BlockHandle(related),
	}, true, nil
}

// RelatedInstructionData returns the raw bytes of the instruction the
// interrupt is attributed to, or ok == false if it has no related
// instruction. As with Instruction, the range is clamped to 15 bytes.
func (r *Reader) RelatedInstructionData(ctx context.Context, in Interrupt) (data []byte, ok bool, err error) {
	if !in.HasRelatedInstruction() {
		return nil, false, nil
	}

	b, err := r.Block(ctx, in.relatedHandle)
	if err != nil {
		return nil, false, err
	}
	offset := in.PC - b.Descriptor.PC

	rows, err := r.stmtBlockInst.QueryContext(ctx, int64(in.relatedHandle))
	if err != nil {
		return nil, false, fmt.Errorf("related_instruction_data: %w", err)
	}
	defer rows.Close()

	var begin uint64
	for rows.Next() {
		var end int64
		if err := rows.Scan(&end); err != nil {
			return nil, false, fmt.Errorf("related_instruction_data: scan: %w", err)
		}
		if begin == offset {
			size := uint64(end) - begin
			if size > 15 {
				size = 15
			}
			return b.InstructionData[begin : begin+size], true, nil
		}
		begin = uint64(end)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("related_instruction_data: %w", err)
	}

	if begin == offset {
		end := uint64(len(b.InstructionData))
		size := end - begin
		if size > 15 {
			size = 15
		}
		return b.InstructionData[begin : begin+size], true, nil
	}

	return nil, false, nil
}

// Stats summarizes the size of a trace without walking its full contents.
type Stats struct {
	BlockCount     int64
	EventCount     int64
	InterruptCount int64
}

// Stats returns row counts for the blocks, execution and interrupts tables.
func (r *Reader) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&s.BlockCount); err != nil {
		return Stats{}, fmt.Errorf("stats: count blocks: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution`).Scan(&s.EventCount); err != nil {
		return Stats{}, fmt.Errorf("stats: count execution rows: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interrupts`).Scan(&s.InterruptCount); err != nil {
		return Stats{}, fmt.Errorf("stats: count interrupts: %w", err)
	}
	return s, nil
}

// EventIterator streams the run-length-encoded execution trace in
// transition order.
type EventIterator struct {
	rows     *sql.Rows
	previous uint64
	cur      ExecutionEvent
	err      error
}

// QueryEvents returns an iterator over every recorded execution event, in
// ascending transition order.
func (r *Reader) QueryEvents(ctx context.Context) (*EventIterator, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT transition_id, block_id FROM execution ORDER BY transition_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query_events: %w", err)
	}
	return &EventIterator{rows: rows}, nil
}

// Next advances the iterator and reports whether an event is available.
func (it *EventIterator) Next() bool {
	if it.err != nil || it.rows == nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var end uint64
	var blockID int64
	if err := it.rows.Scan(&end, &blockID); err != nil {
		it.err = err
		return false
	}
	it.cur = ExecutionEvent{Begin: it.previous, End: end, Handle: BlockHandle(blockID)}
	it.previous = end
	return true
}

// Event returns the event loaded by the most recent successful Next call.
func (it *EventIterator) Event() ExecutionEvent { return it.cur }

// Err returns the first error encountered while iterating, if any.
func (it *EventIterator) Err() error { return it.err }

// Close releases the iterator's underlying rows.
func (it *EventIterator) Close() error {
	if it.rows == nil {
		return nil
	}
	return it.rows.Close()
}

// TransitionIterator streams the transitions at which a non-instruction
// (interrupt) event occurred.
type TransitionIterator struct {
	rows *sql.Rows
	cur  uint64
	err  error
}

// QueryNonInstructions returns an iterator over the transitions occupied by
// non-instruction events. For each interrupt-sentinel execution row at
// transition T (the exclusive end of the one-transition interrupt range),
// the iterator yields T-1, except when T is 0, in which case it yields 0.
func (r *Reader) QueryNonInstructions(ctx context.Context) (*TransitionIterator, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT transition_id FROM execution WHERE block_id = ? ORDER BY transition_id ASC`, int64(InterruptBlockHandle))
	if err != nil {
		return nil, fmt.Errorf("query_non_instructions: %w", err)
	}
	return &TransitionIterator{rows: rows}, nil
}

// Next advances the iterator and reports whether a transition is available.
func (it *TransitionIterator) Next() bool {
	if it.err != nil || it.rows == nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var t uint64
	if err := it.rows.Scan(&t); err != nil {
		it.err = err
		return false
	}
	if t == 0 {
		it.cur = 0
	} else {
		it.cur = t - 1
	}
	return true
}

// Transition returns the value loaded by the most recent successful Next
// call.
func (it *TransitionIterator) Transition() uint64 { return it.cur }

// Err returns the first error encountered while iterating, if any.
func (it *TransitionIterator) Err() error { return it.err }

// Close releases the iterator's underlying rows.
func (it *TransitionIterator) Close() error {
	if it.rows == nil {
		return nil
	}
	return it.rows.Close()
}
