package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tetrane/rvnblock/internal/block"
)

// dedupEntry is the writer's in-memory record of a block it has already
// persisted: its row id, the descriptor it was inserted under (to detect a
// fingerprint collision), and how many of its instruction offsets have been
// written to instruction_indices so far.
type dedupEntry struct {
	id                   BlockHandle
	descriptor           block.Descriptor
	executedInstructions int
}

// Writer appends a basic-block execution trace to a freshly created SQLite
// file. A Writer is not safe for concurrent use.
//
// Writer holds exactly one "pending" block at a time: the most recently
// reported block, not yet known to have finished executing. It is flushed
// to the database (deduplicated, assigned a handle, and recorded against
// the transition range it covers) as soon as the writer learns its
// execution has ended — either because a block was reported at a new
// transition, or because an interrupt forced the flush, or at
// FinalizeExecution. A block reported at the same transition as the last
// flush replaces the pending one without writing an execution row.
type Writer struct {
	db *sql.DB

	insertBlockStmt       *sql.Stmt
	insertInstructionStmt *sql.Stmt
	insertExecutionStmt   *sql.Stmt
	insertInterruptStmt   *sql.Stmt

	dedup map[block.Fingerprint]*dedupEntry

	havePending                 bool
	lastHash                    block.Fingerprint
	lastBlock                   block.Descriptor
	lastInstructionData         []byte
	lastBlockInstructionIndices []uint32
	lastTransitionID            uint64

	// lastID is the handle of the most recently flushed block. It survives
	// resetLastBlock: AddInterrupt depends on it still pointing at the
	// block that was pending when the interrupt fired, even after the
	// interrupt sentinel has been staged as the new pending block.
	lastID BlockHandle

	transactionItems int
}

// NewWriter creates path as a new rvnblock trace and returns a Writer ready
// to append to it. toolName and toolVersion identify the producer in the
// trace's metadata header; if toolInfo is empty, a random identifier is
// generated so every trace still carries a distinguishable provenance
// string.
func NewWriter(ctx context.Context, path, toolName, toolVersion, toolInfo string) (*Writer, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if toolInfo == "" {
		toolInfo = "rvnblock-writer " + uuid.Must(uuid.NewV7()).String()
	}
	if err := writeHeader(ctx, db, header{
		resourceType:  resourceType,
		formatVersion: block.FormatVersion,
		writerVersion: block.WriterVersion,
		toolName:      toolName,
		toolVersion:   toolVersion,
		toolInfo:      toolInfo,
	}); err != nil {
		db.Close()
		return nil, err
	}

	insertBlockStmt, err := db.PrepareContext(ctx,
		`INSERT INTO blocks (pc, instruction_data, instruction_count, mode) VALUES (?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert block statement: %w", err)
	}
	insertInstructionStmt, err := db.PrepareContext(ctx,
		`INSERT INTO instruction_indices (block_id, instruction_id, instruction_index) VALUES (?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert instruction statement: %w", err)
	}
	insertExecutionStmt, err := db.PrepareContext(ctx,
		`INSERT INTO execution (transition_id, block_id) VALUES (?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert execution statement: %w", err)
	}
	insertInterruptStmt, err := db.PrepareContext(ctx,
		`INSERT INTO interrupts (transition_id, pc, mode, number, is_hw, related_instruction_block_id) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert interrupt statement: %w", err)
	}

	w := &Writer{
		db:                    db,
		insertBlockStmt:       insertBlockStmt,
		insertInstructionStmt: insertInstructionStmt,
		insertExecutionStmt:   insertExecutionStmt,
		insertInterruptStmt:   insertInterruptStmt,
		dedup:                 make(map[block.Fingerprint]*dedupEntry),
	}

	id, err := w.insertBlockDB(ctx, block.InterruptDescriptor(), []byte(block.InterruptData))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("seed interrupt block: %w", err)
	}
	if BlockHandle(id) != InterruptBlockHandle {
		db.Close()
		return nil, &Error{Code: ErrLogicError, Message: "interrupt block did not get the reserved handle"}
	}
	w.dedup[block.InterruptFingerprint()] = &dedupEntry{id: InterruptBlockHandle, descriptor: block.InterruptDescriptor()}
	w.lastID = InterruptBlockHandle

	return w, nil
}

// Close flushes any open transaction and releases the underlying database
// connection. It does not flush a pending block: call FinalizeExecution
// first if there is one.
func (w *Writer) Close() error {
	if w.transactionItems != 0 {
		if _, err := w.db.Exec("COMMIT"); err != nil {
			w.db.Close()
			return fmt.Errorf("commit final transaction: %w", err)
		}
		w.transactionItems = 0
	}
	return w.db.Close()
}

// AddBlock reports that the block described by d (with raw bytes data)
// began executing at currentTransition, which is also the exclusive end of
// the pending block's execution range.
func (w *Writer) AddBlock(ctx context.Context, currentTransition uint64, d block.Descriptor, data []byte) error {
	return w.addBlockInner(ctx, currentTransition, d, data, false)
}

// AddBlockInstruction reports that the instruction at address rip, within
// the currently pending block, ran to completion. rip must fall within the
// pending block; the first instruction of a block (rip == pending PC) is a
// no-op, since offset 0 is implicit.
func (w *Writer) AddBlockInstruction(rip uint64) error {
	if !w.havePending {
		return &Error{Code: ErrLogicError, Message: "add_block_instruction with no pending block"}
	}
	offset := rip - w.lastBlock.PC
	if offset == 0 {
		return nil
	}
	w.lastBlockInstructionIndices = append(w.lastBlockInstructionIndices, uint32(offset))
	return nil
}

// AddInterrupt reports a non-instruction event: a fault, hardware
// interrupt, or similar. Unlike AddBlock, an interrupt always forces the
// currently pending block to flush, even if currentTransition equals the
// transition of the last flush — interrupts never merge with the
// surrounding execution run the way repeated blocks do. In that
// same-transition case the pending block is stored and assigned a handle,
// so the interrupt can refer to it, but it gets no execution row, since it
// covered no transitions.
func (w *Writer) AddInterrupt(ctx context.Context, currentTransition uint64, in block.Interrupt) error {
	if err := w.addBlockInner(ctx, currentTransition, block.InterruptDescriptor(), []byte(block.InterruptData), true); err != nil {
		return err
	}
	return w.insertInterrupt(ctx, currentTransition, in)
}

// FinalizeExecution flushes the pending block, if any, attributing it to
// the transition range ending at lastTransitionID. If lastTransitionID
// equals the transition of the last flush, the pending block covers no
// transitions and nothing is written. It must be called exactly once,
// after the last AddBlock/AddInterrupt call, before Close.
func (w *Writer) FinalizeExecution(ctx context.Context, lastTransitionID uint64) error {
	if !w.havePending {
		return nil
	}
	if lastTransitionID == w.lastTransitionID {
		return nil
	}
	if err := w.insertLastBlock(ctx); err != nil {
		return err
	}
	return w.insertBlockExecution(ctx, lastTransitionID)
}

func (w *Writer) addBlockInner(ctx context.Context, currentTransition uint64, d block.Descriptor, data []byte, forceFlush bool) error {
	fp := block.Hash(d, data)

	if !w.havePending {
		w.resetLastBlock(d, fp, data)
		return nil
	}

	if currentTransition != w.lastTransitionID {
		if err := w.insertLastBlock(ctx); err != nil {
			return err
		}
		if err := w.insertBlockExecution(ctx, currentTransition); err != nil {
			return err
		}
	} else if forceFlush {
		if err := w.insertLastBlock(ctx); err != nil {
			return err
		}
	}

	w.resetLastBlock(d, fp, data)
	return nil
}

func (w *Writer) resetLastBlock(d block.Descriptor, fp block.Fingerprint, data []byte) {
	w.lastBlock = d
	w.lastHash = fp
	w.lastInstructionData = append([]byte(nil), data...)
	w.lastBlockInstructionIndices = w.lastBlockInstructionIndices[:0]
	w.havePending = true
}

func (w *Writer) insertLastBlock(ctx context.Context) error {
	entry, ok := w.dedup[w.lastHash]
	if !ok {
		id, err := w.insertBlockDB(ctx, w.lastBlock, w.lastInstructionData)
		if err != nil {
			return err
		}
		entry = &dedupEntry{id: BlockHandle(id), descriptor: w.lastBlock}
		w.dedup[w.lastHash] = entry
		slog.Debug("rvnblock: new block", "handle", entry.id, "pc", w.lastBlock.PC, "instruction_count", w.lastBlock.InstructionCount)
	} else if entry.descriptor != w.lastBlock {
		return &Error{
			Code:    ErrCollision,
			Message: fmt.Sprintf("fingerprint %x maps to both %+v and %+v", w.lastHash, entry.descriptor, w.lastBlock),
		}
	}
	w.lastID = entry.id

	if len(w.lastBlockInstructionIndices) > entry.executedInstructions {
		if err := w.insertInstructions(ctx, entry, w.lastBlockInstructionIndices); err != nil {
			return err
		}
		entry.executedInstructions = len(w.lastBlockInstructionIndices)
	}
	return nil
}

func (w *Writer) insertBlockDB(ctx context.Context, d block.Descriptor, data []byte) (int64, error) {
	if err := w.stepTransaction(ctx); err != nil {
		return 0, err
	}
	res, err := w.insertBlockStmt.ExecContext(ctx, int64(d.PC), data, int64(d.InstructionCount), int64(d.Mode))
	if err != nil {
		return 0, fmt.Errorf("insert block: %w", err)
	}
	return res.LastInsertId()
}

func (w *Writer) insertInstructions(ctx context.Context, entry *dedupEntry, indices []uint32) error {
	for i := entry.executedInstructions; i < len(indices); i++ {
		if err := w.stepTransaction(ctx); err != nil {
			return err
		}
		if _, err := w.insertInstructionStmt.ExecContext(ctx, int64(entry.id), int64(i), int64(indices[i])); err != nil {
			return fmt.Errorf("insert instruction index: %w", err)
		}
	}
	return nil
}

func (w *Writer) insertBlockExecution(ctx context.Context, transitionID uint64) error {
	if err := w.stepTransaction(ctx); err != nil {
		return err
	}
	if _, err := w.insertExecutionStmt.ExecContext(ctx, int64(transitionID), int64(w.lastID)); err != nil {
		return fmt.Errorf("insert execution event: %w", err)
	}
	w.lastTransitionID = transitionID
	return nil
}

func (w *Writer) insertInterrupt(ctx context.Context, transitionID uint64, in block.Interrupt) error {
	related := int64(0)
	if in.HasRelatedInstruction {
		related = int64(w.lastID)
	}

	if err := w.stepTransaction(ctx); err != nil {
		return err
	}
	isHW := 0
	if in.IsHW {
		isHW = 1
	}
	_, err := w.insertInterruptStmt.ExecContext(ctx, int64(transitionID), int64(in.PC), int64(in.Mode), int64(in.Number), isHW, related)
	if err != nil {
		return fmt.Errorf("insert interrupt: %w", err)
	}
	w.lastTransitionID = transitionID
	return nil
}

// stepTransaction batches writes into transactions of txBatchSize
// statements each. It mirrors the original writer's approach exactly,
// including that the statement which triggers a commit executes outside of
// any explicit transaction (SQLite's autocommit mode covers it).
func (w *Writer) stepTransaction(ctx context.Context) error {
	if w.transactionItems == 0 {
		if _, err := w.db.ExecContext(ctx, "BEGIN"); err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
	}
	w.transactionItems++
	if w.transactionItems > txBatchSize {
		w.transactionItems = 0
		if _, err := w.db.ExecContext(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
	}
	return nil
}
