package fixture

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tetrane/rvnblock/internal/block"
	"github.com/tetrane/rvnblock/internal/store"
)

// Result is the observable outcome of running a Scenario: the full
// execution trace and the transitions occupied by non-instruction events,
// both read back from the database the writer produced.
type Result struct {
	Events                    []store.ExecutionEvent
	NonInstructionTransitions []uint64
}

// Run creates a fresh trace under dir, drives a store.Writer through
// scenario's op script, then opens a store.Reader and checks every
// assertion. It returns the trace's Result regardless of assertion
// failures, so a caller can still render it for debugging.
func Run(ctx context.Context, dir string, scenario *Scenario) (*Result, error) {
	path := filepath.Join(dir, scenario.Name+".sqlite")

	toolName := scenario.ToolName
	if toolName == "" {
		toolName = "fixture"
	}
	toolVersion := scenario.ToolVersion
	if toolVersion == "" {
		toolVersion = "0.0.0"
	}

	w, err := store.NewWriter(ctx, path, toolName, toolVersion, "scenario:"+scenario.Name)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: new writer: %w", scenario.Name, err)
	}

	if err := applyOps(ctx, w, scenario.Ops); err != nil {
		w.Close()
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if err := w.FinalizeExecution(ctx, scenario.FinalTransition); err != nil {
		w.Close()
		return nil, fmt.Errorf("scenario %s: finalize_execution: %w", scenario.Name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("scenario %s: close writer: %w", scenario.Name, err)
	}

	r, err := store.NewReader(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: new reader: %w", scenario.Name, err)
	}
	defer r.Close()

	result, err := Collect(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	if err := checkAssertions(ctx, r, result, scenario.Assertions); err != nil {
		return result, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	return result, nil
}

func applyOps(ctx context.Context, w *store.Writer, ops []Op) error {
	for i, op := range ops {
		data, err := op.data()
		if err != nil {
			return fmt.Errorf("op %d (%s): decode data_hex: %w", i, op.Kind, err)
		}

		switch op.Kind {
		case "add_block":
			d := block.Descriptor{PC: op.PC, InstructionCount: op.InstructionCount, Mode: op.mode()}
			if err := w.AddBlock(ctx, op.Transition, d, data); err != nil {
				return fmt.Errorf("op %d (add_block): %w", i, err)
			}
		case "add_block_instruction":
			if err := w.AddBlockInstruction(op.RIP); err != nil {
				return fmt.Errorf("op %d (add_block_instruction): %w", i, err)
			}
		case "add_interrupt":
			in := block.Interrupt{
				PC:                    op.PC,
				Mode:                  op.mode(),
				Number:                op.Number,
				IsHW:                  op.IsHW,
				HasRelatedInstruction: op.HasRelatedInstruction,
			}
			if err := w.AddInterrupt(ctx, op.Transition, in); err != nil {
				return fmt.Errorf("op %d (add_interrupt): %w", i, err)
			}
		default:
			return fmt.Errorf("op %d: unknown kind %q", i, op.Kind)
		}
	}
	return nil
}

// Collect reads back a trace's full execution history: every run-length-
// encoded event in transition order, and the transitions occupied by
// non-instruction events. cmd/rvnblock's dump command uses this directly
// against a production trace, not just scenario output.
func Collect(ctx context.Context, r *store.Reader) (*Result, error) {
	it, err := r.QueryEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_events: %w", err)
	}
	defer it.Close()

	var result Result
	for it.Next() {
		result.Events = append(result.Events, it.Event())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("query_events: %w", err)
	}

	nit, err := r.QueryNonInstructions(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_non_instructions: %w", err)
	}
	defer nit.Close()

	for nit.Next() {
		result.NonInstructionTransitions = append(result.NonInstructionTransitions, nit.Transition())
	}
	if err := nit.Err(); err != nil {
		return nil, fmt.Errorf("query_non_instructions: %w", err)
	}

	return &result, nil
}

func checkAssertions(ctx context.Context, r *store.Reader, result *Result, assertions []Assertion) error {
	for i, a := range assertions {
		switch a.Type {
		case AssertEventCount:
			if len(result.Events) != a.Count {
				return fmt.Errorf("assertion %d (event_count): got %d events, want %d", i, len(result.Events), a.Count)
			}
		case AssertEventAt:
			ev, ok, err := r.EventAt(ctx, a.Transition)
			if err != nil {
				return fmt.Errorf("assertion %d (event_at): %w", i, err)
			}
			if !ok {
				return fmt.Errorf("assertion %d (event_at %d): no event found", i, a.Transition)
			}
			if ev.Begin != a.Begin || ev.End != a.End {
				return fmt.Errorf("assertion %d (event_at %d): got [%d-%d], want [%d-%d]",
					i, a.Transition, ev.Begin, ev.End, a.Begin, a.End)
			}
		case AssertNonInstructionCount:
			if len(result.NonInstructionTransitions) != a.Count {
				return fmt.Errorf("assertion %d (non_instruction_count): got %d, want %d",
					i, len(result.NonInstructionTransitions), a.Count)
			}
		default:
			return fmt.Errorf("assertion %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}
