package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetrane/rvnblock/internal/fixture"
	"github.com/tetrane/rvnblock/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
}

// DumpEvent is one execution event rendered for JSON output.
type DumpEvent struct {
	Begin            uint64 `json:"begin"`
	End              uint64 `json:"end"`
	NonInstruction   bool   `json:"non_instruction"`
	PC               uint64 `json:"pc,omitempty"`
	InstructionCount uint32 `json:"instruction_count,omitempty"`
	Partial          bool   `json:"partial,omitempty"`
}

// DumpResult holds the complete dump output.
type DumpResult struct {
	NonInstructionTransitions []uint64    `json:"non_instruction_transitions"`
	Events                    []DumpEvent `json:"events"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump [database]",
		Short: "Print a trace's full execution history",
		Long: `Print every run-length-encoded execution event in a trace, in
transition order, along with the transitions occupied by non-instruction
(interrupt) events.

Examples:
  rvnblock dump blocks.sqlite
  rvnblock dump --format json blocks.sqlite`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Database = "blocks.sqlite"
			if len(args) == 1 {
				opts.Database = args[0]
			}
			return runDump(opts, cmd)
		},
	}

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	r, err := store.NewReader(ctx, opts.Database)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open trace", err)
	}
	defer r.Close()

	result, err := fixture.Collect(ctx, r)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read trace", err)
	}

	if opts.Format == "json" {
		return outputDumpJSON(ctx, cmd, r, result)
	}

	text, err := fixture.DumpText(ctx, r, result)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render trace", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func outputDumpJSON(ctx context.Context, cmd *cobra.Command, r *store.Reader, result *fixture.Result) error {
	dr := DumpResult{NonInstructionTransitions: result.NonInstructionTransitions}
	if dr.NonInstructionTransitions == nil {
		dr.NonInstructionTransitions = []uint64{}
	}

	for _, ev := range result.Events {
		de := DumpEvent{Begin: ev.Begin, End: ev.End}
		if !ev.HasInstructions() {
			de.NonInstruction = true
			dr.Events = append(dr.Events, de)
			continue
		}

		bi, err := r.BlockWithInstructions(ctx, ev.Handle)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read block", err)
		}
		de.PC = bi.Block.Descriptor.PC
		de.InstructionCount = uint32(bi.Block.Descriptor.InstructionCount)
		de.Partial = uint64(bi.Block.Descriptor.InstructionCount) > ev.ExecutionCount()
		dr.Events = append(dr.Events, de)
	}

	response := CLIResponse{Status: "ok", Data: dr}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
