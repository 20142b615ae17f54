package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetrane/rvnblock/internal/store"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Database string
}

// InfoResult holds a trace's header and size summary.
type InfoResult struct {
	FormatVersion  string `json:"format_version"`
	ToolName       string `json:"tool_name"`
	ToolVersion    string `json:"tool_version"`
	ToolInfo       string `json:"tool_info"`
	BlockCount     int64  `json:"block_count"`
	EventCount     int64  `json:"event_count"`
	InterruptCount int64  `json:"interrupt_count"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info [database]",
		Short: "Print a trace's header and size summary",
		Long: `Print the metadata header recorded at the start of a trace
(format version, producer identity) along with the number of distinct
blocks, execution events and interrupts it holds.

Examples:
  rvnblock info blocks.sqlite
  rvnblock info --format json blocks.sqlite`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Database = "blocks.sqlite"
			if len(args) == 1 {
				opts.Database = args[0]
			}
			return runInfo(opts, cmd)
		},
	}

	return cmd
}

func runInfo(opts *InfoOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	r, err := store.NewReader(ctx, opts.Database)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open trace", err)
	}
	defer r.Close()

	stats, err := r.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read trace stats", err)
	}

	result := InfoResult{
		FormatVersion:  r.ResourceVersion(),
		ToolName:       r.ToolName(),
		ToolVersion:    r.ToolVersion(),
		ToolInfo:       r.ToolInfo(),
		BlockCount:     stats.BlockCount,
		EventCount:     stats.EventCount,
		InterruptCount: stats.InterruptCount,
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "format_version: %s\n", result.FormatVersion)
	fmt.Fprintf(w, "tool_name:      %s\n", result.ToolName)
	fmt.Fprintf(w, "tool_version:   %s\n", result.ToolVersion)
	fmt.Fprintf(w, "tool_info:      %s\n", result.ToolInfo)
	fmt.Fprintf(w, "blocks:         %d\n", result.BlockCount)
	fmt.Fprintf(w, "events:         %d\n", result.EventCount)
	fmt.Fprintf(w, "interrupts:     %d\n", result.InterruptCount)
	return nil
}
