package fixture

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tetrane/rvnblock/internal/store"
)

// DumpText renders result as the same two-section text format cmd/rvnblock
// prints: the transitions occupied by non-instruction events, then the
// full execution trace, one line per event.
func DumpText(ctx context.Context, r *store.Reader, result *Result) (string, error) {
	var b strings.Builder

	fmt.Fprintln(&b, "Non-instructions:")
	if len(result.NonInstructionTransitions) == 0 {
		fmt.Fprintln(&b, "(none)")
	}
	for _, t := range result.NonInstructionTransitions {
		fmt.Fprintf(&b, "%d\n", t)
	}

	fmt.Fprintln(&b, "")
	fmt.Fprintln(&b, "Execution trace:")
	for _, ev := range result.Events {
		if !ev.HasInstructions() {
			fmt.Fprintf(&b, "[%d-%d] non-instruction\n", ev.Begin, ev.End)
			continue
		}

		bi, err := r.BlockWithInstructions(ctx, ev.Handle)
		if err != nil {
			return "", fmt.Errorf("block %d: %w", ev.Handle, err)
		}
		partial := uint64(bi.Block.Descriptor.InstructionCount) > ev.ExecutionCount()
		fmt.Fprintf(&b, "[%d-%d] rip=0x%x instruction_count=%d partial=%t\n",
			ev.Begin, ev.End, bi.Block.Descriptor.PC, bi.Block.Descriptor.InstructionCount, partial)
	}

	return b.String(), nil
}

// RunWithGolden runs scenario under dir, then compares its DumpText
// rendering against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/fixture -update
func RunWithGolden(t *testing.T, dir string, scenario *Scenario) {
	t.Helper()

	ctx := context.Background()
	result, err := Run(ctx, dir, scenario)
	if err != nil {
		t.Fatalf("Run(%s): %v", scenario.Name, err)
	}

	r, err := store.NewReader(ctx, dir+"/"+scenario.Name+".sqlite")
	if err != nil {
		t.Fatalf("NewReader(%s): %v", scenario.Name, err)
	}
	defer r.Close()

	text, err := DumpText(ctx, r, result)
	if err != nil {
		t.Fatalf("DumpText(%s): %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, []byte(text))
}
