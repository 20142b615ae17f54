package fixture

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tetrane/rvnblock/internal/block"
)

// Scenario is a YAML-decoded script of writer operations, driven against a
// fresh trace and checked against a set of assertions.
type Scenario struct {
	// Name uniquely identifies this scenario; also the golden file's base
	// name when run via RunWithGolden.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description,omitempty"`

	ToolName    string `yaml:"tool_name,omitempty"`
	ToolVersion string `yaml:"tool_version,omitempty"`

	// Ops is the writer operation script, applied in order.
	Ops []Op `yaml:"ops"`

	// FinalTransition is passed to Writer.FinalizeExecution once all Ops
	// have been applied.
	FinalTransition uint64 `yaml:"final_transition"`

	// Assertions are checked against the resulting trace after Ops and
	// FinalizeExecution have run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Op is one step of a scenario's writer script. Kind selects which of the
// Writer's three operations to invoke; the other fields are interpreted
// according to Kind.
type Op struct {
	// Kind is one of "add_block", "add_block_instruction", "add_interrupt".
	Kind string `yaml:"kind"`

	Transition uint64 `yaml:"transition,omitempty"`

	// add_block / add_interrupt descriptor fields.
	PC               uint64 `yaml:"pc,omitempty"`
	InstructionCount uint16 `yaml:"instruction_count,omitempty"`
	Mode             string `yaml:"mode,omitempty"`
	DataHex          string `yaml:"data_hex,omitempty"`

	// add_block_instruction.
	RIP uint64 `yaml:"rip,omitempty"`

	// add_interrupt.
	Number                uint32 `yaml:"number,omitempty"`
	IsHW                  bool   `yaml:"is_hw,omitempty"`
	HasRelatedInstruction bool   `yaml:"has_related_instruction,omitempty"`
}

func (o Op) mode() block.ExecutionMode {
	switch o.Mode {
	case "x86_32":
		return block.X86_32
	case "x86_16":
		return block.X86_16
	default:
		return block.X86_64
	}
}

func (o Op) data() ([]byte, error) {
	if o.DataHex == "" {
		return nil, nil
	}
	return hex.DecodeString(o.DataHex)
}

// Assertion checks a single fact about the trace produced by a scenario.
type Assertion struct {
	// Type is one of "event_count", "event_at", "non_instruction_count".
	Type string `yaml:"type"`

	Transition uint64 `yaml:"transition,omitempty"`
	Count      int    `yaml:"count,omitempty"`
	Begin      uint64 `yaml:"begin,omitempty"`
	End        uint64 `yaml:"end,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount          = "event_count"
	AssertEventAt             = "event_at"
	AssertNonInstructionCount = "non_instruction_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo in a scenario file fails loudly instead of silently
// being ignored.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("invalid scenario: missing name")
	}
	if len(s.Ops) == 0 {
		return nil, fmt.Errorf("invalid scenario %s: no ops", s.Name)
	}

	return &s, nil
}
