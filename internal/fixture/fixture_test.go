package fixture

import (
	"os"
	"testing"
)

func TestBasicScenario_GoldenDump(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/basic.yaml")
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}

	RunWithGolden(t, t.TempDir(), scenario)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.yaml"
	contents := []byte("name: bad\nops: []\nnonsense_field: true\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	_, err := LoadScenario(path)
	if err == nil {
		t.Fatal("expected LoadScenario to reject an unknown field")
	}
}

func TestLoadScenario_RejectsEmptyOps(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/empty.yaml"
	if err := os.WriteFile(path, []byte("name: empty\nops: []\n"), 0o644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	_, err := LoadScenario(path)
	if err == nil {
		t.Fatal("expected LoadScenario to reject a scenario with no ops")
	}
}
