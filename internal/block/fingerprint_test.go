package block

import "testing"

func TestHash_DeterministicAndSensitiveToEachField(t *testing.T) {
	d := Descriptor{PC: 0x1000, InstructionCount: 5, Mode: X86_64}
	data := []byte{0, 1, 2, 3, 4, 5}

	h1 := Hash(d, data)
	h2 := Hash(d, data)
	if h1 != h2 {
		t.Fatalf("Hash() is not deterministic: %x != %x", h1, h2)
	}

	variants := []Descriptor{
		{PC: 0x1001, InstructionCount: 5, Mode: X86_64},
		{PC: 0x1000, InstructionCount: 6, Mode: X86_64},
		{PC: 0x1000, InstructionCount: 5, Mode: X86_32},
	}
	for _, v := range variants {
		if Hash(v, data) == h1 {
			t.Errorf("Hash(%+v) collided with Hash(%+v)", v, d)
		}
	}

	if Hash(d, []byte{0, 1, 2, 3, 4, 6}) == h1 {
		t.Errorf("Hash() did not change when instruction_data changed")
	}
}

func TestInterruptFingerprint_MatchesSentinelDescriptor(t *testing.T) {
	got := InterruptFingerprint()
	want := Hash(InterruptDescriptor(), []byte(InterruptData))
	if got != want {
		t.Fatalf("InterruptFingerprint() = %x, want %x", got, want)
	}
}
