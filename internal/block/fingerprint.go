package block

import (
	"crypto/sha1"
	"encoding/binary"
)

// Fingerprint is the content digest the writer uses to deduplicate blocks.
// It is never persisted; it exists only so that, within one writer's
// lifetime, the same (descriptor, instruction_data) pair always maps to the
// same block row.
//
// SHA-1 is used purely as a dedup key, not as a security primitive — any
// 128-bit-or-wider hash with acceptable collision odds would satisfy the
// contract, per spec. A [20]byte array is comparable, so it can be used
// directly as a map key without a custom Hasher/Equaler pair.
type Fingerprint [sha1.Size]byte

// Hash computes the fingerprint of a descriptor plus its instruction bytes.
//
// The descriptor is hashed using a fixed little-endian, unpadded layout —
// pc (8 bytes), instruction_count (2 bytes), mode (1 byte) — so that the
// digest is stable across writer runs and platforms, followed by the raw
// instruction_data bytes.
func Hash(d Descriptor, instructionData []byte) Fingerprint {
	var packed [11]byte
	binary.LittleEndian.PutUint64(packed[0:8], d.PC)
	binary.LittleEndian.PutUint16(packed[8:10], d.InstructionCount)
	packed[10] = byte(d.Mode)

	h := sha1.New()
	h.Write(packed[:])
	h.Write(instructionData)

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// InterruptFingerprint is the fingerprint of the reserved interrupt
// sentinel block descriptor and payload. It is computed once, at writer
// creation, to seed the dedup map with the row id 1 reserves.
func InterruptFingerprint() Fingerprint {
	return Hash(InterruptDescriptor(), []byte(InterruptData))
}
