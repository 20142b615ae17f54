// Package fixture provides a YAML-driven test harness for the rvnblock
// store: a Scenario describes a script of writer operations plus a final
// transition, Run drives a store.Writer then a store.Reader through it, and
// RunWithGolden additionally compares a text dump of the result against a
// golden file.
//
// Scenarios exist so that store's edge cases (RLE collapsing, interrupt
// forcing a flush, fingerprint collisions, partial instruction tables) can
// be expressed as data rather than Go test code, the way the teacher's
// harness package expresses sync-engine conformance scenarios.
package fixture
