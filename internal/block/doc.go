// Package block holds the domain types shared by the rvnblock writer and
// reader: the execution mode enum, the block descriptor that keys
// deduplication, the interrupt record, and the content-fingerprint used to
// detect repeated blocks.
//
// Nothing in this package touches storage. It exists so both
// internal/store's Writer and Reader agree on the same wire-level shapes
// without importing each other.
package block
