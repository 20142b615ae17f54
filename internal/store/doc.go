// Package store implements the rvnblock SQLite-backed trace format.
//
// A trace is a single SQLite file holding four tables: blocks (deduplicated
// basic blocks), execution (the run-length-encoded transition trace),
// instruction_indices (a partial, incrementally-growing offset table per
// block), and interrupts. A fifth table, rvnblock_metadata, carries a
// single-row header: resource type, format/writer version, and the
// producing tool's identity.
//
// Writer appends to a trace it creates; Reader opens an existing trace for
// point and streaming queries. Both are built around internal/block's
// Descriptor, ExecutionMode, Interrupt and Fingerprint types, so the wire
// shapes agree without the two sides importing each other.
//
// # Database configuration
//
//   - synchronous=off, journal_mode=memory, temp_store=memory: a trace is
//     produced once, by one writer, and is disposable if the process crashes
//     mid-run — durability is not a goal, throughput is.
//   - A single connection (SetMaxOpenConns(1)): SQLite allows only one
//     writer at a time, and the writer's explicit BEGIN/COMMIT batching
//     depends on every statement landing on the same connection.
package store

import _ "embed"

//go:embed schema.sql
var schemaSQL string
