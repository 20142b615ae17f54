package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// resourceType is the value stamped into rvnblock_metadata.resource_type and
// checked on open. It distinguishes a block trace from any other resource
// type the embedding application might store as a SQLite file.
const resourceType = "Block"

// txBatchSize is the number of write statements the writer batches into a
// single SQLite transaction before committing and starting the next one.
const txBatchSize = 10000

// openDB opens a SQLite connection configured the way a trace file needs:
// a single connection, and the pragmas that trade durability for throughput.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA count_changes = OFF",
		"PRAGMA journal_mode = MEMORY",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// applySchema creates the trace tables. It is only ever run against a
// freshly created, empty database file: a trace is written once, from
// scratch, never migrated.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// header is the single-row rvnblock_metadata contents.
type header struct {
	resourceType  string
	formatVersion string
	writerVersion string
	toolName      string
	toolVersion   string
	toolInfo      string
}

func writeHeader(ctx context.Context, db *sql.DB, h header) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO rvnblock_metadata
		(resource_type, format_version, writer_version, tool_name, tool_version, tool_info)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.resourceType, h.formatVersion, h.writerVersion, h.toolName, h.toolVersion, h.toolInfo)
	if err != nil {
		return fmt.Errorf("write metadata header: %w", err)
	}
	return nil
}

func readHeader(ctx context.Context, db *sql.DB) (header, error) {
	var h header
	err := db.QueryRowContext(ctx, `
		SELECT resource_type, format_version, writer_version, tool_name, tool_version, tool_info
		FROM rvnblock_metadata LIMIT 1
	`).Scan(&h.resourceType, &h.formatVersion, &h.writerVersion, &h.toolName, &h.toolVersion, &h.toolInfo)
	if err == sql.ErrNoRows {
		return header{}, &Error{Code: ErrOpenFailed, Message: "missing rvnblock_metadata header"}
	}
	if err != nil {
		return header{}, fmt.Errorf("read metadata header: %w", err)
	}
	return h, nil
}
