package snapshot

import (
	"context"
	"database/sql"
)

const (
	createMetadataTable = `
		CREATE TABLE IF NOT EXISTS cqlsync_metadata (
			meta_key VARCHAR(255) PRIMARY KEY,
			meta_value TEXT NOT NULL
		)`

	createSnapshotsTable = `
		CREATE TABLE IF NOT EXISTS cqlsync_snapshots (
			snapshot_id VARCHAR(64) PRIMARY KEY,
			keyspace_name VARCHAR(255) NOT NULL,
			created_at VARCHAR(64) NOT NULL
		)`

	createTableSchemasTable = `
		CREATE TABLE IF NOT EXISTS cqlsync_table_schemas (
			snapshot_id VARCHAR(64) NOT NULL,
			table_name VARCHAR(255) NOT NULL,
			schema_json TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, table_name)
		)`

	createJournalTable = `
		CREATE TABLE IF NOT EXISTS cqlsync_journal (
			run_id VARCHAR(64) NOT NULL,
			seq INTEGER NOT NULL,
			table_name VARCHAR(255) NOT NULL,
			statement TEXT NOT NULL,
			error_text TEXT NOT NULL,
			executed_at VARCHAR(64) NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`
)

// initializeSchema creates the store tables
func initializeSchema(ctx context.Context, db *sql.DB) error {
	schemas := []string{
		createMetadataTable,
		createSnapshotsTable,
		createTableSchemasTable,
		createJournalTable,
	}

	for _, ddl := range schemas {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	return nil
}
