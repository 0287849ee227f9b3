package db

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	sqlCreateMappingTable = `CREATE TABLE IF NOT EXISTS %s (
		lookup_key TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		local_host TEXT NOT NULL DEFAULT '',
		local_id TEXT NOT NULL DEFAULT '',
		remote_host TEXT NOT NULL DEFAULT '',
		remote_id TEXT NOT NULL DEFAULT '',
		resolved_id TEXT NOT NULL DEFAULT '',
		author_username TEXT NOT NULL DEFAULT '',
		boosted_json TEXT NOT NULL DEFAULT '',
		followed_since INTEGER,
		updated_at INTEGER NOT NULL
	)`

	sqlCreateMappingIndices = `
		CREATE INDEX IF NOT EXISTS idx_%[1]s_uri ON %[1]s(uri);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_remote_host ON %[1]s(remote_host);
	`

	// Instance capability records
	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances (
		host TEXT NOT NULL PRIMARY KEY,
		record_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`

	// Origin contexts, kept for cacheContentMins
	sqlCreateRemoteContextsTable = `CREATE TABLE IF NOT EXISTS remote_contexts (
		lookup_key TEXT NOT NULL PRIMARY KEY,
		tree_json TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	)`

	sqlCreateRemoteContextsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_contexts_fetched_at ON remote_contexts(fetched_at);
	`

	sqlCreateMetaTable = `CREATE TABLE IF NOT EXISTS meta (
		name TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL
	)`
)

// RunMigrations creates all tables and indices
func (db *DB) RunMigrations() error {
	ctx := context.Background()
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, table := range mappingTables {
			if err := db.createTableIfNotExists(tx, fmt.Sprintf(sqlCreateMappingTable, table), table); err != nil {
				return err
			}
		}
		if err := db.createTableIfNotExists(tx, sqlCreateInstancesTable, "instances"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateRemoteContextsTable, "remote_contexts"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateMetaTable, "meta"); err != nil {
			return err
		}

		// Create indices
		for _, table := range mappingTables {
			if _, err := tx.Exec(fmt.Sprintf(sqlCreateMappingIndices, table)); err != nil {
				db.logger.Warn("failed to create indices", "table", table, "err", err)
			}
		}
		if _, err := tx.Exec(sqlCreateRemoteContextsIndices); err != nil {
			db.logger.Warn("failed to create indices", "table", "remote_contexts", "err", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		db.logger.Error("error creating table", "table", tableName, "err", err)
		return err
	}
	db.logger.Debug("table created or already exists", "table", tableName)
	return nil
}
