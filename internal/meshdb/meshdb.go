// Package meshdb opens the meshscan sqlite database and applies the
// embedded schema.
package meshdb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// MeshDB wraps the sqlite handle used for export and session metadata.
type MeshDB struct {
	*sql.DB
}

// schema.sql defines the export index and scan session history tables.
//
//go:embed schema.sql
var schemaSQL string

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string) (*MeshDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Println("initialized meshscan database schema")
	return &MeshDB{db}, nil
}
