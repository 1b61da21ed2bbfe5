// Package db is the sqlite side of the data exchange: the last published
// snapshot of every group and device, and the operator override table.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	KindGroup  = "group"
	KindDevice = "device"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	kind TEXT NOT NULL,
	bus_id INTEGER NOT NULL,
	id INTEGER NOT NULL,
	payload TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (kind, bus_id, id)
);

CREATE TABLE IF NOT EXISTS overrides (
	bus_id INTEGER NOT NULL,
	device_id INTEGER NOT NULL,
	field TEXT NOT NULL,
	circuit INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT FALSE,
	value REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (bus_id, device_id, field, circuit)
);
`

// Open opens the database at path and applies the schema. Use ":memory:" in
// tests.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared.
	conn.SetMaxOpenConns(1)
	if err := ApplySchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ApplySchema(conn *sql.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
