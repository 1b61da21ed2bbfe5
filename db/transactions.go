package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// UpsertSnapshotWithTx replaces the stored payload of one group or device.
func UpsertSnapshotWithTx(tx *sql.Tx, kind string, bus, id int, payload interface{}, at time.Time) error {
	body, err := marshalJSON(payload)
	if err != nil {
		return fmt.Errorf("encode %s %d/%d: %w", kind, bus, id, err)
	}
	_, err = tx.Exec(`INSERT INTO snapshots (kind, bus_id, id, payload, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, bus_id, id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		kind, bus, id, body, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert %s %d/%d: %w", kind, bus, id, err)
	}
	return nil
}

func SetOverrideWithTx(tx *sql.Tx, bus, dev int, o device.Override) error {
	_, err := tx.Exec(`INSERT INTO overrides (bus_id, device_id, field, circuit, active, value) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bus_id, device_id, field, circuit) DO UPDATE SET active = excluded.active, value = excluded.value`,
		bus, dev, o.Field, o.Circuit, o.Active, o.Value)
	if err != nil {
		return fmt.Errorf("set override %s on %d/%d: %w", o.Field, bus, dev, err)
	}
	return nil
}

// ClearOverrideWithTx deactivates an override, keeping its last value.
func ClearOverrideWithTx(tx *sql.Tx, bus, dev int, field string, circuit int) error {
	res, err := tx.Exec(`UPDATE overrides SET active = FALSE WHERE bus_id = ? AND device_id = ? AND field = ? AND circuit = ?`,
		bus, dev, field, circuit)
	if err != nil {
		return fmt.Errorf("clear override %s on %d/%d: %w", field, bus, dev, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("clear override %s on %d/%d: %w", field, bus, dev, sql.ErrNoRows)
	}
	return nil
}

func SetOverride(db *sql.DB, bus, dev int, o device.Override) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := SetOverrideWithTx(tx, bus, dev, o); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func ClearOverride(db *sql.DB, bus, dev int, field string, circuit int) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := ClearOverrideWithTx(tx, bus, dev, field, circuit); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}
