package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
)

// DeviceOverride is one row of the override table.
type DeviceOverride struct {
	Bus    int `json:"bus"`
	Device int `json:"device"`
	device.Override
}

// Snapshot is one stored payload.
type Snapshot struct {
	Kind      string          `json:"kind"`
	Bus       int             `json:"bus"`
	ID        int             `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GetOverrides returns every override row, active or not.
func GetOverrides(db *sql.DB) ([]DeviceOverride, error) {
	rows, err := db.Query(`SELECT bus_id, device_id, field, circuit, active, value FROM overrides ORDER BY bus_id, device_id, field, circuit`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var list []DeviceOverride
	for rows.Next() {
		var o DeviceOverride
		if err := rows.Scan(&o.Bus, &o.Device, &o.Field, &o.Circuit, &o.Active, &o.Value); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// GetSnapshots returns the stored payloads of one kind, or of every kind when
// kind is empty.
func GetSnapshots(db *sql.DB, kind string) ([]Snapshot, error) {
	query := `SELECT kind, bus_id, id, payload, updated_at FROM snapshots`
	var args []interface{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY kind, bus_id, id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var list []Snapshot
	for rows.Next() {
		var s Snapshot
		var payload, updated string
		if err := rows.Scan(&s.Kind, &s.Bus, &s.ID, &payload, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Payload = json.RawMessage(payload)
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		list = append(list, s)
	}
	return list, rows.Err()
}
