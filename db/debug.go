package db

import (
	"encoding/json"
	"io"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
)

func SetOverrideCLI(dbPath string, bus, dev int, field string, circuit int, value float64) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return SetOverride(conn, bus, dev, device.Override{Field: field, Circuit: circuit, Active: true, Value: value})
}

func ClearOverrideCLI(dbPath string, bus, dev int, field string, circuit int) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return ClearOverride(conn, bus, dev, field, circuit)
}

// DumpCLI writes the stored snapshots and overrides as indented JSON.
func DumpCLI(dbPath, kind string, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	snaps, err := GetSnapshots(conn, kind)
	if err != nil {
		return err
	}
	overrides, err := GetOverrides(conn)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Snapshots []Snapshot       `json:"snapshots"`
		Overrides []DeviceOverride `json:"overrides"`
	}{snaps, overrides})
}
