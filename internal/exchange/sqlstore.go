package exchange

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thatsimonsguy/modbus-hvac/db"
)

// SQLStore keeps the last snapshot of every group and device in sqlite and
// serves the override table.
type SQLStore struct {
	conn *sql.DB
}

func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{conn: conn}
}

func (s *SQLStore) Publish(ctx context.Context, snap Snapshot) error {
	tx, err := db.StartTransaction(s.conn)
	if err != nil {
		return err
	}
	for _, g := range snap.Groups {
		if err := db.UpsertSnapshotWithTx(tx, db.KindGroup, 0, g.ID, g, snap.Time); err != nil {
			db.RollbackTransaction(tx)
			return err
		}
	}
	for _, d := range snap.Devices {
		if err := db.UpsertSnapshotWithTx(tx, db.KindDevice, d.Bus, d.ID, d, snap.Time); err != nil {
			db.RollbackTransaction(tx)
			return err
		}
	}
	if err := db.CommitTransaction(tx); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", snap.CycleID, err)
	}
	return nil
}

// Overrides returns every row of the override table.
func (s *SQLStore) Overrides(ctx context.Context) ([]db.DeviceOverride, error) {
	return db.GetOverrides(s.conn)
}
