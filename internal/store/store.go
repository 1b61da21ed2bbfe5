// Package store persists the data model to a versioned JSON file so a restart
// picks up the operator overrides and the last group aggregates.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
	"github.com/thatsimonsguy/modbus-hvac/internal/exchange"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

const Version = 1

var ErrVersion = errors.New("unsupported snapshot version")

type file struct {
	Version int                    `json:"version"`
	SavedAt time.Time              `json:"saved_at"`
	Groups  []exchange.GroupState  `json:"groups"`
	Devices []exchange.DeviceState `json:"devices"`
}

// saved is the read side of file; device state stays raw.
type saved struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"saved_at"`
	Groups  []exchange.GroupState `json:"groups"`
	Devices []struct {
		device.Info
		State     json.RawMessage   `json:"state"`
		Overrides []device.Override `json:"overrides"`
	} `json:"devices"`
}

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Save writes the snapshot atomically.
func (s *Store) Save(snap exchange.Snapshot) error {
	tmpPath := s.path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(file{Version: Version, SavedAt: snap.Time, Groups: snap.Groups, Devices: snap.Devices}); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	f.Sync()
	f.Close()

	return os.Rename(tmpPath, s.path)
}

func (s *Store) Publish(_ context.Context, snap exchange.Snapshot) error {
	return s.Save(snap)
}

func (s *Store) load() (*saved, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var snap saved
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != Version {
		return nil, fmt.Errorf("%w %d", ErrVersion, snap.Version)
	}
	return &snap, nil
}

// Restore applies a saved snapshot to freshly built groups and devices: group
// aggregates are reinstated and so are the overrides of devices that still
// exist. A missing file is not an error.
func (s *Store) Restore(groups map[int]*room.Group, devices []device.Device) error {
	snap, err := s.load()
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", s.path).Msg("No snapshot to restore")
		return nil
	}
	if err != nil {
		return err
	}

	for _, g := range snap.Groups {
		if grp, ok := groups[g.ID]; ok {
			grp.Restore(g.Aggregate)
		}
	}

	byKey := map[[2]int]device.Overridable{}
	for _, d := range devices {
		if o, ok := d.(device.Overridable); ok {
			byKey[[2]int{d.Info().Bus, d.Info().ID}] = o
		}
	}
	restored := 0
	for _, d := range snap.Devices {
		target, ok := byKey[[2]int{d.Bus, d.ID}]
		if !ok {
			continue
		}
		for _, o := range d.Overrides {
			if err := target.SetOverride(o); err != nil {
				log.Warn().Err(err).Int("bus", d.Bus).Int("device", d.ID).Str("field", o.Field).Msg("Dropping saved override")
				continue
			}
			restored++
		}
	}
	log.Info().
		Str("path", s.path).
		Time("saved_at", snap.SavedAt).
		Int("overrides", restored).
		Msg("Snapshot restored")
	return nil
}
