// Package exchange publishes the data model at the end of every cycle and
// hands operator overrides back to the controller.
package exchange

import (
	"context"
	"sort"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

type GroupState struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Aggregate room.Aggregate `json:"aggregate"`
}

type DeviceState struct {
	device.Info
	State     interface{}       `json:"state"`
	Overrides []device.Override `json:"overrides,omitempty"`
}

// Snapshot is the data model after one cycle.
type Snapshot struct {
	CycleID string        `json:"cycle_id"`
	Time    time.Time     `json:"time"`
	Groups  []GroupState  `json:"groups"`
	Devices []DeviceState `json:"devices"`
}

// NewSnapshot captures groups ordered by id and devices in the given order.
func NewSnapshot(cycleID string, now time.Time, groups map[int]*room.Group, devices []device.Device) Snapshot {
	snap := Snapshot{CycleID: cycleID, Time: now}
	for _, g := range groups {
		snap.Groups = append(snap.Groups, GroupState{ID: g.ID, Name: g.Name, Aggregate: g.Aggregate()})
	}
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].ID < snap.Groups[j].ID })

	for _, d := range devices {
		st := DeviceState{Info: d.Info(), State: d.State()}
		if o, ok := d.(device.Overridable); ok {
			st.Overrides = o.Overrides()
		}
		snap.Devices = append(snap.Devices, st)
	}
	return snap
}

type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Multi publishes to every publisher, even after one fails.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, snap Snapshot) error {
	var result *multierror.Error
	for _, p := range m {
		if err := p.Publish(ctx, snap); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
