package device

import (
	"context"
	"fmt"
	"sort"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

// DataSourceCapabilities names the telemetry points of a meter or sensor.
type DataSourceCapabilities struct {
	Points map[string]*model.Descriptor `json:"points"`
}

// DataSource only reports telemetry. It has no Update.
type DataSource struct {
	Base

	names  []string
	points map[string]*attr
}

func NewDataSource(base Base, caps DataSourceCapabilities) *DataSource {
	d := &DataSource{Base: base, points: map[string]*attr{}}
	for name, desc := range caps.Points {
		a := bind(desc)
		d.points[name] = &a
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)
	return d
}

// Poll reads every point. It fails only when no point could be read.
func (d *DataSource) Poll(ctx context.Context) error {
	read := 0
	for _, name := range d.names {
		if _, ok := d.get(ctx, d.points[name]); ok {
			read++
		}
	}
	if read == 0 && len(d.names) > 0 {
		return fmt.Errorf("data source %s: no point readable", d.info.Name)
	}
	return nil
}

func (d *DataSource) Value(name string) (float64, bool) {
	a, ok := d.points[name]
	if !ok {
		return 0, false
	}
	return a.value()
}

func (d *DataSource) State() interface{} {
	s := make(map[string]*float64, len(d.points))
	for name, a := range d.points {
		s[name] = a.cur
	}
	return s
}

// Generic is a device known to the project with no behaviour of its own. Its
// registers are still polled and reachable through the register facade.
type Generic struct {
	Base
}

func NewGeneric(base Base) *Generic {
	return &Generic{Base: base}
}

func (g *Generic) State() interface{} {
	return struct{}{}
}
