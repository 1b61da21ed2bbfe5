// Package project wires configuration and device documents into the buses,
// rooms, groups and control units one controller instance works with.
package project

import (
	"context"
	"fmt"
	"sort"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/config"
	"github.com/thatsimonsguy/modbus-hvac/internal/device"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/regmap"
	"github.com/thatsimonsguy/modbus-hvac/internal/registers"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
	"github.com/thatsimonsguy/modbus-hvac/internal/transport"
)

// Opener creates the client of one configured bus.
type Opener func(cfg config.Bus) (transport.Client, error)

// OpenClient opens the backend named by the bus configuration.
func OpenClient(cfg config.Bus) (transport.Client, error) {
	switch cfg.Backend {
	case config.BackendRTU:
		return transport.NewRTU(transport.RTUConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
			Timeout:  cfg.Timeout(),
		})
	case config.BackendTCP:
		return transport.NewTCP(transport.TCPConfig{URL: cfg.URL, Timeout: cfg.Timeout()})
	case config.BackendMemory:
		return transport.NewMemory(), nil
	}
	return nil, fmt.Errorf("bus %d: unknown backend %q", cfg.ID, cfg.Backend)
}

// Documents are the register maps and capability documents of every
// supported device model.
type Documents struct {
	Maps map[string]*regmap.RegisterMap
	Caps *regmap.Capabilities
}

func LoadDocuments(cfg *config.Config) (Documents, error) {
	maps, err := regmap.LoadRegisterMaps(cfg.RegisterMapDir)
	if err != nil {
		return Documents{}, err
	}
	caps, err := regmap.LoadCapabilities(cfg.CapabilityDir)
	if err != nil {
		return Documents{}, err
	}
	log.Info().
		Int("register_maps", len(maps)).
		Str("register_map_dir", cfg.RegisterMapDir).
		Str("capability_dir", cfg.CapabilityDir).
		Msg("Device documents loaded")
	return Documents{Maps: maps, Caps: caps}, nil
}

// Project is built once at startup and never reshaped afterwards.
type Project struct {
	Facade  *registers.Facade
	Buses   []*transport.Bus
	Rooms   []*room.Room
	Groups  map[int]*room.Group
	Devices []device.Device
	Params  room.Params

	outdoor config.Outdoor
}

// Build opens every bus and creates every room, group and device. All
// problems are reported together; buses opened before a failure are closed.
func Build(cfg *config.Config, docs Documents, open Opener, metrics *transport.Metrics) (*Project, error) {
	if open == nil {
		open = OpenClient
	}
	p := &Project{
		Facade:  registers.New(registers.Options{SafeMode: cfg.SafeMode}),
		Groups:  map[int]*room.Group{},
		Params:  cfg.Control,
		outdoor: cfg.Outdoor,
	}

	var result *multierror.Error
	for _, b := range cfg.Buses {
		client, err := open(b)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("bus %d: %w", b.ID, err))
			continue
		}
		bus := transport.NewBus(b.ID, client, metrics)
		p.Buses = append(p.Buses, bus)
		p.Facade.AddBus(bus)
	}

	if docs.Caps == nil {
		docs.Caps = regmap.NewCapabilities()
	}
	for _, d := range cfg.Devices {
		regs, ok := docs.Maps[regmap.Key(d.Brand, d.Model)]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("device %s: no register map for %s", d.Name, regmap.Key(d.Brand, d.Model)))
			continue
		}
		if err := p.Facade.AddDevice(d.Bus, d.ID, regs); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, g := range cfg.Groups {
		p.Groups[g.ID] = &room.Group{ID: g.ID, Name: g.Name, Params: cfg.Control}
	}
	if err := p.buildRooms(cfg); err != nil {
		result = multierror.Append(result, err)
	}

	for _, d := range cfg.Devices {
		spec := device.Spec{
			Info: device.Info{
				Bus:      d.Bus,
				ID:       d.ID,
				Name:     d.Name,
				Brand:    d.Brand,
				Model:    d.Model,
				Category: d.Category,
				Groups:   d.Groups,
			},
			ZoneRooms: d.Zones,
		}
		unit, err := device.New(spec, docs.Caps, p.Facade, cfg.Control)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		p.Devices = append(p.Devices, unit)
	}
	sort.SliceStable(p.Devices, func(i, j int) bool {
		a, b := p.Devices[i].Info(), p.Devices[j].Info()
		if a.Bus != b.Bus {
			return a.Bus < b.Bus
		}
		return a.ID < b.ID
	})

	if err := result.ErrorOrNil(); err != nil {
		p.Close()
		return nil, err
	}
	log.Info().
		Int("buses", len(p.Buses)).
		Int("devices", len(p.Devices)).
		Int("rooms", len(p.Rooms)).
		Int("groups", len(p.Groups)).
		Bool("safe_mode", cfg.SafeMode).
		Msg("Project built")
	return p, nil
}

func (p *Project) buildRooms(cfg *config.Config) error {
	known := map[[2]int]bool{}
	for _, d := range cfg.Devices {
		known[[2]int{d.Bus, d.ID}] = true
	}

	var result *multierror.Error
	for _, rc := range cfg.Rooms {
		if !known[[2]int{rc.Bus, rc.Device}] {
			result = multierror.Append(result, fmt.Errorf("room %s: device %d on bus %d is not configured", rc.Key(), rc.Device, rc.Bus))
			continue
		}
		r := &room.Room{
			Building:      rc.Building,
			Dwelling:      rc.Dwelling,
			ID:            rc.ID,
			Name:          rc.Name,
			Groups:        rc.Groups,
			Bus:           rc.Bus,
			Device:        rc.Device,
			Sources:       rc.Sources,
			CoolingOffset: rc.CoolingOffset,
			HeatingOffset: rc.HeatingOffset,
		}
		p.Rooms = append(p.Rooms, r)
		for _, id := range rc.Groups {
			g, ok := p.Groups[id]
			if !ok {
				result = multierror.Append(result, fmt.Errorf("room %s: unknown group %d", rc.Key(), id))
				continue
			}
			g.Rooms = append(g.Rooms, r)
		}
	}
	return result.ErrorOrNil()
}

// GroupIDs returns the group ids in ascending order.
func (p *Project) GroupIDs() []int {
	ids := make([]int, 0, len(p.Groups))
	for id := range p.Groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (p *Project) Device(bus, id int) (device.Device, bool) {
	for _, d := range p.Devices {
		if info := d.Info(); info.Bus == bus && info.ID == id {
			return d, true
		}
	}
	return nil, false
}

// DevicesByBus groups the devices per bus, keeping their order.
func (p *Project) DevicesByBus() map[int][]device.Device {
	out := map[int][]device.Device{}
	for _, d := range p.Devices {
		out[d.Info().Bus] = append(out[d.Info().Bus], d)
	}
	return out
}

// ReadOutdoor reads the outdoor sensor. Missing sources leave the value
// unknown.
func (p *Project) ReadOutdoor(ctx context.Context) room.Outdoor {
	read := func(d *model.Descriptor) *float64 {
		src, ok := registers.SourceFor(p.outdoor.Bus, p.outdoor.Device, d)
		if !ok {
			return nil
		}
		return model.OptFloat(p.Facade.Get(ctx, src))
	}
	return room.Outdoor{
		Temperature: read(p.outdoor.Temperature),
		Humidity:    read(p.outdoor.Humidity),
	}
}

// Close closes every bus.
func (p *Project) Close() error {
	var result *multierror.Error
	for _, b := range p.Buses {
		if err := b.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("bus %d: %w", b.ID, err))
		}
	}
	return result.ErrorOrNil()
}
