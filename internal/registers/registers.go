// Package registers resolves register descriptors against device register maps
// and turns raw bus values into physical quantities and back.
package registers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/modbus-hvac/internal/conversion"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/regmap"
	"github.com/thatsimonsguy/modbus-hvac/internal/transport"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownBus    = errors.New("unknown bus")
	ErrDeviceID      = errors.New("device id out of range")
	ErrNotMapped     = errors.New("register not in map")
)

// Source addresses one register on one device. Built fresh per call.
type Source struct {
	Bus      int
	Device   int
	Datatype model.Datatype
	Address  int
}

// SourceFor binds a stored descriptor to a device identity. ok is false when
// the descriptor is unset.
func SourceFor(bus, device int, d *model.Descriptor) (Source, bool) {
	if d == nil {
		return Source{}, false
	}
	return Source{Bus: bus, Device: device, Datatype: d.Datatype, Address: d.Address}, true
}

func (s Source) String() string {
	return fmt.Sprintf("%d/%d/%s:%d", s.Bus, s.Device, s.Datatype, s.Address)
}

type deviceKey struct {
	bus, device int
}

type cacheKey struct {
	dt   model.Datatype
	addr int
}

type deviceEntry struct {
	regs  *regmap.RegisterMap
	cache map[cacheKey]uint16
}

type Options struct {
	// SafeMode logs writes and reports them successful without touching a bus.
	SafeMode bool
}

// Facade is the only path from control code to the buses.
type Facade struct {
	mu       sync.Mutex
	safeMode bool
	buses    map[int]*transport.Bus
	devices  map[deviceKey]*deviceEntry
}

func New(opts Options) *Facade {
	return &Facade{
		safeMode: opts.SafeMode,
		buses:    map[int]*transport.Bus{},
		devices:  map[deviceKey]*deviceEntry{},
	}
}

func (f *Facade) AddBus(bus *transport.Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buses[bus.ID] = bus
}

func (f *Facade) AddDevice(bus, device int, regs *regmap.RegisterMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buses[bus]; !ok {
		return fmt.Errorf("device %d: %w %d", device, ErrUnknownBus, bus)
	}
	if !model.ValidDeviceID(device) {
		return fmt.Errorf("bus %d device %d: %w", bus, device, ErrDeviceID)
	}
	if regs == nil {
		return fmt.Errorf("bus %d device %d: no register map", bus, device)
	}
	f.devices[deviceKey{bus, device}] = &deviceEntry{regs: regs, cache: map[cacheKey]uint16{}}
	return nil
}

// Bus returns a registered bus.
func (f *Facade) Bus(id int) (*transport.Bus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buses[id]
	return b, ok
}

func (f *Facade) resolve(src Source) (*transport.Bus, *deviceEntry, regmap.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bus, ok := f.buses[src.Bus]
	if !ok {
		return nil, nil, regmap.Entry{}, fmt.Errorf("%s: %w", src, ErrUnknownBus)
	}
	dev, ok := f.devices[deviceKey{src.Bus, src.Device}]
	if !ok {
		return nil, nil, regmap.Entry{}, fmt.Errorf("%s: %w", src, ErrUnknownDevice)
	}
	entry, ok := dev.regs.Entry(src.Datatype, src.Address)
	if !ok {
		return nil, nil, regmap.Entry{}, fmt.Errorf("%s: %w %s", src, ErrNotMapped, dev.regs.Key)
	}
	return bus, dev, entry, nil
}

func (f *Facade) cached(dev *deviceEntry, k cacheKey) (uint16, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := dev.cache[k]
	return v, ok
}

func (f *Facade) store(dev *deviceEntry, k cacheKey, raw uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev.cache[k] = raw
}

// Get returns the physical value behind src. ok is false when the register is
// unknown, unmapped or unreadable.
func (f *Facade) Get(ctx context.Context, src Source) (float64, bool) {
	bus, dev, entry, err := f.resolve(src)
	if err != nil {
		log.Debug().Err(err).Msg("Register not resolvable")
		return 0, false
	}

	k := cacheKey{src.Datatype, src.Address}
	raw, ok := f.cached(dev, k)
	if !ok {
		values, err := bus.Read(ctx, uint8(src.Device), transport.ReadCode(src.Datatype), uint16(src.Address), 1)
		if err != nil {
			log.Warn().Err(err).Str("source", src.String()).Msg("Register read failed")
			return 0, false
		}
		raw = values[0]
		f.store(dev, k, raw)
	}
	return decode(raw, entry, src)
}

func decode(raw uint16, entry regmap.Entry, src Source) (float64, bool) {
	v := float64(raw)
	if entry.Signed {
		v = float64(int16(raw))
	}
	out, err := entry.Read.Apply(v, conversion.Float, entry.Decimals())
	if err != nil {
		log.Warn().Err(err).Str("source", src.String()).Msg("Register conversion failed")
		return 0, false
	}
	return out, true
}

// Set writes a physical value to src after validating it against the register
// domain and applying the inverse of the read conversion.
func (f *Facade) Set(ctx context.Context, src Source, value float64) bool {
	logger := log.With().Str("source", src.String()).Float64("value", value).Logger()
	if !src.Datatype.Writable() {
		logger.Warn().Msg("Register table is read-only")
		return false
	}
	bus, dev, entry, err := f.resolve(src)
	if err != nil {
		logger.Warn().Err(err).Msg("Register not resolvable")
		return false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		logger.Warn().Msg("Refusing non-finite value")
		return false
	}
	if src.Datatype.Bit() && value != 0 && value != 1 {
		logger.Warn().Msg("Coil value must be 0 or 1")
		return false
	}
	if !entry.InDomain(value) {
		logger.Warn().Msg("Value outside register domain")
		return false
	}

	rv, err := entry.Read.Inverse().Apply(value, conversion.Int, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("Register conversion failed")
		return false
	}
	raw, ok := encode(rv, entry.Signed)
	if !ok {
		logger.Warn().Float64("raw", rv).Msg("Raw value does not fit the register")
		return false
	}

	if err := f.write(ctx, bus, dev, src, raw); err != nil {
		logger.Warn().Err(err).Msg("Register write failed")
		return false
	}
	return true
}

func encode(v float64, signed bool) (uint16, bool) {
	if signed {
		if v < math.MinInt16 || v > math.MaxInt16 {
			return 0, false
		}
		return uint16(int16(v)), true
	}
	if v < 0 || v > math.MaxUint16 {
		return 0, false
	}
	return uint16(v), true
}

func (f *Facade) write(ctx context.Context, bus *transport.Bus, dev *deviceEntry, src Source, raw uint16) error {
	op, ok := dev.regs.WriteOp(src.Datatype)
	if !ok {
		return fmt.Errorf("%s does not support writing %s", dev.regs.Key, src.Datatype)
	}
	if f.safeMode {
		log.Info().
			Str("source", src.String()).
			Uint16("raw", raw).
			Int("op", op).
			Msg("Safe mode, skipping register write")
	} else if err := bus.Write(ctx, uint8(src.Device), transport.FunctionCode(op), uint16(src.Address), raw); err != nil {
		return err
	}
	f.store(dev, cacheKey{src.Datatype, src.Address}, raw)
	return nil
}

// BeginCycle drops every cached value so the cycle sees fresh readings.
func (f *Facade) BeginCycle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dev := range f.devices {
		dev.cache = map[cacheKey]uint16{}
	}
}

// Poll reads every mapped register of every device in as few requests as
// the register maps allow. Buses are polled concurrently, devices on one bus
// sequentially. It returns the number of failed requests; a failed run leaves
// its addresses uncached so later reads retry them one by one.
func (f *Facade) Poll(ctx context.Context) int {
	f.mu.Lock()
	perBus := map[int][]deviceKey{}
	for k := range f.devices {
		perBus[k.bus] = append(perBus[k.bus], k)
	}
	f.mu.Unlock()

	var (
		g        errgroup.Group
		failedMu sync.Mutex
		failed   int
	)
	for busID, keys := range perBus {
		keys := keys
		bus, ok := f.Bus(busID)
		if !ok {
			continue
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].device < keys[j].device })
		g.Go(func() error {
			n := 0
			for _, k := range keys {
				n += f.pollDevice(ctx, bus, k)
			}
			failedMu.Lock()
			failed += n
			failedMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (f *Facade) pollDevice(ctx context.Context, bus *transport.Bus, k deviceKey) int {
	f.mu.Lock()
	dev := f.devices[k]
	f.mu.Unlock()

	failed := 0
	for _, dt := range model.Datatypes {
		runs := conversion.SplitRuns(conversion.GroupAddresses(dev.regs.Addresses(dt)), dev.regs.MaxBatch)
		for _, run := range runs {
			if ctx.Err() != nil {
				return failed
			}
			values, err := bus.Read(ctx, uint8(k.device), transport.ReadCode(dt), uint16(run.Start), uint16(run.Count))
			if err != nil {
				log.Warn().
					Err(err).
					Int("bus", k.bus).
					Int("device", k.device).
					Str("datatype", string(dt)).
					Int("start", run.Start).
					Int("count", run.Count).
					Msg("Batch read failed")
				failed++
				continue
			}
			for i, v := range values {
				f.store(dev, cacheKey{dt, run.Start + i}, v)
			}
		}
	}
	return failed
}
