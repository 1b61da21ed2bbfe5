package device

import (
	"errors"
	"fmt"

	"github.com/thatsimonsguy/modbus-hvac/internal/regmap"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

// Device categories as named in configuration and capability documents.
const (
	CategoryGenerator  = "generators"
	CategoryFancoil    = "fancoils"
	CategoryHRU        = "heat_recovery_units"
	CategoryTempFluid  = "temp_fluid_controllers"
	CategoryUFHC       = "ufh_controllers"
	CategoryAirZone    = "air_zone_managers"
	CategoryDataSource = "data_sources"
	CategoryGeneric    = "generic"
)

var ErrUnknownCategory = errors.New("unknown device category")

// groupLimits is the number of room groups each category may serve.
var groupLimits = map[string][2]int{
	CategoryGenerator:  {0, 1},
	CategoryFancoil:    {1, 1},
	CategoryHRU:        {1, 1},
	CategoryTempFluid:  {0, MaxCircuits},
	CategoryUFHC:       {1, 1},
	CategoryAirZone:    {1, 1},
	CategoryDataSource: {0, 0},
	CategoryGeneric:    {0, 0},
}

func KnownCategory(c string) bool {
	_, ok := groupLimits[c]
	return ok
}

// Spec is what configuration says about one device.
type Spec struct {
	Info      Info
	ZoneRooms [ZoneCount][]string
}

// New builds the control unit of spec.Info.Category from its capability
// document.
func New(spec Spec, caps *regmap.Capabilities, regs Registers, p room.Params) (Device, error) {
	info := spec.Info
	limits, ok := groupLimits[info.Category]
	if !ok {
		return nil, fmt.Errorf("%s: %w %q", info.Name, ErrUnknownCategory, info.Category)
	}
	if n := len(info.Groups); n < limits[0] || n > limits[1] {
		return nil, fmt.Errorf("%s: %s serves %d..%d room groups, got %d", info.Name, info.Category, limits[0], limits[1], n)
	}

	base := NewBase(info, regs)
	key := regmap.Key(info.Brand, info.Model)
	decode := func(into interface{}) error {
		if err := caps.Decode(info.Category, key, into); err != nil {
			return fmt.Errorf("%s: %w", info.Name, err)
		}
		return nil
	}

	switch info.Category {
	case CategoryGenerator:
		var c GeneratorCapabilities
		if err := decode(&c); err != nil {
			return nil, err
		}
		return NewGenerator(base, c, p.MinCoolingSupply, p.MaxHeatingSupply), nil
	case CategoryFancoil:
		var c FancoilCapabilities
		if err := decode(&c); err != nil {
			return nil, err
		}
		return NewFancoil(base, c), nil
	case CategoryHRU:
		var c HRUCapabilities
		if err := decode(&c); err != nil {
			return nil, err
		}
		return NewHeatRecoveryUnit(base, c), nil
	case CategoryTempFluid:
		var c TempFluidCapabilities
		if err := decode(&c); err != nil {
			return nil, err
		}
		t, err := NewTempFluidController(base, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.Name, err)
		}
		return t, nil
	case CategoryUFHC:
		var c UFHCCapabilities
		if err := decode(&c); err != nil {
			return nil, err
		}
		u, err := NewUFHCController(base, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.Name, err)
		}
		return u, nil
	case CategoryAirZone:
		var c AirZoneCapabilities
		if err := decode(&c); err != nil {
			return nil, err
		}
		return NewAirZoneManager(base, c, spec.ZoneRooms), nil
	case CategoryDataSource:
		var c DataSourceCapabilities
		if err := decode(&c); err != nil {
			return nil, err
		}
		return NewDataSource(base, c), nil
	}
	return NewGeneric(base), nil
}
