package controller

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/modbus-hvac/db"
	"github.com/thatsimonsguy/modbus-hvac/internal/device"
)

// OverrideSource supplies the operator overrides at the start of a cycle.
type OverrideSource interface {
	Overrides(ctx context.Context) ([]db.DeviceOverride, error)
}

func (c *Controller) applyOverrides(ctx context.Context) {
	if c.overrides == nil {
		return
	}
	logger := zerolog.Ctx(ctx)
	list, err := c.overrides.Overrides(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load overrides, keeping previous ones")
		return
	}
	applied := ApplyOverrides(c.project.Devices, list, logger)
	logger.Debug().Int("overrides", applied).Msg("Overrides applied")
}

// ApplyOverrides hands each row to its device. Rows for unknown or
// non-overridable devices, and rows a device rejects, are logged and skipped.
func ApplyOverrides(devices []device.Device, list []db.DeviceOverride, logger *zerolog.Logger) int {
	byKey := make(map[[2]int]device.Overridable, len(devices))
	for _, d := range devices {
		if o, ok := d.(device.Overridable); ok {
			byKey[[2]int{d.Info().Bus, d.Info().ID}] = o
		}
	}
	applied := 0
	for _, row := range list {
		target, ok := byKey[[2]int{row.Bus, row.Device}]
		if !ok {
			logger.Warn().Int("bus", row.Bus).Int("device", row.Device).Str("field", row.Field).Msg("Override for unknown device")
			continue
		}
		if err := target.SetOverride(row.Override); err != nil {
			logger.Warn().Err(err).Int("bus", row.Bus).Int("device", row.Device).Msg("Override rejected")
			continue
		}
		applied++
	}
	return applied
}
