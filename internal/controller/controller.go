// Package controller runs the control cycle: batch-poll the buses, refresh
// every room group, let every device decide, then publish the result.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/modbus-hvac/internal/datadog"
	"github.com/thatsimonsguy/modbus-hvac/internal/device"
	"github.com/thatsimonsguy/modbus-hvac/internal/exchange"
	"github.com/thatsimonsguy/modbus-hvac/internal/project"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

var ErrCycleInProgress = errors.New("control cycle already in progress")

type Options struct {
	Publisher exchange.Publisher
	Overrides OverrideSource
	// Now defaults to time.Now.
	Now func() time.Time
}

type Controller struct {
	project   *project.Project
	publisher exchange.Publisher
	overrides OverrideSource
	now       func() time.Time

	running atomic.Bool

	mu   sync.RWMutex
	last exchange.Snapshot
}

func New(p *project.Project, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		project:   p,
		publisher: opts.Publisher,
		overrides: opts.Overrides,
		now:       opts.Now,
	}
}

// Result summarizes one cycle.
type Result struct {
	CycleID      string
	FailedReads  int
	DeviceErrors int
	Snapshot     exchange.Snapshot
}

// RunCycle runs one control cycle. Device failures are logged and counted,
// never returned; the error is ErrCycleInProgress or a publish failure.
func (c *Controller) RunCycle(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrCycleInProgress
	}
	defer c.running.Store(false)

	began := c.now()
	res := Result{CycleID: uuid.NewString()}
	logger := log.With().Str("cycle", res.CycleID).Logger()
	ctx = logger.WithContext(ctx)

	facade := c.project.Facade
	facade.BeginCycle()
	res.FailedReads = facade.Poll(ctx)

	outdoor := c.project.ReadOutdoor(ctx)
	c.applyOverrides(ctx)

	for _, id := range c.project.GroupIDs() {
		g := c.project.Groups[id]
		agg := g.Update(ctx, facade, outdoor, began)
		reportGroup(g.ID, agg)
	}

	cycle := device.Cycle{
		Groups:  c.project.Groups,
		Outdoor: outdoor,
		Params:  c.project.Params,
		Now:     began,
	}
	res.DeviceErrors = c.updateDevices(ctx, cycle)

	res.Snapshot = exchange.NewSnapshot(res.CycleID, began, c.project.Groups, c.project.Devices)
	c.mu.Lock()
	c.last = res.Snapshot
	c.mu.Unlock()

	var err error
	if c.publisher != nil {
		if err = c.publisher.Publish(ctx, res.Snapshot); err != nil {
			logger.Warn().Err(err).Msg("Snapshot publish failed")
			err = fmt.Errorf("publish: %w", err)
		}
	}

	elapsed := time.Since(began)
	datadog.Gauge("cycle.duration_seconds", elapsed.Seconds())
	datadog.Gauge("cycle.failed_reads", float64(res.FailedReads))
	datadog.Count("cycle.device_errors", int64(res.DeviceErrors))
	logger.Info().
		Int("failed_reads", res.FailedReads).
		Int("device_errors", res.DeviceErrors).
		Dur("elapsed", elapsed).
		Msg("Cycle complete")
	return res, err
}

// updateDevices runs the buses concurrently and the devices of one bus in
// order, so one half-duplex line never sees interleaved device logic.
func (c *Controller) updateDevices(ctx context.Context, cycle device.Cycle) int {
	var failed atomic.Int64
	var eg errgroup.Group
	for bus, devices := range c.project.DevicesByBus() {
		bus, devices := bus, devices
		eg.Go(func() error {
			for _, d := range devices {
				if err := runDevice(ctx, d, cycle); err != nil {
					failed.Add(1)
					info := d.Info()
					zerolog.Ctx(ctx).Warn().
						Err(err).
						Int("bus", bus).
						Int("device", info.ID).
						Str("category", info.Category).
						Msg("Device update failed")
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
	return int(failed.Load())
}

// runDevice contains a panicking device to its own update.
func runDevice(ctx context.Context, d device.Device, cycle device.Cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	switch u := d.(type) {
	case device.Controller:
		return u.Update(ctx, cycle)
	case device.Poller:
		return u.Poll(ctx)
	}
	return nil
}

func reportGroup(id int, agg room.Aggregate) {
	tag := "group:" + strconv.Itoa(id)
	if agg.WaterSetpoint != nil {
		datadog.Gauge("group.water_setpoint", *agg.WaterSetpoint, tag)
	}
	if agg.AirSetpoint != nil {
		datadog.Gauge("group.air_setpoint", *agg.AirSetpoint, tag)
	}
	if agg.AirTemperature != nil {
		datadog.Gauge("group.air_temperature", *agg.AirTemperature, tag)
	}
}

// Last returns the snapshot of the most recent cycle.
func (c *Controller) Last() exchange.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Run cycles every interval until ctx is done. The first cycle starts
// immediately; a tick that lands while a cycle is still running is skipped.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Starting control loop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := c.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
			log.Warn().Err(err).Msg("Cycle finished with errors")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Control loop stopped")
			return
		case <-ticker.C:
		}
	}
}
