package shutdown

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
)

// ExitFunc terminates the process, overridable in tests.
var ExitFunc = os.Exit

// StopTimeout bounds how long the devices get to reach their off state.
var StopTimeout = 10 * time.Second

var (
	mu       sync.Mutex
	safeMode bool
	stoppers []device.Stopper
)

// Register records the devices to drive off on exit. Devices that cannot be
// stopped are ignored.
func Register(devices []device.Device, safe bool) {
	mu.Lock()
	defer mu.Unlock()
	safeMode = safe
	stoppers = stoppers[:0]
	for _, d := range devices {
		if s, ok := d.(device.Stopper); ok {
			stoppers = append(stoppers, s)
		}
	}
}

func stopAll() {
	mu.Lock()
	list := append([]device.Stopper(nil), stoppers...)
	safe := safeMode
	mu.Unlock()

	if safe {
		log.Info().Msg("Safe mode: leaving devices untouched")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	failed := 0
	for _, s := range list {
		if !s.Stop(ctx) {
			failed++
			info := s.Info()
			log.Warn().Int("bus", info.Bus).Int("device", info.ID).Msg("Device did not reach off state")
		}
	}
	log.Info().Int("devices", len(list)).Int("failed", failed).Msg("Devices driven to safe state")
}

func Shutdown() {
	stopAll()
	ExitFunc(0)
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	stopAll()
	ExitFunc(1)
}
