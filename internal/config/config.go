package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/notifications"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

// Bus backends.
const (
	BackendRTU    = "rtu"
	BackendTCP    = "tcp"
	BackendMemory = "memory"
)

type Bus struct {
	ID            int    `json:"id"`
	Backend       string `json:"backend"`
	Port          string `json:"port"`
	BaudRate      int    `json:"baud_rate"`
	DataBits      int    `json:"data_bits"`
	StopBits      int    `json:"stop_bits"`
	Parity        string `json:"parity"`
	URL           string `json:"url"`
	TimeoutMillis int    `json:"timeout_ms"`
}

func (b Bus) Timeout() time.Duration {
	return time.Duration(b.TimeoutMillis) * time.Millisecond
}

type Device struct {
	Bus      int    `json:"bus"`
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	Model    string `json:"model"`
	Category string `json:"category"`
	Groups   []int  `json:"groups"`

	// Zones lists the room keys ("building/dwelling/room") of each sub-zone of
	// an air zone manager.
	Zones [device.ZoneCount][]string `json:"zones"`
}

type Room struct {
	Building      int          `json:"building"`
	Dwelling      int          `json:"dwelling"`
	ID            int          `json:"id"`
	Name          string       `json:"name"`
	Groups        []int        `json:"groups"`
	Bus           int          `json:"bus"`
	Device        int          `json:"device"`
	Sources       room.Sources `json:"sources"`
	CoolingOffset float64      `json:"cooling_offset"`
	HeatingOffset float64      `json:"heating_offset"`
}

func (r Room) Key() string {
	return fmt.Sprintf("%d/%d/%d", r.Building, r.Dwelling, r.ID)
}

type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Outdoor locates the outdoor air sensor. Either source may be left out.
type Outdoor struct {
	Bus         int               `json:"bus"`
	Device      int               `json:"device"`
	Temperature *model.Descriptor `json:"temperature"`
	Humidity    *model.Descriptor `json:"humidity"`
}

type Datadog struct {
	Enabled   bool     `json:"enabled"`
	AgentAddr string   `json:"agent_addr"`
	Namespace string   `json:"namespace"`
	Tags      []string `json:"tags"`
}

type MQTT struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

func (m MQTT) ClientOptions() *mqtt.ClientOptions {
	clientID := m.ClientID
	if clientID == "" {
		clientID = "hvac-controller"
	}
	return mqtt.NewClientOptions().
		AddBroker(m.Broker).
		SetClientID(clientID).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			log.Info().Msg("MQTT reconnecting")
		})
}

type Config struct {
	ConfigFile string        `json:"-"`
	StateFile  string        `json:"-"`
	DBPath     string        `json:"-"`
	LogLevel   zerolog.Level `json:"-"`
	LogFile    string        `json:"-"`
	LogConsole bool          `json:"-"`

	SafeMode            bool   `json:"safe_mode"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	APIPort             int    `json:"api_port"`
	RegisterMapDir      string `json:"register_map_dir"`
	CapabilityDir       string `json:"capability_dir"`

	Control room.Params `json:"control"`
	Outdoor Outdoor     `json:"outdoor"`

	Buses   []Bus    `json:"buses"`
	Devices []Device `json:"devices"`
	Rooms   []Room   `json:"rooms"`
	Groups  []Group  `json:"groups"`

	Datadog Datadog              `json:"datadog"`
	MQTT    MQTT                 `json:"mqtt"`
	Ntfy    notifications.Config `json:"ntfy"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Load parses the command line and reads the config file it names.
func Load(args []string) (*Config, error) {
	var cfg Config
	var logLevel string
	var safeMode bool

	app := kingpin.New("hvac-controller", "Modbus HVAC supervisory controller.")
	app.HelpFlag.Short('h')
	app.Flag("config-file", "Path to controller config file.").Default("config.json").StringVar(&cfg.ConfigFile)
	app.Flag("state-file", "Path to the snapshot file.").Default("data/state.json").StringVar(&cfg.StateFile)
	app.Flag("db", "Path to the exchange database.").Default("data/hvac.db").StringVar(&cfg.DBPath)
	app.Flag("log-level", "Log level (debug, info, warn, error).").Default("info").EnumVar(&logLevel, "debug", "info", "warn", "error")
	app.Flag("log-file", "Log file, stderr when empty.").Default("/var/log/hvac-controller.log").StringVar(&cfg.LogFile)
	app.Flag("log-console", "Human readable console logging.").BoolVar(&cfg.LogConsole)
	app.Flag("safe-mode", "Log register writes instead of issuing them.").BoolVar(&safeMode)
	if _, err := app.Parse(args); err != nil {
		return nil, err
	}
	cfg.LogLevel = ParseLogLevel(logLevel)

	if err := cfg.ReadFile(cfg.ConfigFile); err != nil {
		return nil, err
	}
	cfg.SafeMode = cfg.SafeMode || safeMode
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfg.ConfigFile, err)
	}
	return &cfg, nil
}

// ReadFile decodes path into c and fills defaults.
func (c *Config) ReadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	defer file.Close()

	c.Control = room.DefaultParams()
	if err := json.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.defaults()
	return nil
}

func (c *Config) defaults() {
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 30
	}
	if c.APIPort == 0 {
		c.APIPort = 8080
	}
	if c.RegisterMapDir == "" {
		c.RegisterMapDir = "config/registers"
	}
	if c.CapabilityDir == "" {
		c.CapabilityDir = "config/capabilities"
	}
	for i := range c.Buses {
		if c.Buses[i].TimeoutMillis == 0 {
			c.Buses[i].TimeoutMillis = 1000
		}
	}
}

func ParseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (c *Config) validate() error {
	var result *multierror.Error
	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.PollIntervalSeconds <= 0 {
		fail("poll_interval_seconds must be positive, got %d", c.PollIntervalSeconds)
	}

	buses := map[int]bool{}
	for _, b := range c.Buses {
		if buses[b.ID] {
			fail("bus %d defined twice", b.ID)
		}
		buses[b.ID] = true
		switch b.Backend {
		case BackendRTU:
			if b.Port == "" {
				fail("bus %d: rtu backend needs a port", b.ID)
			}
		case BackendTCP:
			if b.URL == "" {
				fail("bus %d: tcp backend needs a url", b.ID)
			}
		case BackendMemory:
		default:
			fail("bus %d: unknown backend %q", b.ID, b.Backend)
		}
	}

	groups := map[int]bool{}
	for _, g := range c.Groups {
		if groups[g.ID] {
			fail("group %d defined twice", g.ID)
		}
		groups[g.ID] = true
	}

	type deviceKey struct{ bus, id int }
	devices := map[deviceKey]bool{}
	for _, d := range c.Devices {
		k := deviceKey{d.Bus, d.ID}
		if devices[k] {
			fail("device %d on bus %d defined twice", d.ID, d.Bus)
		}
		devices[k] = true
		if !buses[d.Bus] {
			fail("device %s: unknown bus %d", d.Name, d.Bus)
		}
		if !model.ValidDeviceID(d.ID) {
			fail("device %s: id %d outside %d..%d", d.Name, d.ID, model.MinDeviceID, model.MaxDeviceID)
		}
		if !device.KnownCategory(d.Category) {
			fail("device %s: unknown category %q", d.Name, d.Category)
		}
		for _, g := range d.Groups {
			if !groups[g] {
				fail("device %s: unknown group %d", d.Name, g)
			}
		}
	}

	rooms := map[string]bool{}
	for _, r := range c.Rooms {
		if rooms[r.Key()] {
			fail("room %s defined twice", r.Key())
		}
		rooms[r.Key()] = true
		if !buses[r.Bus] {
			fail("room %s: unknown bus %d", r.Key(), r.Bus)
		}
		if !model.ValidDeviceID(r.Device) {
			fail("room %s: device %d outside %d..%d", r.Key(), r.Device, model.MinDeviceID, model.MaxDeviceID)
		}
		for _, g := range r.Groups {
			if !groups[g] {
				fail("room %s: unknown group %d", r.Key(), g)
			}
		}
	}

	for _, d := range c.Devices {
		for _, zone := range d.Zones {
			for _, key := range zone {
				if !rooms[key] {
					fail("device %s: zone room %s not defined", d.Name, key)
				}
			}
		}
	}

	if c.Outdoor.Temperature != nil || c.Outdoor.Humidity != nil {
		if !buses[c.Outdoor.Bus] {
			fail("outdoor sensor: unknown bus %d", c.Outdoor.Bus)
		}
		if !model.ValidDeviceID(c.Outdoor.Device) {
			fail("outdoor sensor: device %d outside %d..%d", c.Outdoor.Device, model.MinDeviceID, model.MaxDeviceID)
		}
	}
	return result.ErrorOrNil()
}
