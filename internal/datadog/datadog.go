package datadog

import (
	"sync"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Enabled   bool
	AgentAddr string
	Namespace string
	Tags      []string
}

// Client is the part of the DogStatsD client the gauges use.
type Client interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
}

var (
	mu        sync.RWMutex
	dogstatsd Client
)

func InitMetrics(cfg Config) {
	if !cfg.Enabled {
		return
	}
	c, err := statsd.New(cfg.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}
	c.Namespace = cfg.Namespace
	c.Tags = cfg.Tags
	SetClient(c)

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
}

// SetClient replaces the client. A nil client disables metrics.
func SetClient(c Client) {
	mu.Lock()
	defer mu.Unlock()
	dogstatsd = c
}

func client() Client {
	mu.RLock()
	defer mu.RUnlock()
	return dogstatsd
}

func Gauge(name string, value float64, tags ...string) {
	if c := client(); c != nil {
		if err := c.Gauge(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

func Count(name string, value int64, tags ...string) {
	if c := client(); c != nil {
		if err := c.Count(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
		}
	}
}
