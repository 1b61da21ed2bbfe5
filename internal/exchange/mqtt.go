package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/config"
)

// PublishTimeout bounds the wait for one publish acknowledgement.
var PublishTimeout = 5 * time.Second

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher pushes retained JSON state per group and device:
// <prefix>/groups/<id> and <prefix>/devices/<bus>/<id>.
type MQTTPublisher struct {
	client publisher
	prefix string
}

// ConnectMQTT connects to the configured broker.
func ConnectMQTT(cfg config.MQTT) (*MQTTPublisher, error) {
	client := mqtt.NewClient(cfg.ClientOptions())
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("MQTT connection error: %w", t.Error())
	}
	log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
	return newMQTTPublisher(client, cfg.TopicPrefix), nil
}

func newMQTTPublisher(client publisher, prefix string) *MQTTPublisher {
	if prefix == "" {
		prefix = "hvac"
	}
	return &MQTTPublisher{client: client, prefix: prefix}
}

func (m *MQTTPublisher) Publish(ctx context.Context, snap Snapshot) error {
	var result *multierror.Error
	for _, g := range snap.Groups {
		topic := fmt.Sprintf("%s/groups/%d", m.prefix, g.ID)
		if err := m.send(topic, g); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, d := range snap.Devices {
		topic := fmt.Sprintf("%s/devices/%d/%d", m.prefix, d.Bus, d.ID)
		if err := m.send(topic, d); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *MQTTPublisher) send(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	t := m.client.Publish(topic, 0, true, payload)
	if !t.WaitTimeout(PublishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if t.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, t.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTPublisher) Close() {
	if c, ok := m.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
}
