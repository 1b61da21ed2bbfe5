package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultServer = "https://ntfy.sh"

// ntfy priorities
const (
	PriorityDefault = 3
	PriorityHigh    = 4
)

type Config struct {
	Server string `json:"server"`
	Topic  string `json:"topic"`
}

// Message is an ntfy JSON publish request. The topic is filled in by Send.
type Message struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

var (
	mu     sync.Mutex
	client *http.Client
	topic  string
	server string
)

// Init points alarms at cfg.Topic. An empty topic disables notifications.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	topic = cfg.Topic
	if topic == "" {
		client = nil
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return
	}

	client = &http.Client{Timeout: 10 * time.Second}
	server = strings.TrimRight(cfg.Server, "/")
	if server == "" {
		server = defaultServer
	}

	log.Info().
		Str("server", server).
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
}

// Send publishes msg to the configured topic.
func Send(msg Message) error {
	mu.Lock()
	c, url := client, server
	msg.Topic = topic
	mu.Unlock()

	if c == nil {
		return fmt.Errorf("notifications not initialized")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	resp, err := c.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", msg.Title).
		Int("status", resp.StatusCode).
		Msg("Notification sent")
	return nil
}

// Alarm reports a device alarm that has just been raised.
func Alarm(device, detail string) {
	err := Send(Message{
		Title:    "HVAC alarm: " + device,
		Message:  detail,
		Priority: PriorityHigh,
		Tags:     []string{"warning", "hvac"},
	})
	if err != nil {
		log.Warn().Err(err).Str("device", device).Msg("Failed to send alarm notification")
	}
}
