// Package emitter publishes label changes to an MQTT broker so other services
// can react to the detected color without polling HTTP.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"hueeye/config"
	"hueeye/logging"
	"hueeye/pipeline"
)

// ErrNotConnected is returned by Publish while the broker is unreachable
var ErrNotConnected = errors.New("mqtt not connected")

// Message is the JSON payload of a label publication
type Message struct {
	InstanceID string    `json:"instance_id"`
	Color      string    `json:"color"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// MQTTEmitter publishes label changes to an MQTT topic
type MQTTEmitter struct {
	cfg        config.MQTTConfig
	instanceID string
	topic      string
	client     mqtt.Client
	newClient  func(*mqtt.ClientOptions) mqtt.Client
	log        zerolog.Logger

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg config.MQTTConfig, instanceID string) *MQTTEmitter {
	topic := cfg.Topic
	if strings.Contains(topic, "%s") {
		topic = fmt.Sprintf(topic, instanceID)
	}
	return &MQTTEmitter{
		cfg:        cfg,
		instanceID: instanceID,
		topic:      topic,
		newClient:  mqtt.NewClient,
		log:        logging.Component("MQTT"),
	}
}

// Topic is the resolved publication topic
func (e *MQTTEmitter) Topic() string { return e.topic }

// Connect establishes connection to the broker. The client keeps
// reconnecting in the background after the first successful connect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	clientID := e.cfg.ClientID
	if clientID == "" {
		clientID = "hueeye-" + e.instanceID
	}

	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.log.Info().Str("broker", broker).Str("client_id", clientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	e.client = e.newClient(opts)
	e.log.Info().Str("broker", broker).Str("topic", e.topic).Msg("connecting to mqtt broker")

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Publish sends one reading
func (e *MQTTEmitter) Publish(r pipeline.Reading) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(Message{
		InstanceID: e.instanceID,
		Color:      r.Label,
		Confidence: r.Confidence,
		Timestamp:  r.UpdatedAt,
	})
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	token := e.client.Publish(e.topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.log.Debug().Str("topic", e.topic).Str("color", r.Label).Int("size", len(payload)).Msg("label published")
	return nil
}

// Run publishes every label change until ctx is cancelled. Readings that
// only refresh the confidence of the same label are not republished.
func (e *MQTTEmitter) Run(ctx context.Context, labels *pipeline.LabelCell) error {
	lastLabel := ""
	for {
		reading, changed := labels.Watch()
		if reading.Label != lastLabel {
			if err := e.Publish(reading); err != nil {
				e.log.Warn().Err(err).Str("color", reading.Label).Msg("label publish failed")
			} else {
				lastLabel = reading.Label
			}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info().Msg("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
