package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// MQTTClient is the subset of the paho client the sink uses. Tests swap in a
// fake.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// MQTT publishes every episode as a JSON message.
type MQTT struct {
	cfg    config.MQTTSinkConfig
	runID  string
	client MQTTClient
	logger *slog.Logger
}

// NewMQTT connects to the broker in cfg
func NewMQTT(cfg config.MQTTSinkConfig, runID string, logger *slog.Logger) (*MQTT, error) {
	return NewMQTTWithClient(cfg, runID, logger, func(opts *mqtt.ClientOptions) MQTTClient {
		return mqtt.NewClient(opts)
	})
}

// NewMQTTWithClient connects through a client built by factory
func NewMQTTWithClient(cfg config.MQTTSinkConfig, runID string, logger *slog.Logger, factory func(*mqtt.ClientOptions) MQTTClient) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("sink", "mqtt")

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("researchmind-%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	m := &MQTT{cfg: cfg, runID: runID, client: factory(opts), logger: logger}

	logger.Info("connecting to mqtt broker", "broker", cfg.Broker)
	token := m.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt: %w", err)
	}
	return m, nil
}

// Write publishes rec on the configured topic
func (m *MQTT) Write(_ context.Context, rec types.EpisodeRecord) error {
	if !m.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(Line{RunID: m.runID, EpisodeRecord: rec})
	if err != nil {
		return fmt.Errorf("marshal episode: %w", err)
	}

	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	m.logger.Debug("episode published", "topic", m.cfg.Topic, "episode", rec.Episode, "size", len(payload))
	return nil
}

func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
