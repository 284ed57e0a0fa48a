package control

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/e7canasta/sensorpod/internal/config"
)

// Transport carries control traffic. MQTTTransport is the production implementation.
type Transport interface {
	Subscribe(topic string, qos byte, fn func(payload []byte)) error
	Unsubscribe(topic string) error
	Publish(topic string, qos byte, payload []byte) error
}

// MQTTTransport publishes and subscribes through a paho client
type MQTTTransport struct {
	client    mqtt.Client
	logger    zerolog.Logger
	connected atomic.Bool
}

// DialMQTT connects to the configured broker with automatic reconnection
func DialMQTT(cfg config.MQTTConfig, logger zerolog.Logger) (*MQTTTransport, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	t := &MQTTTransport{logger: logger.With().Str("component", "mqtt").Logger()}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		t.connected.Store(true)
		t.logger.Info().Str("broker", broker).Str("client_id", cfg.ClientID).Msg("mqtt: connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		t.connected.Store(false)
		t.logger.Warn().Err(err).Str("broker", broker).Msg("mqtt: connection lost, will auto-reconnect")
	}

	t.client = mqtt.NewClient(opts)
	t.logger.Info().Str("broker", broker).Msg("mqtt: connecting")

	token := t.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	t.connected.Store(true)
	return t, nil
}

func (t *MQTTTransport) Subscribe(topic string, qos byte, fn func(payload []byte)) error {
	token := t.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt subscription timeout: %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscription failed: %w", err)
	}
	return nil
}

func (t *MQTTTransport) Unsubscribe(topic string) error {
	if !t.client.IsConnected() {
		return nil
	}
	token := t.client.Unsubscribe(topic)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("mqtt unsubscribe timeout: %s", topic)
	}
	return token.Error()
}

func (t *MQTTTransport) Publish(topic string, qos byte, payload []byte) error {
	if !t.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}
	token := t.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close disconnects, waiting briefly for in-flight work
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
	t.connected.Store(false)
}
