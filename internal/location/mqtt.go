package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTConnectTimeout = 10 * time.Second
	defaultMQTTPublishTimeout = 5 * time.Second
	defaultMQTTQuiesce        = 250 // milliseconds
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTConfig configures the change publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the prefix; changes go to <topic>/<account_id>/<op>.
	Topic string
	QoS   byte
}

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes location changes to an MQTT broker.
type MQTTPublisher struct {
	client  mqttClient
	topic   string
	qos     byte
	timeout time.Duration
}

// ConnectMQTT dials the broker and returns a publisher.
func ConnectMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultMQTTConnectTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultMQTTConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", defaultMQTTConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return newMQTTPublisher(client, cfg.Topic, cfg.QoS), nil
}

func newMQTTPublisher(client mqttClient, topic string, qos byte) *MQTTPublisher {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		topic = "eostre/locations"
	}
	if qos > 2 {
		qos = 2
	}
	return &MQTTPublisher{client: client, topic: topic, qos: qos, timeout: defaultMQTTPublishTimeout}
}

// Topic returns the topic a change is published to.
func (p *MQTTPublisher) Topic(c Change) string {
	return p.topic + "/" + c.AccountID + "/" + string(c.Op)
}

// Publish sends c as JSON and waits for the broker acknowledgement.
func (p *MQTTPublisher) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	token := p.client.Publish(p.Topic(c), p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return ErrPublishTimeout
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(defaultMQTTQuiesce)
}
