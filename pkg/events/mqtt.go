package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttKeepAlive      = 60 * time.Second
	// mqttDisconnectQuiesce is in milliseconds.
	mqttDisconnectQuiesce = 1000
)

// Publisher publishes raw payloads to a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTClient is a thin wrapper around a paho client.
type MQTTClient struct {
	client pahomqtt.Client
	prefix string
}

// ConnectMQTT connects to the broker described by s.
func ConnectMQTT(s config.MQTTSettings) (*MQTTClient, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(s.Broker)
	opts.SetClientID(s.ClientID)
	if s.Username != "" {
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)

	// The broker announces us offline if we vanish.
	statusTopic := Topic(s.TopicPrefix, "status")
	opts.SetWill(statusTopic, `{"status":"offline"}`, 1, true)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logrus.WithField("broker", s.Broker).Info("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logrus.WithError(err).WithField("broker", s.Broker).Warn("mqtt connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out after %s", s.Broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to mqtt broker %s", s.Broker)
	}

	c := &MQTTClient{client: client, prefix: s.TopicPrefix}
	if err := c.Publish(statusTopic, []byte(`{"status":"online"}`), 1, true); err != nil {
		logrus.WithError(err).Warn("failed to publish online status")
	}

	return c, nil
}

// Publish sends payload to topic and waits for the broker acknowledgment.
func (c *MQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out after %s", topic, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return pkgerrors.Wrapf(err, "failed to publish to %s", topic)
	}
	return nil
}

// Close announces a graceful shutdown and disconnects.
func (c *MQTTClient) Close() {
	_ = c.Publish(Topic(c.prefix, "status"), []byte(`{"status":"offline"}`), 1, true)
	c.client.Disconnect(mqttDisconnectQuiesce)
}

// Topic joins prefix and an event name into an MQTT topic. Dots in the event
// name become topic levels: "lockbox.state.changed" -> "<prefix>/lockbox/state/changed".
func Topic(prefix, name string) string {
	name = strings.ReplaceAll(name, ".", "/")
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// StateTopic is the retained topic holding the current state of one lockbox:
// "<prefix>/state/<lockbox>".
func StateTopic(prefix, lockbox string) string {
	return Topic(prefix, "state/"+lockbox)
}

// MQTTBridge forwards every hub event to a Publisher. State changes go to the
// retained StateTopic of their lockbox.
type MQTTBridge struct {
	hub    *EventHub
	pub    Publisher
	prefix string
	qos    byte
}

// NewMQTTBridge returns a bridge from hub to pub.
func NewMQTTBridge(hub *EventHub, pub Publisher, prefix string, qos byte) *MQTTBridge {
	return &MQTTBridge{hub: hub, pub: pub, prefix: prefix, qos: qos}
}

// Run forwards events until ctx is done or the hub closes the subscription.
func (b *MQTTBridge) Run(ctx context.Context) {
	ch := b.hub.Subscribe()
	defer b.hub.Unsubscribe(ch)

	logrus.WithField("prefix", b.prefix).Debug("mqtt bridge started")

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("mqtt bridge stopped")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.forward(ev)
		}
	}
}

func (b *MQTTBridge) forward(ev Event) {
	topic, retained := Topic(b.prefix, ev.Name), false
	if ev.Name == StateChanged {
		payload, err := DecodeAs[StateChangedEvent](ev)
		if err != nil || payload.Lockbox == "" {
			logrus.WithError(err).Warn("state change without a lockbox, not forwarded")
			return
		}
		// Retained so late subscribers see the current state.
		topic, retained = StateTopic(b.prefix, payload.Lockbox), true
	}
	if err := b.pub.Publish(topic, ev.Data, b.qos, retained); err != nil {
		logrus.WithError(err).WithField("event", ev.Name).Warn("failed to forward event to mqtt")
	}
}
