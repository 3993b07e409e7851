// Package mqtt publishes escalation notifications to an MQTT broker.
// Advisory fan-out and operator alerts land on per-level topics so
// subscribers can filter by severity.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/lattice/pkg/ports"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// publisher is the slice of paho.Client the notifier needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
}

// Notifier implements ports.Notifier over MQTT.
type Notifier struct {
	client      publisher
	owned       paho.Client
	topicPrefix string
	qos         byte
	timeout     time.Duration
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithTopicPrefix overrides the default "lattice/escalations" prefix.
func WithTopicPrefix(prefix string) Option {
	return func(n *Notifier) {
		n.topicPrefix = prefix
	}
}

// WithQoS sets the publish QoS. Defaults to 1 (at least once).
func WithQoS(qos byte) Option {
	return func(n *Notifier) {
		n.qos = qos
	}
}

// WithPublishTimeout bounds how long Notify waits for broker acknowledgment.
func WithPublishTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.timeout = d
	}
}

// New connects to the broker at url and returns a ready notifier.
func New(url, clientID string, opts ...Option) (*Notifier, error) {
	clientOpts := paho.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout for %s", url)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	n := newNotifier(client, opts...)
	n.owned = client
	return n, nil
}

func newNotifier(client publisher, opts ...Option) *Notifier {
	n := &Notifier{
		client:      client,
		topicPrefix: "lattice/escalations",
		qos:         1,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify publishes the notification as JSON on <prefix>/level<N>.
func (n *Notifier) Notify(ctx context.Context, note ports.Notification) error {
	if !n.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := fmt.Sprintf("%s/level%d", n.topicPrefix, note.Level)
	token := n.client.Publish(topic, n.qos, false, payload)

	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish timeout on %s", topic)
	}
	return token.Error()
}

// Close disconnects the owned client, if the notifier created one.
func (n *Notifier) Close() {
	if n.owned != nil {
		n.owned.Disconnect(1000)
	}
}
