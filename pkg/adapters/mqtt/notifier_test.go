package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/ports"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{
		topic: topic, qos: qos, retained: retained,
		payload: append([]byte(nil), payload.([]byte)...),
	})
	return &fakeToken{}
}

func (f *fakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

type fakeToken struct{}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                     { return nil }

func TestNotifier_PublishesPerLevelTopic(t *testing.T) {
	fake := &fakePublisher{connected: true}
	n := newNotifier(fake)

	err := n.Notify(context.Background(), ports.Notification{
		RunID:   "run-1",
		Level:   2,
		Action:  "suspend",
		Message: "approval required",
		Health:  0.81,
	})
	require.NoError(t, err)

	require.Len(t, fake.messages, 1)
	msg := fake.messages[0]
	assert.Equal(t, "lattice/escalations/level2", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var got ports.Notification
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "suspend", got.Action)
	assert.Equal(t, 0.81, got.Health)
}

func TestNotifier_CustomPrefixAndQoS(t *testing.T) {
	fake := &fakePublisher{connected: true}
	n := newNotifier(fake, WithTopicPrefix("ops/reviews"), WithQoS(0))

	require.NoError(t, n.Notify(context.Background(), ports.Notification{Level: 1}))
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "ops/reviews/level1", fake.messages[0].topic)
	assert.Equal(t, byte(0), fake.messages[0].qos)
}

func TestNotifier_DisconnectedClientErrors(t *testing.T) {
	fake := &fakePublisher{connected: false}
	n := newNotifier(fake)

	err := n.Notify(context.Background(), ports.Notification{Level: 3})
	assert.Error(t, err)
	assert.Empty(t, fake.messages)
}
