package mq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/hirelab/assessor/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopback struct {
	handlers map[string]Handler
	closed   bool
}

func (l *loopback) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if h, ok := l.handlers[channel]; ok {
		return "1", h(ctx, Message{ID: "1", Data: data, Attributes: attrs})
	}
	return "1", nil
}

func (l *loopback) Subscribe(ctx context.Context, channel string, handler Handler) error {
	l.handlers[channel] = handler
	return nil
}

func (l *loopback) Close() error {
	l.closed = true
	return nil
}

func TestOpenDisabled(t *testing.T) {
	m, err := Open(context.Background(), config.MQConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.ErrorContains(t, err, `unknown mq backend "kafka"`)

	_, err = Open(context.Background(), config.MQConfig{Backend: BackendRabbitMQ})
	assert.ErrorContains(t, err, "rabbitmq url is required")

	_, err = Open(context.Background(), config.MQConfig{Backend: BackendPubSub})
	assert.ErrorContains(t, err, "pubsub project id is required")
}

func TestMQDelegatesToBackend(t *testing.T) {
	backend := &loopback{handlers: map[string]Handler{}}
	m := New(backend)
	ctx := context.Background()

	var got Message
	require.NoError(t, m.Subscribe(ctx, "assessment.invite.issued", func(ctx context.Context, msg Message) error {
		got = msg
		return nil
	}))
	id, err := m.Publish(ctx, "assessment.invite.issued", []byte(`{}`), map[string]string{TypeAttribute: "assessment.invite.issued"})
	require.NoError(t, err)
	assert.Equal(t, "1", id)
	assert.Equal(t, "assessment.invite.issued", got.Attributes[TypeAttribute])

	require.NoError(t, m.Close())
	assert.True(t, backend.closed)
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"type":  "assessment.credits.refunded",
		"raw":   []byte("bytes"),
		"count": int32(3),
	})
	assert.Equal(t, map[string]string{
		"type":  "assessment.credits.refunded",
		"raw":   "bytes",
		"count": "3",
	}, attrs)
}

func TestNewMessageIDIsHex(t *testing.T) {
	id := newMessageID()
	assert.Len(t, id, 32)
	assert.NotEqual(t, id, newMessageID())
}

func TestPubSubTopicsAreOpenedOnce(t *testing.T) {
	ctx := context.Background()
	// The client dials lazily, so nothing has to listen until a publish.
	t.Setenv("PUBSUB_EMULATOR_HOST", "localhost:1")
	client, err := pubsub.NewClient(ctx, "assessor-test")
	require.NoError(t, err)

	p := newPubSubClient(client, "-sub")
	var opened atomic.Int32
	p.openTopic = func(ctx context.Context, name string) (*pubsub.Topic, error) {
		opened.Add(1)
		return client.Topic(name), nil
	}

	topics := make([]*pubsub.Topic, 8)
	var wg sync.WaitGroup
	for i := range topics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			topic, err := p.topic(ctx, "assessment.attempt.evaluated")
			assert.NoError(t, err)
			topics[i] = topic
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	for _, topic := range topics {
		assert.Same(t, topics[0], topic)
	}
	assert.True(t, topics[0].EnableMessageOrdering)

	require.NoError(t, p.Close())
	assert.Empty(t, p.topics)
}
