package jetstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient(broker.ClusterConfig{
		ID:         "local",
		Driver:     broker.DriverJetStream,
		ServiceURL: "nats://localhost:4222",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", client.url)
	assert.Equal(t, "streamscope-local", client.name)
	// Lazy connection: nothing dialed yet.
	assert.Nil(t, client.conn)
}

func TestNewClient_RequiresServiceURL(t *testing.T) {
	_, err := NewClient(broker.ClusterConfig{ID: "local"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_CreateProducer_RequiresTopic(t *testing.T) {
	client, err := NewClient(broker.ClusterConfig{ID: "local", ServiceURL: "nats://localhost:4222"}, nil)
	require.NoError(t, err)

	_, err = client.CreateProducer(context.Background(), broker.ProducerConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_CreateConsumer_RequiresSubscription(t *testing.T) {
	client, err := NewClient(broker.ClusterConfig{ID: "local", ServiceURL: "nats://localhost:4222"}, nil)
	require.NoError(t, err)

	_, err = client.CreateConsumer(context.Background(), broker.ConsumerConfig{Topic: "orders.created"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_CloseIdempotent(t *testing.T) {
	client, err := NewClient(broker.ClusterConfig{ID: "local", ServiceURL: "nats://localhost:4222"}, nil)
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))

	// Operations after close fail instead of re-dialing.
	_, err = client.ensureConnected(context.Background())
	assert.Error(t, err)
}

func TestSanitizeDurable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"my-sub", "my-sub"},
		{"orders.created", "orders_created"},
		{"a b/c", "a_b_c"},
		{"wild*card>", "wild_card_"},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			assert.Equal(t, test.expected, sanitizeDurable(test.input))
		})
	}
}

func TestFetchWait(t *testing.T) {
	// No deadline: default bound.
	assert.Equal(t, defaultFetchWait, fetchWait(context.Background()))

	// Deadline in the future: remaining time.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	wait := fetchWait(ctx)
	assert.Greater(t, wait, 50*time.Second)
	assert.LessOrEqual(t, wait, time.Minute)

	// Expired deadline: still a positive bound, never unbounded.
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	assert.Equal(t, time.Millisecond, fetchWait(expired))
}

func TestAdmin_ListTenants(t *testing.T) {
	client, err := NewClient(broker.ClusterConfig{ID: "local", ServiceURL: "nats://localhost:4222"}, nil)
	require.NoError(t, err)
	admin := NewAdmin(client, nil)

	tenants, err := admin.ListTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, tenants)
}
