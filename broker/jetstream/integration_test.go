package jetstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

// startNATS runs a disposable NATS server with JetStream enabled and
// returns its client URL.
func startNATS(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"--jetstream"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

// createOrdersStream provisions the stream the tests publish into.
func createOrdersStream(t *testing.T, url string) {
	t.Helper()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	_, err = js.CreateStream(context.Background(), jetstream.StreamConfig{
		Name:     "ORDERS",
		Subjects: []string{"orders.>"},
	})
	require.NoError(t, err)
}

func TestIntegration_ProduceConsumeAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startNATS(t)
	createOrdersStream(t, url)

	client, err := NewClient(broker.ClusterConfig{
		ID:         "it",
		Driver:     broker.DriverJetStream,
		ServiceURL: url,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = client.Close(context.Background()) }()

	ctx := context.Background()

	producer, err := client.CreateProducer(ctx, broker.ProducerConfig{Topic: "orders.created"})
	require.NoError(t, err)

	id, err := producer.Send(ctx, broker.Message{
		Payload:    []byte(`{"k":"v"}`),
		Key:        "order-1",
		Properties: map[string]string{"Origin": "it"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	consumer, err := client.CreateConsumer(ctx, broker.ConsumerConfig{
		Topic:            "orders.created",
		SubscriptionName: "s1",
	})
	require.NoError(t, err)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := consumer.Receive(recvCtx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(msg.Payload))
	assert.Equal(t, "order-1", msg.Key)
	assert.Equal(t, "orders.created", msg.Topic)
	require.NoError(t, consumer.Ack(ctx, msg))

	// Nothing else pending: a bounded receive times out transiently.
	shortCtx, cancel2 := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel2()
	_, err = consumer.Receive(shortCtx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestIntegration_AdminHierarchy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startNATS(t)
	createOrdersStream(t, url)

	client, err := NewClient(broker.ClusterConfig{
		ID:         "it",
		Driver:     broker.DriverJetStream,
		ServiceURL: url,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = client.Close(context.Background()) }()

	admin := NewAdmin(client, nil)
	ctx := context.Background()

	tenants, err := admin.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, tenants)

	namespaces, err := admin.ListNamespaces(ctx, "default")
	require.NoError(t, err)
	assert.Contains(t, namespaces, "ORDERS")

	topics, err := admin.ListTopics(ctx, "default", "ORDERS")
	require.NoError(t, err)
	assert.Contains(t, topics, "orders.>")

	// Create a subscription, then confirm the admin view reflects it.
	_, err = client.CreateConsumer(ctx, broker.ConsumerConfig{
		Topic:            "orders.created",
		SubscriptionName: "audit",
	})
	require.NoError(t, err)

	subs, err := admin.ListSubscriptions(ctx, "orders.created")
	require.NoError(t, err)
	assert.Contains(t, subs, "audit")

	producer, err := client.CreateProducer(ctx, broker.ProducerConfig{Topic: "orders.created"})
	require.NoError(t, err)
	_, err = producer.Send(ctx, broker.Message{Payload: []byte(`{"n":1}`)})
	require.NoError(t, err)

	stats, err := admin.TopicStats(ctx, "orders.created")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.MsgInCounter, int64(1))
	require.Contains(t, stats.Subscriptions, "audit")
	assert.GreaterOrEqual(t, stats.Subscriptions["audit"].Backlog, int64(1))
}

func TestIntegration_ReaderBrowse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startNATS(t)
	createOrdersStream(t, url)

	client, err := NewClient(broker.ClusterConfig{
		ID:         "it",
		Driver:     broker.DriverJetStream,
		ServiceURL: url,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = client.Close(context.Background()) }()

	ctx := context.Background()

	producer, err := client.CreateProducer(ctx, broker.ProducerConfig{Topic: "orders.created"})
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err = producer.Send(ctx, broker.Message{Payload: []byte(fmt.Sprintf(`{"n":%d}`, i))})
		require.NoError(t, err)
	}

	// Reader browses without consuming the backlog of any subscription.
	rdr, err := client.CreateReader(ctx, broker.ReaderConfig{Topic: "orders.created", StartAtEarliest: true})
	require.NoError(t, err)
	defer func() { _ = rdr.Close(ctx) }()

	var payloads []string
	for i := 0; i < 3; i++ {
		readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		msg, err := rdr.Next(readCtx)
		cancel()
		require.NoError(t, err)
		payloads = append(payloads, string(msg.Payload))
	}
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, payloads)
}
