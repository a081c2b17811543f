// Package pulsar implements the broker capability interfaces on top of
// Apache Pulsar: the messaging side via the native client library, the
// admin side via the admin REST API (v2).
package pulsar

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

// Client implements broker.MessagingClient over the Pulsar client
// library. It tracks every handle it mints so that Close can tear down
// derived resources before the underlying connection (the aggregate
// close contract).
type Client struct {
	client pulsar.Client
	logger *slog.Logger

	mu        sync.Mutex
	producers map[*producer]struct{}
	consumers map[*consumer]struct{}
	readers   map[*reader]struct{}
	closed    bool
}

// NewClient creates a messaging client for a cluster. The Pulsar library
// connects lazily, so this performs no network I/O.
func NewClient(cfg broker.ClusterConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default().With("component", "pulsar-client", "cluster", cfg.ID)
	}

	opts := pulsar.ClientOptions{
		URL: cfg.ServiceURL,
	}
	if cfg.OperationTimeout > 0 {
		opts.OperationTimeout = cfg.OperationTimeout
	}
	if auth := buildAuthentication(cfg.Auth); auth != nil {
		opts.Authentication = auth
	}

	client, err := pulsar.NewClient(opts)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "NewClient", "create pulsar client")
	}

	return &Client{
		client:    client,
		logger:    logger,
		producers: make(map[*producer]struct{}),
		consumers: make(map[*consumer]struct{}),
		readers:   make(map[*reader]struct{}),
	}, nil
}

func buildAuthentication(auth broker.AuthConfig) pulsar.Authentication {
	switch {
	case auth.Token != "":
		return pulsar.NewAuthenticationToken(auth.Token)
	case len(auth.OAuth2) > 0:
		return pulsar.NewAuthenticationOAuth2(auth.OAuth2)
	default:
		return nil
	}
}

// CreateProducer creates a producer handle bound to a topic.
func (c *Client) CreateProducer(_ context.Context, cfg broker.ProducerConfig) (broker.Producer, error) {
	if cfg.Topic == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Client", "CreateProducer", "topic")
	}

	p, err := c.client.CreateProducer(pulsar.ProducerOptions{
		Topic: cfg.Topic,
	})
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateProducer", "create producer")
	}

	handle := &producer{inner: p, topic: cfg.Topic, client: c}
	c.track(func() { c.producers[handle] = struct{}{} })
	return handle, nil
}

// CreateConsumer subscribes to a topic. Subscribe failures (busy
// subscription, missing topic) propagate as upstream errors; there is
// no silent retry.
func (c *Client) CreateConsumer(_ context.Context, cfg broker.ConsumerConfig) (broker.Consumer, error) {
	if cfg.Topic == "" || cfg.SubscriptionName == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Client", "CreateConsumer", "topic and subscription")
	}

	sub, err := c.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            cfg.Topic,
		SubscriptionName: cfg.SubscriptionName,
		Type:             subscriptionType(cfg.SubscriptionType),
	})
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateConsumer", "subscribe")
	}

	handle := &consumer{
		inner:        sub,
		topic:        cfg.Topic,
		subscription: cfg.SubscriptionName,
		client:       c,
	}
	c.track(func() { c.consumers[handle] = struct{}{} })
	return handle, nil
}

// CreateReader opens a non-subscribing sequential reader on a topic.
func (c *Client) CreateReader(_ context.Context, cfg broker.ReaderConfig) (broker.Reader, error) {
	if cfg.Topic == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Client", "CreateReader", "topic")
	}

	start := pulsar.LatestMessageID()
	if cfg.StartAtEarliest {
		start = pulsar.EarliestMessageID()
	}

	r, err := c.client.CreateReader(pulsar.ReaderOptions{
		Topic:          cfg.Topic,
		StartMessageID: start,
	})
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateReader", "create reader")
	}

	handle := &reader{inner: r, topic: cfg.Topic, client: c}
	c.track(func() { c.readers[handle] = struct{}{} })
	return handle, nil
}

func (c *Client) track(add func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	add()
}

func (c *Client) untrackProducer(p *producer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.producers, p)
}

func (c *Client) untrackConsumer(cs *consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consumers, cs)
}

func (c *Client) untrackReader(r *reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.readers, r)
}

// Close tears down all derived resources and then the connection.
// Individual close failures are collected, never abort the remaining
// closes, and come back as one combined error.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	producers := make([]*producer, 0, len(c.producers))
	for p := range c.producers {
		producers = append(producers, p)
	}
	consumers := make([]*consumer, 0, len(c.consumers))
	for cs := range c.consumers {
		consumers = append(consumers, cs)
	}
	readers := make([]*reader, 0, len(c.readers))
	for r := range c.readers {
		readers = append(readers, r)
	}
	c.producers = make(map[*producer]struct{})
	c.consumers = make(map[*consumer]struct{})
	c.readers = make(map[*reader]struct{})
	c.mu.Unlock()

	var errs []error
	for _, p := range producers {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
			c.logger.Error("failed to close producer", "topic", p.topic, "error", err)
		}
	}
	for _, cs := range consumers {
		if err := cs.Close(ctx); err != nil {
			errs = append(errs, err)
			c.logger.Error("failed to close consumer", "topic", cs.topic, "error", err)
		}
	}
	for _, r := range readers {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, err)
			c.logger.Error("failed to close reader", "topic", r.topic, "error", err)
		}
	}

	c.client.Close()

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Client", "Close", "close derived resources")
	}
	return nil
}

func subscriptionType(name string) pulsar.SubscriptionType {
	switch name {
	case "shared":
		return pulsar.Shared
	case "failover":
		return pulsar.Failover
	case "key_shared":
		return pulsar.KeyShared
	default:
		return pulsar.Exclusive
	}
}

// producer adapts pulsar.Producer to broker.Producer.
type producer struct {
	inner  pulsar.Producer
	topic  string
	client *Client

	closeOnce sync.Once
}

func (p *producer) Topic() string { return p.topic }

func (p *producer) Send(ctx context.Context, msg broker.Message) (broker.MessageID, error) {
	id, err := p.inner.Send(ctx, &pulsar.ProducerMessage{
		Payload:    msg.Payload,
		Key:        msg.Key,
		Properties: msg.Properties,
	})
	if err != nil {
		return "", errors.WrapUpstream(err, "Producer", "Send", "publish message")
	}
	return formatMessageID(id), nil
}

func (p *producer) Close(_ context.Context) error {
	p.closeOnce.Do(func() {
		p.inner.Close()
		p.client.untrackProducer(p)
	})
	return nil
}

// consumer adapts pulsar.Consumer to broker.Consumer.
type consumer struct {
	inner        pulsar.Consumer
	topic        string
	subscription string
	client       *Client

	closeOnce sync.Once
}

func (c *consumer) Topic() string        { return c.topic }
func (c *consumer) Subscription() string { return c.subscription }

func (c *consumer) Receive(ctx context.Context) (*broker.ReceivedMessage, error) {
	msg, err := c.inner.Receive(ctx)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
			return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "Consumer", "Receive", "wait for message")
		}
		return nil, errors.WrapUpstream(err, "Consumer", "Receive", "receive message")
	}
	return convertMessage(msg).WithNative(msg), nil
}

func (c *consumer) Ack(_ context.Context, msg *broker.ReceivedMessage) error {
	native, ok := msg.Native().(pulsar.Message)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: message was not received by this driver", errors.ErrInvalidArgument),
			"Consumer", "Ack", "resolve native message")
	}
	if err := c.inner.Ack(native); err != nil {
		return errors.WrapTransient(err, "Consumer", "Ack", "acknowledge message")
	}
	return nil
}

func (c *consumer) Nack(msg *broker.ReceivedMessage) {
	if native, ok := msg.Native().(pulsar.Message); ok {
		c.inner.Nack(native)
	}
}

func (c *consumer) Close(_ context.Context) error {
	c.closeOnce.Do(func() {
		c.inner.Close()
		c.client.untrackConsumer(c)
	})
	return nil
}

// reader adapts pulsar.Reader to broker.Reader.
type reader struct {
	inner  pulsar.Reader
	topic  string
	client *Client

	closeOnce sync.Once
}

func (r *reader) Topic() string { return r.topic }

func (r *reader) Next(ctx context.Context) (*broker.ReceivedMessage, error) {
	msg, err := r.inner.Next(ctx)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
			return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "Reader", "Next", "wait for message")
		}
		return nil, errors.WrapUpstream(err, "Reader", "Next", "read message")
	}
	return convertMessage(msg).WithNative(msg), nil
}

func (r *reader) HasNext() bool { return r.inner.HasNext() }

func (r *reader) Close(_ context.Context) error {
	r.closeOnce.Do(func() {
		r.inner.Close()
		r.client.untrackReader(r)
	})
	return nil
}

func convertMessage(msg pulsar.Message) *broker.ReceivedMessage {
	return &broker.ReceivedMessage{
		ID:          formatMessageID(msg.ID()),
		Payload:     msg.Payload(),
		Key:         msg.Key(),
		Properties:  msg.Properties(),
		Topic:       msg.Topic(),
		PublishTime: msg.PublishTime(),
	}
}

func formatMessageID(id pulsar.MessageID) broker.MessageID {
	if id == nil {
		return ""
	}
	return broker.MessageID(fmt.Sprintf("%d:%d:%d", id.LedgerID(), id.EntryID(), id.PartitionIdx()))
}

var _ broker.MessagingClient = (*Client)(nil)
