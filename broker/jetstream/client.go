// Package jetstream implements the broker capability interfaces on top
// of NATS JetStream. The explorer hierarchy maps onto JetStream as:
// tenant -> the fixed "default" tenant, namespace -> stream name,
// topic -> subject, subscription -> durable consumer.
package jetstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

const (
	defaultFetchWait   = time.Second
	defaultOpTimeout   = 5 * time.Second
	defaultDrainWait   = 10 * time.Second
	defaultTenant      = "default"
	reconnectWaitShort = 2 * time.Second
)

// Client implements broker.MessagingClient over a NATS connection with
// JetStream. The connection is established lazily on the first
// operation; constructing the client performs no network I/O.
type Client struct {
	url     string
	token   string
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed bool

	producers map[*producer]struct{}
	consumers map[*consumer]struct{}
	readers   map[*reader]struct{}
}

// NewClient creates a JetStream messaging client from cluster config.
func NewClient(cfg broker.ClusterConfig, logger *slog.Logger) (*Client, error) {
	if cfg.ServiceURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Client", "NewClient", "service URL")
	}
	if logger == nil {
		logger = slog.Default().With("component", "jetstream-client", "cluster", cfg.ID)
	}

	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	return &Client{
		url:       cfg.ServiceURL,
		token:     cfg.Auth.Token,
		name:      "streamscope-" + cfg.ID,
		timeout:   timeout,
		logger:    logger,
		producers: make(map[*producer]struct{}),
		consumers: make(map[*consumer]struct{}),
		readers:   make(map[*reader]struct{}),
	}, nil
}

// ensureConnected dials NATS on first use and initializes JetStream.
func (c *Client) ensureConnected(_ context.Context) (jetstream.JetStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.WrapInvalid(
			fmt.Errorf("client is closed"), "Client", "ensureConnected", "check client state")
	}
	if c.js != nil {
		return c.js, nil
	}

	opts := []nats.Option{
		nats.Name(c.name),
		nats.Timeout(c.timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWaitShort),
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "ensureConnected", "connect to NATS")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapUpstream(err, "Client", "ensureConnected", "initialize JetStream")
	}

	c.conn = conn
	c.js = js
	c.logger.Debug("connected to NATS", "url", c.url)
	return js, nil
}

// CreateProducer creates a producer bound to a subject.
func (c *Client) CreateProducer(ctx context.Context, cfg broker.ProducerConfig) (broker.Producer, error) {
	if cfg.Topic == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Client", "CreateProducer", "topic")
	}
	js, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	// Fail now if no stream captures the subject, so the explorer sees
	// topic-not-found at create time rather than on first send.
	if _, err := js.StreamNameBySubject(ctx, cfg.Topic); err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateProducer", "resolve stream for subject")
	}

	handle := &producer{js: js, topic: cfg.Topic, client: c}
	c.mu.Lock()
	c.producers[handle] = struct{}{}
	c.mu.Unlock()
	return handle, nil
}

// CreateConsumer creates or resumes a durable consumer filtered to the
// subject. Subscribe failures propagate; there is no silent retry.
func (c *Client) CreateConsumer(ctx context.Context, cfg broker.ConsumerConfig) (broker.Consumer, error) {
	if cfg.Topic == "" || cfg.SubscriptionName == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Client", "CreateConsumer", "topic and subscription")
	}
	js, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	streamName, err := js.StreamNameBySubject(ctx, cfg.Topic)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateConsumer", "resolve stream for subject")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       sanitizeDurable(cfg.SubscriptionName),
		FilterSubject: cfg.Topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateConsumer", "create durable consumer")
	}

	handle := &consumer{
		inner:        cons,
		stream:       streamName,
		topic:        cfg.Topic,
		subscription: cfg.SubscriptionName,
		client:       c,
	}
	c.mu.Lock()
	c.consumers[handle] = struct{}{}
	c.mu.Unlock()
	return handle, nil
}

// CreateReader opens an ephemeral ordered consumer for sequential reads.
func (c *Client) CreateReader(ctx context.Context, cfg broker.ReaderConfig) (broker.Reader, error) {
	if cfg.Topic == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Client", "CreateReader", "topic")
	}
	js, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	streamName, err := js.StreamNameBySubject(ctx, cfg.Topic)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateReader", "resolve stream for subject")
	}

	deliver := jetstream.DeliverNewPolicy
	if cfg.StartAtEarliest {
		deliver = jetstream.DeliverAllPolicy
	}

	cons, err := js.OrderedConsumer(ctx, streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{cfg.Topic},
		DeliverPolicy:  deliver,
	})
	if err != nil {
		return nil, errors.WrapUpstream(err, "Client", "CreateReader", "create ordered consumer")
	}

	handle := &reader{inner: cons, topic: cfg.Topic, client: c}
	c.mu.Lock()
	c.readers[handle] = struct{}{}
	c.mu.Unlock()
	return handle, nil
}

// Close tears down derived handles first, then drains the connection.
// Individual failures are collected and the teardown continues.
func (c *Client) Close(_ context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.producers = make(map[*producer]struct{})
	c.consumers = make(map[*consumer]struct{})
	c.readers = make(map[*reader]struct{})
	c.mu.Unlock()

	var errs []error
	if conn != nil {
		done := make(chan error, 1)
		go func() { done <- conn.Drain() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(defaultDrainWait):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", defaultDrainWait), "Client", "Close", "drain connection"))
		}
		conn.Close()
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
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

// sanitizeDurable maps a subscription name onto the characters JetStream
// allows in durable names.
func sanitizeDurable(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ':
			return '_'
		}
		return r
	}, name)
}

// fetchWait derives the fetch bound from the context deadline, clamped
// to the default when none is set. Every receive stays bounded.
func fetchWait(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
		return time.Millisecond
	}
	return defaultFetchWait
}

// producer publishes to a subject through JetStream.
type producer struct {
	js     jetstream.JetStream
	topic  string
	client *Client

	closeOnce sync.Once
}

func (p *producer) Topic() string { return p.topic }

func (p *producer) Send(ctx context.Context, msg broker.Message) (broker.MessageID, error) {
	natsMsg := &nats.Msg{
		Subject: p.topic,
		Data:    msg.Payload,
		Header:  nats.Header{},
	}
	if msg.Key != "" {
		natsMsg.Header.Set("Streamscope-Key", msg.Key)
	}
	for k, v := range msg.Properties {
		natsMsg.Header.Set(k, v)
	}

	ack, err := p.js.PublishMsg(ctx, natsMsg)
	if err != nil {
		return "", errors.WrapUpstream(err, "Producer", "Send", "publish to stream")
	}
	return broker.MessageID(fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)), nil
}

func (p *producer) Close(_ context.Context) error {
	p.closeOnce.Do(func() { p.client.untrackProducer(p) })
	return nil
}

// consumer wraps a durable JetStream consumer with one-message fetches.
type consumer struct {
	inner        jetstream.Consumer
	stream       string
	topic        string
	subscription string
	client       *Client

	closeOnce sync.Once
}

func (c *consumer) Topic() string        { return c.topic }
func (c *consumer) Subscription() string { return c.subscription }

func (c *consumer) Receive(ctx context.Context) (*broker.ReceivedMessage, error) {
	batch, err := c.inner.Fetch(1, jetstream.FetchMaxWait(fetchWait(ctx)))
	if err != nil {
		return nil, errors.WrapUpstream(err, "Consumer", "Receive", "fetch message")
	}

	for msg := range batch.Messages() {
		return convertMessage(msg, c.topic), nil
	}
	if err := batch.Error(); err != nil && !stderrors.Is(err, nats.ErrTimeout) {
		return nil, errors.WrapUpstream(err, "Consumer", "Receive", "drain fetch batch")
	}

	// Empty batch: nothing arrived inside the bound.
	return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "Consumer", "Receive", "wait for message")
}

func (c *consumer) Ack(_ context.Context, msg *broker.ReceivedMessage) error {
	native, ok := msg.Native().(jetstream.Msg)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: message was not received by this driver", errors.ErrInvalidArgument),
			"Consumer", "Ack", "resolve native message")
	}
	if err := native.Ack(); err != nil {
		return errors.WrapTransient(err, "Consumer", "Ack", "acknowledge message")
	}
	return nil
}

func (c *consumer) Nack(msg *broker.ReceivedMessage) {
	if native, ok := msg.Native().(jetstream.Msg); ok {
		_ = native.Nak()
	}
}

// Close releases the handle. The durable consumer stays on the stream so
// the subscription can be resumed later, matching explorer semantics.
func (c *consumer) Close(_ context.Context) error {
	c.closeOnce.Do(func() { c.client.untrackConsumer(c) })
	return nil
}

// reader wraps an ordered consumer for bounded browse reads.
type reader struct {
	inner  jetstream.Consumer
	topic  string
	client *Client

	closeOnce sync.Once
}

func (r *reader) Topic() string { return r.topic }

func (r *reader) Next(ctx context.Context) (*broker.ReceivedMessage, error) {
	batch, err := r.inner.Fetch(1, jetstream.FetchMaxWait(fetchWait(ctx)))
	if err != nil {
		return nil, errors.WrapUpstream(err, "Reader", "Next", "fetch message")
	}
	for msg := range batch.Messages() {
		return convertMessage(msg, r.topic), nil
	}
	return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "Reader", "Next", "wait for message")
}

func (r *reader) HasNext() bool {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	info, err := r.inner.Info(ctx)
	if err != nil {
		return false
	}
	return info.NumPending > 0
}

func (r *reader) Close(_ context.Context) error {
	r.closeOnce.Do(func() { r.client.untrackReader(r) })
	return nil
}

func convertMessage(msg jetstream.Msg, topic string) *broker.ReceivedMessage {
	received := &broker.ReceivedMessage{
		Payload: msg.Data(),
		Topic:   topic,
	}

	if meta, err := msg.Metadata(); err == nil {
		received.ID = broker.MessageID(fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream))
		received.PublishTime = meta.Timestamp
	}

	if header := msg.Headers(); header != nil {
		received.Key = header.Get("Streamscope-Key")
		props := make(map[string]string)
		for k := range header {
			if k == "Streamscope-Key" {
				continue
			}
			props[k] = header.Get(k)
		}
		if len(props) > 0 {
			received.Properties = props
		}
	}

	return received.WithNative(msg)
}

var _ broker.MessagingClient = (*Client)(nil)
