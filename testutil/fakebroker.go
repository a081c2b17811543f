// Package testutil provides in-memory fakes of the broker capability
// interfaces for testing the registries, the streaming supervisor and
// the gateway without a real cluster. All fakes are thread-safe and
// support failure injection.
package testutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

// FakeAdmin is a scriptable broker.AdminClient.
type FakeAdmin struct {
	mu            sync.Mutex
	Tenants       []string
	Namespaces    map[string][]string          // tenant -> namespaces
	Topics        map[string][]string          // "tenant/ns" -> topics
	Stats         map[string]*broker.TopicStats
	Subscriptions map[string][]string // topic -> subscriptions
	Err           error               // returned by every call when set
}

// NewFakeAdmin returns an admin fake pre-populated with one tenant.
func NewFakeAdmin() *FakeAdmin {
	return &FakeAdmin{
		Tenants:       []string{"public"},
		Namespaces:    map[string][]string{"public": {"public/default"}},
		Topics:        map[string][]string{"public/default": {}},
		Stats:         map[string]*broker.TopicStats{},
		Subscriptions: map[string][]string{},
	}
}

func (f *FakeAdmin) ListTenants(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]string(nil), f.Tenants...), nil
}

func (f *FakeAdmin) ListNamespaces(_ context.Context, tenant string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]string(nil), f.Namespaces[tenant]...), nil
}

func (f *FakeAdmin) ListTopics(_ context.Context, tenant, namespace string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]string(nil), f.Topics[tenant+"/"+namespace]...), nil
}

func (f *FakeAdmin) TopicStats(_ context.Context, topic string) (*broker.TopicStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if stats, ok := f.Stats[topic]; ok {
		return stats, nil
	}
	return nil, errors.WrapUpstream(fmt.Errorf("topic %s not found", topic), "FakeAdmin", "TopicStats", "lookup")
}

func (f *FakeAdmin) ListSubscriptions(_ context.Context, topic string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]string(nil), f.Subscriptions[topic]...), nil
}

// FakeMessagingClient is an in-memory broker.MessagingClient. Messages
// published to a topic are fanned out to that topic's consumers and
// retained for readers.
type FakeMessagingClient struct {
	mu        sync.Mutex
	topics    map[string]*fakeTopic
	producers []*FakeProducer
	consumers []*FakeConsumer
	readers   []*FakeReader
	closed    bool

	// Failure injection
	CreateProducerErr error
	CreateConsumerErr error
	CreateReaderErr   error
	CloseErr          error
}

type fakeTopic struct {
	retained  []*broker.ReceivedMessage
	consumers []*FakeConsumer
	seq       int64
}

// NewFakeMessagingClient creates an empty in-memory messaging client.
func NewFakeMessagingClient() *FakeMessagingClient {
	return &FakeMessagingClient{topics: make(map[string]*fakeTopic)}
}

func (f *FakeMessagingClient) topic(name string) *fakeTopic {
	t, ok := f.topics[name]
	if !ok {
		t = &fakeTopic{}
		f.topics[name] = t
	}
	return t
}

// Publish injects a message directly, as if an external producer sent it.
func (f *FakeMessagingClient) Publish(topic string, payload []byte) broker.MessageID {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.topic(topic)
	t.seq++
	msg := &broker.ReceivedMessage{
		ID:          broker.MessageID(fmt.Sprintf("%s:%d", topic, t.seq)),
		Payload:     payload,
		Topic:       topic,
		PublishTime: time.Now(),
	}
	t.retained = append(t.retained, msg)
	for _, c := range t.consumers {
		c.enqueue(msg)
	}
	return msg.ID
}

func (f *FakeMessagingClient) CreateProducer(_ context.Context, cfg broker.ProducerConfig) (broker.Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateProducerErr != nil {
		return nil, f.CreateProducerErr
	}
	if f.closed {
		return nil, stderrors.New("client closed")
	}
	p := &FakeProducer{client: f, topic: cfg.Topic}
	f.producers = append(f.producers, p)
	return p, nil
}

func (f *FakeMessagingClient) CreateConsumer(_ context.Context, cfg broker.ConsumerConfig) (broker.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateConsumerErr != nil {
		return nil, f.CreateConsumerErr
	}
	if f.closed {
		return nil, stderrors.New("client closed")
	}
	c := &FakeConsumer{
		client:       f,
		topic:        cfg.Topic,
		subscription: cfg.SubscriptionName,
		queue:        make(chan *broker.ReceivedMessage, 1024),
	}
	f.topic(cfg.Topic).consumers = append(f.topic(cfg.Topic).consumers, c)
	f.consumers = append(f.consumers, c)
	return c, nil
}

func (f *FakeMessagingClient) CreateReader(_ context.Context, cfg broker.ReaderConfig) (broker.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateReaderErr != nil {
		return nil, f.CreateReaderErr
	}
	if f.closed {
		return nil, stderrors.New("client closed")
	}
	r := &FakeReader{client: f, topic: cfg.Topic}
	if cfg.StartAtEarliest {
		r.pos = 0
	} else {
		r.pos = len(f.topic(cfg.Topic).retained)
	}
	f.readers = append(f.readers, r)
	return r, nil
}

// Close closes all derived resources, then marks the client closed.
func (f *FakeMessagingClient) Close(ctx context.Context) error {
	f.mu.Lock()
	producers := append([]*FakeProducer(nil), f.producers...)
	consumers := append([]*FakeConsumer(nil), f.consumers...)
	readers := append([]*FakeReader(nil), f.readers...)
	closeErr := f.CloseErr
	f.closed = true
	f.mu.Unlock()

	for _, p := range producers {
		_ = p.Close(ctx)
	}
	for _, c := range consumers {
		_ = c.Close(ctx)
	}
	for _, r := range readers {
		_ = r.Close(ctx)
	}
	return closeErr
}

// Closed reports whether Close was called.
func (f *FakeMessagingClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// OpenHandles returns how many derived handles are still open.
func (f *FakeMessagingClient) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, p := range f.producers {
		if !p.closed.load() {
			open++
		}
	}
	for _, c := range f.consumers {
		if !c.closed.load() {
			open++
		}
	}
	for _, r := range f.readers {
		if !r.closed.load() {
			open++
		}
	}
	return open
}

// closedFlag is a tiny mutex-guarded bool shared by the fake handles.
type closedFlag struct {
	mu sync.Mutex
	v  bool
}

func (c *closedFlag) load() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *closedFlag) store(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = v
}

// FakeProducer records sends into the client's topic state.
type FakeProducer struct {
	client *FakeMessagingClient
	topic  string
	closed closedFlag

	SendErr error
	Sent    []broker.Message
	sentMu  sync.Mutex
}

func (p *FakeProducer) Topic() string { return p.topic }

func (p *FakeProducer) Send(_ context.Context, msg broker.Message) (broker.MessageID, error) {
	if p.closed.load() {
		return "", stderrors.New("producer closed")
	}
	if p.SendErr != nil {
		return "", p.SendErr
	}
	p.sentMu.Lock()
	p.Sent = append(p.Sent, msg)
	p.sentMu.Unlock()
	return p.client.Publish(p.topic, msg.Payload), nil
}

func (p *FakeProducer) Close(context.Context) error {
	p.closed.store(true)
	return nil
}

// FakeConsumer delivers published messages through a buffered queue and
// records acks and nacks for assertions.
type FakeConsumer struct {
	client       *FakeMessagingClient
	topic        string
	subscription string
	queue        chan *broker.ReceivedMessage
	closed       closedFlag

	ReceiveErr error // returned once per Receive call when set
	AckErr     error

	ackMu  sync.Mutex
	Acked  []broker.MessageID
	Nacked []broker.MessageID
}

func (c *FakeConsumer) enqueue(msg *broker.ReceivedMessage) {
	copied := *msg
	select {
	case c.queue <- (&copied).WithNative(msg.ID):
	default:
	}
}

func (c *FakeConsumer) Topic() string        { return c.topic }
func (c *FakeConsumer) Subscription() string { return c.subscription }

func (c *FakeConsumer) Receive(ctx context.Context) (*broker.ReceivedMessage, error) {
	if c.closed.load() {
		return nil, stderrors.New("consumer closed")
	}
	if c.ReceiveErr != nil {
		return nil, c.ReceiveErr
	}
	select {
	case msg := <-c.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "FakeConsumer", "Receive", "wait for message")
	}
}

func (c *FakeConsumer) Ack(_ context.Context, msg *broker.ReceivedMessage) error {
	if c.AckErr != nil {
		return c.AckErr
	}
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	c.Acked = append(c.Acked, msg.ID)
	return nil
}

func (c *FakeConsumer) Nack(msg *broker.ReceivedMessage) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	c.Nacked = append(c.Nacked, msg.ID)
}

func (c *FakeConsumer) Close(context.Context) error {
	c.closed.store(true)
	return nil
}

// AckedIDs returns a snapshot of acknowledged message ids.
func (c *FakeConsumer) AckedIDs() []broker.MessageID {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return append([]broker.MessageID(nil), c.Acked...)
}

// NackedIDs returns a snapshot of negatively acknowledged message ids.
func (c *FakeConsumer) NackedIDs() []broker.MessageID {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return append([]broker.MessageID(nil), c.Nacked...)
}

// FakeReader iterates the retained messages of a topic.
type FakeReader struct {
	client *FakeMessagingClient
	topic  string
	pos    int
	closed closedFlag

	NextErr error
}

func (r *FakeReader) Topic() string { return r.topic }

func (r *FakeReader) Next(ctx context.Context) (*broker.ReceivedMessage, error) {
	if r.closed.load() {
		return nil, stderrors.New("reader closed")
	}
	if r.NextErr != nil {
		return nil, r.NextErr
	}

	r.client.mu.Lock()
	retained := r.client.topic(r.topic).retained
	if r.pos < len(retained) {
		msg := retained[r.pos]
		r.pos++
		r.client.mu.Unlock()
		return msg, nil
	}
	r.client.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "FakeReader", "Next", "wait for message")
	case <-time.After(10 * time.Millisecond):
		return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "FakeReader", "Next", "wait for message")
	}
}

func (r *FakeReader) HasNext() bool {
	r.client.mu.Lock()
	defer r.client.mu.Unlock()
	return r.pos < len(r.client.topic(r.topic).retained)
}

func (r *FakeReader) Close(context.Context) error {
	r.closed.store(true)
	return nil
}

var (
	_ broker.AdminClient     = (*FakeAdmin)(nil)
	_ broker.MessagingClient = (*FakeMessagingClient)(nil)
	_ broker.Producer        = (*FakeProducer)(nil)
	_ broker.Consumer        = (*FakeConsumer)(nil)
	_ broker.Reader          = (*FakeReader)(nil)
)
