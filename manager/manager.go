// Package manager is the single owned facade over cluster connections,
// resource handles and streaming consumers. The gateway translates
// requests into calls on a Manager; nothing else touches the
// registries directly.
package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/broker/jetstream"
	"github.com/c360/streamscope/broker/pulsar"
	"github.com/c360/streamscope/cluster"
	"github.com/c360/streamscope/config"
	"github.com/c360/streamscope/errors"
	"github.com/c360/streamscope/metric"
	"github.com/c360/streamscope/pkg/retry"
	"github.com/c360/streamscope/resource"
	"github.com/c360/streamscope/stream"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics wires the core metrics into the manager and its
// supervisor.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithDialer replaces the driver factory, letting tests connect to
// in-memory brokers.
func WithDialer(dialer cluster.Dialer) Option {
	return func(m *Manager) {
		if dialer != nil {
			m.dialer = dialer
		}
	}
}

// Manager owns the registries and the streaming supervisor.
type Manager struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	cfg     *config.Config
	dialer  cluster.Dialer

	clusters   *cluster.Registry
	resources  *resource.Registry
	supervisor *stream.Supervisor

	// pending holds received-but-unacknowledged messages per one-shot
	// consumer, so an ack arriving over the wire can be resolved back
	// to the driver-native handle.
	pendingMu sync.Mutex
	pending   map[string]map[broker.MessageID]*broker.ReceivedMessage

	closed atomic.Bool
}

// New creates a Manager delivering streaming messages to sink.
func New(cfg *config.Config, sink stream.Sink, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}

	m := &Manager{
		logger:  slog.Default().With("component", "manager"),
		cfg:     cfg,
		dialer:  Dial,
		pending: make(map[string]map[broker.MessageID]*broker.ReceivedMessage),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.clusters = cluster.NewRegistry(m.dialer, m.logger.With("registry", "cluster"))
	m.resources = resource.NewRegistry(m.logger.With("registry", "resource"))

	streamOpts := []stream.Option{
		stream.WithLogger(m.logger.With("registry", "stream")),
		stream.WithConfig(stream.Config{
			ReceiveTimeout: cfg.Stream.ReceiveTimeout,
			PausePoll:      cfg.Stream.PausePoll,
			AckTimeout:     cfg.Stream.AckTimeout,
			Backoff:        backoffConfig(cfg),
		}),
		stream.WithIDGenerator(m.resources.NextConsumerID),
	}
	if m.metrics != nil {
		streamOpts = append(streamOpts, stream.WithMetrics(m.metrics))
	}
	m.supervisor = stream.NewSupervisor(sink, streamOpts...)

	return m
}

// Dial is the production driver factory: it builds the admin and
// messaging clients for a cluster config without any network I/O.
func Dial(cfg broker.ClusterConfig) (broker.AdminClient, broker.MessagingClient, error) {
	logger := slog.Default().With("cluster", cfg.ID)
	switch cfg.Driver {
	case broker.DriverPulsar:
		client, err := pulsar.NewClient(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		admin, err := pulsar.NewAdmin(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return admin, client, nil
	case broker.DriverJetStream:
		client, err := jetstream.NewClient(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return jetstream.NewAdmin(client, logger), client, nil
	default:
		return nil, nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown driver %q", errors.ErrInvalidArgument, cfg.Driver),
			"Manager", "Dial", "select driver")
	}
}

func (m *Manager) guard(method string) error {
	if m.closed.Load() {
		return errors.Wrap(errors.ErrShuttingDown, "Manager", method, "accept request")
	}
	return nil
}

// --- cluster operations ---

// Connect registers a cluster connection. No network call happens
// here; drivers connect lazily on first use.
func (m *Manager) Connect(cfg broker.ClusterConfig) (cluster.Info, error) {
	if err := m.guard("Connect"); err != nil {
		return cluster.Info{}, err
	}
	info, err := m.clusters.Connect(cfg)
	if err != nil {
		return cluster.Info{}, err
	}
	if m.metrics != nil {
		m.metrics.ClusterConnected()
	}
	return info, nil
}

// Disconnect closes a cluster's messaging client, which cascades to
// every producer, consumer and reader it created, then removes it.
func (m *Manager) Disconnect(ctx context.Context, clusterID string) error {
	if err := m.guard("Disconnect"); err != nil {
		return err
	}
	if err := m.clusters.Disconnect(ctx, clusterID); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.ClusterDisconnected()
	}
	return nil
}

// Clusters lists the registered cluster connections.
func (m *Manager) Clusters() []cluster.Info {
	return m.clusters.List()
}

// --- admin operations ---

// ListTenants returns the tenants of a cluster.
func (m *Manager) ListTenants(ctx context.Context, clusterID string) ([]string, error) {
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return nil, err
	}
	return conn.Admin.ListTenants(ctx)
}

// ListNamespaces returns the namespaces of a tenant.
func (m *Manager) ListNamespaces(ctx context.Context, clusterID, tenant string) ([]string, error) {
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return nil, err
	}
	return conn.Admin.ListNamespaces(ctx, tenant)
}

// ListTopics returns the topics of a namespace.
func (m *Manager) ListTopics(ctx context.Context, clusterID, tenant, namespace string) ([]string, error) {
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return nil, err
	}
	return conn.Admin.ListTopics(ctx, tenant, namespace)
}

// TopicStats returns traffic and backlog statistics for a topic.
func (m *Manager) TopicStats(ctx context.Context, clusterID, topic string) (*broker.TopicStats, error) {
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return nil, err
	}
	return conn.Admin.TopicStats(ctx, topic)
}

// ListSubscriptions returns the subscription names on a topic.
func (m *Manager) ListSubscriptions(ctx context.Context, clusterID, topic string) ([]string, error) {
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return nil, err
	}
	return conn.Admin.ListSubscriptions(ctx, topic)
}

// --- producer operations ---

// CreateProducer creates a producer on a cluster and returns its
// generated handle id.
func (m *Manager) CreateProducer(ctx context.Context, clusterID string, cfg broker.ProducerConfig) (string, error) {
	if err := m.guard("CreateProducer"); err != nil {
		return "", err
	}
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return "", err
	}
	p, err := conn.Messaging.CreateProducer(ctx, cfg)
	if err != nil {
		return "", err
	}
	id := m.resources.AddProducer(p)
	m.logger.Info("producer created", "id", id, "cluster", clusterID, "topic", cfg.Topic)
	return id, nil
}

// Send publishes a message through an existing producer handle.
func (m *Manager) Send(ctx context.Context, producerID string, msg broker.Message) (broker.MessageID, error) {
	p, err := m.resources.Producer(producerID)
	if err != nil {
		return "", err
	}
	msgID, err := p.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	if m.metrics != nil {
		m.metrics.MessageSent(p.Topic())
	}
	return msgID, nil
}

// CloseProducer closes and removes a producer handle.
func (m *Manager) CloseProducer(ctx context.Context, producerID string) error {
	return m.resources.CloseProducer(ctx, producerID)
}

// --- one-shot consumer operations ---

// CreateConsumer creates a consumer handle driven by explicit Receive
// calls, as opposed to a streaming consumer.
func (m *Manager) CreateConsumer(ctx context.Context, clusterID string, cfg broker.ConsumerConfig) (string, error) {
	if err := m.guard("CreateConsumer"); err != nil {
		return "", err
	}
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return "", err
	}
	c, err := conn.Messaging.CreateConsumer(ctx, cfg)
	if err != nil {
		return "", err
	}
	id := m.resources.AddConsumer(c)
	m.logger.Info("consumer created",
		"id", id, "cluster", clusterID, "topic", cfg.Topic, "subscription", cfg.SubscriptionName)
	return id, nil
}

// Receive waits up to timeout for one message on a one-shot consumer.
// The message stays pending until Ack resolves it.
func (m *Manager) Receive(ctx context.Context, consumerID string, timeout time.Duration) (*broker.ReceivedMessage, error) {
	c, err := m.resources.Consumer(consumerID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = m.cfg.Stream.ReceiveTimeout
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := c.Receive(rctx)
	if err != nil {
		return nil, err
	}

	m.pendingMu.Lock()
	if m.pending[consumerID] == nil {
		m.pending[consumerID] = make(map[broker.MessageID]*broker.ReceivedMessage)
	}
	m.pending[consumerID][msg.ID] = msg
	m.pendingMu.Unlock()

	return msg, nil
}

// Ack acknowledges a previously received message by id.
func (m *Manager) Ack(ctx context.Context, consumerID string, messageID broker.MessageID) error {
	c, err := m.resources.Consumer(consumerID)
	if err != nil {
		return err
	}

	m.pendingMu.Lock()
	msg, ok := m.pending[consumerID][messageID]
	if ok {
		delete(m.pending[consumerID], messageID)
	}
	m.pendingMu.Unlock()

	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: message %s is not pending on consumer %s", errors.ErrInvalidArgument, messageID, consumerID),
			"Manager", "Ack", "resolve pending message")
	}
	return c.Ack(ctx, msg)
}

// CloseConsumer closes and removes a one-shot consumer handle.
func (m *Manager) CloseConsumer(ctx context.Context, consumerID string) error {
	m.pendingMu.Lock()
	delete(m.pending, consumerID)
	m.pendingMu.Unlock()
	return m.resources.CloseConsumer(ctx, consumerID)
}

// --- streaming operations ---

// StartConsumer creates a consumer and hands it to the supervisor,
// which streams received messages to the sink until stopped.
func (m *Manager) StartConsumer(ctx context.Context, clusterID string, cfg broker.ConsumerConfig) (string, error) {
	if err := m.guard("StartConsumer"); err != nil {
		return "", err
	}
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return "", err
	}
	c, err := conn.Messaging.CreateConsumer(ctx, cfg)
	if err != nil {
		return "", err
	}
	id := m.supervisor.Start(c)

	// Shutdown may have begun between the guard check and the
	// supervisor insert. If so the StopAll snapshot can miss this
	// entry; stop it here so no loop outlives Shutdown.
	if m.closed.Load() {
		if err := m.supervisor.Stop(ctx, id); err != nil && !errors.IsNotFound(err) {
			m.logger.Warn("stop of consumer started during shutdown failed", "id", id, "error", err)
		}
		return "", errors.Wrap(errors.ErrShuttingDown, "Manager", "StartConsumer", "accept request")
	}

	m.logger.Info("streaming consumer started",
		"id", id, "cluster", clusterID, "topic", cfg.Topic, "subscription", cfg.SubscriptionName)
	return id, nil
}

// PauseConsumer suspends delivery for a streaming consumer.
func (m *Manager) PauseConsumer(consumerID string) error {
	return m.supervisor.Pause(consumerID)
}

// ResumeConsumer resumes delivery for a paused streaming consumer.
func (m *Manager) ResumeConsumer(consumerID string) error {
	return m.supervisor.Resume(consumerID)
}

// StopConsumer stops a streaming consumer: it joins the delivery loop,
// closes the native consumer and removes the entry.
func (m *Manager) StopConsumer(ctx context.Context, consumerID string) error {
	return m.supervisor.Stop(ctx, consumerID)
}

// Streams lists the active streaming consumers.
func (m *Manager) Streams() []stream.Info {
	return m.supervisor.List()
}

// --- message operations ---

// Publish sends one message to a topic through a throwaway producer.
func (m *Manager) Publish(ctx context.Context, clusterID, topic string, msg broker.Message) (broker.MessageID, error) {
	if err := m.guard("Publish"); err != nil {
		return "", err
	}
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return "", err
	}
	p, err := conn.Messaging.CreateProducer(ctx, broker.ProducerConfig{Topic: topic})
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := p.Close(ctx); cerr != nil {
			m.logger.Warn("publish producer close failed", "topic", topic, "error", cerr)
		}
	}()

	msgID, err := p.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	if m.metrics != nil {
		m.metrics.MessageSent(topic)
	}
	return msgID, nil
}

// Browse peeks at up to limit retained messages on a topic without
// consuming them, using a reader that is always closed before return.
func (m *Manager) Browse(ctx context.Context, clusterID, topic string, limit int) ([]*broker.ReceivedMessage, error) {
	if err := m.guard("Browse"); err != nil {
		return nil, err
	}
	conn, err := m.clusters.Get(clusterID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > m.cfg.Browse.Limit {
		limit = m.cfg.Browse.Limit
	}

	r, err := conn.Messaging.CreateReader(ctx, broker.ReaderConfig{
		Topic:           topic,
		StartAtEarliest: true,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := r.Close(ctx); cerr != nil {
			m.logger.Warn("browse reader close failed", "topic", topic, "error", cerr)
		}
	}()

	bctx, cancel := context.WithTimeout(ctx, m.cfg.Browse.Timeout)
	defer cancel()

	var msgs []*broker.ReceivedMessage
	for len(msgs) < limit && r.HasNext() {
		msg, err := r.Next(bctx)
		if err != nil {
			if errors.IsTransient(err) {
				break
			}
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// --- lifecycle ---

// Health is a point-in-time snapshot of what the manager owns.
type Health struct {
	Clusters           int  `json:"clusters"`
	Producers          int  `json:"producers"`
	Consumers          int  `json:"consumers"`
	Readers            int  `json:"readers"`
	StreamingConsumers int  `json:"streamingConsumers"`
	ShuttingDown       bool `json:"shuttingDown"`
}

// Healthz reports the current resource counts.
func (m *Manager) Healthz() Health {
	p, c, r := m.resources.Counts()
	return Health{
		Clusters:           len(m.clusters.List()),
		Producers:          p,
		Consumers:          c,
		Readers:            r,
		StreamingConsumers: m.supervisor.Count(),
		ShuttingDown:       m.closed.Load(),
	}
}

// Shutdown tears everything down in dependency order: producers first,
// then one-shot consumers and readers, then the streaming loops are
// signalled and joined, and finally the cluster connections close.
// Failures are collected; teardown always runs to completion.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("shutting down")

	var errs []error
	if err := m.resources.CloseAll(ctx, resource.KindProducer); err != nil {
		errs = append(errs, err)
	}
	if err := m.resources.CloseAll(ctx, resource.KindConsumer); err != nil {
		errs = append(errs, err)
	}
	if err := m.resources.CloseAll(ctx, resource.KindReader); err != nil {
		errs = append(errs, err)
	}
	if err := m.supervisor.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.clusters.CloseAll(ctx); err != nil {
		errs = append(errs, err)
	}

	m.pendingMu.Lock()
	m.pending = make(map[string]map[broker.MessageID]*broker.ReceivedMessage)
	m.pendingMu.Unlock()

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	m.logger.Info("shutdown complete")
	return nil
}

func backoffConfig(cfg *config.Config) retry.Config {
	return retry.Config{
		InitialDelay: cfg.Stream.BackoffInitial,
		MaxDelay:     cfg.Stream.BackoffMax,
		Multiplier:   2.0,
	}
}
