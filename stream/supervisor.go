// Package stream runs the long-lived delivery loops behind streaming
// consumers. Each consumer gets one goroutine that receives with a
// bounded timeout, pushes messages to the sink and acknowledges them,
// until a cooperative stop flag is observed. The loop never cancels an
// in-flight native call; stop latency is bounded by the receive timeout
// plus the pause poll interval.
package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
	"github.com/c360/streamscope/pkg/retry"
)

// Event is the wire shape pushed to the sink for every delivered
// message. The channel is shared across all streaming consumers; the
// receiver filters by ConsumerID.
type Event struct {
	ConsumerID string                  `json:"consumerId"`
	Message    *broker.ReceivedMessage `json:"message"`
}

// Sink receives delivered messages. Deliver must be fire-and-forget:
// it is called from every delivery loop and must never block.
type Sink interface {
	Deliver(event Event)
}

// Metrics receives lifecycle and delivery observations. A nil Metrics
// on the supervisor is replaced with a no-op implementation.
type Metrics interface {
	ConsumerStarted()
	ConsumerStopped()
	MessageDelivered(topic string)
	ReceiveFailure(topic string)
	AckFailure(topic string)
}

type noopMetrics struct{}

func (noopMetrics) ConsumerStarted()        {}
func (noopMetrics) ConsumerStopped()        {}
func (noopMetrics) MessageDelivered(string) {}
func (noopMetrics) ReceiveFailure(string)   {}
func (noopMetrics) AckFailure(string)       {}

// State of a streaming consumer. Running and Paused are reversible;
// Stopping is terminal and ends with removal from the supervisor.
type State string

const (
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// Config bounds the delivery loop's waits.
type Config struct {
	// ReceiveTimeout bounds each receive call. A timeout is not an
	// error; it just lets the loop re-check its flags.
	ReceiveTimeout time.Duration

	// PausePoll is how often a paused loop re-checks its flags.
	PausePoll time.Duration

	// AckTimeout bounds each acknowledge call.
	AckTimeout time.Duration

	// Backoff shapes the delay after a transient receive or ack
	// failure. The attempt counter resets on the next success.
	Backoff retry.Config
}

// DefaultConfig returns the production loop bounds.
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout: 1 * time.Second,
		PausePoll:      100 * time.Millisecond,
		AckTimeout:     5 * time.Second,
		Backoff: retry.Config{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = def.ReceiveTimeout
	}
	if c.PausePoll <= 0 {
		c.PausePoll = def.PausePoll
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Info is a snapshot of one streaming consumer.
type Info struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Subscription string    `json:"subscription"`
	State        State     `json:"state"`
	StartedAt    time.Time `json:"startedAt"`
	Delivered    int64     `json:"delivered"`
}

type entry struct {
	id           string
	topic        string
	subscription string
	consumer     broker.Consumer
	startedAt    time.Time

	paused        atomic.Bool
	stopRequested atomic.Bool
	stopping      atomic.Bool // guards teardown so it runs once
	delivered     atomic.Int64

	done chan struct{}
}

func (e *entry) state() State {
	switch {
	case e.stopping.Load():
		return StateStopping
	case e.paused.Load():
		return StatePaused
	default:
		return StateRunning
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the delivery metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(s *Supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithConfig overrides the loop bounds.
func WithConfig(cfg Config) Option {
	return func(s *Supervisor) { s.cfg = cfg.normalize() }
}

// WithIDGenerator replaces the consumer id source, letting streaming
// ids share a counter with one-shot consumer handles.
func WithIDGenerator(gen func() string) Option {
	return func(s *Supervisor) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// Supervisor owns one delivery loop per streaming consumer, keyed by
// the consumer's generated id.
type Supervisor struct {
	logger  *slog.Logger
	sink    Sink
	metrics Metrics
	cfg     Config
	newID   func() string

	mu      sync.Mutex
	entries map[string]*entry
	counter atomic.Int64
}

// NewSupervisor creates a supervisor delivering to sink. A nil sink is
// tolerated: received messages are negatively acknowledged instead of
// delivered, so nothing is silently lost.
func NewSupervisor(sink Sink, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:  slog.Default().With("component", "stream-supervisor"),
		sink:    sink,
		metrics: noopMetrics{},
		cfg:     DefaultConfig(),
		entries: make(map[string]*entry),
	}
	s.newID = func() string {
		return fmt.Sprintf("consumer_%d", s.counter.Add(1))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers consumer and launches its delivery loop, returning
// the generated id. The loop starts in the Running state.
func (s *Supervisor) Start(consumer broker.Consumer) string {
	e := &entry{
		id:           s.newID(),
		topic:        consumer.Topic(),
		subscription: consumer.Subscription(),
		consumer:     consumer,
		startedAt:    time.Now().UTC(),
		done:         make(chan struct{}),
	}

	s.mu.Lock()
	s.entries[e.id] = e
	s.mu.Unlock()

	s.metrics.ConsumerStarted()
	s.logger.Info("streaming consumer started",
		"id", e.id, "topic", e.topic, "subscription", e.subscription)

	go s.run(e)
	return e.id
}

// Pause stops new receive calls for the consumer. A receive already in
// flight may still deliver one message after Pause returns.
func (s *Supervisor) Pause(id string) error {
	e, err := s.lookup(id, "Pause")
	if err != nil {
		return err
	}
	e.paused.Store(true)
	s.logger.Info("streaming consumer paused", "id", id)
	return nil
}

// Resume lifts a pause. Delivery continues within one poll interval.
func (s *Supervisor) Resume(id string) error {
	e, err := s.lookup(id, "Resume")
	if err != nil {
		return err
	}
	e.paused.Store(false)
	s.logger.Info("streaming consumer resumed", "id", id)
	return nil
}

// Stop requests the loop to exit, joins it, closes the native consumer
// and removes the entry. The join is mandatory: the native consumer
// must not be closed while a receive is outstanding. A second Stop on
// the same id returns NotFound once the first has removed the entry.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	e, err := s.lookup(id, "Stop")
	if err != nil {
		return err
	}

	if !e.stopping.CompareAndSwap(false, true) {
		// A concurrent Stop owns the teardown; wait it out.
		select {
		case <-e.done:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "Supervisor", "Stop", "wait for concurrent stop of "+id)
		}
		return errors.WrapNotFound(errors.ErrStreamNotFound, "Supervisor", "Stop", "lookup "+id)
	}

	e.stopRequested.Store(true)

	select {
	case <-e.done:
	case <-ctx.Done():
		// The loop still exits on its own within one receive timeout;
		// finish the close and removal off this call path.
		go func() {
			<-e.done
			s.finalize(context.Background(), e)
		}()
		return errors.Wrap(ctx.Err(), "Supervisor", "Stop", "join loop for "+id)
	}

	return s.finalize(ctx, e)
}

// StopAll signals every loop, then joins and tears each one down. Flags
// are set up front so the loops exit in parallel and the total wait is
// bounded by the slowest single loop.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	s.mu.Unlock()

	for _, e := range snapshot {
		if e.stopping.CompareAndSwap(false, true) {
			e.stopRequested.Store(true)
		}
	}

	var errs []error
	for _, e := range snapshot {
		select {
		case <-e.done:
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Supervisor", "StopAll", "join loop for "+e.id))
			continue
		}
		if err := s.finalize(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
}

// List snapshots every active streaming consumer.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		infos = append(infos, Info{
			ID:           e.id,
			Topic:        e.topic,
			Subscription: e.subscription,
			State:        e.state(),
			StartedAt:    e.startedAt,
			Delivered:    e.delivered.Load(),
		})
	}
	return infos
}

// Count returns the number of active streaming consumers.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Supervisor) lookup(id, method string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrStreamNotFound, "Supervisor", method, "lookup "+id)
	}
	return e, nil
}

// finalize closes the native consumer and removes the entry. The entry
// is removed even when the native close fails.
func (s *Supervisor) finalize(ctx context.Context, e *entry) error {
	closeErr := e.consumer.Close(ctx)

	s.mu.Lock()
	delete(s.entries, e.id)
	s.mu.Unlock()

	s.metrics.ConsumerStopped()
	s.logger.Info("streaming consumer stopped",
		"id", e.id, "topic", e.topic, "delivered", e.delivered.Load())

	if closeErr != nil {
		return errors.Wrap(closeErr, "Supervisor", "Stop", "close consumer "+e.id)
	}
	return nil
}

// run is the delivery loop. At most one receive is in flight per
// consumer, messages reach the sink in receive order, and every error
// is transient: nothing here is ever fatal to the process or to other
// loops.
func (s *Supervisor) run(e *entry) {
	defer close(e.done)

	attempt := 0
	for {
		if e.stopRequested.Load() {
			return
		}
		if e.paused.Load() {
			if s.sleep(e, s.cfg.PausePoll) {
				return
			}
			continue
		}

		rctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReceiveTimeout)
		msg, err := e.consumer.Receive(rctx)
		cancel()

		if err != nil {
			if stderrors.Is(err, errors.ErrReceiveTimeout) {
				// Not an error: the bound exists so stop requests are
				// observed promptly while idle.
				continue
			}
			attempt++
			s.metrics.ReceiveFailure(e.topic)
			s.logger.Warn("receive failed",
				"id", e.id, "topic", e.topic, "attempt", attempt, "error", err)
			if s.sleep(e, retry.Delay(s.cfg.Backoff, attempt)) {
				return
			}
			continue
		}

		if err := s.deliver(e, msg); err != nil {
			attempt++
			s.metrics.AckFailure(e.topic)
			s.logger.Warn("acknowledge failed",
				"id", e.id, "topic", e.topic, "attempt", attempt, "error", err)
			if s.sleep(e, retry.Delay(s.cfg.Backoff, attempt)) {
				return
			}
			continue
		}
		attempt = 0
	}
}

// deliver pushes one message to the sink and acknowledges it. If the
// loop was asked to stop while the receive was in flight, or there is
// no sink, the message is negatively acknowledged instead so the broker
// redelivers it quickly rather than waiting out an ack timeout.
func (s *Supervisor) deliver(e *entry, msg *broker.ReceivedMessage) error {
	if e.stopRequested.Load() || s.sink == nil {
		e.consumer.Nack(msg)
		return nil
	}

	s.sink.Deliver(Event{ConsumerID: e.id, Message: msg})
	e.delivered.Add(1)
	s.metrics.MessageDelivered(e.topic)

	actx, cancel := context.WithTimeout(context.Background(), s.cfg.AckTimeout)
	defer cancel()
	return e.consumer.Ack(actx, msg)
}

// sleep waits for d in pause-poll slices so a stop request never waits
// out a full backoff. Reports whether a stop was requested.
func (s *Supervisor) sleep(e *entry, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if e.stopRequested.Load() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining > s.cfg.PausePoll {
			remaining = s.cfg.PausePoll
		}
		time.Sleep(remaining)
	}
}
