package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
	"github.com/c360/streamscope/pkg/retry"
	"github.com/c360/streamscope/testutil"
)

// captureSink records delivered events in order.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Deliver(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// scriptedConsumer returns a fixed sequence of receive results and lets
// tests fail acknowledges a set number of times.
type scriptedConsumer struct {
	mu       sync.Mutex
	results  []scriptedResult
	pos      int
	ackFails int
	acked    []broker.MessageID
	nacked   []broker.MessageID
	closed   bool
}

type scriptedResult struct {
	msg *broker.ReceivedMessage
	err error
}

func (s *scriptedConsumer) Topic() string        { return "scripted" }
func (s *scriptedConsumer) Subscription() string { return "sub" }

func (s *scriptedConsumer) Receive(ctx context.Context) (*broker.ReceivedMessage, error) {
	s.mu.Lock()
	if s.pos < len(s.results) {
		r := s.results[s.pos]
		s.pos++
		s.mu.Unlock()
		return r.msg, r.err
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, errors.WrapTransient(errors.ErrReceiveTimeout, "scriptedConsumer", "Receive", "wait for message")
}

func (s *scriptedConsumer) Ack(_ context.Context, msg *broker.ReceivedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackFails > 0 {
		s.ackFails--
		return stderrors.New("ack rejected")
	}
	s.acked = append(s.acked, msg.ID)
	return nil
}

func (s *scriptedConsumer) Nack(msg *broker.ReceivedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacked = append(s.nacked, msg.ID)
}

func (s *scriptedConsumer) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedConsumer) ackedIDs() []broker.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broker.MessageID(nil), s.acked...)
}

func (s *scriptedConsumer) nackedIDs() []broker.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broker.MessageID(nil), s.nacked...)
}

func (s *scriptedConsumer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func msg(id, payload string) *broker.ReceivedMessage {
	return &broker.ReceivedMessage{
		ID:      broker.MessageID(id),
		Payload: []byte(payload),
		Topic:   "scripted",
	}
}

// testConfig keeps loop waits short enough for unit tests.
func testConfig() Config {
	return Config{
		ReceiveTimeout: 50 * time.Millisecond,
		PausePoll:      10 * time.Millisecond,
		AckTimeout:     100 * time.Millisecond,
		Backoff: retry.Config{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func newTestConsumer(t *testing.T, client *testutil.FakeMessagingClient, topic string) broker.Consumer {
	t.Helper()
	c, err := client.CreateConsumer(context.Background(), broker.ConsumerConfig{
		Topic:            topic,
		SubscriptionName: "sub",
	})
	require.NoError(t, err)
	return c
}

func TestSupervisorDeliversInOrder(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	consumer := newTestConsumer(t, client, "orders")
	sink := &captureSink{}
	sup := NewSupervisor(sink, WithConfig(testConfig()))

	id := sup.Start(consumer)
	assert.Equal(t, "consumer_1", id)

	client.Publish("orders", []byte("m1"))
	client.Publish("orders", []byte("m2"))
	client.Publish("orders", []byte("m3"))

	require.Eventually(t, func() bool { return sink.count() == 3 },
		2*time.Second, 5*time.Millisecond)

	events := sink.snapshot()
	assert.Equal(t, []byte("m1"), events[0].Message.Payload)
	assert.Equal(t, []byte("m2"), events[1].Message.Payload)
	assert.Equal(t, []byte("m3"), events[2].Message.Payload)
	for _, ev := range events {
		assert.Equal(t, id, ev.ConsumerID)
	}

	require.NoError(t, sup.Stop(context.Background(), id))
}

func TestSupervisorAcksAfterDelivery(t *testing.T) {
	sc := &scriptedConsumer{results: []scriptedResult{
		{msg: msg("a:1", "hello")},
	}}
	sink := &captureSink{}
	sup := NewSupervisor(sink, WithConfig(testConfig()))

	id := sup.Start(sc)

	require.Eventually(t, func() bool { return len(sc.ackedIDs()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, broker.MessageID("a:1"), sc.ackedIDs()[0])

	require.NoError(t, sup.Stop(context.Background(), id))
}

func TestSupervisorPauseAndResume(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	consumer := newTestConsumer(t, client, "orders")
	sink := &captureSink{}
	sup := NewSupervisor(sink, WithConfig(testConfig()))

	id := sup.Start(consumer)

	client.Publish("orders", []byte("before"))
	require.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Pause(id))
	// Wait for any in-flight receive to drain.
	time.Sleep(100 * time.Millisecond)

	client.Publish("orders", []byte("while-paused"))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "no delivery while paused")

	infos := sup.List()
	require.Len(t, infos, 1)
	assert.Equal(t, StatePaused, infos[0].State)

	require.NoError(t, sup.Resume(id))
	require.Eventually(t, func() bool { return sink.count() == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("while-paused"), sink.snapshot()[1].Message.Payload)

	require.NoError(t, sup.Stop(context.Background(), id))
}

func TestSupervisorPauseUnknownID(t *testing.T) {
	sup := NewSupervisor(&captureSink{}, WithConfig(testConfig()))

	err := sup.Pause("consumer_404")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.ErrorIs(t, err, errors.ErrStreamNotFound)

	err = sup.Resume("consumer_404")
	assert.True(t, errors.IsNotFound(err))
}

func TestSupervisorStopClosesAndRemoves(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	consumer := newTestConsumer(t, client, "orders")
	sink := &captureSink{}
	sup := NewSupervisor(sink, WithConfig(testConfig()))

	id := sup.Start(consumer)
	require.NoError(t, sup.Stop(context.Background(), id))

	assert.Equal(t, 0, sup.Count())
	assert.Equal(t, 0, client.OpenHandles(), "native consumer closed")

	// No delivery after stop, even if more messages arrive.
	client.Publish("orders", []byte("late"))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, sink.count())

	// Second stop reports the id gone.
	err := sup.Stop(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.ErrorIs(t, err, errors.ErrStreamNotFound)
}

func TestSupervisorStopLatencyBounded(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	consumer := newTestConsumer(t, client, "orders")
	cfg := testConfig()
	sup := NewSupervisor(&captureSink{}, WithConfig(cfg))

	id := sup.Start(consumer)
	// Let the loop settle into an idle receive.
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, sup.Stop(context.Background(), id))
	elapsed := time.Since(start)

	bound := cfg.ReceiveTimeout + cfg.PausePoll + 200*time.Millisecond
	assert.Less(t, elapsed, bound, "stop must return within one receive timeout plus poll interval")
}

func TestSupervisorTransientReceiveErrorRecovers(t *testing.T) {
	sc := &scriptedConsumer{results: []scriptedResult{
		{err: stderrors.New("connection reset")},
		{err: stderrors.New("connection reset")},
		{msg: msg("a:1", "recovered")},
	}}
	sink := &captureSink{}
	sup := NewSupervisor(sink, WithConfig(testConfig()))

	id := sup.Start(sc)

	require.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("recovered"), sink.snapshot()[0].Message.Payload)

	require.NoError(t, sup.Stop(context.Background(), id))
}

func TestSupervisorAckFailureDoesNotStopLoop(t *testing.T) {
	sc := &scriptedConsumer{
		ackFails: 1,
		results: []scriptedResult{
			{msg: msg("a:1", "first")},
			{msg: msg("a:2", "second")},
		},
	}
	sink := &captureSink{}
	sup := NewSupervisor(sink, WithConfig(testConfig()))

	id := sup.Start(sc)

	// Both messages reach the sink; only the second ack lands.
	require.Eventually(t, func() bool { return sink.count() == 2 },
		2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(sc.ackedIDs()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, broker.MessageID("a:2"), sc.ackedIDs()[0])

	require.NoError(t, sup.Stop(context.Background(), id))
}

func TestSupervisorNilSinkNacks(t *testing.T) {
	sc := &scriptedConsumer{results: []scriptedResult{
		{msg: msg("a:1", "orphan")},
	}}
	sup := NewSupervisor(nil, WithConfig(testConfig()))

	id := sup.Start(sc)

	require.Eventually(t, func() bool { return len(sc.nackedIDs()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sc.ackedIDs())

	require.NoError(t, sup.Stop(context.Background(), id))
}

func TestSupervisorStopAll(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	sup := NewSupervisor(&captureSink{}, WithConfig(testConfig()))

	sup.Start(newTestConsumer(t, client, "a"))
	sup.Start(newTestConsumer(t, client, "b"))
	sup.Start(newTestConsumer(t, client, "c"))
	assert.Equal(t, 3, sup.Count())

	require.NoError(t, sup.StopAll(context.Background()))
	assert.Equal(t, 0, sup.Count())
	assert.Equal(t, 0, client.OpenHandles())
}

func TestSupervisorList(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	sup := NewSupervisor(&captureSink{}, WithConfig(testConfig()))

	id1 := sup.Start(newTestConsumer(t, client, "orders"))
	id2 := sup.Start(newTestConsumer(t, client, "payments"))
	require.NoError(t, sup.Pause(id2))

	infos := sup.List()
	require.Len(t, infos, 2)
	byID := make(map[string]Info, 2)
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.Equal(t, StateRunning, byID[id1].State)
	assert.Equal(t, "orders", byID[id1].Topic)
	assert.Equal(t, StatePaused, byID[id2].State)
	assert.Equal(t, "sub", byID[id2].Subscription)

	require.NoError(t, sup.StopAll(context.Background()))
}

func TestSupervisorCustomIDGenerator(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	next := 100
	sup := NewSupervisor(&captureSink{},
		WithConfig(testConfig()),
		WithIDGenerator(func() string {
			next++
			return fmt.Sprintf("consumer_%d", next)
		}))

	id := sup.Start(newTestConsumer(t, client, "orders"))
	assert.Equal(t, "consumer_101", id)

	require.NoError(t, sup.StopAll(context.Background()))
}

func TestSupervisorConcurrentStop(t *testing.T) {
	client := testutil.NewFakeMessagingClient()
	sup := NewSupervisor(&captureSink{}, WithConfig(testConfig()))
	id := sup.Start(newTestConsumer(t, client, "orders"))

	const n = 4
	results := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sup.Stop(context.Background(), id)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.IsNotFound(err))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one stop wins the teardown")
	assert.Equal(t, 0, sup.Count())
}
