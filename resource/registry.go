// Package resource owns the UI-observable handle registries for
// producers, one-shot consumers and readers. Handles are indexed only
// by their generated id; the messaging client that created a handle
// tracks it separately for cluster-scoped teardown. This two-tier
// ownership split is deliberate and must be preserved.
package resource

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

// Kind names the three handle registries.
type Kind string

// Resource kinds. The kind doubles as the id prefix.
const (
	KindProducer Kind = "producer"
	KindConsumer Kind = "consumer"
	KindReader   Kind = "reader"
)

// Registry holds the three independently keyed stores. IDs are
// "<kind>_<N>" where N comes from a process-wide monotonic counter that
// is never reset or reused, so an id can never refer to two different
// physical resources over the process lifetime.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	producers map[string]broker.Producer
	consumers map[string]broker.Consumer
	readers   map[string]broker.Reader

	producerCounter atomic.Int64
	consumerCounter atomic.Int64
	readerCounter   atomic.Int64
}

// NewRegistry creates an empty resource registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "resource-registry")
	}
	return &Registry{
		logger:    logger,
		producers: make(map[string]broker.Producer),
		consumers: make(map[string]broker.Consumer),
		readers:   make(map[string]broker.Reader),
	}
}

// AddProducer registers a producer handle and returns its generated id.
func (r *Registry) AddProducer(p broker.Producer) string {
	id := fmt.Sprintf("%s_%d", KindProducer, r.producerCounter.Add(1))
	r.mu.Lock()
	r.producers[id] = p
	r.mu.Unlock()
	return id
}

// NextConsumerID hands out a consumer id without registering anything.
// Streaming consumers live in the supervisor's map rather than here, but
// they draw from the same counter so an id names one resource ever.
func (r *Registry) NextConsumerID() string {
	return fmt.Sprintf("%s_%d", KindConsumer, r.consumerCounter.Add(1))
}

// AddConsumer registers a one-shot consumer handle and returns its id.
func (r *Registry) AddConsumer(c broker.Consumer) string {
	id := r.NextConsumerID()
	r.mu.Lock()
	r.consumers[id] = c
	r.mu.Unlock()
	return id
}

// AddReader registers a reader handle and returns its generated id.
func (r *Registry) AddReader(rd broker.Reader) string {
	id := fmt.Sprintf("%s_%d", KindReader, r.readerCounter.Add(1))
	r.mu.Lock()
	r.readers[id] = rd
	r.mu.Unlock()
	return id
}

// Producer resolves a producer id. Every forwarding operation must
// re-validate existence here rather than dereference a stale handle.
func (r *Registry) Producer(id string) (broker.Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrProducerNotFound, "Registry", "Producer", "lookup "+id)
	}
	return p, nil
}

// Consumer resolves a one-shot consumer id.
func (r *Registry) Consumer(id string) (broker.Consumer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrConsumerNotFound, "Registry", "Consumer", "lookup "+id)
	}
	return c, nil
}

// Reader resolves a reader id.
func (r *Registry) Reader(id string) (broker.Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.readers[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrReaderNotFound, "Registry", "Reader", "lookup "+id)
	}
	return rd, nil
}

// CloseProducer closes and removes a producer. The entry is removed
// even when the native close fails; the failure is reported but a
// delete-then-miss later is a normal not-found, not a fault.
func (r *Registry) CloseProducer(ctx context.Context, id string) error {
	r.mu.Lock()
	p, ok := r.producers[id]
	if !ok {
		r.mu.Unlock()
		return errors.WrapNotFound(errors.ErrProducerNotFound, "Registry", "CloseProducer", "lookup "+id)
	}
	delete(r.producers, id)
	r.mu.Unlock()

	if err := p.Close(ctx); err != nil {
		r.logger.Warn("producer close failed", "id", id, "error", err)
		return errors.Wrap(err, "Registry", "CloseProducer", "close "+id)
	}
	return nil
}

// CloseConsumer closes and removes a one-shot consumer.
func (r *Registry) CloseConsumer(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	if !ok {
		r.mu.Unlock()
		return errors.WrapNotFound(errors.ErrConsumerNotFound, "Registry", "CloseConsumer", "lookup "+id)
	}
	delete(r.consumers, id)
	r.mu.Unlock()

	if err := c.Close(ctx); err != nil {
		r.logger.Warn("consumer close failed", "id", id, "error", err)
		return errors.Wrap(err, "Registry", "CloseConsumer", "close "+id)
	}
	return nil
}

// CloseReader closes and removes a reader.
func (r *Registry) CloseReader(ctx context.Context, id string) error {
	r.mu.Lock()
	rd, ok := r.readers[id]
	if !ok {
		r.mu.Unlock()
		return errors.WrapNotFound(errors.ErrReaderNotFound, "Registry", "CloseReader", "lookup "+id)
	}
	delete(r.readers, id)
	r.mu.Unlock()

	if err := rd.Close(ctx); err != nil {
		r.logger.Warn("reader close failed", "id", id, "error", err)
		return errors.Wrap(err, "Registry", "CloseReader", "close "+id)
	}
	return nil
}

// Counts returns how many handles of each kind are registered.
func (r *Registry) Counts() (producers, consumers, readers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers), len(r.consumers), len(r.readers)
}

// CloseAll tears down one kind of handle entirely, collecting failures
// and continuing. Teardown ordering across kinds is the caller's job.
func (r *Registry) CloseAll(ctx context.Context, kind Kind) error {
	r.mu.Lock()
	var ids []string
	switch kind {
	case KindProducer:
		for id := range r.producers {
			ids = append(ids, id)
		}
	case KindConsumer:
		for id := range r.consumers {
			ids = append(ids, id)
		}
	case KindReader:
		for id := range r.readers {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		var err error
		switch kind {
		case KindProducer:
			err = r.CloseProducer(ctx, id)
		case KindConsumer:
			err = r.CloseConsumer(ctx, id)
		case KindReader:
			err = r.CloseReader(ctx, id)
		}
		if err != nil && !errors.IsNotFound(err) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
}
