// Package broker defines the capability interfaces StreamScope uses to
// talk to a pub/sub cluster: an admin client for the tenant/namespace/topic
// hierarchy and a messaging client that mints producer, consumer and
// reader handles. Concrete drivers live in the subpackages; the registries
// and the streaming supervisor depend only on these interfaces.
package broker

import (
	"context"
	"time"
)

// AdminClient exposes the read-only admin surface of a cluster.
// Implementations wrap an HTTP admin API or equivalent management calls.
type AdminClient interface {
	// ListTenants returns all tenant names in the cluster.
	ListTenants(ctx context.Context) ([]string, error)
	// ListNamespaces returns the fully qualified namespaces of a tenant.
	ListNamespaces(ctx context.Context, tenant string) ([]string, error)
	// ListTopics returns the fully qualified topics of a namespace.
	ListTopics(ctx context.Context, tenant, namespace string) ([]string, error)
	// TopicStats returns rate and backlog statistics for a topic.
	TopicStats(ctx context.Context, topic string) (*TopicStats, error)
	// ListSubscriptions returns the subscription names on a topic.
	ListSubscriptions(ctx context.Context, topic string) ([]string, error)
}

// MessagingClient creates producer, consumer and reader handles bound to
// a cluster connection. Close tears down every handle created through
// this client before closing the client itself (collect-and-continue);
// the client tracks its own derived resources for that purpose.
type MessagingClient interface {
	CreateProducer(ctx context.Context, cfg ProducerConfig) (Producer, error)
	CreateConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error)
	CreateReader(ctx context.Context, cfg ReaderConfig) (Reader, error)
	Close(ctx context.Context) error
}

// Producer is a write handle bound to a single topic.
type Producer interface {
	Topic() string
	Send(ctx context.Context, msg Message) (MessageID, error)
	Close(ctx context.Context) error
}

// Consumer is a subscribed read handle. Receive blocks until a message
// arrives or the context deadline expires; a deadline expiry surfaces as
// a transient error, never as a fatal one.
type Consumer interface {
	Topic() string
	Subscription() string
	Receive(ctx context.Context) (*ReceivedMessage, error)
	Ack(ctx context.Context, msg *ReceivedMessage) error
	// Nack requests expedited redelivery of a message that was received
	// but cannot be delivered downstream. Best-effort, fire-and-forget.
	Nack(msg *ReceivedMessage)
	Close(ctx context.Context) error
}

// Reader is a non-subscribing sequential read handle, used for bounded
// browse/peek operations.
type Reader interface {
	Topic() string
	Next(ctx context.Context) (*ReceivedMessage, error)
	HasNext() bool
	Close(ctx context.Context) error
}

// ProducerConfig configures a new producer handle.
type ProducerConfig struct {
	Topic string
}

// ConsumerConfig configures a new consumer handle.
type ConsumerConfig struct {
	Topic            string
	SubscriptionName string
	// SubscriptionType is driver-specific ("exclusive", "shared", ...).
	// Empty means the driver default.
	SubscriptionType string
}

// ReaderConfig configures a new reader handle.
type ReaderConfig struct {
	Topic string
	// StartAtEarliest positions the reader at the oldest retained
	// message instead of the newest.
	StartAtEarliest bool
}

// Message is an outbound payload.
type Message struct {
	Payload    []byte            `json:"payload"`
	Key        string            `json:"key,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// MessageID is the broker-assigned identity of a published message,
// opaque to everything except the driver that minted it.
type MessageID string

// ReceivedMessage is an inbound message plus the delivery metadata the
// explorer UI renders. The native handle stays inside the driver; the
// driver resolves it again from ID on Ack/Nack.
type ReceivedMessage struct {
	ID          MessageID         `json:"messageId"`
	Payload     []byte            `json:"payload"`
	Key         string            `json:"key,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	Topic       string            `json:"topic"`
	PublishTime time.Time         `json:"publishTime"`
	// native carries the driver's message handle for ack/nack. Drivers
	// set it on receive; it never crosses the wire.
	native any
}

// Native returns the driver-specific message handle.
func (m *ReceivedMessage) Native() any { return m.native }

// WithNative attaches the driver-specific message handle.
func (m *ReceivedMessage) WithNative(n any) *ReceivedMessage {
	m.native = n
	return m
}

// TopicStats holds the per-topic statistics surfaced by the admin API.
type TopicStats struct {
	MsgRateIn      float64                     `json:"msgRateIn"`
	MsgRateOut     float64                     `json:"msgRateOut"`
	MsgInCounter   int64                       `json:"msgInCounter"`
	MsgOutCounter  int64                       `json:"msgOutCounter"`
	StorageSize    int64                       `json:"storageSize"`
	BacklogSize    int64                       `json:"backlogSize"`
	Subscriptions  map[string]SubscriptionInfo `json:"subscriptions"`
	ProducerCount  int                         `json:"producerCount"`
	ConsumerCount  int                         `json:"consumerCount"`
	PartitionCount int                         `json:"partitionCount,omitempty"`
}

// SubscriptionInfo describes one subscription on a topic.
type SubscriptionInfo struct {
	// Backlog is the count of unacknowledged messages pending for the
	// subscription.
	Backlog       int64   `json:"msgBacklog"`
	MsgRateOut    float64 `json:"msgRateOut"`
	ConsumerCount int     `json:"consumerCount"`
	Type          string  `json:"type,omitempty"`
}
