// Package streamscope is the backend for a desktop broker explorer. It
// manages connections to pub/sub clusters (Apache Pulsar, NATS
// JetStream), hands out producer/consumer/reader handles, and runs
// background streaming consumers that push received messages to the UI
// over a websocket channel.
//
// # Architecture
//
// Requests flow through a local HTTP gateway into a single manager
// facade that owns three registries:
//
//	┌──────────────────────────────────────┐
//	│         gateway/http + /ws           │  JSON envelope API,
//	│   (local UI transport, metrics)      │  websocket notifications
//	└──────────────────┬───────────────────┘
//	                   ↓
//	┌──────────────────────────────────────┐
//	│              manager                 │  operation facade,
//	│  (guards, pending acks, teardown)    │  shutdown ordering
//	└──────┬───────────┬───────────┬───────┘
//	       ↓           ↓           ↓
//	┌──────────┐ ┌───────────┐ ┌──────────┐
//	│ cluster  │ │ resource  │ │  stream  │
//	│ registry │ │ registry  │ │supervisor│
//	└──────────┘ └───────────┘ └──────────┘
//	       ↓ dial        ↓ handles    ↓ loops
//	┌──────────────────────────────────────┐
//	│      broker/pulsar, broker/jetstream │  driver adapters
//	└──────────────────────────────────────┘
//
// Cluster connections are lazy: connecting validates config and dials
// the client, but no network round trip happens until the first
// operation. Resource handles are named by registry-issued ids
// (producer_1, consumer_3, ...) so the UI never holds native objects.
// Streaming consumers run a poll loop with a bounded receive timeout;
// timeouts are idle cycles, transient failures back off and the loop
// never dies on its own.
//
// # Packages
//
// Core:
//   - broker: capability interfaces and cluster config
//   - broker/pulsar, broker/jetstream: driver adapters
//   - cluster: connected-cluster registry
//   - resource: producer/consumer/reader handle registry
//   - stream: streaming consumer supervisor
//   - manager: the single facade the gateway calls
//
// Surface:
//   - gateway: response envelope and error codes
//   - gateway/http: JSON API
//   - gateway/ws: websocket notification hub (the streaming sink)
//
// Infrastructure:
//   - config: JSON file configuration
//   - errors: classified error handling
//   - metric: Prometheus metrics
//   - pkg/retry: backoff policy
//   - testutil: in-memory broker fakes
package streamscope
