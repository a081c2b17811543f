// Package metric provides Prometheus-based metrics for the explorer:
// cluster connectivity, streaming delivery counters and gateway traffic.
//
// The MetricsRegistry owns a dedicated Prometheus registry with the core
// metrics and Go runtime collectors pre-registered. Components register
// additional metrics through the MetricsRegistrar interface:
//
//	registry := metric.NewMetricsRegistry()
//	core := registry.CoreMetrics()
//	core.ClusterConnected()
//	core.MessageDelivered("persistent://public/default/orders")
//
// The gateway exposes the registry in OpenMetrics format via Handler().
//
// All core metrics use the "streamscope" namespace:
//   - streamscope_cluster_connected
//   - streamscope_stream_consumers
//   - streamscope_stream_delivered_total{topic="..."}
//   - streamscope_gateway_requests_total{operation="...",status="..."}
package metric
