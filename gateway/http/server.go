// Package http exposes the resource manager as a JSON API for the
// explorer UI. Every response is a gateway.Envelope; the websocket
// notification channel and the Prometheus handler are mounted on the
// same mux.
package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/config"
	"github.com/c360/streamscope/errors"
	"github.com/c360/streamscope/gateway"
	"github.com/c360/streamscope/manager"
	"github.com/c360/streamscope/metric"
)

// maxRequestSize caps request bodies. Payloads beyond this are not
// explorer traffic.
const maxRequestSize int64 = 1 << 20

// Server routes API requests to the manager.
type Server struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	manager *manager.Manager
	cfg     config.Config

	mux    *http.ServeMux
	server *http.Server
}

// NewServer builds the API server. sink is the websocket notification
// handler; metricsHandler serves the Prometheus registry. Either may be
// nil to leave the route unmounted.
func NewServer(
	cfg config.Config,
	mgr *manager.Manager,
	sink http.Handler,
	metricsHandler http.Handler,
	logger *slog.Logger,
	metrics *metric.Metrics,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:  logger.With("component", "gateway"),
		metrics: metrics,
		manager: mgr,
		cfg:     cfg,
		mux:     http.NewServeMux(),
	}
	s.routes(sink, metricsHandler)
	return s
}

func (s *Server) routes(sink, metricsHandler http.Handler) {
	s.mux.HandleFunc("/api/clusters/connect", s.handle("cluster.connect", http.MethodPost, s.handleConnect))
	s.mux.HandleFunc("/api/clusters/disconnect", s.handle("cluster.disconnect", http.MethodPost, s.handleDisconnect))
	s.mux.HandleFunc("/api/clusters", s.handle("cluster.list", http.MethodGet, s.handleClusters))

	s.mux.HandleFunc("/api/admin/tenants", s.handle("admin.tenants", http.MethodGet, s.handleTenants))
	s.mux.HandleFunc("/api/admin/namespaces", s.handle("admin.namespaces", http.MethodGet, s.handleNamespaces))
	s.mux.HandleFunc("/api/admin/topics", s.handle("admin.topics", http.MethodGet, s.handleTopics))
	s.mux.HandleFunc("/api/admin/topic-stats", s.handle("admin.topicStats", http.MethodGet, s.handleTopicStats))
	s.mux.HandleFunc("/api/admin/subscriptions", s.handle("admin.subscriptions", http.MethodGet, s.handleSubscriptions))

	s.mux.HandleFunc("/api/producers/create", s.handle("producer.create", http.MethodPost, s.handleCreateProducer))
	s.mux.HandleFunc("/api/producers/send", s.handle("producer.send", http.MethodPost, s.handleSend))
	s.mux.HandleFunc("/api/producers/close", s.handle("producer.close", http.MethodPost, s.handleCloseProducer))

	s.mux.HandleFunc("/api/consumers/create", s.handle("consumer.create", http.MethodPost, s.handleCreateConsumer))
	s.mux.HandleFunc("/api/consumers/receive", s.handle("consumer.receive", http.MethodPost, s.handleReceive))
	s.mux.HandleFunc("/api/consumers/ack", s.handle("consumer.ack", http.MethodPost, s.handleAck))
	s.mux.HandleFunc("/api/consumers/close", s.handle("consumer.close", http.MethodPost, s.handleCloseConsumer))

	s.mux.HandleFunc("/api/streams/start", s.handle("stream.start", http.MethodPost, s.handleStartStream))
	s.mux.HandleFunc("/api/streams/pause", s.handle("stream.pause", http.MethodPost, s.handlePauseStream))
	s.mux.HandleFunc("/api/streams/resume", s.handle("stream.resume", http.MethodPost, s.handleResumeStream))
	s.mux.HandleFunc("/api/streams/stop", s.handle("stream.stop", http.MethodPost, s.handleStopStream))
	s.mux.HandleFunc("/api/streams", s.handle("stream.list", http.MethodGet, s.handleStreams))

	s.mux.HandleFunc("/api/messages/send", s.handle("messages.send", http.MethodPost, s.handlePublish))
	s.mux.HandleFunc("/api/messages/browse", s.handle("messages.browse", http.MethodPost, s.handleBrowse))

	s.mux.HandleFunc("/healthz", s.handle("healthz", http.MethodGet, s.handleHealthz))

	if sink != nil {
		s.mux.Handle("/ws", sink)
	}
	if metricsHandler != nil {
		s.mux.Handle("/metrics", metricsHandler)
	}
}

// Handler returns the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	// WriteTimeout stays unset: the mux carries long-lived websocket
	// connections.
	s.server = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	server := s.server
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "address", s.cfg.Listen)
	return nil
}

// Shutdown stops accepting new requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Shutdown", "drain HTTP server")
	}
	return nil
}

type handlerFunc func(r *http.Request) (any, error)

// handle wraps an operation handler with method gating, request id
// propagation, envelope encoding, and request metrics.
func (s *Server) handle(operation, method string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = gateway.RequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		if r.Method != method {
			err := errors.WrapInvalid(errors.ErrInvalidArgument, "Server", operation,
				"method "+r.Method+" not allowed")
			s.writeJSON(w, http.StatusMethodNotAllowed, gateway.Fail(err))
			s.record(operation, "error", start)
			return
		}
		defer r.Body.Close()

		data, err := fn(r)
		if err != nil {
			env := gateway.Fail(err)
			s.logger.Warn("request failed",
				"operation", operation,
				"requestId", requestID,
				"code", env.Error.Code,
				"error", err)
			s.writeJSON(w, statusFor(env.Error.Code), env)
			s.record(operation, "error", start)
			return
		}

		s.writeJSON(w, http.StatusOK, gateway.OK(data))
		s.record(operation, "ok", start)
	}
}

func (s *Server) record(operation, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordGatewayRequest(operation, status, time.Since(start))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env gateway.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

// statusFor maps envelope codes to HTTP statuses. The envelope body is
// authoritative; the status is a courtesy for generic HTTP tooling.
func statusFor(code string) int {
	switch code {
	case gateway.CodeAlreadyConnected, gateway.CodeNotConnected:
		return http.StatusConflict
	case gateway.CodeNotFound:
		return http.StatusNotFound
	case gateway.CodeInvalidArgument:
		return http.StatusBadRequest
	case gateway.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// decode unmarshals a size-limited JSON request body.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		return errors.WrapInvalid(err, "Server", "decode", "read request body")
	}
	if int64(len(body)) > maxRequestSize {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Server", "decode",
			"request body too large")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.WrapInvalid(err, "Server", "decode", "parse request body")
	}
	return nil
}

// Cluster handlers.

func (s *Server) handleConnect(r *http.Request) (any, error) {
	var cfg broker.ClusterConfig
	if err := decode(r, &cfg); err != nil {
		return nil, err
	}
	return s.manager.Connect(cfg)
}

func (s *Server) handleDisconnect(r *http.Request) (any, error) {
	var req struct {
		ClusterID string `json:"clusterId"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.manager.Disconnect(r.Context(), req.ClusterID); err != nil {
		return nil, err
	}
	return map[string]string{"clusterId": req.ClusterID}, nil
}

func (s *Server) handleClusters(*http.Request) (any, error) {
	return s.manager.Clusters(), nil
}

// Admin handlers.

func (s *Server) handleTenants(r *http.Request) (any, error) {
	return s.manager.ListTenants(r.Context(), r.URL.Query().Get("clusterId"))
}

func (s *Server) handleNamespaces(r *http.Request) (any, error) {
	q := r.URL.Query()
	return s.manager.ListNamespaces(r.Context(), q.Get("clusterId"), q.Get("tenant"))
}

func (s *Server) handleTopics(r *http.Request) (any, error) {
	q := r.URL.Query()
	return s.manager.ListTopics(r.Context(), q.Get("clusterId"), q.Get("tenant"), q.Get("namespace"))
}

func (s *Server) handleTopicStats(r *http.Request) (any, error) {
	q := r.URL.Query()
	return s.manager.TopicStats(r.Context(), q.Get("clusterId"), q.Get("topic"))
}

func (s *Server) handleSubscriptions(r *http.Request) (any, error) {
	q := r.URL.Query()
	return s.manager.ListSubscriptions(r.Context(), q.Get("clusterId"), q.Get("topic"))
}

// Producer handlers.

func (s *Server) handleCreateProducer(r *http.Request) (any, error) {
	var req struct {
		ClusterID string `json:"clusterId"`
		Topic     string `json:"topic"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	id, err := s.manager.CreateProducer(r.Context(), req.ClusterID,
		broker.ProducerConfig{Topic: req.Topic})
	if err != nil {
		return nil, err
	}
	return map[string]string{"producerId": id}, nil
}

// messageRequest is the explorer's outbound message shape. Payload is a
// plain string; binary publishing is not an explorer concern.
type messageRequest struct {
	Payload    string            `json:"payload"`
	Key        string            `json:"key,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (m messageRequest) toMessage() broker.Message {
	return broker.Message{
		Payload:    []byte(m.Payload),
		Key:        m.Key,
		Properties: m.Properties,
	}
}

func (s *Server) handleSend(r *http.Request) (any, error) {
	var req struct {
		ProducerID string `json:"producerId"`
		messageRequest
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	id, err := s.manager.Send(r.Context(), req.ProducerID, req.toMessage())
	if err != nil {
		return nil, err
	}
	return map[string]broker.MessageID{"messageId": id}, nil
}

func (s *Server) handleCloseProducer(r *http.Request) (any, error) {
	var req struct {
		ProducerID string `json:"producerId"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.manager.CloseProducer(r.Context(), req.ProducerID); err != nil {
		return nil, err
	}
	return map[string]string{"producerId": req.ProducerID}, nil
}

// Consumer handlers.

type consumerRequest struct {
	ClusterID        string `json:"clusterId"`
	Topic            string `json:"topic"`
	Subscription     string `json:"subscription"`
	SubscriptionType string `json:"subscriptionType,omitempty"`
}

func (c consumerRequest) toConfig() broker.ConsumerConfig {
	return broker.ConsumerConfig{
		Topic:            c.Topic,
		SubscriptionName: c.Subscription,
		SubscriptionType: c.SubscriptionType,
	}
}

func (s *Server) handleCreateConsumer(r *http.Request) (any, error) {
	var req consumerRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	id, err := s.manager.CreateConsumer(r.Context(), req.ClusterID, req.toConfig())
	if err != nil {
		return nil, err
	}
	return map[string]string{"consumerId": id}, nil
}

func (s *Server) handleReceive(r *http.Request) (any, error) {
	var req struct {
		ConsumerID string `json:"consumerId"`
		TimeoutMs  int64  `json:"timeoutMs,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.manager.Receive(r.Context(), req.ConsumerID,
		time.Duration(req.TimeoutMs)*time.Millisecond)
}

func (s *Server) handleAck(r *http.Request) (any, error) {
	var req struct {
		ConsumerID string           `json:"consumerId"`
		MessageID  broker.MessageID `json:"messageId"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.manager.Ack(r.Context(), req.ConsumerID, req.MessageID); err != nil {
		return nil, err
	}
	return map[string]broker.MessageID{"messageId": req.MessageID}, nil
}

func (s *Server) handleCloseConsumer(r *http.Request) (any, error) {
	var req struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.manager.CloseConsumer(r.Context(), req.ConsumerID); err != nil {
		return nil, err
	}
	return map[string]string{"consumerId": req.ConsumerID}, nil
}

// Streaming handlers.

func (s *Server) handleStartStream(r *http.Request) (any, error) {
	var req consumerRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	id, err := s.manager.StartConsumer(r.Context(), req.ClusterID, req.toConfig())
	if err != nil {
		return nil, err
	}
	return map[string]string{"consumerId": id}, nil
}

func (s *Server) streamControl(r *http.Request, fn func(string) error) (any, error) {
	var req struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := fn(req.ConsumerID); err != nil {
		return nil, err
	}
	return map[string]string{"consumerId": req.ConsumerID}, nil
}

func (s *Server) handlePauseStream(r *http.Request) (any, error) {
	return s.streamControl(r, s.manager.PauseConsumer)
}

func (s *Server) handleResumeStream(r *http.Request) (any, error) {
	return s.streamControl(r, s.manager.ResumeConsumer)
}

func (s *Server) handleStopStream(r *http.Request) (any, error) {
	return s.streamControl(r, func(id string) error {
		return s.manager.StopConsumer(r.Context(), id)
	})
}

func (s *Server) handleStreams(*http.Request) (any, error) {
	return s.manager.Streams(), nil
}

// Message handlers.

func (s *Server) handlePublish(r *http.Request) (any, error) {
	var req struct {
		ClusterID string `json:"clusterId"`
		Topic     string `json:"topic"`
		messageRequest
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	id, err := s.manager.Publish(r.Context(), req.ClusterID, req.Topic, req.toMessage())
	if err != nil {
		return nil, err
	}
	return map[string]broker.MessageID{"messageId": id}, nil
}

func (s *Server) handleBrowse(r *http.Request) (any, error) {
	var req struct {
		ClusterID string `json:"clusterId"`
		Topic     string `json:"topic"`
		Limit     int    `json:"limit,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	msgs, err := s.manager.Browse(r.Context(), req.ClusterID, req.Topic, req.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	}, nil
}

func (s *Server) handleHealthz(*http.Request) (any, error) {
	return s.manager.Healthz(), nil
}
