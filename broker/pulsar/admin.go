package pulsar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
	"github.com/c360/streamscope/pkg/retry"
)

const defaultAdminTimeout = 30 * time.Second

// Admin implements broker.AdminClient against the Pulsar admin REST API
// (v2). Transient HTTP failures are retried with backoff; error bodies
// from the broker are preserved verbatim.
type Admin struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *slog.Logger
}

// NewAdmin creates an admin client. No connection is made until the
// first call.
func NewAdmin(cfg broker.ClusterConfig, logger *slog.Logger) (*Admin, error) {
	if cfg.AdminURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Admin", "NewAdmin", "admin URL")
	}
	if _, err := url.Parse(cfg.AdminURL); err != nil {
		return nil, errors.WrapInvalid(err, "Admin", "NewAdmin", "parse admin URL")
	}
	if logger == nil {
		logger = slog.Default().With("component", "pulsar-admin", "cluster", cfg.ID)
	}

	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultAdminTimeout
	}

	return &Admin{
		baseURL:    strings.TrimRight(cfg.AdminURL, "/"),
		token:      cfg.Auth.Token,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retry.DefaultConfig(),
		logger:     logger,
	}, nil
}

// ListTenants returns all tenant names.
func (a *Admin) ListTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	if err := a.getJSON(ctx, "/admin/v2/tenants", &tenants); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListTenants", "list tenants")
	}
	return tenants, nil
}

// ListNamespaces returns the namespaces of a tenant, fully qualified
// as "tenant/namespace".
func (a *Admin) ListNamespaces(ctx context.Context, tenant string) ([]string, error) {
	if tenant == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Admin", "ListNamespaces", "tenant")
	}
	var namespaces []string
	path := fmt.Sprintf("/admin/v2/namespaces/%s", url.PathEscape(tenant))
	if err := a.getJSON(ctx, path, &namespaces); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListNamespaces", "list namespaces")
	}
	return namespaces, nil
}

// ListTopics returns the persistent topics of a namespace.
func (a *Admin) ListTopics(ctx context.Context, tenant, namespace string) ([]string, error) {
	if tenant == "" || namespace == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Admin", "ListTopics", "tenant and namespace")
	}
	// Namespaces arrive either bare or as "tenant/namespace"; the REST
	// path wants the bare segment.
	if i := strings.LastIndex(namespace, "/"); i >= 0 {
		namespace = namespace[i+1:]
	}
	var topics []string
	path := fmt.Sprintf("/admin/v2/persistent/%s/%s",
		url.PathEscape(tenant), url.PathEscape(namespace))
	if err := a.getJSON(ctx, path, &topics); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListTopics", "list topics")
	}
	return topics, nil
}

// TopicStats returns rate and backlog statistics for a topic.
func (a *Admin) TopicStats(ctx context.Context, topic string) (*broker.TopicStats, error) {
	tn, err := parseTopic(topic)
	if err != nil {
		return nil, err
	}
	var stats topicStatsPayload
	path := fmt.Sprintf("/admin/v2/%s/stats", tn.restPath())
	if err := a.getJSON(ctx, path, &stats); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "TopicStats", "fetch topic stats")
	}
	return stats.toBroker(), nil
}

// ListSubscriptions returns the subscription names on a topic.
func (a *Admin) ListSubscriptions(ctx context.Context, topic string) ([]string, error) {
	tn, err := parseTopic(topic)
	if err != nil {
		return nil, err
	}
	var subs []string
	path := fmt.Sprintf("/admin/v2/%s/subscriptions", tn.restPath())
	if err := a.getJSON(ctx, path, &subs); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListSubscriptions", "list subscriptions")
	}
	return subs, nil
}

// getJSON performs a GET with retry on transient failures and decodes
// the response body into out.
func (a *Admin) getJSON(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, a.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
		if err != nil {
			return retry.NonRetryable(err)
		}
		req.Header.Set("Accept", "application/json")
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			// The broker's message rides along verbatim so the UI can
			// show what the admin API actually said.
			httpErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return httpErr
			}
			return retry.NonRetryable(httpErr)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return retry.NonRetryable(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

// topicStatsPayload matches the admin API's stats document shape.
type topicStatsPayload struct {
	MsgRateIn     float64 `json:"msgRateIn"`
	MsgRateOut    float64 `json:"msgRateOut"`
	MsgInCounter  int64   `json:"msgInCounter"`
	MsgOutCounter int64   `json:"msgOutCounter"`
	StorageSize   int64   `json:"storageSize"`
	BacklogSize   int64   `json:"backlogSize"`
	Publishers    []struct {
		ProducerName string `json:"producerName"`
	} `json:"publishers"`
	Subscriptions map[string]struct {
		MsgBacklog float64 `json:"msgBacklog"`
		MsgRateOut float64 `json:"msgRateOut"`
		Type       string  `json:"type"`
		Consumers  []struct {
			ConsumerName string `json:"consumerName"`
		} `json:"consumers"`
	} `json:"subscriptions"`
	Partitions map[string]json.RawMessage `json:"partitions"`
}

func (p *topicStatsPayload) toBroker() *broker.TopicStats {
	stats := &broker.TopicStats{
		MsgRateIn:      p.MsgRateIn,
		MsgRateOut:     p.MsgRateOut,
		MsgInCounter:   p.MsgInCounter,
		MsgOutCounter:  p.MsgOutCounter,
		StorageSize:    p.StorageSize,
		BacklogSize:    p.BacklogSize,
		ProducerCount:  len(p.Publishers),
		PartitionCount: len(p.Partitions),
		Subscriptions:  make(map[string]broker.SubscriptionInfo, len(p.Subscriptions)),
	}
	for name, sub := range p.Subscriptions {
		stats.Subscriptions[name] = broker.SubscriptionInfo{
			Backlog:       int64(sub.MsgBacklog),
			MsgRateOut:    sub.MsgRateOut,
			ConsumerCount: len(sub.Consumers),
			Type:          sub.Type,
		}
		stats.ConsumerCount += len(sub.Consumers)
	}
	return stats
}

var _ broker.AdminClient = (*Admin)(nil)
