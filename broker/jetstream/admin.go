package jetstream

import (
	"context"
	"log/slog"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

// Admin implements broker.AdminClient by projecting the explorer's
// tenant/namespace/topic hierarchy onto JetStream management calls.
// JetStream has no tenancy, so everything lives under one tenant.
type Admin struct {
	client *Client
	logger *slog.Logger
}

// NewAdmin creates an admin view over an existing messaging client so
// both sides share one lazily-established connection.
func NewAdmin(client *Client, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default().With("component", "jetstream-admin")
	}
	return &Admin{client: client, logger: logger}
}

// ListTenants returns the single synthetic tenant.
func (a *Admin) ListTenants(_ context.Context) ([]string, error) {
	return []string{defaultTenant}, nil
}

// ListNamespaces returns stream names; streams play the namespace role.
func (a *Admin) ListNamespaces(ctx context.Context, tenant string) ([]string, error) {
	if tenant != defaultTenant {
		return nil, errors.WrapNotFound(errors.ErrNotConnected, "Admin", "ListNamespaces", "unknown tenant")
	}
	js, err := a.client.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	lister := js.ListStreams(ctx)
	for info := range lister.Info() {
		if info != nil {
			names = append(names, info.Config.Name)
		}
	}
	if err := lister.Err(); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListNamespaces", "list streams")
	}
	return names, nil
}

// ListTopics returns the subjects configured on a stream.
func (a *Admin) ListTopics(ctx context.Context, tenant, namespace string) ([]string, error) {
	if tenant != defaultTenant {
		return nil, errors.WrapNotFound(errors.ErrNotConnected, "Admin", "ListTopics", "unknown tenant")
	}
	js, err := a.client.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := js.Stream(ctx, namespace)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListTopics", "get stream")
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListTopics", "get stream info")
	}
	return info.Config.Subjects, nil
}

// TopicStats assembles topic statistics from the subject's stream and
// its consumers. Backlogs come from consumer pending counts.
func (a *Admin) TopicStats(ctx context.Context, topic string) (*broker.TopicStats, error) {
	if topic == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidTopic, "Admin", "TopicStats", "empty topic")
	}
	js, err := a.client.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	streamName, err := js.StreamNameBySubject(ctx, topic)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "TopicStats", "resolve stream for subject")
	}
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "TopicStats", "get stream")
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "TopicStats", "get stream info")
	}

	stats := &broker.TopicStats{
		MsgInCounter:  int64(info.State.Msgs),
		StorageSize:   int64(info.State.Bytes),
		Subscriptions: make(map[string]broker.SubscriptionInfo),
	}

	consumers := stream.ListConsumers(ctx)
	for ci := range consumers.Info() {
		if ci == nil || ci.Config.FilterSubject != topic {
			continue
		}
		backlog := int64(ci.NumPending) + int64(ci.NumAckPending)
		stats.Subscriptions[ci.Name] = broker.SubscriptionInfo{
			Backlog:       backlog,
			ConsumerCount: 1,
			Type:          "durable",
		}
		stats.BacklogSize += backlog
		stats.ConsumerCount++
	}
	if err := consumers.Err(); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "TopicStats", "list consumers")
	}

	return stats, nil
}

// ListSubscriptions returns the durable consumers filtered to a subject.
func (a *Admin) ListSubscriptions(ctx context.Context, topic string) ([]string, error) {
	if topic == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidTopic, "Admin", "ListSubscriptions", "empty topic")
	}
	js, err := a.client.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	streamName, err := js.StreamNameBySubject(ctx, topic)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListSubscriptions", "resolve stream for subject")
	}
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListSubscriptions", "get stream")
	}

	var subs []string
	consumers := stream.ListConsumers(ctx)
	for ci := range consumers.Info() {
		if ci != nil && ci.Config.FilterSubject == topic && ci.Config.Durable != "" {
			subs = append(subs, ci.Config.Durable)
		}
	}
	if err := consumers.Err(); err != nil {
		return nil, errors.WrapUpstream(err, "Admin", "ListSubscriptions", "list consumers")
	}
	return subs, nil
}

var _ broker.AdminClient = (*Admin)(nil)
