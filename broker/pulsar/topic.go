package pulsar

import (
	"fmt"
	"strings"

	"github.com/c360/streamscope/errors"
)

// topicName is the parsed form of a Pulsar topic reference.
type topicName struct {
	domain    string // "persistent" or "non-persistent"
	tenant    string
	namespace string
	local     string
}

// parseTopic accepts "persistent://tenant/ns/topic", "tenant/ns/topic"
// or "topic" (defaulted into public/default), mirroring the lookup rules
// of the admin API.
func parseTopic(topic string) (topicName, error) {
	tn := topicName{domain: "persistent", tenant: "public", namespace: "default"}

	if topic == "" {
		return tn, errors.WrapInvalid(errors.ErrInvalidTopic, "topicName", "parseTopic", "empty topic")
	}

	rest := topic
	if i := strings.Index(topic, "://"); i >= 0 {
		tn.domain = topic[:i]
		rest = topic[i+3:]
		if tn.domain != "persistent" && tn.domain != "non-persistent" {
			return tn, errors.WrapInvalid(
				fmt.Errorf("%w: unknown domain %q", errors.ErrInvalidTopic, tn.domain),
				"topicName", "parseTopic", "domain")
		}
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		tn.local = parts[0]
	case 3:
		tn.tenant, tn.namespace, tn.local = parts[0], parts[1], parts[2]
	default:
		return tn, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidTopic, topic),
			"topicName", "parseTopic", "segment count")
	}

	if tn.tenant == "" || tn.namespace == "" || tn.local == "" {
		return tn, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidTopic, topic),
			"topicName", "parseTopic", "empty segment")
	}

	return tn, nil
}

// restPath returns the admin v2 path prefix for this topic.
func (tn topicName) restPath() string {
	return fmt.Sprintf("%s/%s/%s/%s", tn.domain, tn.tenant, tn.namespace, tn.local)
}

// String returns the fully qualified topic name.
func (tn topicName) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", tn.domain, tn.tenant, tn.namespace, tn.local)
}
