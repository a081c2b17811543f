package broker

import (
	"fmt"
	"time"

	"github.com/c360/streamscope/errors"
)

// Driver names accepted in ClusterConfig.
const (
	DriverPulsar    = "pulsar"
	DriverJetStream = "jetstream"
)

// ClusterConfig describes how to reach one cluster. Auth material is
// resolved by an external collaborator (token store, OAuth flow) and
// injected here as opaque values; no acquisition protocol lives in core.
type ClusterConfig struct {
	// ID is the user-chosen cluster identifier, unique per process.
	ID string `json:"id"`
	// Driver selects the broker driver: "pulsar" or "jetstream".
	Driver string `json:"driver"`
	// ServiceURL is the broker protocol endpoint
	// (e.g. pulsar://host:6650 or nats://host:4222).
	ServiceURL string `json:"serviceUrl"`
	// AdminURL is the admin REST endpoint (e.g. http://host:8080).
	// Unused by drivers whose admin surface rides the service connection.
	AdminURL string `json:"adminUrl,omitempty"`
	// Auth carries opaque credentials.
	Auth AuthConfig `json:"auth,omitempty"`
	// OperationTimeout bounds individual driver operations. Zero means
	// the driver default.
	OperationTimeout time.Duration `json:"operationTimeout,omitempty"`
}

// AuthConfig holds opaque authentication material.
type AuthConfig struct {
	// Token is a bearer token, used as-is when set.
	Token string `json:"token,omitempty"`
	// OAuth2 carries provider parameters (issuer, audience, key file)
	// for drivers that support OAuth2 client credentials.
	OAuth2 map[string]string `json:"oauth2,omitempty"`
}

// Validate checks the fields every driver needs.
func (c ClusterConfig) Validate() error {
	if c.ID == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "ClusterConfig", "Validate", "cluster id")
	}
	if c.ServiceURL == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "ClusterConfig", "Validate", "service URL")
	}
	switch c.Driver {
	case DriverPulsar, DriverJetStream:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown driver %q", errors.ErrInvalidArgument, c.Driver),
			"ClusterConfig", "Validate", "driver selection")
	}
	return nil
}
