// Package cluster owns the registry of live cluster connections. It is
// the single source of truth for "is this cluster connected": every
// admin call and every resource creation resolves its clients here.
package cluster

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/streamscope/broker"
	"github.com/c360/streamscope/errors"
)

// Dialer constructs the admin and messaging capabilities for a cluster.
// Implementations must not perform network I/O; connections are
// established lazily by the clients on first use.
type Dialer func(cfg broker.ClusterConfig) (broker.AdminClient, broker.MessagingClient, error)

// Connection is a live cluster connection. The admin and messaging
// clients are owned exclusively by this connection.
type Connection struct {
	Config      broker.ClusterConfig
	Admin       broker.AdminClient
	Messaging   broker.MessagingClient
	ConnectedAt time.Time
}

// Info is the externally visible snapshot of a connection.
type Info struct {
	ID          string    `json:"id"`
	Driver      string    `json:"driver"`
	ServiceURL  string    `json:"serviceUrl"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Info returns the snapshot form of the connection.
func (c *Connection) Info() Info {
	return Info{
		ID:          c.Config.ID,
		Driver:      c.Config.Driver,
		ServiceURL:  c.Config.ServiceURL,
		ConnectedAt: c.ConnectedAt,
	}
}

// Registry maps cluster identifiers to live connections. All methods
// are safe for concurrent use; the registry is the only synchronization
// boundary its callers need.
type Registry struct {
	dialer Dialer
	logger *slog.Logger

	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty registry using the given dialer.
func NewRegistry(dialer Dialer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "cluster-registry")
	}
	return &Registry{
		dialer:      dialer,
		logger:      logger,
		connections: make(map[string]*Connection),
	}
}

// Connect registers a new cluster connection. It fails with
// ErrAlreadyConnected when the id is present, without mutating state.
// Constructing the capabilities performs no network call; the drivers
// connect lazily on first operation.
func (r *Registry) Connect(cfg broker.ClusterConfig) (Info, error) {
	if err := cfg.Validate(); err != nil {
		return Info{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[cfg.ID]; exists {
		return Info{}, errors.WrapConflict(errors.ErrAlreadyConnected, "Registry", "Connect", "insert cluster "+cfg.ID)
	}

	admin, messaging, err := r.dialer(cfg)
	if err != nil {
		return Info{}, errors.Wrap(err, "Registry", "Connect", "construct cluster clients")
	}

	conn := &Connection{
		Config:      cfg,
		Admin:       admin,
		Messaging:   messaging,
		ConnectedAt: time.Now(),
	}
	r.connections[cfg.ID] = conn

	r.logger.Info("cluster connected", "cluster", cfg.ID, "driver", cfg.Driver)
	return conn.Info(), nil
}

// Disconnect closes the cluster's messaging capability (which closes
// every resource derived from it first) and then removes the entry.
// The lock is held across the whole teardown so a concurrent lookup
// never observes a half-closed connection as present.
func (r *Registry) Disconnect(ctx context.Context, clusterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[clusterID]
	if !exists {
		return errors.WrapNotFound(errors.ErrNotConnected, "Registry", "Disconnect", "lookup cluster "+clusterID)
	}

	// Aggregate close first: the messaging client closes its derived
	// producers/consumers/readers, then itself. A failure is reported
	// but the entry is removed regardless; closing is best-effort.
	if err := conn.Messaging.Close(ctx); err != nil {
		r.logger.Error("messaging close failed during disconnect", "cluster", clusterID, "error", err)
	}

	delete(r.connections, clusterID)
	r.logger.Info("cluster disconnected", "cluster", clusterID)
	return nil
}

// Get returns the connection for a cluster id.
func (r *Registry) Get(clusterID string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[clusterID]
	if !exists {
		return nil, errors.WrapNotFound(errors.ErrNotConnected, "Registry", "Get", "lookup cluster "+clusterID)
	}
	return conn, nil
}

// List returns a snapshot of all connections, in no particular order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.connections))
	for _, conn := range r.connections {
		infos = append(infos, conn.Info())
	}
	return infos
}

// CloseAll disconnects every cluster, collecting failures. Used by
// process-wide teardown after all resources have been released.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	var errs []error
	for _, conn := range connections {
		if err := conn.Messaging.Close(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "Registry", "CloseAll", "close cluster "+conn.Config.ID))
			r.logger.Error("cluster close failed during teardown", "cluster", conn.Config.ID, "error", err)
		}
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
}
