// Package transfer implements the encrypted file transfer protocol adapter:
// a TCP server speaking the fixed-layout binary protocol through which
// clients register, exchange keys, and upload encrypted files.
package transfer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gxav/droplock/pkg/adapter"
	"github.com/gxav/droplock/pkg/metrics"
	"github.com/gxav/droplock/pkg/registry"
)

// TimeoutsConfig groups all timeout-related configuration.
type TimeoutsConfig struct {
	// Read is the maximum duration for reading a request payload or upload
	// stream once its header has arrived. Prevents slow or stalled clients
	// from pinning connections mid-request. 0 disables the timeout.
	Read time.Duration `mapstructure:"read" validate:"min=0"`

	// Write is the maximum duration for writing a response frame.
	// 0 disables the timeout.
	Write time.Duration `mapstructure:"write" validate:"min=0"`

	// Idle is the maximum duration a connection may sit between requests
	// before being closed. 0 keeps idle connections open indefinitely.
	Idle time.Duration `mapstructure:"idle" validate:"min=0"`

	// Shutdown bounds the wait for active connections during graceful
	// shutdown. Must be > 0 so shutdown always completes.
	Shutdown time.Duration `mapstructure:"shutdown" validate:"required,gt=0"`
}

// Config holds the transfer server configuration.
//
// Default values (applied by New if zero):
//   - MaxConnections: 0 (unlimited)
//   - Timeouts.Read: 5m
//   - Timeouts.Write: 30s
//   - Timeouts.Idle: 5m
//   - Timeouts.Shutdown: 30s
type Config struct {
	// BindAddress is the IP address to bind to. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address"`

	// Port is the TCP port to listen on. The configuration layer defaults
	// it to 1234; 0 binds an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// Timeouts groups all timeout-related configuration.
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
}

// applyDefaults fills zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 5 * time.Minute
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
}

// validate checks the configuration for production use.
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.Timeouts.Read < 0 || c.Timeouts.Write < 0 || c.Timeouts.Idle < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	if c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("invalid timeouts.shutdown %v: must be > 0", c.Timeouts.Shutdown)
	}
	return nil
}

// Adapter is the transfer protocol server. It embeds BaseAdapter for the
// shared TCP lifecycle (listener, shutdown, connection tracking, limits) and
// adds protocol dispatch on top.
type Adapter struct {
	*adapter.BaseAdapter

	config  Config
	store   registry.Store
	metrics metrics.TransferMetrics
}

// New creates a transfer adapter in a stopped state. Call Serve to start
// accepting connections.
//
// Zero config values are replaced with defaults; an invalid configuration
// panics (programmer error, not a runtime condition).
func New(config Config, store registry.Store, m metrics.TransferMetrics) *Adapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid transfer config: %v", err))
	}

	if m == nil {
		m = metrics.NopTransferMetrics{}
	}

	base := adapter.NewBaseAdapter(adapter.BaseConfig{
		BindAddress:     config.BindAddress,
		Port:            config.Port,
		MaxConnections:  config.MaxConnections,
		ShutdownTimeout: config.Timeouts.Shutdown,
	}, "Transfer")
	base.Metrics = m

	return &Adapter{
		BaseAdapter: base,
		config:      config,
		store:       store,
		metrics:     m,
	}
}

// Serve starts the server and blocks until the context is cancelled or an
// unrecoverable listener error occurs. Returns nil on graceful shutdown.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return newSession(a, conn)
}
