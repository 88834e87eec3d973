// Package adapter provides shared TCP lifecycle management for protocol
// adapters: listener setup, connection accounting, semaphore-based connection
// limits, and graceful shutdown with forced closure after a timeout.
package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gxav/droplock/internal/logger"
)

// ConnectionHandler is a protocol-specific connection serving requests.
// Serve blocks until the peer disconnects or the context is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates protocol-specific handlers for accepted TCP
// connections. Protocol adapters implement this and pass themselves to
// ServeWithFactory.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds configuration common to all protocol adapters.
type BaseConfig struct {
	// BindAddress is the IP address to bind to. Empty string or "0.0.0.0"
	// binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for active connections during graceful
	// shutdown; connections still open afterwards are force-closed.
	ShutdownTimeout time.Duration
}

// MetricsRecorder records connection lifecycle metrics. May be nil.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// BaseAdapter owns the TCP accept loop and shutdown machinery that protocol
// adapters embed.
//
// All exported methods are safe for concurrent use. Shutdown is idempotent:
// Stop may be called multiple times and concurrently with ServeWithFactory.
type BaseAdapter struct {
	Config BaseConfig

	// Metrics is an optional connection lifecycle recorder. Nil disables
	// collection.
	Metrics MetricsRecorder

	// protocolName appears in every lifecycle log line.
	protocolName string

	// Shutdown is closed when graceful shutdown begins; the accept loop and
	// semaphore waits monitor it.
	Shutdown chan struct{}

	// ShutdownCtx is cancelled at shutdown so in-flight requests can abort.
	ShutdownCtx context.Context

	// CancelRequests cancels ShutdownCtx.
	CancelRequests context.CancelFunc

	// ListenerReady is closed once the listener accepts connections. Tests
	// use it to synchronize with startup.
	ListenerReady chan struct{}

	// ConnCount is the current number of active connections.
	ConnCount atomic.Int32

	listener     net.Listener
	listenerMu   sync.RWMutex
	activeConns  sync.WaitGroup
	shutdownOnce sync.Once

	// conns maps remote address to net.Conn so shutdown can interrupt
	// blocking reads and force-close stragglers.
	conns sync.Map

	// semaphore bounds concurrent connections; nil when unlimited.
	semaphore chan struct{}
}

// NewBaseAdapter creates a stopped adapter. Call ServeWithFactory to start.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var semaphore chan struct{}
	if config.MaxConnections > 0 {
		semaphore = make(chan struct{}, config.MaxConnections)
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		Shutdown:       make(chan struct{}),
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancel,
		ListenerReady:  make(chan struct{}),
		semaphore:      semaphore,
	}
}

// ServeWithFactory runs the accept loop, creating a handler per accepted
// connection via factory and serving each on its own goroutine. It returns
// nil on graceful shutdown, or an error if the listener fails or shutdown is
// forced.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	addr := fmt.Sprintf("%s:%d", b.Config.BindAddress, b.Config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", b.protocolName, addr, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocolName+" server listening", "address", listener.Addr())

	go func() {
		<-ctx.Done()
		logger.Info(b.protocolName+" shutdown signal received", "error", ctx.Err())
		b.initiateShutdown()
	}()

	for {
		if b.semaphore != nil {
			select {
			case b.semaphore <- struct{}{}:
			case <-b.Shutdown:
				return b.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if b.semaphore != nil {
				<-b.semaphore
			}

			select {
			case <-b.Shutdown:
				// Listener closed as part of shutdown.
				return b.gracefulShutdown()
			default:
				logger.Debug("Error accepting "+b.protocolName+" connection", "error", err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", "error", err)
			}
		}

		b.activeConns.Add(1)
		active := b.ConnCount.Add(1)
		remote := tcpConn.RemoteAddr().String()
		b.conns.Store(remote, tcpConn)

		if b.Metrics != nil {
			b.Metrics.RecordConnectionAccepted()
			b.Metrics.SetActiveConnections(active)
		}
		logger.Debug(b.protocolName+" connection accepted", "address", remote, "active", active)

		handler := factory.NewConnection(tcpConn)

		go func(remote string) {
			defer func() {
				b.conns.Delete(remote)
				b.activeConns.Done()
				remaining := b.ConnCount.Add(-1)
				if b.semaphore != nil {
					<-b.semaphore
				}
				if b.Metrics != nil {
					b.Metrics.RecordConnectionClosed()
					b.Metrics.SetActiveConnections(remaining)
				}
				logger.Debug(b.protocolName+" connection closed", "address", remote, "active", remaining)
			}()

			handler.Serve(b.ShutdownCtx)
		}(remote)
	}
}

// initiateShutdown starts graceful shutdown: stop accepting, interrupt
// blocking reads, cancel in-flight requests. Safe to call repeatedly.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", "error", err)
			}
		}
		b.listenerMu.Unlock()

		// Unblock reads parked on idle connections so their serve loops
		// observe the shutdown.
		deadline := time.Now().Add(100 * time.Millisecond)
		b.conns.Range(func(key, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				if err := conn.SetReadDeadline(deadline); err != nil {
					logger.Debug("Error setting shutdown deadline", "address", key, "error", err)
				}
			}
			return true
		})

		b.CancelRequests()
	})
}

// gracefulShutdown waits for active connections up to the configured timeout,
// then force-closes whatever remains.
func (b *BaseAdapter) gracefulShutdown() error {
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		"active", b.ConnCount.Load(), "timeout", b.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded, forcing closure",
			"active", remaining)
		b.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}
}

func (b *BaseAdapter) forceCloseConnections() {
	b.conns.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", "address", key, "error", err)
			return true
		}
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
		return true
	})
}

// Stop initiates graceful shutdown and waits for active connections. With a
// nil context it waits up to the configured ShutdownTimeout; otherwise it
// returns the context error when the context expires first.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if ctx == nil {
		return b.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete")
		return nil
	case <-ctx.Done():
		logger.Warn(b.protocolName+" shutdown context cancelled",
			"active", b.ConnCount.Load(), "error", ctx.Err())
		return ctx.Err()
	}
}

// GetListenerAddr returns the bound listen address, blocking until the
// listener is ready. Tests rely on this for port 0 binds.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// GetActiveConnections returns the current number of active connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// Protocol returns the adapter's human-readable protocol name.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}
