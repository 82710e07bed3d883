package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/logging"
	"github.com/ekaya-inc/ekaya-etl/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxConnections       = 10
	DefaultPoolMaxConns         = 4
	DefaultPoolMinConns         = 1
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes     int
	MaxConnections int
	PoolMaxConns   int32
	PoolMinConns   int32
	Clock          clock.Clock
}

// PoolSettings are applied to every pool the manager creates.
type PoolSettings struct {
	MaxConns int32
	MinConns int32
	IdleTime time.Duration
}

// ConnectionManager caches source connection pools between runs with
// TTL-based expiry and automatic cleanup.
type ConnectionManager struct {
	mu             sync.RWMutex
	connections    map[string]*ManagedConnection
	ttl            time.Duration
	maxConnections int
	settings       PoolSettings
	clock          clock.Clock
	stopped        bool
	stopChan       chan struct{}
	logger         *zap.Logger
}

// ManagedConnection represents a pooled source connection
type ManagedConnection struct {
	conn     PoolConnector
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	manager := &ConnectionManager{
		connections:    make(map[string]*ManagedConnection),
		ttl:            ttl,
		maxConnections: cfg.MaxConnections,
		settings: PoolSettings{
			MaxConns: cfg.PoolMaxConns,
			MinConns: cfg.PoolMinConns,
			IdleTime: ttl,
		},
		clock:    cfg.Clock,
		stopChan: make(chan struct{}),
		logger:   logger.Named("connections"),
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// GetOrCreateConnection returns the cached pool for key, or creates one with
// create. A cached pool that fails its health check is replaced.
func (m *ConnectionManager) GetOrCreateConnection(
	ctx context.Context,
	key string,
	create func(ctx context.Context, settings PoolSettings) (PoolConnector, error),
) (PoolConnector, error) {
	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.WithMaxRetries(1), func() error {
			return managed.conn.Ping(healthCtx)
		})
		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.removeConnection(key)
			return m.createNew(ctx, key, create)
		}

		managed.lastUsed = m.clock.Now()
		managed.mu.Unlock()
		return managed.conn, nil
	}

	return m.createNew(ctx, key, create)
}

// createNew creates and stores a pool.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createNew(
	ctx context.Context,
	key string,
	create func(ctx context.Context, settings PoolSettings) (PoolConnector, error),
) (PoolConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have created it while we waited for the lock.
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = m.clock.Now()
		return managed.conn, nil
	}

	if len(m.connections) >= m.maxConnections {
		m.logger.Warn("max open sources reached",
			zap.Int("current", len(m.connections)),
			zap.Int("max", m.maxConnections),
		)
		return nil, fmt.Errorf("maximum open source connections reached (%d)", m.maxConnections)
	}

	conn, err := create(ctx, m.settings)
	if err != nil {
		return nil, err
	}

	m.connections[key] = &ManagedConnection{
		conn:     conn,
		lastUsed: m.clock.Now(),
	}

	m.logger.Info("created new connection pool",
		zap.String("key", key),
		zap.String("type", conn.GetType()),
		zap.Int("totalConnections", len(m.connections)),
	)

	return conn, nil
}

// removeConnection removes a connection from the cache and closes it.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		m.closeConn(key, managed)
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key))
	}
}

func (m *ConnectionManager) closeConn(key string, managed *ManagedConnection) {
	if managed.conn == nil {
		return
	}
	if err := managed.conn.Close(); err != nil {
		m.logger.Warn("failed to close connection",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

// cleanupExpiredConnections runs until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	for {
		select {
		case <-m.clock.After(DefaultCleanupInterval):
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connections that haven't been used within TTL.
// Lock ordering: manager lock, then connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := m.clock.Now()
	expiredKeys := []string{}

	for key, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idleTime > m.ttl {
			expiredKeys = append(expiredKeys, key)
			m.logger.Debug("marking connection for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idleTime),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, key := range expiredKeys {
		m.closeConn(key, m.connections[key])
		delete(m.connections, key)
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all connections in the manager and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for key, managed := range m.connections {
		if managed != nil {
			m.closeConn(key, managed)
		}
	}

	m.connections = make(map[string]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		MaxConnections:    m.maxConnections,
		TTLMinutes:        int(m.ttl.Minutes()),
		ConnectionsByType: make(map[string]int),
	}

	for _, managed := range m.connections {
		if managed == nil {
			continue
		}
		stats.ConnectionsByType[managed.conn.GetType()]++

		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	MaxConnections    int            `json:"max_connections"`
	TTLMinutes        int            `json:"ttl_minutes"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}
