package datasource

import "context"

// PoolConnector abstracts connection pool operations across source
// database types (PostgreSQL, SQL Server, MySQL, SQLite).
type PoolConnector interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close() error

	// GetType returns the database type for logging/stats
	GetType() string
}
