package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/config"
	"github.com/ekaya-inc/ekaya-etl/pkg/sqlident"
)

// Adapter reads rows from a PostgreSQL source.
type Adapter struct {
	config    *Config
	pool      *pgxpool.Pool
	ownedPool bool // true if we created the pool outside the connection manager
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so that passwords containing
// @, /, # or ? survive. Inside Docker, localhost is resolved to
// host.docker.internal to reach databases on the host machine.
func buildConnectionString(cfg *Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}

// NewAdapter connects to the source. With a nil connection manager an
// unmanaged pool is created and closed with the adapter.
func NewAdapter(ctx context.Context, cfg *Config, pools *datasource.ConnectionManager, poolKey string) (*Adapter, error) {
	connStr := buildConnectionString(cfg)

	if pools == nil {
		connector, err := datasource.CreatePostgresPool(ctx, connStr, datasource.PoolSettings{MaxConns: datasource.DefaultPoolMaxConns})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		pool, err := datasource.GetPostgresPool(connector)
		if err != nil {
			return nil, err
		}
		return &Adapter{config: cfg, pool: pool, ownedPool: true}, nil
	}

	connector, err := pools.GetOrCreateConnection(ctx, poolKey, func(ctx context.Context, s datasource.PoolSettings) (datasource.PoolConnector, error) {
		return datasource.CreatePostgresPool(ctx, connStr, s)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pool, err := datasource.GetPostgresPool(connector)
	if err != nil {
		return nil, fmt.Errorf("failed to extract postgres pool: %w", err)
	}

	return &Adapter{config: cfg, pool: pool}, nil
}

// TestConnection verifies the database is reachable and, when a database
// name was configured, that we landed in the right one.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := a.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	if expected := a.config.Database; expected != "" && !strings.EqualFold(currentDB, expected) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", expected, currentDB)
	}

	return nil
}

// ReadTable streams table inside a read-only repeatable-read transaction so
// the run sees one consistent snapshot of the source.
func (a *Adapter) ReadTable(ctx context.Context, table string, columns []string) (datasource.RowCursor, error) {
	query, err := sqlident.SelectAll(sqlident.Postgres, table, columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
	}

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}

	rows, err := tx.Query(ctx, query)
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	return newCursor(ctx, tx, rows), nil
}

// Close releases the adapter (but NOT the pool if managed).
func (a *Adapter) Close() error {
	if a.ownedPool && a.pool != nil {
		a.pool.Close()
	}
	return nil
}

var _ datasource.SourceReader = (*Adapter)(nil)
