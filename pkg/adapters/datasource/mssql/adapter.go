package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	mssqldb "github.com/microsoft/go-mssqldb"
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/config"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/sqlident"
)

// Adapter reads rows from SQL Server.
type Adapter struct {
	config  *Config
	db      *sql.DB
	ownedDB bool // true if we created the DB outside the connection manager
}

// driverAndDSN returns the database/sql driver name and connection URL for cfg.
func driverAndDSN(cfg *Config) (string, string) {
	if cfg.DSN != "" {
		return "sqlserver", cfg.DSN
	}

	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", strconv.FormatBool(cfg.Encrypt))
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}
	query.Add("app name", "ekaya-etl")

	host := config.ResolveHostForDocker(cfg.Host)

	if cfg.AuthMethod == AuthServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.ClientID+"@"+cfg.TenantID)
		query.Add("password", cfg.ClientSecret)
		return "azuresql", fmt.Sprintf("sqlserver://%s:%d?%s", host, cfg.Port, query.Encode())
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return "sqlserver", u.String()
}

// NewAdapter connects to SQL Server. With a nil connection manager the
// handle is owned by the adapter and closed with it.
func NewAdapter(ctx context.Context, cfg *Config, pools *datasource.ConnectionManager, poolKey string) (*Adapter, error) {
	driver, dsn := driverAndDSN(cfg)
	create := func(ctx context.Context, s datasource.PoolSettings) (datasource.PoolConnector, error) {
		return datasource.CreateSQLPool(ctx, driver, dsn, models.ConnectionTypeMSSQL, s)
	}

	var (
		connector datasource.PoolConnector
		err       error
	)
	if pools == nil {
		connector, err = create(ctx, datasource.PoolSettings{MaxConns: datasource.DefaultPoolMaxConns})
	} else {
		connector, err = pools.GetOrCreateConnection(ctx, poolKey, create)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to sql server: %w", err)
	}

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return nil, fmt.Errorf("failed to extract mssql db: %w", err)
	}

	return &Adapter{config: cfg, db: db, ownedDB: pools == nil}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := a.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if a.config.Database != "" && currentDB != a.config.Database {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}
	return nil
}

// ReadTable streams table under snapshot isolation. SQL Server has no
// read-only transaction mode, so the statement itself is the only SQL sent.
func (a *Adapter) ReadTable(ctx context.Context, table string, columns []string) (datasource.RowCursor, error) {
	query, err := sqlident.SelectAll(sqlident.MSSQL, table, columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
	}

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	cur, err := datasource.NewSQLRowCursor(rows, tx, normalizeColumn)
	if err != nil {
		rows.Close()
		_ = tx.Rollback()
		return nil, err
	}
	return cur, nil
}

// Close releases the adapter (but NOT the DB if managed).
func (a *Adapter) Close() error {
	if a.ownedDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}

// normalizeColumn decodes the SQL Server types the driver returns as raw bytes.
func normalizeColumn(col *sql.ColumnType, v any) (any, bool) {
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	switch col.DatabaseTypeName() {
	case "UNIQUEIDENTIFIER":
		var id mssqldb.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String(), true
		}
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f, true
		}
	}
	return nil, false
}

var _ datasource.SourceReader = (*Adapter)(nil)
