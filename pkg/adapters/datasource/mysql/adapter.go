package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	driver "github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/sqlident"
)

// Adapter reads rows from MySQL or MariaDB.
type Adapter struct {
	config  *driver.Config
	db      *sql.DB
	ownedDB bool
}

// NewAdapter connects to MySQL. With a nil connection manager the handle is
// owned by the adapter and closed with it.
func NewAdapter(ctx context.Context, cfg *driver.Config, pools *datasource.ConnectionManager, poolKey string) (*Adapter, error) {
	dsn := cfg.FormatDSN()
	create := func(ctx context.Context, s datasource.PoolSettings) (datasource.PoolConnector, error) {
		return datasource.CreateSQLPool(ctx, "mysql", dsn, models.ConnectionTypeMySQL, s)
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
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return nil, err
	}
	return &Adapter{config: cfg, db: db, ownedDB: pools == nil}, nil
}

// TestConnection verifies the database is reachable and selected.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var currentDB sql.NullString
	if err := a.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if a.config.DBName != "" && currentDB.String != a.config.DBName {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.DBName, currentDB.String)
	}
	return nil
}

// ReadTable streams table inside a READ ONLY repeatable-read transaction.
func (a *Adapter) ReadTable(ctx context.Context, table string, columns []string) (datasource.RowCursor, error) {
	query, err := sqlident.SelectAll(sqlident.MySQL, table, columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
	}

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
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

// normalizeColumn converts text-protocol numbers, which the driver returns
// as raw bytes, using the column's declared type.
func normalizeColumn(col *sql.ColumnType, v any) (any, bool) {
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	switch strings.TrimPrefix(col.DatabaseTypeName(), "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n, true
		}
	case "DECIMAL", "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f, true
		}
	}
	return nil, false
}

var _ datasource.SourceReader = (*Adapter)(nil)
