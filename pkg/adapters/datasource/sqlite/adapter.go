// Package sqlite reads source tables from SQLite database files.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/sqlident"
)

// Adapter reads rows from a SQLite file opened read-only.
type Adapter struct {
	path    string
	db      *sql.DB
	ownedDB bool
}

// PathFromDescriptor returns the database file named by "path" or "dsn".
func PathFromDescriptor(d datasource.Descriptor) (string, error) {
	path := d.String(datasource.KeyPath)
	if path == "" {
		path = d.String(datasource.KeyDSN)
	}
	path = strings.TrimPrefix(path, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "", fmt.Errorf("%w: sqlite source needs a file path", datasource.ErrInvalidSource)
	}
	return path, nil
}

// NewAdapter opens path in read-only mode. The file must exist; SQLite
// would otherwise create an empty database.
func NewAdapter(ctx context.Context, path string, pools *datasource.ConnectionManager, poolKey string) (*Adapter, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
	}

	dsn := "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)"
	create := func(ctx context.Context, s datasource.PoolSettings) (datasource.PoolConnector, error) {
		return datasource.CreateSQLPool(ctx, "sqlite", dsn, models.ConnectionTypeSQLite, s)
	}

	var (
		connector datasource.PoolConnector
		err       error
	)
	if pools == nil {
		connector, err = create(ctx, datasource.PoolSettings{MaxConns: 1})
	} else {
		connector, err = pools.GetOrCreateConnection(ctx, poolKey, create)
	}
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return nil, err
	}
	return &Adapter{path: path, db: db, ownedDB: pools == nil}, nil
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	var one int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// ReadTable streams table. The connection is opened with mode=ro, so the
// transaction only pins a consistent snapshot.
func (a *Adapter) ReadTable(ctx context.Context, table string, columns []string) (datasource.RowCursor, error) {
	query, err := sqlident.SelectAll(sqlident.SQLite, table, columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	cur, err := datasource.NewSQLRowCursor(rows, tx, nil)
	if err != nil {
		rows.Close()
		_ = tx.Rollback()
		return nil, err
	}
	return cur, nil
}

func (a *Adapter) Close() error {
	if a.ownedDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}

var _ datasource.SourceReader = (*Adapter)(nil)
