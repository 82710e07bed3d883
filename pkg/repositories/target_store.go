package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/database"
	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/sqlident"
)

// TargetOptions control how new target rows are identified.
type TargetOptions struct {
	// IDColumn is the surrogate key column fk_lookup returns.
	IDColumn string
	// GenerateIDs fills IDColumn with a new UUID on insert unless the record sets it.
	GenerateIDs bool
}

// TargetStore writes imported rows into the target PostgreSQL database.
// Each batch is one transaction and each row runs inside its own savepoint,
// so a rejected row leaves the rest of the batch intact.
type TargetStore struct {
	db     *database.DB
	opts   TargetOptions
	logger *zap.Logger
}

var _ etl.TargetStore = (*TargetStore)(nil)

// NewTargetStore creates a target store.
func NewTargetStore(db *database.DB, opts TargetOptions, logger *zap.Logger) *TargetStore {
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
	}
	return &TargetStore{
		db:     db,
		opts:   opts,
		logger: logger.Named("target"),
	}
}

// LookupID resolves value to the surrogate key of the first row whose field
// equals it. It reads committed data only.
func (s *TargetStore) LookupID(ctx context.Context, table, field string, value any) (any, bool, error) {
	tbl, err := sqlident.QuoteTable(sqlident.Postgres, table)
	if err != nil {
		return nil, false, err
	}
	cols, err := sqlident.QuoteColumns(sqlident.Postgres, []string{s.opts.IDColumn, field})
	if err != nil {
		return nil, false, err
	}
	idCol, fieldCol, _ := strings.Cut(cols, ", ")

	var id any
	err = s.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1", idCol, tbl, fieldCol), value).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		if isRowScoped(err) {
			return nil, false, &etl.TransformError{Transform: "fk_lookup:" + table + "." + field, Value: value, Err: err}
		}
		return nil, false, err
	}
	if b, ok := id.([16]byte); ok {
		id = uuid.UUID(b)
	}
	return id, true, nil
}

// Exists reports whether a row with keyField = key exists.
func (s *TargetStore) Exists(ctx context.Context, table, keyField string, key any) (bool, error) {
	return exists(ctx, s.db, table, keyField, key)
}

// Begin starts the transaction of one batch.
func (s *TargetStore) Begin(ctx context.Context) (etl.TargetBatch, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &targetBatch{store: s, tx: tx}, nil
}

type targetBatch struct {
	store *TargetStore
	tx    pgx.Tx
}

// Upsert updates the row identified by key or inserts a new one, inside a
// savepoint. Constraint and data errors roll back the savepoint and are
// returned as *etl.WriteError.
func (b *targetBatch) Upsert(ctx context.Context, table, keyField string, key any, rec *etl.Record) (bool, error) {
	sp, err := b.tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create savepoint: %w", err)
	}

	created, err := b.store.upsert(ctx, sp, table, keyField, key, rec)
	if err != nil {
		if !isRowScoped(err) {
			return false, err
		}
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return false, fmt.Errorf("failed to roll back savepoint: %w", rbErr)
		}
		b.store.logger.Debug("Row rejected by target",
			zap.String("table", table),
			zap.Any("key", key),
			zap.Error(err),
		)
		var we *etl.WriteError
		if !errors.As(err, &we) {
			we = &etl.WriteError{Err: err}
		}
		return false, we
	}

	if err := sp.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return created, nil
}

func (b *targetBatch) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *targetBatch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (s *TargetStore) upsert(ctx context.Context, q database.Querier, table, keyField string, key any, rec *etl.Record) (bool, error) {
	tbl, err := sqlident.QuoteTable(sqlident.Postgres, table)
	if err != nil {
		return false, err
	}

	found, err := exists(ctx, q, table, keyField, key)
	if err != nil {
		return false, err
	}

	if found {
		var sets []string
		var args []any
		for i, col := range rec.Columns() {
			if col == keyField {
				continue
			}
			args = append(args, rec.Values()[i])
			sets = append(sets, fmt.Sprintf("%s = $%d", sqlident.Quote(sqlident.Postgres, col), len(args)))
		}
		if len(sets) == 0 {
			return false, nil
		}
		args = append(args, key)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
			tbl, strings.Join(sets, ", "), sqlident.Quote(sqlident.Postgres, keyField), len(args))
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return false, err
		}
		return false, nil
	}

	columns := append([]string(nil), rec.Columns()...)
	args := append([]any(nil), rec.Values()...)
	if _, ok := rec.Get(s.opts.IDColumn); s.opts.GenerateIDs && !ok {
		columns = append(columns, s.opts.IDColumn)
		args = append(args, uuid.New())
	}

	cols, err := sqlident.QuoteColumns(sqlident.Postgres, columns)
	if err != nil {
		return false, err
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, cols, strings.Join(placeholders, ", "))
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return false, err
	}
	return true, nil
}

func exists(ctx context.Context, q database.Querier, table, keyField string, key any) (bool, error) {
	tbl, err := sqlident.QuoteTable(sqlident.Postgres, table)
	if err != nil {
		return false, err
	}
	if !sqlident.Valid(keyField) {
		return false, fmt.Errorf("invalid column name %q", keyField)
	}

	var found bool
	err = q.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", tbl, sqlident.Quote(sqlident.Postgres, keyField)),
		key).Scan(&found)
	if err != nil {
		if isRowScoped(err) {
			return false, &etl.WriteError{Err: err}
		}
		return false, err
	}
	return found, nil
}

// isRowScoped reports data exceptions (class 22) and integrity constraint
// violations (class 23). They concern the values of one row only.
func isRowScoped(err error) bool {
	var we *etl.WriteError
	if errors.As(err, &we) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}
