package postgres

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
)

type cursor struct {
	ctx   context.Context
	tx    pgx.Tx
	rows  pgx.Rows
	names []string
	row   map[string]any
	err   error
}

func newCursor(ctx context.Context, tx pgx.Tx, rows pgx.Rows) *cursor {
	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return &cursor{ctx: ctx, tx: tx, rows: rows, names: names}
}

func (c *cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	values, err := c.rows.Values()
	if err != nil {
		c.err = fmt.Errorf("decode row: %w", err)
		return false
	}
	row := make(map[string]any, len(c.names))
	for i, name := range c.names {
		row[name] = normalizeValue(values[i])
	}
	c.row = row
	return true
}

func (c *cursor) Row() map[string]any { return c.row }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *cursor) Close() error {
	c.rows.Close()
	return c.tx.Rollback(context.WithoutCancel(c.ctx))
}

// normalizeValue handles the pgx-specific decodings before falling back to
// datasource.NormalizeValue.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		if x.Exp >= 0 && x.Int != nil {
			if i, err := x.Int64Value(); err == nil && i.Valid {
				return i.Int64
			}
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case netip.Prefix:
		return x.String()
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		return fmt.Sprintf("%02d:%02d:%02d",
			x.Microseconds/3_600_000_000, x.Microseconds/60_000_000%60, x.Microseconds/1_000_000%60)
	default:
		return datasource.NormalizeValue(v)
	}
}
