package datasource

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ColumnNormalizer converts a driver-specific value for one column. It
// returns ok=false to fall back to NormalizeValue.
type ColumnNormalizer func(col *sql.ColumnType, v any) (out any, ok bool)

// SQLRowCursor adapts *sql.Rows read inside a read-only transaction to RowCursor.
type SQLRowCursor struct {
	rows      *sql.Rows
	tx        *sql.Tx
	names     []string
	types     []*sql.ColumnType
	normalize ColumnNormalizer
	row       map[string]any
	err       error
}

// NewSQLRowCursor wraps rows; closing the cursor closes rows and ends tx.
func NewSQLRowCursor(rows *sql.Rows, tx *sql.Tx, normalize ColumnNormalizer) (*SQLRowCursor, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read result column types: %w", err)
	}
	return &SQLRowCursor{rows: rows, tx: tx, names: names, types: types, normalize: normalize}, nil
}

func (c *SQLRowCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}

	values := make([]any, len(c.names))
	ptrs := make([]any, len(c.names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = fmt.Errorf("scan row: %w", err)
		return false
	}

	row := make(map[string]any, len(c.names))
	for i, name := range c.names {
		v := values[i]
		if c.normalize != nil && v != nil {
			if out, ok := c.normalize(c.types[i], v); ok {
				row[name] = out
				continue
			}
		}
		row[name] = NormalizeValue(v)
	}
	c.row = row
	return true
}

func (c *SQLRowCursor) Row() map[string]any { return c.row }

func (c *SQLRowCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close closes the result set and rolls back the read-only transaction.
func (c *SQLRowCursor) Close() error {
	err := c.rows.Close()
	if c.tx != nil {
		if rbErr := c.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, rbErr)
		}
	}
	return err
}

// NormalizeValue maps driver values onto the types RowCursor promises:
// nil, string, int64, float64, bool or time.Time.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool, time.Time:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUnsigned(x)
	case uint:
		return normalizeUnsigned(uint64(x))
	case float32:
		return float64(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// normalizeUnsigned keeps values above math.MaxInt64 exact as decimal text.
func normalizeUnsigned(x uint64) any {
	if x > math.MaxInt64 {
		return strconv.FormatUint(x, 10)
	}
	return int64(x)
}
