package etl

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Lookuper runs the equality query behind fk_lookup:
// SELECT id FROM <table> WHERE <field> = value.
type Lookuper interface {
	LookupID(ctx context.Context, table, field string, value any) (id any, found bool, err error)
}

type fkKey struct {
	table string
	field string
	value string
}

type fkEntry struct {
	id    any
	found bool
}

// FKCache memoizes fk_lookup results for a single run, including misses.
// It is not safe for concurrent use; a run is a single sequential pass.
type FKCache struct {
	lookup  Lookuper
	timeout time.Duration
	entries map[fkKey]fkEntry
	queries int
}

// NewFKCache creates an empty cache. A positive timeout bounds each query.
func NewFKCache(lookup Lookuper, timeout time.Duration) *FKCache {
	return &FKCache{
		lookup:  lookup,
		timeout: timeout,
		entries: make(map[fkKey]fkEntry),
	}
}

// Resolve returns the cached answer or issues one query. Errors are not cached.
func (c *FKCache) Resolve(ctx context.Context, table, field string, value any) (any, bool, error) {
	key := fkKey{table: table, field: field, value: cacheValue(value)}
	if e, ok := c.entries[key]; ok {
		return e.id, e.found, nil
	}

	lookupCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.queries++
	id, found, err := c.lookup.LookupID(lookupCtx, table, field, value)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, false, &ConnectivityError{
				Op:  fmt.Sprintf("fk_lookup %s.%s", table, field),
				Err: fmt.Errorf("timed out after %s: %w", c.timeout, err),
			}
		}
		if IsRowScoped(err) {
			return nil, false, err
		}
		return nil, false, fatal(fmt.Sprintf("fk_lookup %s.%s", table, field), err)
	}

	c.entries[key] = fkEntry{id: id, found: found}
	return id, found, nil
}

// Queries returns how many lookups reached the target store.
func (c *FKCache) Queries() int { return c.queries }

// Len returns the number of cached keys, hits and misses alike.
func (c *FKCache) Len() int { return len(c.entries) }

// cacheValue keys on dynamic type and value so 77 and "77" stay distinct.
func cacheValue(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}
