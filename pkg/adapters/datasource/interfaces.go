package datasource

import "context"

// ConnectionTester tests source connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the source is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the source connection.
	Close() error
}

// SourceReader streams rows out of an external source. Implementations only
// ever issue SELECT statements, inside a read-only transaction where the
// driver supports one.
type SourceReader interface {
	ConnectionTester

	// ReadTable opens a forward-only cursor over table with a fixed column
	// projection. The cursor must be closed before the reader.
	ReadTable(ctx context.Context, table string, columns []string) (RowCursor, error)
}

// RowCursor is a forward-only iterator over source rows.
//
//	for cur.Next() {
//		row := cur.Row()
//	}
//	if err := cur.Err(); err != nil { ... }
type RowCursor interface {
	// Next advances to the next row, returning false at the end or on error.
	Next() bool

	// Row returns the current row keyed by column name. Values are
	// normalized to nil, string, int64, float64, bool or time.Time.
	Row() map[string]any

	// Err returns the error that stopped iteration, if any.
	Err() error

	Close() error
}
