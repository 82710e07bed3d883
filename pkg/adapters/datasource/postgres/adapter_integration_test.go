//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/testhelpers"
)

func TestAdapter_ReadTable(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := testDB.Pool.Exec(ctx, `
		DROP TABLE IF EXISTS src_kunde;
		CREATE TABLE src_kunde (pk integer PRIMARY KEY, name text, umsatz numeric(10,2), angelegt timestamptz);
		INSERT INTO src_kunde VALUES (1, 'Acme', 1200.50, '2024-01-02T03:04:05Z'), (2, NULL, NULL, NULL);
	`)
	require.NoError(t, err)

	adapter, err := NewAdapter(ctx, &Config{DSN: testDB.ConnStr}, nil, "")
	require.NoError(t, err)
	defer adapter.Close()

	require.NoError(t, adapter.TestConnection(ctx))

	cur, err := adapter.ReadTable(ctx, "src_kunde", []string{"pk", "name", "umsatz"})
	require.NoError(t, err)

	var rows []map[string]any
	for cur.Next() {
		rows = append(rows, cur.Row())
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())

	require.Len(t, rows, 2)
	byKey := map[int64]map[string]any{}
	for _, r := range rows {
		byKey[r["pk"].(int64)] = r
	}
	assert.Equal(t, "Acme", byKey[1]["name"])
	assert.Equal(t, 1200.5, byKey[1]["umsatz"])
	assert.Nil(t, byKey[2]["name"])
	assert.NotContains(t, byKey[1], "angelegt", "only projected columns are read")
}

func TestAdapter_ReadTableIsReadOnly(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	adapter, err := NewAdapter(ctx, &Config{DSN: testDB.ConnStr}, nil, "")
	require.NoError(t, err)
	defer adapter.Close()

	_, err = adapter.ReadTable(ctx, "src_kunde; DROP TABLE src_kunde", []string{"pk"})
	require.Error(t, err)
	assert.ErrorIs(t, err, datasource.ErrInvalidSource)
}

func TestAdapter_ManagedPoolIsShared(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	cm := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, zaptest.NewLogger(t))
	defer cm.Close()

	a1, err := NewAdapter(ctx, &Config{DSN: testDB.ConnStr}, cm, "src-1")
	require.NoError(t, err)
	a2, err := NewAdapter(ctx, &Config{DSN: testDB.ConnStr}, cm, "src-1")
	require.NoError(t, err)

	assert.Same(t, a1.pool, a2.pool)
	require.NoError(t, a1.Close())
	require.NoError(t, a2.TestConnection(ctx), "closing a managed adapter keeps the pool open")
	assert.Equal(t, 1, cm.GetStats().TotalConnections)
}

func TestAdapter_ConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewAdapter(ctx, &Config{
		Host:     "localhost",
		Port:     59999,
		User:     "nobody",
		Database: "nodb",
		SSLMode:  "disable",
	}, nil, "")
	require.Error(t, err)
}
