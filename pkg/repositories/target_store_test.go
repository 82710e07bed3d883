//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/testhelpers"
)

func setupTargetTest(t *testing.T) (*TargetStore, *testhelpers.ETLDB, context.Context) {
	t.Helper()
	etlDB := testhelpers.GetETLDB(t)
	ctx := context.Background()

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS person`,
		`DROP TABLE IF EXISTS org`,
		`CREATE TABLE org (
			id         UUID PRIMARY KEY,
			legacy_id  INTEGER NOT NULL UNIQUE,
			name       VARCHAR(10) NOT NULL,
			country    TEXT
		)`,
		`CREATE TABLE person (
			id        UUID PRIMARY KEY,
			legacy_id TEXT NOT NULL UNIQUE,
			org_id    UUID REFERENCES org (id)
		)`,
	} {
		_, err := etlDB.DB.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	store := NewTargetStore(etlDB.DB, TargetOptions{IDColumn: "id", GenerateIDs: true}, zaptest.NewLogger(t))
	return store, etlDB, ctx
}

func record(kv ...any) *etl.Record {
	rec := etl.NewRecord(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		rec.Set(kv[i].(string), kv[i+1])
	}
	return rec
}

func TestTargetStore_UpsertInsertsThenUpdates(t *testing.T) {
	store, etlDB, ctx := setupTargetTest(t)

	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	created, err := batch.Upsert(ctx, "org", "legacy_id", int64(1), record("name", "Acme", "country", "DE", "legacy_id", int64(1)))
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, batch.Commit(ctx))

	batch, err = store.Begin(ctx)
	require.NoError(t, err)
	created, err = batch.Upsert(ctx, "org", "legacy_id", int64(1), record("name", "Acme AG", "legacy_id", int64(1)))
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, batch.Commit(ctx))

	var count int
	var name, country string
	require.NoError(t, etlDB.DB.QueryRow(ctx, `SELECT COUNT(*), MAX(name), MAX(country) FROM org`).Scan(&count, &name, &country))
	assert.Equal(t, 1, count)
	assert.Equal(t, "Acme AG", name)
	assert.Equal(t, "DE", country, "unmapped columns keep their value on update")
}

func TestTargetStore_RejectedRowKeepsBatch(t *testing.T) {
	store, etlDB, ctx := setupTargetTest(t)

	batch, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = batch.Upsert(ctx, "org", "legacy_id", int64(1), record("name", "Acme", "legacy_id", int64(1)))
	require.NoError(t, err)

	_, err = batch.Upsert(ctx, "org", "legacy_id", int64(2), record("name", "Far too long a name", "legacy_id", int64(2)))
	var we *etl.WriteError
	require.True(t, errors.As(err, &we), "expected WriteError, got %v", err)
	assert.True(t, etl.IsRowScoped(err))

	_, err = batch.Upsert(ctx, "org", "legacy_id", int64(3), record("name", "Beta", "legacy_id", int64(3)))
	require.NoError(t, err)
	require.NoError(t, batch.Commit(ctx))

	var count int
	require.NoError(t, etlDB.DB.QueryRow(ctx, `SELECT COUNT(*) FROM org`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestTargetStore_RollbackDiscardsBatch(t *testing.T) {
	store, etlDB, ctx := setupTargetTest(t)

	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = batch.Upsert(ctx, "org", "legacy_id", int64(1), record("name", "Acme", "legacy_id", int64(1)))
	require.NoError(t, err)
	require.NoError(t, batch.Rollback(ctx))
	require.NoError(t, batch.Rollback(ctx), "rolling back twice is harmless")

	var count int
	require.NoError(t, etlDB.DB.QueryRow(ctx, `SELECT COUNT(*) FROM org`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestTargetStore_LookupAndExists(t *testing.T) {
	store, _, ctx := setupTargetTest(t)

	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = batch.Upsert(ctx, "org", "legacy_id", int64(77), record("name", "Acme", "legacy_id", int64(77)))
	require.NoError(t, err)

	// uncommitted rows are invisible to lookups
	_, found, err := store.LookupID(ctx, "org", "legacy_id", int64(77))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, batch.Commit(ctx))

	id, found, err := store.LookupID(ctx, "org", "legacy_id", int64(77))
	require.NoError(t, err)
	require.True(t, found)
	assert.IsType(t, uuid.UUID{}, id)

	_, found, err = store.LookupID(ctx, "org", "legacy_id", int64(78))
	require.NoError(t, err)
	assert.False(t, found)

	exists, err := store.Exists(ctx, "org", "legacy_id", int64(77))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "org", "legacy_id", int64(78))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTargetStore_ForeignKeyViolationIsRowScoped(t *testing.T) {
	store, _, ctx := setupTargetTest(t)

	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	defer batch.Rollback(ctx) //nolint:errcheck

	_, err = batch.Upsert(ctx, "person", "legacy_id", "P1", record("legacy_id", "P1", "org_id", uuid.New()))
	assert.True(t, etl.IsRowScoped(err), "expected row-scoped error, got %v", err)
}
