//go:build integration

package migrations

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-etl/pkg/testhelpers"
)

func Test_001_ConfigConstraints(t *testing.T) {
	etlDB := testhelpers.GetETLDB(t)
	testhelpers.TruncateETL(t, etlDB)
	ctx := context.Background()

	var sourceID uuid.UUID
	err := etlDB.DB.QueryRow(ctx, `
		INSERT INTO etl_source (name, connection_type, connection_string)
		VALUES ('legacy', 'mssql', 'env:LEGACY') RETURNING id`).Scan(&sourceID)
	require.NoError(t, err)

	_, err = etlDB.DB.Exec(ctx, `
		INSERT INTO etl_source (name, connection_type, connection_string)
		VALUES ('other', 'oracle', 'x')`)
	assert.Error(t, err, "unknown connection types are rejected")

	_, err = etlDB.DB.Exec(ctx, `
		INSERT INTO etl_source (name, connection_type, connection_string)
		VALUES ('legacy', 'csv', '/x')`)
	assert.Error(t, err, "source names are unique")

	var mappingID uuid.UUID
	err = etlDB.DB.QueryRow(ctx, `
		INSERT INTO etl_table_mapping (source_id, source_table, source_pk_field, target_table, target_pk_field)
		VALUES ($1, 'kunde', 'pk', 'org', 'legacy_id') RETURNING id`, sourceID).Scan(&mappingID)
	require.NoError(t, err)

	insertField := `
		INSERT INTO etl_field_mapping (table_mapping_id, source_field, target_field, position)
		VALUES ($1, 'name', 'name', 0)`
	_, err = etlDB.DB.Exec(ctx, insertField, mappingID)
	require.NoError(t, err)
	_, err = etlDB.DB.Exec(ctx, insertField, mappingID)
	assert.Error(t, err, "a target field is mapped at most once per table mapping")
}

func Test_002_ImportLogStatusInvariant(t *testing.T) {
	etlDB := testhelpers.GetETLDB(t)
	testhelpers.TruncateETL(t, etlDB)
	ctx := context.Background()

	var mappingID uuid.UUID
	err := etlDB.DB.QueryRow(ctx, `
		WITH s AS (
			INSERT INTO etl_source (name, connection_type, connection_string)
			VALUES ('legacy', 'csv', '/x') RETURNING id
		)
		INSERT INTO etl_table_mapping (source_id, source_table, source_pk_field, target_table, target_pk_field)
		SELECT id, 'kunde', 'pk', 'org', 'legacy_id' FROM s RETURNING id`).Scan(&mappingID)
	require.NoError(t, err)

	_, err = etlDB.DB.Exec(ctx, `
		INSERT INTO etl_import_log (table_mapping_id, status, finished_at) VALUES ($1, 'running', now())`, mappingID)
	assert.Error(t, err, "running logs have no finished_at")

	_, err = etlDB.DB.Exec(ctx, `
		INSERT INTO etl_import_log (table_mapping_id, status) VALUES ($1, 'success')`, mappingID)
	assert.Error(t, err, "terminal logs need finished_at")

	_, err = etlDB.DB.Exec(ctx, `
		INSERT INTO etl_import_log (table_mapping_id, status) VALUES ($1, 'paused')`, mappingID)
	assert.Error(t, err)

	var indexExists bool
	err = etlDB.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_etl_import_log_mapping_started')`).Scan(&indexExists)
	require.NoError(t, err)
	assert.True(t, indexExists)
}
