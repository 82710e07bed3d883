//go:build integration

package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/testhelpers"
)

func TestImportLogRepository_Lifecycle(t *testing.T) {
	configRepo, ctx := setupConfigTest(t)
	repo := NewImportLogRepository(testhelpers.GetETLDB(t).DB)

	snap, err := configRepo.LoadSnapshot(ctx, models.RunRequest{SourceName: "legacy", Table: "kunde", TargetTable: "org"})
	require.NoError(t, err)
	mappingID := snap.TableMapping.ID

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	log := &models.ImportLog{
		TableMappingID: mappingID,
		StartedAt:      start,
		Status:         models.ImportStatusRunning,
	}
	require.NoError(t, repo.Create(ctx, log))
	require.NotEqual(t, "", log.ID.String())

	finished := start.Add(90 * time.Second)
	log.Status = models.ImportStatusSuccess
	log.FinishedAt = &finished
	log.ImportCounts = models.ImportCounts{Read: 3, Created: 2, Updated: 0, Failed: 1}
	require.NoError(t, repo.Finalize(ctx, log))

	// a log is finalized exactly once
	err = repo.Finalize(ctx, log)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	msg := "run already in progress"
	rejectedAt := start.Add(time.Hour)
	rejected := &models.ImportLog{
		TableMappingID: mappingID,
		StartedAt:      rejectedAt,
		FinishedAt:     &rejectedAt,
		Status:         models.ImportStatusFailed,
		ErrorMessage:   &msg,
	}
	require.NoError(t, repo.Create(ctx, rejected))

	logs, total, err := repo.ListByTableMapping(ctx, mappingID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, logs, 2)

	// newest first
	assert.Equal(t, rejected.ID, logs[0].ID)
	assert.Equal(t, models.ImportStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, msg, *logs[0].ErrorMessage)

	assert.Equal(t, log.ID, logs[1].ID)
	assert.Equal(t, models.ImportCounts{Read: 3, Created: 2, Failed: 1}, logs[1].ImportCounts)
	require.NotNil(t, logs[1].FinishedAt)
	assert.True(t, finished.Equal(*logs[1].FinishedAt))

	page, total, err := repo.ListByTableMapping(ctx, mappingID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, log.ID, page[0].ID)
}

func TestImportLogRepository_FinalizeRejectsRunningStatus(t *testing.T) {
	repo := NewImportLogRepository(testhelpers.GetETLDB(t).DB)

	err := repo.Finalize(t.Context(), &models.ImportLog{Status: models.ImportStatusRunning})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
