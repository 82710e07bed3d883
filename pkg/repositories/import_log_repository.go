package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/database"
	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// ImportLogRepository persists the audit trail of runs.
type ImportLogRepository interface {
	// Create inserts a log row as given, running or already terminal.
	Create(ctx context.Context, log *models.ImportLog) error

	// Finalize writes the terminal status and counts of a running log.
	// Returns apperrors.ErrConflict if the log is not running.
	Finalize(ctx context.Context, log *models.ImportLog) error

	// ListByTableMapping returns a page of logs, newest first, and the total count.
	ListByTableMapping(ctx context.Context, tableMappingID uuid.UUID, limit, offset int) ([]*models.ImportLog, int, error)
}

var _ etl.ImportLogStore = (ImportLogRepository)(nil)

type importLogRepository struct {
	db database.Querier
}

// NewImportLogRepository creates an import log repository on the ETL database.
func NewImportLogRepository(db database.Querier) ImportLogRepository {
	return &importLogRepository{db: db}
}

func (r *importLogRepository) Create(ctx context.Context, log *models.ImportLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO etl_import_log (id, table_mapping_id, started_at, finished_at, status,
		                            records_read, records_created, records_updated, records_failed, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		log.ID,
		log.TableMappingID,
		log.StartedAt,
		log.FinishedAt,
		string(log.Status),
		log.Read,
		log.Created,
		log.Updated,
		log.Failed,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create import log: %w", err)
	}
	return nil
}

func (r *importLogRepository) Finalize(ctx context.Context, log *models.ImportLog) error {
	if !log.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot finalize import log with status %q", apperrors.ErrInvalidInput, log.Status)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE etl_import_log
		SET status = $2, finished_at = $3,
		    records_read = $4, records_created = $5, records_updated = $6, records_failed = $7,
		    error_message = $8
		WHERE id = $1 AND status = 'running'`,
		log.ID,
		string(log.Status),
		log.FinishedAt,
		log.Read,
		log.Created,
		log.Updated,
		log.Failed,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize import log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import log %s is not running: %w", log.ID, apperrors.ErrConflict)
	}
	return nil
}

func (r *importLogRepository) ListByTableMapping(ctx context.Context, tableMappingID uuid.UUID, limit, offset int) ([]*models.ImportLog, int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM etl_import_log WHERE table_mapping_id = $1`, tableMappingID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count import logs: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, table_mapping_id, started_at, finished_at, status,
		       records_read, records_created, records_updated, records_failed, error_message
		FROM etl_import_log
		WHERE table_mapping_id = $1
		ORDER BY started_at DESC, id
		LIMIT $2 OFFSET $3`, tableMappingID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list import logs: %w", err)
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.ImportLog, error) {
		var l models.ImportLog
		var status string
		err := row.Scan(
			&l.ID,
			&l.TableMappingID,
			&l.StartedAt,
			&l.FinishedAt,
			&status,
			&l.Read,
			&l.Created,
			&l.Updated,
			&l.Failed,
			&l.ErrorMessage,
		)
		l.Status = models.ImportStatus(status)
		return &l, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan import logs: %w", err)
	}
	return logs, total, nil
}
