package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/database"
	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// ConfigRepository reads and writes sources, table mappings and field mappings.
type ConfigRepository interface {
	// LoadSnapshot resolves a run request to one active table mapping and reads
	// it with its source and field mappings in a single read-only transaction.
	LoadSnapshot(ctx context.Context, req models.RunRequest) (*models.ConfigSnapshot, error)

	// ListSources returns every source ordered by name.
	ListSources(ctx context.Context) ([]*models.Source, error)

	// ListMappings returns the table mappings of a source ordered by source table.
	ListMappings(ctx context.Context, sourceName string) ([]*models.TableMapping, error)

	// GetMapping retrieves a table mapping by ID.
	GetMapping(ctx context.Context, id uuid.UUID) (*models.TableMapping, error)

	// Apply upserts a configuration document in one transaction.
	Apply(ctx context.Context, doc *models.ConfigDocument) (*models.ApplySummary, error)
}

var _ etl.ConfigStore = (ConfigRepository)(nil)

type configRepository struct {
	db *database.DB
}

// NewConfigRepository creates a configuration repository on the ETL database.
func NewConfigRepository(db *database.DB) ConfigRepository {
	return &configRepository{db: db}
}

const sourceColumns = `id, name, COALESCE(description, ''), connection_type, connection_string, is_active, created_at, updated_at`

const mappingColumns = `id, source_id, source_table, source_pk_field, target_table, target_pk_field,
		is_active, COALESCE(description, ''), created_at, updated_at`

func (r *configRepository) LoadSnapshot(ctx context.Context, req models.RunRequest) (*models.ConfigSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only transaction

	src, err := scanSource(tx.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM etl_source WHERE name = $1 AND is_active`, req.SourceName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("source %q: %w", req.SourceName, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	tm, err := r.selectMapping(ctx, tx, src, req)
	if err != nil {
		return nil, err
	}

	fields, err := listFieldMappings(ctx, tx, tm.ID)
	if err != nil {
		return nil, err
	}

	return &models.ConfigSnapshot{
		Source:        src,
		TableMapping:  tm,
		FieldMappings: fields,
	}, nil
}

// selectMapping finds the active mapping named by req.Table, either by ID or by
// source table. Several mappings of one source table need req.TargetTable.
func (r *configRepository) selectMapping(ctx context.Context, q database.Querier, src *models.Source, req models.RunRequest) (*models.TableMapping, error) {
	var rows pgx.Rows
	var err error
	if id, parseErr := uuid.Parse(req.Table); parseErr == nil {
		rows, err = q.Query(ctx, `
			SELECT `+mappingColumns+`
			FROM etl_table_mapping
			WHERE id = $1 AND source_id = $2 AND is_active`, id, src.ID)
	} else {
		rows, err = q.Query(ctx, `
			SELECT `+mappingColumns+`
			FROM etl_table_mapping
			WHERE source_id = $1 AND source_table = $2 AND is_active
			  AND ($3 = '' OR target_table = $3)
			ORDER BY target_table`, src.ID, req.Table, req.TargetTable)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query table mappings: %w", err)
	}
	mappings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.TableMapping, error) {
		return scanMapping(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan table mappings: %w", err)
	}

	switch len(mappings) {
	case 0:
		return nil, fmt.Errorf("table mapping %q on source %q: %w", req.Table, src.Name, apperrors.ErrNotFound)
	case 1:
		return mappings[0], nil
	default:
		targets := make([]string, len(mappings))
		for i, m := range mappings {
			targets[i] = m.TargetTable
		}
		return nil, &etl.ConfigurationError{
			Field: "target_table",
			Reason: fmt.Sprintf("source table %q is mapped to %d target tables (%s); choose one",
				req.Table, len(mappings), strings.Join(targets, ", ")),
		}
	}
}

func listFieldMappings(ctx context.Context, q database.Querier, tableMappingID uuid.UUID) ([]*models.FieldMapping, error) {
	rows, err := q.Query(ctx, `
		SELECT id, table_mapping_id, source_field, target_field, transform, is_required,
		       default_value, position, created_at
		FROM etl_field_mapping
		WHERE table_mapping_id = $1
		ORDER BY position, created_at`, tableMappingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query field mappings: %w", err)
	}

	fields, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.FieldMapping, error) {
		var fm models.FieldMapping
		err := row.Scan(
			&fm.ID,
			&fm.TableMappingID,
			&fm.SourceField,
			&fm.TargetField,
			&fm.Transform,
			&fm.IsRequired,
			&fm.DefaultValue,
			&fm.Position,
			&fm.CreatedAt,
		)
		return &fm, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan field mappings: %w", err)
	}
	return fields, nil
}

func (r *configRepository) ListSources(ctx context.Context) ([]*models.Source, error) {
	rows, err := r.db.Query(ctx, `SELECT `+sourceColumns+` FROM etl_source ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	sources, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Source, error) {
		return scanSource(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sources: %w", err)
	}
	return sources, nil
}

func (r *configRepository) ListMappings(ctx context.Context, sourceName string) ([]*models.TableMapping, error) {
	var sourceID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM etl_source WHERE name = $1`, sourceName).Scan(&sourceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("source %q: %w", sourceName, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+mappingColumns+`
		FROM etl_table_mapping
		WHERE source_id = $1
		ORDER BY source_table, target_table`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list table mappings: %w", err)
	}
	mappings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.TableMapping, error) {
		return scanMapping(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan table mappings: %w", err)
	}
	return mappings, nil
}

func (r *configRepository) GetMapping(ctx context.Context, id uuid.UUID) (*models.TableMapping, error) {
	tm, err := scanMapping(r.db.QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM etl_table_mapping WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("table mapping %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get table mapping: %w", err)
	}
	return tm, nil
}

func (r *configRepository) Apply(ctx context.Context, doc *models.ConfigDocument) (*models.ApplySummary, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	summary := &models.ApplySummary{}
	for _, s := range doc.Sources {
		var sourceID uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO etl_source (name, description, connection_type, connection_string, is_active)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5)
			ON CONFLICT (name) DO UPDATE SET
				description = EXCLUDED.description,
				connection_type = EXCLUDED.connection_type,
				connection_string = EXCLUDED.connection_string,
				is_active = EXCLUDED.is_active,
				updated_at = now()
			RETURNING id`,
			s.Name, s.Description, s.Type, s.Connection, models.IsActive(s.Active),
		).Scan(&sourceID)
		if err != nil {
			return nil, applyError("source "+s.Name, err)
		}
		summary.Sources++

		for _, m := range s.Mappings {
			var mappingID uuid.UUID
			err := tx.QueryRow(ctx, `
				INSERT INTO etl_table_mapping (source_id, source_table, source_pk_field, target_table,
				                               target_pk_field, is_active, description)
				VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
				ON CONFLICT (source_id, source_table, target_table) DO UPDATE SET
					source_pk_field = EXCLUDED.source_pk_field,
					target_pk_field = EXCLUDED.target_pk_field,
					is_active = EXCLUDED.is_active,
					description = EXCLUDED.description,
					updated_at = now()
				RETURNING id`,
				sourceID, m.SourceTable, m.SourcePKField, m.TargetTable, m.TargetPKField,
				models.IsActive(m.Active), m.Description,
			).Scan(&mappingID)
			if err != nil {
				return nil, applyError(fmt.Sprintf("mapping %s.%s -> %s", s.Name, m.SourceTable, m.TargetTable), err)
			}
			summary.Mappings++

			if _, err := tx.Exec(ctx, `DELETE FROM etl_field_mapping WHERE table_mapping_id = $1`, mappingID); err != nil {
				return nil, fmt.Errorf("failed to replace field mappings: %w", err)
			}
			for pos, f := range m.Fields {
				_, err := tx.Exec(ctx, `
					INSERT INTO etl_field_mapping (table_mapping_id, source_field, target_field, transform,
					                               is_required, default_value, position)
					VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					mappingID, f.Source, f.Target, f.Transform, f.Required, f.Default, pos,
				)
				if err != nil {
					return nil, applyError(fmt.Sprintf("field %s.%s -> %s", m.SourceTable, f.Source, f.Target), err)
				}
				summary.Fields++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return summary, nil
}

// applyError reports constraint violations as invalid input.
func applyError(what string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")) {
		return fmt.Errorf("%w: %s: %s", apperrors.ErrInvalidInput, what, pgErr.Message)
	}
	return fmt.Errorf("failed to apply %s: %w", what, err)
}

func scanSource(row pgx.Row) (*models.Source, error) {
	var s models.Source
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&s.ConnectionType,
		&s.ConnectionString,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanMapping(row pgx.Row) (*models.TableMapping, error) {
	var tm models.TableMapping
	err := row.Scan(
		&tm.ID,
		&tm.SourceID,
		&tm.SourceTable,
		&tm.SourcePKField,
		&tm.TargetTable,
		&tm.TargetPKField,
		&tm.IsActive,
		&tm.Description,
		&tm.CreatedAt,
		&tm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}
