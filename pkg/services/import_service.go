package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 500
)

// ImportService runs table mappings and exposes their audit trail.
type ImportService interface {
	// Run imports one table mapping. When the mapping is already running
	// elsewhere it returns the rejected RunResult together with
	// apperrors.ErrRunInProgress.
	Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error)

	// ListImportLogs returns a page of a mapping's import logs, newest first, and the total.
	ListImportLogs(ctx context.Context, tableMappingID uuid.UUID, limit, offset int) ([]*models.ImportLog, int, error)

	// ListTransforms returns the transform names a field mapping may use.
	ListTransforms() []string
}

// SnapshotStore is the configuration access ImportService needs.
type SnapshotStore interface {
	etl.ConfigStore
	GetMapping(ctx context.Context, id uuid.UUID) (*models.TableMapping, error)
}

// ImportLogLister pages through import logs.
type ImportLogLister interface {
	ListByTableMapping(ctx context.Context, tableMappingID uuid.UUID, limit, offset int) ([]*models.ImportLog, int, error)
}

// RunLocker serializes runs of a table mapping.
type RunLocker interface {
	Lock(ctx context.Context, mappingID uuid.UUID) (release func(), err error)
}

// SnapshotRunner executes a loaded configuration snapshot.
type SnapshotRunner interface {
	RunSnapshot(ctx context.Context, snap *models.ConfigSnapshot, dryRun bool) (*models.RunResult, error)
	Reject(ctx context.Context, tm *models.TableMapping, dryRun bool, reason error) (*models.RunResult, error)
}

var _ SnapshotRunner = (*etl.Runner)(nil)

type importService struct {
	config   SnapshotStore
	logs     ImportLogLister
	runner   SnapshotRunner
	locker   RunLocker
	registry *etl.Registry
	logger   *zap.Logger
}

// NewImportService creates an import service. A nil registry selects etl.Default().
func NewImportService(
	config SnapshotStore,
	logs ImportLogLister,
	runner SnapshotRunner,
	locker RunLocker,
	registry *etl.Registry,
	logger *zap.Logger,
) ImportService {
	return &importService{
		config:   config,
		logs:     logs,
		runner:   runner,
		locker:   locker,
		registry: registry,
		logger:   logger.Named("import"),
	}
}

var _ ImportService = (*importService)(nil)

func (s *importService) Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error) {
	if req.SourceName == "" || req.Table == "" {
		return nil, fmt.Errorf("%w: source and table are required", apperrors.ErrInvalidInput)
	}

	snap, err := s.config.LoadSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	tm := snap.TableMapping

	release, err := s.locker.Lock(ctx, tm.ID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrRunInProgress) {
			return nil, fmt.Errorf("failed to lock table mapping: %w", err)
		}
		s.logger.Warn("Run rejected, table mapping is already running",
			zap.String("mapping_id", tm.ID.String()),
			zap.String("source", snap.Source.Name),
		)
		res, rejectErr := s.runner.Reject(ctx, tm, req.DryRun, err)
		if rejectErr != nil {
			return nil, rejectErr
		}
		return res, apperrors.ErrRunInProgress
	}
	defer release()

	// The mapping may have been edited while this run waited for the lock.
	snap, err = s.config.LoadSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.runner.RunSnapshot(ctx, snap, req.DryRun)
}

func (s *importService) ListImportLogs(ctx context.Context, tableMappingID uuid.UUID, limit, offset int) ([]*models.ImportLog, int, error) {
	if limit <= 0 {
		limit = defaultLogPageSize
	}
	if limit > maxLogPageSize {
		limit = maxLogPageSize
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must not be negative", apperrors.ErrInvalidInput)
	}

	if _, err := s.config.GetMapping(ctx, tableMappingID); err != nil {
		return nil, 0, err
	}
	return s.logs.ListByTableMapping(ctx, tableMappingID, limit, offset)
}

func (s *importService) ListTransforms() []string {
	if s.registry != nil {
		return s.registry.Names()
	}
	return etl.Default().Names()
}
