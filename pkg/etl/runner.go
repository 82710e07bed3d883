package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/logging"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// BatchSize is the number of rows per target transaction. Rows count toward a
// batch whether they were written or failed.
const BatchSize = 1000

// batchSize is BatchSize except in tests.
var batchSize = BatchSize

const (
	maxErrorMessageLength = 2000
	warnFailureLimit      = 5
)

// ConfigStore returns the configuration snapshot a run executes against.
type ConfigStore interface {
	LoadSnapshot(ctx context.Context, req models.RunRequest) (*models.ConfigSnapshot, error)
}

// ImportLogStore persists the audit row of a run.
type ImportLogStore interface {
	// Create inserts a new log row. A log may be created already terminal.
	Create(ctx context.Context, log *models.ImportLog) error
	// Finalize moves a running log to its terminal status. It fails if the
	// log is not running.
	Finalize(ctx context.Context, log *models.ImportLog) error
}

// SourceConnector opens a reader for a configured source.
type SourceConnector interface {
	Open(ctx context.Context, src *models.Source) (datasource.SourceReader, error)
}

// TargetStore is the store rows are imported into.
type TargetStore interface {
	Lookuper
	// Exists reports whether a row with keyField = key exists.
	Exists(ctx context.Context, table, keyField string, key any) (bool, error)
	// Begin starts the transaction for one batch.
	Begin(ctx context.Context) (TargetBatch, error)
}

// TargetBatch writes rows inside one transaction.
type TargetBatch interface {
	// Upsert inserts rec or updates the row whose keyField equals key.
	// Row-scoped rejections are returned as *WriteError and leave the
	// batch usable.
	Upsert(ctx context.Context, table, keyField string, key any, rec *Record) (created bool, err error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Observer receives run events, e.g. for metrics.
type Observer interface {
	RowDone(mapping string, outcome OutcomeKind)
	BatchCommitted(mapping string)
	RunFinished(mapping string, status models.ImportStatus, elapsed time.Duration)
}

// Progress is reported after every batch boundary.
type Progress struct {
	Batches int
	Counts  models.ImportCounts
}

// Options tune a Runner. Zero values select defaults.
type Options struct {
	FKLookupTimeout time.Duration
	Registry        *Registry
	Clock           clock.Clock
	Observer        Observer
	OnProgress      func(Progress)
}

// Runner executes table mappings.
type Runner struct {
	config  ConfigStore
	logs    ImportLogStore
	sources SourceConnector
	target  TargetStore
	opts    Options
	logger  *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(config ConfigStore, logs ImportLogStore, sources SourceConnector, target TargetStore, logger *zap.Logger, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Runner{
		config:  config,
		logs:    logs,
		sources: sources,
		target:  target,
		opts:    opts,
		logger:  logger.Named("runner"),
	}
}

func (r *Runner) registry() *Registry {
	if r.opts.Registry != nil {
		return r.opts.Registry
	}
	return Default()
}

// Run imports one table mapping. A non-nil error means no run took place
// (unknown source or mapping, ambiguous selection, audit store failure).
// Failed runs are reported through RunResult.Status with a nil error.
func (r *Runner) Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error) {
	snap, err := r.config.LoadSnapshot(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return r.RunSnapshot(ctx, snap, req.DryRun)
}

// RunSnapshot imports an already loaded configuration snapshot.
func (r *Runner) RunSnapshot(ctx context.Context, snap *models.ConfigSnapshot, dryRun bool) (*models.RunResult, error) {
	started := r.opts.Clock.Now().UTC()
	tm := snap.TableMapping

	logger := r.logger.With(
		zap.String("source", snap.Source.Name),
		zap.String("mapping_id", tm.ID.String()),
		zap.String("source_table", tm.SourceTable),
		zap.String("target_table", tm.TargetTable),
		zap.Bool("dry_run", dryRun),
	)

	s := &runState{
		Runner: r,
		logger: logger,
		dry:    dryRun,
		res: &models.RunResult{
			TableMappingID: tm.ID,
			DryRun:         dryRun,
			StartedAt:      started,
		},
	}

	plan, err := Compile(snap, r.registry())
	if err != nil {
		logger.Error("Table mapping failed validation", zap.Error(err))
		return s.rejectBeforeStart(ctx, err)
	}
	s.plan = plan

	if !dryRun {
		s.log = &models.ImportLog{
			ID:             uuid.New(),
			TableMappingID: tm.ID,
			StartedAt:      started,
			Status:         models.ImportStatusRunning,
		}
		if err := r.logs.Create(ctx, s.log); err != nil {
			return nil, fmt.Errorf("failed to create import log: %w", err)
		}
		s.res.ImportLogID = &s.log.ID
	}

	logger.Info("Starting import", zap.Int("fields", plan.FieldCount()))
	s.cache = NewFKCache(r.target, r.opts.FKLookupTimeout)

	return s.finish(ctx, s.execute(ctx))
}

// Reject records a run that was refused before validation, e.g. because the
// mapping is already running. The ImportLog is written directly as failed.
func (r *Runner) Reject(ctx context.Context, tm *models.TableMapping, dryRun bool, reason error) (*models.RunResult, error) {
	s := &runState{
		Runner: r,
		logger: r.logger.With(zap.String("mapping_id", tm.ID.String())),
		dry:    dryRun,
		res: &models.RunResult{
			TableMappingID: tm.ID,
			DryRun:         dryRun,
			StartedAt:      r.opts.Clock.Now().UTC(),
		},
	}
	return s.rejectBeforeStart(ctx, reason)
}

// OutcomeKind tags the result of one row.
type OutcomeKind int

const (
	OutcomeCreated OutcomeKind = iota
	OutcomeUpdated
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "failed"
	}
}

// RowOutcome is Created, Updated or Failed(reason) for one source row.
type RowOutcome struct {
	Kind    OutcomeKind
	Key     any
	Failure *models.RowFailure
}

type runState struct {
	*Runner
	logger *zap.Logger
	plan   *Plan
	dry    bool
	log    *models.ImportLog
	res    *models.RunResult
	cache  *FKCache
	batch  TargetBatch

	// created/updated rows in the open batch; folded into res on commit
	pendingCreated int
	pendingUpdated int

	// dry runs only: natural keys already classified, so a repeated key
	// counts as updated just as it would after a real insert
	seen map[any]struct{}
}

func (s *runState) execute(ctx context.Context) error {
	reader, err := s.sources.Open(ctx, s.plan.Source)
	if err != nil {
		return sourceError("open source", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Warn("Failed to close source", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	cursor, err := reader.ReadTable(ctx, s.plan.Mapping.SourceTable, s.plan.Columns())
	if err != nil {
		return sourceError("read source table", err)
	}
	defer cursor.Close()

	if err := s.beginBatch(ctx); err != nil {
		return err
	}

	inBatch := 0
	for cursor.Next() {
		s.res.Read++

		outcome, err := s.processRow(ctx, cursor.Row())
		if err != nil {
			s.rollback(ctx)
			return err
		}
		s.tally(outcome)

		inBatch++
		if inBatch == batchSize {
			if err := s.commit(ctx); err != nil {
				return err
			}
			inBatch = 0

			if ctx.Err() != nil {
				return ErrCancelled
			}
			if err := s.beginBatch(ctx); err != nil {
				return err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		s.rollback(ctx)
		return fatal("read source row", err)
	}

	if inBatch > 0 {
		return s.commit(ctx)
	}
	s.rollback(ctx)
	return nil
}

func (s *runState) processRow(ctx context.Context, row map[string]any) (RowOutcome, error) {
	tm := s.plan.Mapping

	key, rec, rowErr, err := s.plan.buildRecord(ctx, row, s.cache)
	if err != nil {
		return RowOutcome{}, fatal("transform row", err)
	}
	if rowErr != nil {
		return failed(key, rowErr.field, rowErr.err), nil
	}

	if s.dry {
		exists, err := s.target.Exists(ctx, tm.TargetTable, tm.TargetPKField, key)
		if err != nil {
			if IsRowScoped(err) {
				return failed(key, "", err), nil
			}
			return RowOutcome{}, fatal("check target row", err)
		}
		if s.seen == nil {
			s.seen = make(map[any]struct{})
		}
		if _, dup := s.seen[key]; dup || exists {
			return RowOutcome{Kind: OutcomeUpdated, Key: key}, nil
		}
		s.seen[key] = struct{}{}
		return RowOutcome{Kind: OutcomeCreated, Key: key}, nil
	}

	created, err := s.batch.Upsert(ctx, tm.TargetTable, tm.TargetPKField, key, rec)
	if err != nil {
		if IsRowScoped(err) {
			return failed(key, "", err), nil
		}
		return RowOutcome{}, fatal("upsert row", err)
	}
	if created {
		return RowOutcome{Kind: OutcomeCreated, Key: key}, nil
	}
	return RowOutcome{Kind: OutcomeUpdated, Key: key}, nil
}

// sourceError reports source misconfiguration as a ConfigurationError and
// everything else as fatal.
func sourceError(op string, err error) error {
	if errors.Is(err, datasource.ErrInvalidSource) {
		return &ConfigurationError{Field: "source", Reason: err.Error()}
	}
	return fatal(op, err)
}

func failed(key any, field string, err error) RowOutcome {
	return RowOutcome{
		Kind: OutcomeFailed,
		Key:  key,
		Failure: &models.RowFailure{
			NaturalKey: key,
			Field:      field,
			Error:      logging.SanitizeError(err),
		},
	}
}

func (s *runState) tally(o RowOutcome) {
	switch o.Kind {
	case OutcomeCreated:
		s.pendingCreated++
	case OutcomeUpdated:
		s.pendingUpdated++
	case OutcomeFailed:
		s.res.Failed++
		if len(s.res.FailedRows) < models.MaxRowFailureSamples {
			s.res.FailedRows = append(s.res.FailedRows, *o.Failure)
		}
		fields := []zap.Field{
			zap.Any("natural_key", o.Key),
			zap.String("field", o.Failure.Field),
			zap.String("error", o.Failure.Error),
		}
		if s.res.Failed <= warnFailureLimit {
			s.logger.Warn("Row failed", fields...)
		} else {
			s.logger.Debug("Row failed", fields...)
		}
	}
	s.opts.Observer.RowDone(s.plan.Mapping.ID.String(), o.Kind)
}

func (s *runState) beginBatch(ctx context.Context) error {
	if s.dry {
		return nil
	}
	batch, err := s.target.Begin(ctx)
	if err != nil {
		return fatal("begin batch", err)
	}
	s.batch = batch
	return nil
}

func (s *runState) commit(ctx context.Context) error {
	if !s.dry {
		err := s.batch.Commit(ctx)
		s.batch = nil
		if err != nil {
			s.pendingCreated, s.pendingUpdated = 0, 0
			return fatal("commit batch", err)
		}
		s.res.Batches++
		s.opts.Observer.BatchCommitted(s.plan.Mapping.ID.String())
	}

	s.res.Created += s.pendingCreated
	s.res.Updated += s.pendingUpdated
	s.pendingCreated, s.pendingUpdated = 0, 0

	s.logger.Info("Batch complete",
		zap.Int("batches", s.res.Batches),
		zap.Int("records_read", s.res.Read),
		zap.Int("records_created", s.res.Created),
		zap.Int("records_updated", s.res.Updated),
		zap.Int("records_failed", s.res.Failed),
	)
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(Progress{Batches: s.res.Batches, Counts: s.res.ImportCounts})
	}
	return nil
}

// rollback discards the open batch. Its created/updated rows are not counted.
func (s *runState) rollback(ctx context.Context) {
	s.pendingCreated, s.pendingUpdated = 0, 0
	if s.batch == nil {
		return
	}
	if err := s.batch.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to roll back batch", zap.String("error", logging.SanitizeError(err)))
	}
	s.batch = nil
}

func (s *runState) finish(ctx context.Context, runErr error) (*models.RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.opts.Clock.Now().UTC()

	s.res.FinishedAt = now
	s.res.Status = models.ImportStatusSuccess
	if runErr != nil {
		s.res.Status = models.ImportStatusFailed
		s.res.ErrorMessage = errorMessage(runErr)
	}

	if s.log != nil {
		s.log.Status = s.res.Status
		s.log.FinishedAt = &now
		s.log.ImportCounts = s.res.ImportCounts
		if runErr != nil {
			msg := s.res.ErrorMessage
			s.log.ErrorMessage = &msg
		}
		if err := s.logs.Finalize(ctx, s.log); err != nil {
			s.logger.Error("Failed to finalize import log", zap.Error(err))
			return s.res, fmt.Errorf("failed to finalize import log: %w", err)
		}
	}

	s.opts.Observer.RunFinished(s.res.TableMappingID.String(), s.res.Status, now.Sub(s.res.StartedAt))

	fields := []zap.Field{
		zap.String("status", string(s.res.Status)),
		zap.Int("records_read", s.res.Read),
		zap.Int("records_created", s.res.Created),
		zap.Int("records_updated", s.res.Updated),
		zap.Int("records_failed", s.res.Failed),
		zap.Int("batches", s.res.Batches),
		zap.Int("fk_lookups", s.cache.Queries()),
		zap.Duration("elapsed", now.Sub(s.res.StartedAt)),
	}
	if runErr != nil {
		s.logger.Error("Import failed", append(fields, zap.String("error", s.res.ErrorMessage))...)
	} else {
		s.logger.Info("Import finished", fields...)
	}
	return s.res, nil
}

// rejectBeforeStart fails a run before any row is read. Outside dry-run an
// ImportLog is written directly with status failed and zero counts.
func (s *runState) rejectBeforeStart(ctx context.Context, reason error) (*models.RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.opts.Clock.Now().UTC()

	s.res.Status = models.ImportStatusFailed
	s.res.ErrorMessage = errorMessage(reason)
	s.res.FinishedAt = now

	if !s.dry {
		msg := s.res.ErrorMessage
		log := &models.ImportLog{
			ID:             uuid.New(),
			TableMappingID: s.res.TableMappingID,
			StartedAt:      s.res.StartedAt,
			FinishedAt:     &now,
			Status:         models.ImportStatusFailed,
			ErrorMessage:   &msg,
		}
		if err := s.logs.Create(ctx, log); err != nil {
			return nil, fmt.Errorf("failed to create import log: %w", err)
		}
		s.res.ImportLogID = &log.ID
	}

	s.opts.Observer.RunFinished(s.res.TableMappingID.String(), s.res.Status, 0)
	return s.res, nil
}

func errorMessage(err error) string {
	if errors.Is(err, ErrCancelled) {
		return ErrCancelled.Error()
	}
	return logging.TruncateString(logging.SanitizeError(err), maxErrorMessageLength)
}

type nopObserver struct{}

func (nopObserver) RowDone(string, OutcomeKind) {}

func (nopObserver) BatchCommitted(string) {}

func (nopObserver) RunFinished(string, models.ImportStatus, time.Duration) {}
