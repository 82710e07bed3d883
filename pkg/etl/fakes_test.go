package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// ---- configuration ----

type fakeConfigStore struct {
	snap *models.ConfigSnapshot
	err  error
}

func (f *fakeConfigStore) LoadSnapshot(ctx context.Context, req models.RunRequest) (*models.ConfigSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.snap == nil || f.snap.Source.Name != req.SourceName {
		return nil, apperrors.ErrNotFound
	}
	return f.snap, nil
}

func strPtr(s string) *string { return &s }

func field(source, target string, transform string, required bool) *models.FieldMapping {
	fm := &models.FieldMapping{
		ID:          uuid.New(),
		SourceField: source,
		TargetField: target,
		IsRequired:  required,
	}
	if transform != "" {
		fm.Transform = strPtr(transform)
	}
	return fm
}

func snapshot(fields ...*models.FieldMapping) *models.ConfigSnapshot {
	src := &models.Source{ID: uuid.New(), Name: "legacy", ConnectionType: models.ConnectionTypeMSSQL, IsActive: true}
	tm := &models.TableMapping{
		ID:            uuid.New(),
		SourceID:      src.ID,
		SourceTable:   "kunde",
		SourcePKField: "pk",
		TargetTable:   "org",
		TargetPKField: "legacy_id",
		IsActive:      true,
	}
	for i, f := range fields {
		f.TableMappingID = tm.ID
		f.Position = i
	}
	return &models.ConfigSnapshot{Source: src, TableMapping: tm, FieldMappings: fields}
}

// ---- import log ----

type fakeLogStore struct {
	mu        sync.Mutex
	logs      map[uuid.UUID]*models.ImportLog
	finalized map[uuid.UUID]int
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{logs: map[uuid.UUID]*models.ImportLog{}, finalized: map[uuid.UUID]int{}}
}

func (f *fakeLogStore) Create(ctx context.Context, log *models.ImportLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *log
	f.logs[log.ID] = &cp
	return nil
}

func (f *fakeLogStore) Finalize(ctx context.Context, log *models.ImportLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.logs[log.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if existing.Status.IsTerminal() {
		return apperrors.ErrConflict
	}
	cp := *log
	f.logs[log.ID] = &cp
	f.finalized[log.ID]++
	return nil
}

func (f *fakeLogStore) only() *models.ImportLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.logs) != 1 {
		panic(fmt.Sprintf("expected exactly one import log, got %d", len(f.logs)))
	}
	for _, l := range f.logs {
		return l
	}
	return nil
}

// ---- source ----

type fakeSource struct {
	rows    []map[string]any
	failAt  int // 1-based row number whose read fails; 0 = never
	openErr error

	opened    int
	projected []string
}

func (f *fakeSource) Open(ctx context.Context, src *models.Source) (datasource.SourceReader, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return &fakeReader{src: f}, nil
}

type fakeReader struct {
	src *fakeSource
}

func (r *fakeReader) TestConnection(ctx context.Context) error { return nil }
func (r *fakeReader) Close() error                             { return nil }

func (r *fakeReader) ReadTable(ctx context.Context, table string, columns []string) (datasource.RowCursor, error) {
	r.src.projected = columns
	return &fakeCursor{ctx: ctx, src: r.src}, nil
}

type fakeCursor struct {
	ctx context.Context
	src *fakeSource
	pos int
	row map[string]any
	err error
}

func (c *fakeCursor) Next() bool {
	if c.err != nil || c.pos >= len(c.src.rows) {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.pos++
	if c.src.failAt == c.pos {
		c.err = errors.New("read tcp 10.0.0.5:1433: connection reset by peer")
		return false
	}
	c.row = c.src.rows[c.pos-1]
	return true
}

func (c *fakeCursor) Row() map[string]any { return c.row }
func (c *fakeCursor) Err() error          { return c.err }
func (c *fakeCursor) Close() error        { return nil }

// ---- target ----

type targetRow map[string]any

type fakeTarget struct {
	mu sync.Mutex
	// tables[table][key] = row
	tables map[string]map[string]targetRow

	lookups      int
	lookupDelay  time.Duration
	commits      int
	rollbacks    int
	failCommitAt int // fail the n-th commit
	rejectKeys   map[string]bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{tables: map[string]map[string]targetRow{}, rejectKeys: map[string]bool{}}
}

func keyString(v any) string { return fmt.Sprint(v) }

func (t *fakeTarget) put(table, keyField string, key any, row targetRow) {
	if t.tables[table] == nil {
		t.tables[table] = map[string]targetRow{}
	}
	row[keyField] = key
	t.tables[table][keyString(key)] = row
}

func (t *fakeTarget) get(table string, key any) (targetRow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.tables[table][keyString(key)]
	return r, ok
}

func (t *fakeTarget) count(table string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tables[table])
}

func (t *fakeTarget) LookupID(ctx context.Context, table, field string, value any) (any, bool, error) {
	t.mu.Lock()
	t.lookups++
	delay := t.lookupDelay
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.tables[table] {
		if keyString(row[field]) == keyString(value) {
			return row["id"], true, nil
		}
	}
	return nil, false, nil
}

func (t *fakeTarget) Exists(ctx context.Context, table, keyField string, key any) (bool, error) {
	_, ok := t.get(table, key)
	return ok, nil
}

func (t *fakeTarget) Begin(ctx context.Context) (TargetBatch, error) {
	return &fakeBatch{target: t}, nil
}

type pendingWrite struct {
	table, keyField string
	key             any
	rec             *Record
}

type fakeBatch struct {
	target *fakeTarget
	writes []pendingWrite
}

func (b *fakeBatch) Upsert(ctx context.Context, table, keyField string, key any, rec *Record) (bool, error) {
	t := b.target
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rejectKeys[keyString(key)] {
		return false, &WriteError{Err: errors.New("value too long for type character varying(10)")}
	}

	_, exists := t.tables[table][keyString(key)]
	for _, w := range b.writes {
		if w.table == table && keyString(w.key) == keyString(key) {
			exists = true
		}
	}
	b.writes = append(b.writes, pendingWrite{table: table, keyField: keyField, key: key, rec: rec})
	return !exists, nil
}

func (b *fakeBatch) Commit(ctx context.Context) error {
	t := b.target
	t.mu.Lock()
	defer t.mu.Unlock()

	t.commits++
	if t.failCommitAt == t.commits {
		return errors.New("write tcp: broken pipe")
	}
	for _, w := range b.writes {
		existing, ok := t.tables[w.table][keyString(w.key)]
		if !ok {
			existing = targetRow{"id": uuid.New()}
		}
		for i, col := range w.rec.Columns() {
			existing[col] = w.rec.Values()[i]
		}
		t.put(w.table, w.keyField, w.key, existing)
	}
	b.writes = nil
	return nil
}

func (b *fakeBatch) Rollback(ctx context.Context) error {
	b.target.mu.Lock()
	defer b.target.mu.Unlock()
	b.target.rollbacks++
	b.writes = nil
	return nil
}

// ---- observer ----

type countingObserver struct {
	rows     map[OutcomeKind]int
	batches  int
	finished []models.ImportStatus
}

func newCountingObserver() *countingObserver {
	return &countingObserver{rows: map[OutcomeKind]int{}}
}

func (o *countingObserver) RowDone(_ string, k OutcomeKind) { o.rows[k]++ }
func (o *countingObserver) BatchCommitted(string)           { o.batches++ }
func (o *countingObserver) RunFinished(_ string, s models.ImportStatus, _ time.Duration) {
	o.finished = append(o.finished, s)
}
