package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/services"
)

type fakeImportService struct {
	runReq    models.RunRequest
	runResult *models.RunResult
	runErr    error
	// runHook, when set, is called with the context Run received.
	runHook func(ctx context.Context)

	logs      []*models.ImportLog
	logsTotal int
	logsErr   error
	gotLimit  int
	gotOffset int

	transforms []string
}

var _ services.ImportService = (*fakeImportService)(nil)

func (f *fakeImportService) Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error) {
	f.runReq = req
	if f.runHook != nil {
		f.runHook(ctx)
	}
	return f.runResult, f.runErr
}

func (f *fakeImportService) ListImportLogs(_ context.Context, _ uuid.UUID, limit, offset int) ([]*models.ImportLog, int, error) {
	f.gotLimit, f.gotOffset = limit, offset
	return f.logs, f.logsTotal, f.logsErr
}

func (f *fakeImportService) ListTransforms() []string { return f.transforms }

type fakeConfigService struct {
	sources  []*models.Source
	mappings []*models.TableMapping
	err      error
	gotName  string
}

var _ services.ConfigService = (*fakeConfigService)(nil)

func (f *fakeConfigService) Apply(context.Context, *models.ConfigDocument) (*models.ApplySummary, error) {
	return &models.ApplySummary{}, f.err
}

func (f *fakeConfigService) ListSources(context.Context) ([]*models.Source, error) {
	return f.sources, f.err
}

func (f *fakeConfigService) ListMappings(_ context.Context, name string) ([]*models.TableMapping, error) {
	f.gotName = name
	return f.mappings, f.err
}
