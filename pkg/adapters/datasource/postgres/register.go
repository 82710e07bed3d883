package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        models.ConnectionTypePostgres,
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+ read over a repeatable-read snapshot",
		},
		Open: func(ctx context.Context, d datasource.Descriptor, pools *datasource.ConnectionManager, poolKey string) (datasource.SourceReader, error) {
			cfg, err := FromDescriptor(d)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg, pools, poolKey)
		},
	})
}
