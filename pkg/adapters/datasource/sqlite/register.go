package sqlite

import (
	"context"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        models.ConnectionTypeSQLite,
			DisplayName: "SQLite",
			Description: "SQLite database file, opened read-only",
		},
		Open: func(ctx context.Context, d datasource.Descriptor, pools *datasource.ConnectionManager, poolKey string) (datasource.SourceReader, error) {
			path, err := PathFromDescriptor(d)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, path, pools, poolKey)
		},
	})
}
