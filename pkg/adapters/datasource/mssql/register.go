package mssql

import (
	"context"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        models.ConnectionTypeMSSQL,
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+ and Azure SQL Database",
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
