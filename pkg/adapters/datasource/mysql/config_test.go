package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
)

func TestFromDescriptor_Fields(t *testing.T) {
	cfg, err := FromDescriptor(datasource.Descriptor{
		"host":     "shop-db",
		"port":     "3307",
		"user":     "reader",
		"password": "pw",
		"database": "shop",
	})
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "shop-db:3307", cfg.Addr)
	assert.Equal(t, "reader", cfg.User)
	assert.Equal(t, "pw", cfg.Passwd)
	assert.Equal(t, "shop", cfg.DBName)
	assert.True(t, cfg.ParseTime)
}

func TestFromDescriptor_DSNForcesParseTime(t *testing.T) {
	cfg, err := FromDescriptor(datasource.Descriptor{"dsn": "reader:pw@tcp(shop-db:3306)/shop"})
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Contains(t, cfg.FormatDSN(), "parseTime=true")
}

func TestFromDescriptor_Invalid(t *testing.T) {
	_, err := FromDescriptor(datasource.Descriptor{"dsn": "not a dsn"})
	assert.ErrorIs(t, err, datasource.ErrInvalidSource)

	_, err = FromDescriptor(datasource.Descriptor{"host": "h", "user": "u"})
	assert.ErrorIs(t, err, datasource.ErrInvalidSource)
}
