package mssql

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
)

func TestFromDescriptor_SQLAuth(t *testing.T) {
	cfg, err := FromDescriptor(datasource.Descriptor{
		"host":     "legacy-sql",
		"user":     "reader",
		"password": "pw",
		"database": "Kunden",
		"encrypt":  "false",
	})
	require.NoError(t, err)

	assert.Equal(t, AuthSQL, cfg.AuthMethod)
	assert.Equal(t, "reader", cfg.Username)
	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, DefaultConnectionTimeout(), cfg.ConnectionTimeout)
	assert.False(t, cfg.Encrypt)
}

func TestFromDescriptor_ServicePrincipalDetected(t *testing.T) {
	cfg, err := FromDescriptor(datasource.Descriptor{
		"host":          "x.database.windows.net",
		"database":      "crm",
		"tenant_id":     "t",
		"client_id":     "c",
		"client_secret": "s",
	})
	require.NoError(t, err)
	assert.Equal(t, AuthServicePrincipal, cfg.AuthMethod)

	driver, dsn := driverAndDSN(cfg)
	assert.Equal(t, "azuresql", driver)
	assert.Contains(t, dsn, "fedauth=ActiveDirectoryServicePrincipal")
}

func TestFromDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		d    datasource.Descriptor
		want string
	}{
		{"missing host", datasource.Descriptor{"database": "d", "user": "u"}, "host is required"},
		{"missing database", datasource.Descriptor{"host": "h", "user": "u"}, "database is required"},
		{"missing user", datasource.Descriptor{"host": "h", "database": "d"}, "username is required"},
		{"bad port", datasource.Descriptor{"host": "h", "database": "d", "user": "u", "port": float64(70000)}, "invalid port"},
		{"partial principal", datasource.Descriptor{"host": "h", "database": "d", "client_id": "c"}, "tenant_id is required"},
		{"unknown auth", datasource.Descriptor{"host": "h", "database": "d", "auth_method": "kerberos"}, "invalid auth method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromDescriptor(tt.d)
			require.Error(t, err)
			assert.ErrorIs(t, err, datasource.ErrInvalidSource)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDriverAndDSN_SQLAuthEscapesPassword(t *testing.T) {
	driver, dsn := driverAndDSN(&Config{
		Host:       "legacy-sql",
		Port:       1433,
		Database:   "Kunden",
		AuthMethod: AuthSQL,
		Username:   "reader",
		Password:   "p@ss#word",
		Encrypt:    true,
	})
	assert.Equal(t, "sqlserver", driver)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss#word", pw)
	assert.Equal(t, "Kunden", u.Query().Get("database"))
	assert.Equal(t, "true", u.Query().Get("encrypt"))
}

func TestDriverAndDSN_PassesThroughDSN(t *testing.T) {
	driver, dsn := driverAndDSN(&Config{DSN: "sqlserver://u:p@h?database=d"})
	assert.Equal(t, "sqlserver", driver)
	assert.Equal(t, "sqlserver://u:p@h?database=d", dsn)
}
