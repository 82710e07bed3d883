package postgres

import (
	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	// DSN, when set, is used verbatim and the other fields are ignored.
	DSN string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromDescriptor creates a Config from a parsed source descriptor.
func FromDescriptor(d datasource.Descriptor) (*Config, error) {
	if dsn := d.String(datasource.KeyDSN); dsn != "" {
		return &Config{DSN: dsn}, nil
	}

	cfg := &Config{
		SSLMode:  DefaultSSLMode(),
		Password: d.String(datasource.KeyPassword),
	}

	var err error
	if cfg.Host, err = d.Require(datasource.KeyHost); err != nil {
		return nil, err
	}
	if cfg.Port, err = d.Int(datasource.KeyPort, DefaultPort()); err != nil {
		return nil, err
	}
	if cfg.User, err = d.Require(datasource.KeyUser); err != nil {
		return nil, err
	}
	if cfg.Database, err = d.Require(datasource.KeyDatabase); err != nil {
		return nil, err
	}
	if sslMode := d.String(datasource.KeySSLMode); sslMode != "" {
		cfg.SSLMode = sslMode
	}

	return cfg, nil
}
