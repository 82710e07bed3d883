package mssql

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
)

// Authentication methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	// DSN, when set, is used verbatim with the sqlserver driver.
	DSN string

	Host     string
	Port     int
	Database string

	// AuthMethod is "sql" or "service_principal".
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromDescriptor creates a Config from a parsed source descriptor. The auth
// method is auto-detected when not given: client_id selects a service
// principal, otherwise user/password.
func FromDescriptor(d datasource.Descriptor) (*Config, error) {
	if dsn := d.String(datasource.KeyDSN); dsn != "" {
		return &Config{DSN: dsn}, nil
	}

	cfg := &Config{
		Host:                   d.String(datasource.KeyHost),
		Database:               d.String(datasource.KeyDatabase),
		AuthMethod:             d.String("auth_method"),
		Encrypt:                d.Bool("encrypt", true),
		TrustServerCertificate: d.Bool("trust_server_certificate", false),
	}

	var err error
	if cfg.Port, err = d.Int(datasource.KeyPort, DefaultPort()); err != nil {
		return nil, err
	}
	if cfg.ConnectionTimeout, err = d.Int("connection_timeout", DefaultConnectionTimeout()); err != nil {
		return nil, err
	}

	if cfg.AuthMethod == "" {
		if d.String("client_id") != "" {
			cfg.AuthMethod = AuthServicePrincipal
		} else {
			cfg.AuthMethod = AuthSQL
		}
	}

	switch cfg.AuthMethod {
	case AuthSQL:
		cfg.Username = d.String("username")
		if cfg.Username == "" {
			cfg.Username = d.String(datasource.KeyUser)
		}
		cfg.Password = d.String(datasource.KeyPassword)
	case AuthServicePrincipal:
		cfg.TenantID = d.String("tenant_id")
		cfg.ClientID = d.String("client_id")
		cfg.ClientSecret = d.String("client_secret")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.DSN != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for SQL authentication")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", c.AuthMethod)
	}

	return nil
}
