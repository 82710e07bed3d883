package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/config"
)

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromDescriptor builds a driver config from a parsed source descriptor.
// A "dsn" entry is parsed with the driver's own DSN syntax
// (user:pass@tcp(host:3306)/db). Times are always parsed into time.Time.
func FromDescriptor(d datasource.Descriptor) (*driver.Config, error) {
	if dsn := d.String(datasource.KeyDSN); dsn != "" {
		cfg, err := driver.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
		}
		cfg.ParseTime = true
		return cfg, nil
	}

	host, err := d.Require(datasource.KeyHost)
	if err != nil {
		return nil, err
	}
	port, err := d.Int(datasource.KeyPort, DefaultPort())
	if err != nil {
		return nil, err
	}
	user, err := d.Require(datasource.KeyUser)
	if err != nil {
		return nil, err
	}
	database, err := d.Require(datasource.KeyDatabase)
	if err != nil {
		return nil, err
	}

	cfg := driver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(config.ResolveHostForDocker(host), strconv.Itoa(port))
	cfg.User = user
	cfg.Passwd = d.String(datasource.KeyPassword)
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = 30 * time.Second
	return cfg, nil
}
