package datasource

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSource marks source configuration problems (unknown type,
// unparsable descriptor) as opposed to connectivity failures.
var ErrInvalidSource = errors.New("invalid source configuration")

// EnvDescriptorPrefix selects a descriptor assembled from environment
// variables: "env:KUNDEN_DB" reads KUNDEN_DB_HOST, KUNDEN_DB_PORT and so on.
const EnvDescriptorPrefix = "env:"

// Keys recognized in a Descriptor. Adapters ignore keys they do not use.
const (
	KeyDSN      = "dsn"
	KeyHost     = "host"
	KeyPort     = "port"
	KeyUser     = "user"
	KeyPassword = "password"
	KeyDatabase = "database"
	KeySSLMode  = "ssl_mode"
	KeyPath     = "path"
)

var envKeys = []string{KeyDSN, KeyHost, KeyPort, KeyUser, KeyPassword, KeyDatabase, KeySSLMode, KeyPath}

// Descriptor is a decoded source connection descriptor.
type Descriptor map[string]any

// ParseDescriptor decodes a plaintext connection descriptor. Accepted forms:
//
//	{"host": "db", "port": 1433, ...}   JSON config object
//	env:PREFIX                         PREFIX_HOST, PREFIX_PORT, ... from the environment
//	anything else                      a driver DSN or file path, stored under "dsn"
//
// Encrypted descriptors must be opened before parsing.
func ParseDescriptor(raw string, lookupEnv func(string) (string, bool)) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil, fmt.Errorf("%w: empty connection descriptor", ErrInvalidSource)

	case strings.HasPrefix(raw, "{"):
		var d Descriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("%w: connection descriptor is not valid JSON: %v", ErrInvalidSource, err)
		}
		return d, nil

	case strings.HasPrefix(raw, EnvDescriptorPrefix):
		prefix := strings.ToUpper(strings.TrimPrefix(raw, EnvDescriptorPrefix))
		if prefix == "" {
			return nil, fmt.Errorf("%w: env descriptor without prefix", ErrInvalidSource)
		}
		d := Descriptor{}
		for _, key := range envKeys {
			if v, ok := lookupEnv(prefix + "_" + strings.ToUpper(key)); ok {
				d[key] = v
			}
		}
		if len(d) == 0 {
			return nil, fmt.Errorf("%w: no %s_* variables set", ErrInvalidSource, prefix)
		}
		return d, nil

	default:
		return Descriptor{KeyDSN: raw}, nil
	}
}

// String returns the string value of key, or "" when absent.
func (d Descriptor) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns key as an integer. JSON numbers and numeric strings are accepted.
func (d Descriptor) Int(key string, def int) (int, error) {
	switch v := d[key].(type) {
	case nil:
		return def, nil
	case float64: // JSON numbers are float64
		return int(v), nil
	case int:
		return v, nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidSource, key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidSource, key)
	}
}

// Bool returns key as a boolean, accepting "true"/"false" strings.
func (d Descriptor) Bool(key string, def bool) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Require returns the non-empty string value of key or an error naming it.
func (d Descriptor) Require(key string) (string, error) {
	v := d.String(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidSource, key)
	}
	return v, nil
}
