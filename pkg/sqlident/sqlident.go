// Package sqlident validates and quotes SQL identifiers taken from mapping
// configuration. Table and column names cannot be bound as parameters, so every
// name that reaches a statement must pass Valid and then be quoted for its dialect.
package sqlident

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect selects the identifier quoting style.
type Dialect int

const (
	Postgres Dialect = iota
	MSSQL
	MySQL
	SQLite
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Valid reports whether name is a single plain identifier.
func Valid(name string) bool {
	return len(name) <= 128 && identPattern.MatchString(name)
}

// ValidQualified reports whether name is an identifier optionally prefixed by a schema.
func ValidQualified(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !Valid(p) {
			return false
		}
	}
	return true
}

// SplitQualified splits "schema.table" into its parts. Bracketed SQL Server
// names ("[dbo].[Kunden]") are accepted. The schema is empty when absent.
func SplitQualified(name string) (schema, table string) {
	cleaned := strings.NewReplacer("[", "", "]", "", "`", "", `"`, "").Replace(name)
	if i := strings.Index(cleaned, "."); i >= 0 {
		return cleaned[:i], cleaned[i+1:]
	}
	return "", cleaned
}

// Quote quotes a single identifier for the dialect.
func Quote(d Dialect, identifier string) string {
	switch d {
	case MSSQL:
		return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
	case MySQL:
		return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
	}
}

// QuoteTable quotes a possibly schema-qualified table name. For SQL Server a
// missing schema defaults to dbo.
func QuoteTable(d Dialect, name string) (string, error) {
	schema, table := SplitQualified(name)
	if !Valid(table) || (schema != "" && !Valid(schema)) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	if schema == "" && d == MSSQL {
		schema = "dbo"
	}
	if schema == "" {
		return Quote(d, table), nil
	}
	return Quote(d, schema) + "." + Quote(d, table), nil
}

// QuoteColumns validates and quotes a column list, joined with ", ".
func QuoteColumns(d Dialect, columns []string) (string, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if !Valid(c) {
			return "", fmt.Errorf("invalid column name %q", c)
		}
		quoted[i] = Quote(d, c)
	}
	return strings.Join(quoted, ", "), nil
}

// SelectAll builds "SELECT <cols> FROM <table>" for a source read.
func SelectAll(d Dialect, table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("no columns to select from %q", table)
	}
	cols, err := QuoteColumns(d, columns)
	if err != nil {
		return "", err
	}
	tbl, err := QuoteTable(d, table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM %s", cols, tbl), nil
}
