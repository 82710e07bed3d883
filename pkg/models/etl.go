package models

import (
	"time"

	"github.com/google/uuid"
)

// Source connection types.
const (
	ConnectionTypePostgres = "postgres"
	ConnectionTypeMSSQL    = "mssql"
	ConnectionTypeMySQL    = "mysql"
	ConnectionTypeSQLite   = "sqlite"
	ConnectionTypeCSV      = "csv"
)

// Source identifies one external, read-only system rows are imported from.
// ConnectionString is a descriptor: a JSON config object, "env:PREFIX",
// "enc:<ciphertext>", a driver DSN, or a file path for csv/sqlite.
type Source struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	ConnectionType   string    `json:"connection_type"`
	ConnectionString string    `json:"-"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableMapping binds one source table to one target table.
// SourcePKField holds the natural key in the source; TargetPKField is the
// target column storing it, which is the identity used for upserts.
type TableMapping struct {
	ID            uuid.UUID `json:"id"`
	SourceID      uuid.UUID `json:"source_id"`
	SourceTable   string    `json:"source_table"`
	SourcePKField string    `json:"source_pk_field"`
	TargetTable   string    `json:"target_table"`
	TargetPKField string    `json:"target_pk_field"`
	IsActive      bool      `json:"is_active"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FieldMapping binds one source column to one target column within a TableMapping.
type FieldMapping struct {
	ID             uuid.UUID `json:"id"`
	TableMappingID uuid.UUID `json:"table_mapping_id"`
	SourceField    string    `json:"source_field"`
	TargetField    string    `json:"target_field"`
	Transform      *string   `json:"transform,omitempty"` // registered name or fk_lookup:<table>.<field>
	IsRequired     bool      `json:"is_required"`
	DefaultValue   *string   `json:"default_value,omitempty"`
	Position       int       `json:"position"` // insertion order within the mapping
	CreatedAt      time.Time `json:"created_at"`
}

// ConfigSnapshot is the configuration a single run executes against,
// read in one consistent transaction at run start.
type ConfigSnapshot struct {
	Source        *Source
	TableMapping  *TableMapping
	FieldMappings []*FieldMapping
}
