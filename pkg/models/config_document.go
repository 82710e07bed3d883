package models

// ConfigDocument is the YAML document accepted by `config apply`. Sources are
// matched by name, table mappings by (source, source_table, target_table).
// The field list of every mapping in the document replaces the stored one.
type ConfigDocument struct {
	Sources []SourceSpec `yaml:"sources" json:"sources"`
}

// SourceSpec declares one source and its table mappings.
type SourceSpec struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Type        string        `yaml:"type" json:"type"`
	Connection  string        `yaml:"connection" json:"-"`
	Active      *bool         `yaml:"active" json:"active,omitempty"`
	Mappings    []MappingSpec `yaml:"mappings" json:"mappings"`
}

// MappingSpec declares one table mapping.
type MappingSpec struct {
	SourceTable   string      `yaml:"source_table" json:"source_table"`
	SourcePKField string      `yaml:"source_pk_field" json:"source_pk_field"`
	TargetTable   string      `yaml:"target_table" json:"target_table"`
	TargetPKField string      `yaml:"target_pk_field" json:"target_pk_field"`
	Description   string      `yaml:"description" json:"description,omitempty"`
	Active        *bool       `yaml:"active" json:"active,omitempty"`
	Fields        []FieldSpec `yaml:"fields" json:"fields"`
}

// FieldSpec declares one field mapping. Position is its index in Fields.
type FieldSpec struct {
	Source    string  `yaml:"source" json:"source"`
	Target    string  `yaml:"target" json:"target"`
	Transform *string `yaml:"transform" json:"transform,omitempty"`
	Required  bool    `yaml:"required" json:"required"`
	Default   *string `yaml:"default" json:"default,omitempty"`
}

// ApplySummary counts what `config apply` wrote.
type ApplySummary struct {
	Sources  int `json:"sources" yaml:"sources"`
	Mappings int `json:"mappings" yaml:"mappings"`
	Fields   int `json:"fields" yaml:"fields"`
}

// IsActive resolves an optional active flag, defaulting to true.
func IsActive(flag *bool) bool {
	return flag == nil || *flag
}
