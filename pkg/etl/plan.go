package etl

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/sqlident"
)

type fieldPlan struct {
	mapping   *models.FieldMapping
	transform Transform
}

// Plan is a validated TableMapping with every transform resolved. Building a
// Plan is the VALIDATING step of a run.
type Plan struct {
	Source  *models.Source
	Mapping *models.TableMapping
	fields  []fieldPlan
	columns []string
	keyIdx  int // index into fields of the mapping writing target_pk_field, or -1
}

// Compile validates a configuration snapshot against the registry.
func Compile(snap *models.ConfigSnapshot, reg *Registry) (*Plan, error) {
	if snap == nil || snap.Source == nil || snap.TableMapping == nil {
		return nil, &ConfigurationError{Reason: "incomplete configuration snapshot"}
	}
	tm := snap.TableMapping

	checks := []struct {
		attr, value string
		qualified   bool
	}{
		{"source_table", tm.SourceTable, true},
		{"source_pk_field", tm.SourcePKField, false},
		{"target_table", tm.TargetTable, true},
		{"target_pk_field", tm.TargetPKField, false},
	}
	for _, c := range checks {
		ok := sqlident.Valid(c.value)
		if c.qualified {
			ok = sqlident.ValidQualified(c.value)
		}
		if !ok {
			return nil, &ConfigurationError{Field: c.attr, Reason: fmt.Sprintf("invalid identifier %q", c.value)}
		}
	}
	if len(snap.FieldMappings) == 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("table mapping %s has no field mappings", tm.ID)}
	}

	p := &Plan{
		Source:  snap.Source,
		Mapping: tm,
		fields:  make([]fieldPlan, 0, len(snap.FieldMappings)),
		keyIdx:  -1,
	}

	seenColumn := map[string]bool{tm.SourcePKField: true}
	p.columns = append(p.columns, tm.SourcePKField)
	seenTarget := map[string]bool{}

	for _, fm := range snap.FieldMappings {
		if !sqlident.Valid(fm.SourceField) {
			return nil, &ConfigurationError{Field: fm.SourceField, Reason: "invalid source field name"}
		}
		if !sqlident.Valid(fm.TargetField) {
			return nil, &ConfigurationError{Field: fm.SourceField, Reason: fmt.Sprintf("invalid target field name %q", fm.TargetField)}
		}
		if seenTarget[fm.TargetField] {
			return nil, &ConfigurationError{Field: fm.SourceField, Reason: fmt.Sprintf("target field %q mapped twice", fm.TargetField)}
		}
		seenTarget[fm.TargetField] = true

		t := Identity
		if fm.Transform != nil {
			var err error
			if t, err = reg.Resolve(*fm.Transform); err != nil {
				if ce, ok := err.(*ConfigurationError); ok {
					ce.Field = fm.SourceField
				}
				return nil, err
			}
		}

		if fm.TargetField == tm.TargetPKField {
			p.keyIdx = len(p.fields)
		}
		p.fields = append(p.fields, fieldPlan{mapping: fm, transform: t})

		if !seenColumn[fm.SourceField] {
			seenColumn[fm.SourceField] = true
			p.columns = append(p.columns, fm.SourceField)
		}
	}

	return p, nil
}

// Columns is the source projection: the natural key followed by every mapped field.
func (p *Plan) Columns() []string { return p.columns }

// FieldCount returns the number of field mappings.
func (p *Plan) FieldCount() int { return len(p.fields) }

// rowError carries the field that made a row fail.
type rowError struct {
	field string
	err   error
}

// buildRecord applies every field mapping to one source row. It returns the
// natural key and record, a rowError when the row must be abandoned, or a
// fatal error that stops the run.
func (p *Plan) buildRecord(ctx context.Context, row map[string]any, r Resolver) (any, *Record, *rowError, error) {
	rec := NewRecord(len(p.fields) + 1)

	for _, f := range p.fields {
		out, err := f.transform.Apply(ctx, row[f.mapping.SourceField], r)
		if err != nil {
			if !IsRowScoped(err) {
				return nil, nil, nil, err
			}
			if f.mapping.IsRequired {
				return row[p.Mapping.SourcePKField], nil, &rowError{field: f.mapping.SourceField, err: err}, nil
			}
			out = nil
		}
		if out == nil && f.mapping.DefaultValue != nil {
			out = *f.mapping.DefaultValue
		}
		rec.Set(f.mapping.TargetField, out)
	}

	key := row[p.Mapping.SourcePKField]
	if p.keyIdx >= 0 {
		key, _ = rec.Get(p.Mapping.TargetPKField)
	} else {
		rec.Set(p.Mapping.TargetPKField, key)
	}
	if key == nil {
		return nil, nil, &rowError{field: p.Mapping.SourcePKField, err: errMissingKey}, nil
	}

	return key, rec, nil, nil
}
