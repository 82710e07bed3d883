package etl

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-etl/pkg/sqlident"
)

// FKLookupPrefix introduces the fk_lookup:<table>.<field> transform form.
const FKLookupPrefix = "fk_lookup:"

// Func is a deterministic value transform. It never performs I/O.
type Func func(value any) (any, error)

// TransformKind tags the Transform variant.
type TransformKind int

const (
	// KindIdentity passes the value through unchanged.
	KindIdentity TransformKind = iota
	// KindBuiltin applies a registered Func.
	KindBuiltin
	// KindFKLookup resolves the value to a target id by equality lookup.
	KindFKLookup
)

// Transform is a resolved transform. It is produced once when a mapping is
// compiled and applied to every row without reparsing.
type Transform struct {
	kind  TransformKind
	name  string
	fn    Func
	table string
	field string
}

// Identity is the transform of a field mapping without one.
var Identity = Transform{kind: KindIdentity, name: "identity"}

// Kind returns the variant tag.
func (t Transform) Kind() TransformKind { return t.kind }

// Name returns the identifier the transform was resolved from.
func (t Transform) Name() string { return t.name }

// LookupTarget returns the table and field of an fk_lookup transform.
func (t Transform) LookupTarget() (table, field string) { return t.table, t.field }

// Resolver answers fk_lookup queries for one run.
type Resolver interface {
	Resolve(ctx context.Context, table, field string, value any) (id any, found bool, err error)
}

// Apply runs the transform on one value.
func (t Transform) Apply(ctx context.Context, value any, r Resolver) (any, error) {
	switch t.kind {
	case KindIdentity:
		return value, nil
	case KindBuiltin:
		out, err := t.fn(value)
		if err != nil {
			return nil, &TransformError{Transform: t.name, Value: value, Err: err}
		}
		return out, nil
	case KindFKLookup:
		if value == nil {
			return nil, nil
		}
		id, found, err := r.Resolve(ctx, t.table, t.field, value)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &LookupMiss{Table: t.table, Field: t.field, Value: value}
		}
		return id, nil
	default:
		return nil, fmt.Errorf("unknown transform kind %d", t.kind)
	}
}

// parseFKLookup parses "fk_lookup:<table>.<field>". The split is on the last
// dot so a schema-qualified table is allowed.
func parseFKLookup(expr string) (Transform, error) {
	body := strings.TrimPrefix(expr, FKLookupPrefix)
	i := strings.LastIndex(body, ".")
	if i <= 0 || i == len(body)-1 {
		return Transform{}, fmt.Errorf("malformed %q: expected fk_lookup:<table>.<field>", expr)
	}
	table, field := body[:i], body[i+1:]
	if !sqlident.ValidQualified(table) {
		return Transform{}, fmt.Errorf("malformed %q: invalid table %q", expr, table)
	}
	if !sqlident.Valid(field) {
		return Transform{}, fmt.Errorf("malformed %q: invalid field %q", expr, field)
	}
	return Transform{kind: KindFKLookup, name: expr, table: table, field: field}, nil
}
