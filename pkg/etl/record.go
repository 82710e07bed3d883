package etl

// Record is the transformed target row: column values in mapping order.
type Record struct {
	columns []string
	values  map[string]any
}

// NewRecord returns an empty record sized for n columns.
func NewRecord(n int) *Record {
	return &Record{
		columns: make([]string, 0, n),
		values:  make(map[string]any, n),
	}
}

// Set assigns a column, keeping first-assignment order.
func (r *Record) Set(column string, value any) {
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Get returns a column value and whether it was set.
func (r *Record) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Columns returns the column names in assignment order.
func (r *Record) Columns() []string {
	return r.columns
}

// Values returns the values aligned with Columns.
func (r *Record) Values() []any {
	out := make([]any, len(r.columns))
	for i, c := range r.columns {
		out[i] = r.values[c]
	}
	return out
}

// Len returns the number of columns.
func (r *Record) Len() int { return len(r.columns) }
