// Package csv reads source tables from delimited text exports.
//
// A source's path may name one file, which then backs every table of the
// source, or a directory holding one <table>.csv per table. The first record
// is the header. Empty fields read as NULL.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// Config selects the export location and its dialect.
type Config struct {
	Path      string
	Delimiter rune
}

// FromDescriptor reads "path" (or "dsn") and an optional one-character "delimiter".
func FromDescriptor(d datasource.Descriptor) (*Config, error) {
	cfg := &Config{Path: d.String(datasource.KeyPath), Delimiter: ','}
	if cfg.Path == "" {
		cfg.Path = d.String(datasource.KeyDSN)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: csv source needs a path", datasource.ErrInvalidSource)
	}
	if delim := d.String("delimiter"); delim != "" {
		r, size := utf8.DecodeRuneInString(delim)
		if size != len(delim) || r == '"' || r == '\n' || r == '\r' {
			return nil, fmt.Errorf("%w: invalid csv delimiter %q", datasource.ErrInvalidSource, delim)
		}
		cfg.Delimiter = r
	}
	return cfg, nil
}

// Adapter reads CSV exports from the local filesystem.
type Adapter struct {
	config *Config
}

// NewAdapter checks that the configured path exists.
func NewAdapter(cfg *Config) (*Adapter, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: %v", datasource.ErrInvalidSource, err)
	}
	return &Adapter{config: cfg}, nil
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	_, err := os.Stat(a.config.Path)
	return err
}

func (a *Adapter) Close() error { return nil }

// fileFor resolves the file backing table.
func (a *Adapter) fileFor(table string) (string, error) {
	info, err := os.Stat(a.config.Path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return a.config.Path, nil
	}
	if strings.ContainsAny(table, `/\`) || strings.Contains(table, "..") {
		return "", fmt.Errorf("%w: invalid table name %q", datasource.ErrInvalidSource, table)
	}
	return filepath.Join(a.config.Path, table+".csv"), nil
}

// ReadTable opens the file for table and checks that every projected column
// appears in its header.
func (a *Adapter) ReadTable(ctx context.Context, table string, columns []string) (datasource.RowCursor, error) {
	path, err := a.fileFor(table)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := csv.NewReader(f)
	r.Comma = a.config.Delimiter
	r.ReuseRecord = true
	r.FieldsPerRecord = 0

	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s has no header", datasource.ErrInvalidSource, path)
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}

	positions := make([]int, len(columns))
	for i, col := range columns {
		pos, ok := index[col]
		if !ok {
			f.Close()
			return nil, fmt.Errorf("%w: column %q not in header of %s", datasource.ErrInvalidSource, col, path)
		}
		positions[i] = pos
	}

	return &cursor{ctx: ctx, file: f, reader: r, columns: columns, positions: positions}, nil
}

type cursor struct {
	ctx       context.Context
	file      *os.File
	reader    *csv.Reader
	columns   []string
	positions []int
	row       map[string]any
	err       error
}

func (c *cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}

	record, err := c.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		c.err = err
		return false
	}

	row := make(map[string]any, len(c.columns))
	for i, col := range c.columns {
		v := record[c.positions[i]]
		if v == "" {
			row[col] = nil
		} else {
			row[col] = v
		}
	}
	c.row = row
	return true
}

func (c *cursor) Row() map[string]any { return c.row }
func (c *cursor) Err() error          { return c.err }
func (c *cursor) Close() error        { return c.file.Close() }

var _ datasource.SourceReader = (*Adapter)(nil)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        models.ConnectionTypeCSV,
			DisplayName: "CSV export",
			Description: "Delimited text files with a header row",
		},
		Open: func(ctx context.Context, d datasource.Descriptor, _ *datasource.ConnectionManager, _ string) (datasource.SourceReader, error) {
			cfg, err := FromDescriptor(d)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg)
		},
	})
}
