package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/crypto"
	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// ConfigService validates and stores import configuration.
type ConfigService interface {
	// Apply validates every source, mapping and transform in doc, then writes
	// it in one transaction. Nothing is written when validation fails.
	Apply(ctx context.Context, doc *models.ConfigDocument) (*models.ApplySummary, error)

	// ListSources returns all configured sources.
	ListSources(ctx context.Context) ([]*models.Source, error)

	// ListMappings returns the table mappings of a source.
	ListMappings(ctx context.Context, sourceName string) ([]*models.TableMapping, error)
}

// ConfigStore is the persistence ConfigService needs.
type ConfigStore interface {
	Apply(ctx context.Context, doc *models.ConfigDocument) (*models.ApplySummary, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
	ListMappings(ctx context.Context, sourceName string) ([]*models.TableMapping, error)
}

type configService struct {
	store    ConfigStore
	cipher   *crypto.DescriptorCipher
	registry *etl.Registry
	logger   *zap.Logger
}

// NewConfigService creates a configuration service. With a non-nil cipher,
// connection descriptors are sealed before they are stored. A nil registry
// selects etl.Default().
func NewConfigService(store ConfigStore, cipher *crypto.DescriptorCipher, registry *etl.Registry, logger *zap.Logger) ConfigService {
	return &configService{
		store:    store,
		cipher:   cipher,
		registry: registry,
		logger:   logger.Named("config"),
	}
}

var _ ConfigService = (*configService)(nil)

// ParseConfigDocument decodes a YAML configuration document. Unknown keys are rejected.
func ParseConfigDocument(r io.Reader) (*models.ConfigDocument, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc models.ConfigDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty configuration document", apperrors.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return &doc, nil
}

// ParseConfigDocumentBytes is ParseConfigDocument for an in-memory document.
func ParseConfigDocumentBytes(data []byte) (*models.ConfigDocument, error) {
	return ParseConfigDocument(bytes.NewReader(data))
}

func (s *configService) Apply(ctx context.Context, doc *models.ConfigDocument) (*models.ApplySummary, error) {
	if err := s.validate(doc); err != nil {
		return nil, err
	}

	sealed := *doc
	sealed.Sources = make([]models.SourceSpec, len(doc.Sources))
	for i, src := range doc.Sources {
		conn, err := s.seal(src.Connection)
		if err != nil {
			return nil, fmt.Errorf("failed to seal connection of source %q: %w", src.Name, err)
		}
		src.Connection = conn
		sealed.Sources[i] = src
	}

	summary, err := s.store.Apply(ctx, &sealed)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Configuration applied",
		zap.Int("sources", summary.Sources),
		zap.Int("mappings", summary.Mappings),
		zap.Int("fields", summary.Fields),
	)
	return summary, nil
}

// seal encrypts descriptors that may carry credentials. env: descriptors only
// name variables and stay readable.
func (s *configService) seal(conn string) (string, error) {
	if s.cipher == nil || crypto.IsSealed(conn) || strings.HasPrefix(conn, datasource.EnvDescriptorPrefix) {
		return conn, nil
	}
	return s.cipher.Seal(conn)
}

func (s *configService) validate(doc *models.ConfigDocument) error {
	if doc == nil || len(doc.Sources) == 0 {
		return fmt.Errorf("%w: configuration document has no sources", apperrors.ErrInvalidInput)
	}

	reg := s.registry
	if reg == nil {
		reg = etl.Default()
	}

	seenSource := map[string]bool{}
	for _, src := range doc.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return fmt.Errorf("%w: source without name", apperrors.ErrInvalidInput)
		}
		if seenSource[src.Name] {
			return fmt.Errorf("%w: source %q declared twice", apperrors.ErrInvalidInput, src.Name)
		}
		seenSource[src.Name] = true

		if !datasource.IsRegistered(src.Type) {
			return fmt.Errorf("%w: source %q has unsupported type %q", apperrors.ErrInvalidInput, src.Name, src.Type)
		}
		if strings.TrimSpace(src.Connection) == "" {
			return fmt.Errorf("%w: source %q has no connection", apperrors.ErrInvalidInput, src.Name)
		}
		if crypto.IsSealed(src.Connection) && s.cipher == nil {
			return fmt.Errorf("%w: source %q: %v", apperrors.ErrInvalidInput, src.Name, crypto.ErrNoKey)
		}

		seenMapping := map[string]bool{}
		for _, m := range src.Mappings {
			pair := m.SourceTable + " -> " + m.TargetTable
			if seenMapping[pair] {
				return fmt.Errorf("%w: source %q maps %s twice", apperrors.ErrInvalidInput, src.Name, pair)
			}
			seenMapping[pair] = true

			if _, err := etl.Compile(snapshotOf(src, m), reg); err != nil {
				return fmt.Errorf("%w: source %q, mapping %s: %v", apperrors.ErrInvalidInput, src.Name, pair, err)
			}
		}
	}
	return nil
}

// snapshotOf builds the snapshot a run of m would see, so apply validates
// exactly what the runner validates.
func snapshotOf(src models.SourceSpec, m models.MappingSpec) *models.ConfigSnapshot {
	fields := make([]*models.FieldMapping, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = &models.FieldMapping{
			SourceField:  f.Source,
			TargetField:  f.Target,
			Transform:    f.Transform,
			IsRequired:   f.Required,
			DefaultValue: f.Default,
			Position:     i,
		}
	}
	return &models.ConfigSnapshot{
		Source: &models.Source{Name: src.Name, ConnectionType: src.Type},
		TableMapping: &models.TableMapping{
			SourceTable:   m.SourceTable,
			SourcePKField: m.SourcePKField,
			TargetTable:   m.TargetTable,
			TargetPKField: m.TargetPKField,
		},
		FieldMappings: fields,
	}
}

func (s *configService) ListSources(ctx context.Context) ([]*models.Source, error) {
	return s.store.ListSources(ctx)
}

func (s *configService) ListMappings(ctx context.Context, sourceName string) ([]*models.TableMapping, error) {
	return s.store.ListMappings(ctx, sourceName)
}
