package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	_ "github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource/csv"
	_ "github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/crypto"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

type fakeConfigStore struct {
	applied *models.ConfigDocument
	sources []*models.Source
}

func (f *fakeConfigStore) Apply(ctx context.Context, doc *models.ConfigDocument) (*models.ApplySummary, error) {
	f.applied = doc
	summary := &models.ApplySummary{Sources: len(doc.Sources)}
	for _, s := range doc.Sources {
		summary.Mappings += len(s.Mappings)
		for _, m := range s.Mappings {
			summary.Fields += len(m.Fields)
		}
	}
	return summary, nil
}

func (f *fakeConfigStore) ListSources(ctx context.Context) ([]*models.Source, error) {
	return f.sources, nil
}

func (f *fakeConfigStore) ListMappings(ctx context.Context, sourceName string) ([]*models.TableMapping, error) {
	return nil, apperrors.ErrNotFound
}

const mappingsYAML = `
sources:
  - name: legacy
    type: postgres
    connection: '{"host": "legacy-db", "user": "etl", "password": "s3cret", "database": "crm"}'
    mappings:
      - source_table: kunde
        source_pk_field: pk
        target_table: org
        target_pk_field: legacy_id
        fields:
          - source: name
            target: name
            required: true
          - source: plz
            target: postal_code
            transform: normalize_plz
          - source: land
            target: country
            default: DE
      - source_table: ansprechpartner
        source_pk_field: pk
        target_table: person
        target_pk_field: legacy_id
        fields:
          - source: kunde_pk
            target: org_id
            transform: fk_lookup:org.legacy_id
            required: true
  - name: exports
    type: csv
    connection: env:EXPORTS
`

func TestParseConfigDocument(t *testing.T) {
	doc, err := ParseConfigDocument(strings.NewReader(mappingsYAML))
	require.NoError(t, err)

	require.Len(t, doc.Sources, 2)
	legacy := doc.Sources[0]
	assert.Equal(t, "postgres", legacy.Type)
	require.Len(t, legacy.Mappings, 2)
	require.Len(t, legacy.Mappings[0].Fields, 3)
	assert.True(t, legacy.Mappings[0].Fields[0].Required)
	require.NotNil(t, legacy.Mappings[0].Fields[2].Default)
	assert.Equal(t, "DE", *legacy.Mappings[0].Fields[2].Default)
	assert.True(t, models.IsActive(legacy.Active))
}

func TestParseConfigDocument_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"unknown key", "sources:\n  - name: a\n    kind: csv\n"},
		{"not yaml", "sources: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigDocumentBytes([]byte(tt.yaml))
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestConfigService_ApplySealsDescriptors(t *testing.T) {
	cipher, err := crypto.NewDescriptorCipher("test-passphrase")
	require.NoError(t, err)

	store := &fakeConfigStore{}
	svc := NewConfigService(store, cipher, nil, zaptest.NewLogger(t))

	doc, err := ParseConfigDocument(strings.NewReader(mappingsYAML))
	require.NoError(t, err)
	original := doc.Sources[0].Connection

	summary, err := svc.Apply(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, &models.ApplySummary{Sources: 2, Mappings: 2, Fields: 4}, summary)

	stored := store.applied.Sources[0].Connection
	assert.True(t, crypto.IsSealed(stored))
	assert.NotContains(t, stored, "s3cret")
	opened, err := cipher.Open(stored)
	require.NoError(t, err)
	assert.Equal(t, original, opened)

	assert.Equal(t, "env:EXPORTS", store.applied.Sources[1].Connection, "env descriptors stay readable")
	assert.Equal(t, original, doc.Sources[0].Connection, "the caller's document is not modified")
}

func TestConfigService_ApplyWithoutCipherStoresPlaintext(t *testing.T) {
	store := &fakeConfigStore{}
	svc := NewConfigService(store, nil, nil, zaptest.NewLogger(t))

	doc, err := ParseConfigDocument(strings.NewReader(mappingsYAML))
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), doc)
	require.NoError(t, err)
	assert.Contains(t, store.applied.Sources[0].Connection, `"host": "legacy-db"`)
}

func TestConfigService_ApplyValidation(t *testing.T) {
	base := func() *models.ConfigDocument {
		doc, err := ParseConfigDocument(strings.NewReader(mappingsYAML))
		require.NoError(t, err)
		return doc
	}

	tests := []struct {
		name   string
		mutate func(doc *models.ConfigDocument)
		want   string
	}{
		{"no sources", func(doc *models.ConfigDocument) { doc.Sources = nil }, "no sources"},
		{"duplicate source", func(doc *models.ConfigDocument) { doc.Sources[1].Name = "legacy" }, "declared twice"},
		{"unsupported type", func(doc *models.ConfigDocument) { doc.Sources[0].Type = "oracle" }, "unsupported type"},
		{"missing connection", func(doc *models.ConfigDocument) { doc.Sources[1].Connection = " " }, "no connection"},
		{"sealed without key", func(doc *models.ConfigDocument) { doc.Sources[1].Connection = "enc:AAAA" }, "no credentials key"},
		{"unknown transform", func(doc *models.ConfigDocument) {
			tr := "normalise_plz"
			doc.Sources[0].Mappings[0].Fields[1].Transform = &tr
		}, `unknown transform "normalise_plz"`},
		{"malformed fk_lookup", func(doc *models.ConfigDocument) {
			tr := "fk_lookup:org"
			doc.Sources[0].Mappings[1].Fields[0].Transform = &tr
		}, "fk_lookup"},
		{"bad identifier", func(doc *models.ConfigDocument) {
			doc.Sources[0].Mappings[0].TargetTable = "org; DROP TABLE org"
		}, "target_table"},
		{"duplicate mapping", func(doc *models.ConfigDocument) {
			m := doc.Sources[0].Mappings[0]
			doc.Sources[0].Mappings = append(doc.Sources[0].Mappings, m)
		}, "twice"},
		{"no fields", func(doc *models.ConfigDocument) {
			doc.Sources[0].Mappings[1].Fields = nil
		}, "no field mappings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeConfigStore{}
			svc := NewConfigService(store, nil, nil, zaptest.NewLogger(t))

			doc := base()
			tt.mutate(doc)

			_, err := svc.Apply(context.Background(), doc)
			require.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
			assert.Nil(t, store.applied, "nothing is written when validation fails")
		})
	}
}
