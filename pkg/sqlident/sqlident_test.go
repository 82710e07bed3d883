package sqlident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	assert.True(t, Valid("legacy_id"))
	assert.True(t, Valid("kStore"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("1abc"))
	assert.False(t, Valid("name; DROP TABLE x"))
	assert.False(t, Valid(`na"me`))

	assert.True(t, ValidQualified("dbo.Kunden"))
	assert.False(t, ValidQualified("a.b.c"))
}

func TestQuoteTable(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{Postgres, "geo_ort", `"geo_ort"`},
		{Postgres, "public.geo_ort", `"public"."geo_ort"`},
		{MSSQL, "Kunden", "[dbo].[Kunden]"},
		{MSSQL, "[sales].[Kunden]", "[sales].[Kunden]"},
		{MySQL, "shop.orders", "`shop`.`orders`"},
		{SQLite, "orders", `"orders"`},
	}
	for _, tt := range tests {
		got, err := QuoteTable(tt.dialect, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := QuoteTable(Postgres, "bad name")
	assert.Error(t, err)
}

func TestSelectAll(t *testing.T) {
	q, err := SelectAll(MSSQL, "Kunden", []string{"kKunde", "cName"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT [kKunde], [cName] FROM [dbo].[Kunden]", q)

	_, err = SelectAll(Postgres, "t", nil)
	assert.Error(t, err)

	_, err = SelectAll(Postgres, "t", []string{"ok", "not ok"})
	assert.Error(t, err)
}
