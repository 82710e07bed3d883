package postgres

import (
	"math/big"
	"net/netip"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := [16]byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int32", int32(7), int64(7)},
		{"int16", int16(-3), int64(-3)},
		{"float32", float32(1.5), float64(1.5)},
		{"text", "abc", "abc"},
		{"bytea", []byte("raw"), "raw"},
		{"timestamp", ts, ts},
		{"uuid", id, "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"integral numeric", pgtype.Numeric{Int: big.NewInt(42), Exp: 0, Valid: true}, int64(42)},
		{"fractional numeric", pgtype.Numeric{Int: big.NewInt(1234), Exp: -2, Valid: true}, 12.34},
		{"null numeric", pgtype.Numeric{}, nil},
		{"inet", netip.MustParsePrefix("10.0.0.0/8"), "10.0.0.0/8"},
		{"time", pgtype.Time{Microseconds: (13*3600 + 5*60 + 9) * 1_000_000, Valid: true}, "13:05:09"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeValue(tt.in))
		})
	}
}
