package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, name string, in any) (any, error) {
	t.Helper()
	fn, ok := builtins[name]
	require.True(t, ok, "missing builtin %s", name)
	return fn(in)
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		in   any
		want any
	}{
		{"trim", "trim", "  Kaufhaus ", "Kaufhaus"},
		{"trim nil", "trim", nil, nil},
		{"trim empty", "trim", "", ""},
		{"trim non-string", "trim", int64(5), int64(5)},
		{"upper", "upper", "abc", "ABC"},
		{"lower", "lower", "ÄBC", "äbc"},
		{"lower nil", "lower", nil, nil},

		{"to_int string", "to_int", " 4359 ", int64(4359)},
		{"to_int negative", "to_int", "-3", int64(-3)},
		{"to_int int32", "to_int", int32(7), int64(7)},
		{"to_int float truncates", "to_int", 3.9, int64(3)},
		{"to_int bool", "to_int", true, int64(1)},
		{"to_int nil", "to_int", nil, nil},

		{"to_float string", "to_float", "2.5", 2.5},
		{"to_float int", "to_float", int64(2), 2.0},
		{"to_float nil", "to_float", nil, nil},

		{"to_str int", "to_str", int64(12), "12"},
		{"to_str float", "to_str", 1.5, "1.5"},
		{"to_str string", "to_str", "x", "x"},
		{"to_str nil", "to_str", nil, nil},
		{"to_str time", "to_str", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05Z"},

		{"street name", "split_street_name", "Hauptstraße 12a", "Hauptstraße"},
		{"street name no number", "split_street_name", " Marktplatz ", "Marktplatz"},
		{"street hausnr", "split_street_hausnr", "Am Anger 7 b", "7 b"},
		{"street hausnr none", "split_street_hausnr", "Marktplatz", nil},
		{"street hausnr nil", "split_street_hausnr", nil, nil},

		{"phone +49", "normalize_phone", "+49 9574 65464-0", "09574654640"},
		{"phone +49 with (0) keeps both zeros", "normalize_phone", "+49 (0)9574 65464-0", "009574654640"},
		{"phone 0049", "normalize_phone", "0049 9574 654640", "09574654640"},
		{"phone plain", "normalize_phone", "09574/65464-0", "09574654640"},
		{"phone no digits", "normalize_phone", "n/a", "n/a"},

		{"plz int", "normalize_plz", int64(1234), "01234"},
		{"plz string", "normalize_plz", " 96242 ", "96242"},
		{"plz empty", "normalize_plz", "", nil},
		{"plz nil", "normalize_plz", nil, nil},

		{"url", "normalize_url", "https://www.Hoellein.com/", "hoellein.com"},
		{"url http", "normalize_url", "http://shop.example.de//", "shop.example.de"},

		{"email", "normalize_email", "  Info@Example.DE ", "info@example.de"},

		{"anrede herr", "extract_anrede", "Sehr geehrter Herr", "Herr"},
		{"anrede frau", "extract_anrede", "Frau Dr.", "Frau"},
		{"anrede other", "extract_anrede", " Firma ", "Firma"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := apply(t, tt.fn, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuiltins_NumericErrors(t *testing.T) {
	for _, tc := range []struct {
		fn string
		in any
	}{
		{"to_int", "abc"},
		{"to_int", ""},
		{"to_int", "3.5"},
		{"to_int", time.Now()},
		{"to_float", "1,5"},
		{"to_float", struct{}{}},
	} {
		_, err := apply(t, tc.fn, tc.in)
		assert.Error(t, err, "%s(%v)", tc.fn, tc.in)
	}
}
