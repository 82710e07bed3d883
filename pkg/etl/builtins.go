package etl

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var errNotNumeric = errors.New("not numeric")

var builtins = map[string]Func{
	"trim":  stringOnly(strings.TrimSpace),
	"upper": stringOnly(strings.ToUpper),
	"lower": stringOnly(strings.ToLower),

	"to_int":   toInt,
	"to_float": toFloat,
	"to_str":   toStr,

	"split_street_name":   splitStreetName,
	"split_street_hausnr": splitStreetHausnr,
	"normalize_phone":     normalizePhone,
	"normalize_plz":       normalizePLZ,
	"normalize_url":       normalizeURL,
	"normalize_email":     stringOnly(func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }),
	"extract_anrede":      extractAnrede,
}

// stringOnly lifts a string function to a Func that leaves non-strings and
// empty strings alone.
func stringOnly(f func(string) string) Func {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok || s == "" {
			return v, nil
		}
		return f(s), nil
	}
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, errNotNumeric
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to int", v)
	}
}

// floatToInt truncates toward zero.
func floatToInt(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%v out of int64 range", f)
	}
	return int64(f), nil
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, errNotNumeric
		}
		return f, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(n.(int64)), nil
}

func toStr(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return stringify(v), nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

var streetPattern = regexp.MustCompile(`^(.+?)\s+(\d+\s*\w?)$`)

func splitStreetName(v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return v, nil
	}
	s = strings.TrimSpace(s)
	if m := streetPattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), nil
	}
	return s, nil
}

func splitStreetHausnr(v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if m := streetPattern.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		return strings.TrimSpace(m[2]), nil
	}
	return nil, nil
}

var (
	phonePrefix49   = regexp.MustCompile(`^\+49\s*`)
	phonePrefix0049 = regexp.MustCompile(`^0049\s*`)
	nonDigits       = regexp.MustCompile(`[^\d]`)
)

// normalizePhone turns "+49 (0)9574 65464-0" into "095746546400".
func normalizePhone(v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return v, nil
	}
	phone := strings.TrimSpace(s)
	phone = phonePrefix49.ReplaceAllString(phone, "0")
	phone = phonePrefix0049.ReplaceAllString(phone, "0")
	phone = nonDigits.ReplaceAllString(phone, "")
	if phone == "" {
		return v, nil
	}
	return phone, nil
}

// normalizePLZ pads German postal codes to five digits: 1234 -> "01234".
func normalizePLZ(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	digits := nonDigits.ReplaceAllString(strings.TrimSpace(stringify(v)), "")
	if digits == "" {
		return nil, nil
	}
	if len(digits) < 5 {
		digits = strings.Repeat("0", 5-len(digits)) + digits
	}
	return digits, nil
}

var (
	urlScheme = regexp.MustCompile(`^https?://`)
	urlWWW    = regexp.MustCompile(`^www\.`)
)

// normalizeURL turns "https://www.hoellein.com/" into "hoellein.com".
func normalizeURL(v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return v, nil
	}
	u := strings.ToLower(strings.TrimSpace(s))
	u = urlScheme.ReplaceAllString(u, "")
	u = urlWWW.ReplaceAllString(u, "")
	return strings.TrimRight(u, "/"), nil
}

// extractAnrede reduces a salutation like "Sehr geehrter Herr" to "Herr" or "Frau".
func extractAnrede(v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return v, nil
	}
	s = strings.TrimSpace(s)
	switch {
	case strings.Contains(s, "Herr"):
		return "Herr", nil
	case strings.Contains(s, "Frau"):
		return "Frau", nil
	}
	return s, nil
}
