package source

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketfeed/internal/model"
)

// ParseNumber converts a provider value into a finite float64.
// It returns false when the value is absent, a sentinel token, unparseable or
// non-finite. Callers must not treat a false result as zero.
func ParseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, model.IsFinite(n)
	case float32:
		f := float64(n)
		return f, model.IsFinite(f)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		return parseString(n.String())
	case string:
		return parseString(n)
	case *string:
		if n == nil {
			return 0, false
		}
		return parseString(*n)
	default:
		return 0, false
	}
}

// ParseOptional is ParseNumber returning nil for an absent value.
func ParseOptional(v any) *float64 {
	f, ok := ParseNumber(v)
	if !ok {
		return nil
	}
	return model.Float(f)
}

// ParseOr returns the parsed value, or fallback when absent. Adapters use it
// with a zero fallback for volume and change, which history samples require
// to be finite.
func ParseOr(v any, fallback float64) float64 {
	if f, ok := ParseNumber(v); ok {
		return f
	}
	return fallback
}

func parseString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "--", "-", "n/a", "na", "null", "nan", "none":
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f := d.InexactFloat64()
	if !model.IsFinite(f) {
		return 0, false
	}
	return f, true
}
