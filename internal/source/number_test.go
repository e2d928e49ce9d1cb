package source

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{"plain", "42.5", 42.5, true},
		{"trimmed", "  7.25 ", 7.25, true},
		{"thousands", "1,234,567.89", 1234567.89, true},
		{"negative", "-3.5", -3.5, true},
		{"exponent", "1.5e3", 1500, true},
		{"zero is a value", "0", 0, true},
		{"empty", "", 0, false},
		{"dashes", "--", 0, false},
		{"n/a", "N/A", 0, false},
		{"null token", "null", 0, false},
		{"nan token", "NaN", 0, false},
		{"garbage", "abc", 0, false},
		{"float", 3.25, 3.25, true},
		{"float nan", math.NaN(), 0, false},
		{"float inf", math.Inf(1), 0, false},
		{"int", 12, 12, true},
		{"json number", json.Number("99.5"), 99.5, true},
		{"nil", nil, 0, false},
		{"unsupported", struct{}{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestParseOptional(t *testing.T) {
	assert.Nil(t, ParseOptional("--"))

	got := ParseOptional("21000000")
	if assert.NotNil(t, got) {
		assert.Equal(t, 21000000.0, *got)
	}
}

func TestParseOr(t *testing.T) {
	assert.Equal(t, 5.0, ParseOr("", 5))
	assert.Equal(t, 1.0, ParseOr("1", 5))
}
