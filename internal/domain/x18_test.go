package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromX18(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"3000000000000000000000", "3000"},
		{"-50000000000000000", "-0.05"},
		{"1", "0.000000000000000001"},
		{"0", "0"},
	}
	for _, tt := range tests {
		got, err := FromX18(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s -> %s", tt.in, got)
	}

	_, err := FromX18("")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = FromX18("abc")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestToX18Truncates(t *testing.T) {
	assert.Equal(t, "3000500000000000000000", X18String(decimal.RequireFromString("3000.5")))
	assert.Equal(t, "-50000000000000000", X18String(decimal.RequireFromString("-0.05")))
	assert.Equal(t, "1", X18String(decimal.RequireFromString("0.0000000000000000019")))
}

func TestRoundToTick(t *testing.T) {
	tick := decimal.RequireFromString("0.1")
	tests := []struct {
		price string
		want  string
	}{
		{"2998.4985", "2998.5"},
		{"3002.5015", "3002.5"},
		{"100.05", "100"}, // half to even
		{"100.15", "100.2"},
	}
	for _, tt := range tests {
		got := RoundToTick(decimal.RequireFromString(tt.price), tick)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s -> %s", tt.price, got)
	}
	p := decimal.RequireFromString("1.234")
	assert.True(t, RoundToTick(p, decimal.Zero).Equal(p))
}
