package nado

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPositionCacheStrikes(t *testing.T) {
	tests := []struct {
		name  string
		reads []string
		found []bool
		want  []string
	}{
		{
			name:  "three zero reads confirm flat",
			reads: []string{"0.5", "0", "0", "0"},
			want:  []string{"0.5", "0.5", "0.5", "0"},
		},
		{
			name:  "non-zero read clears strikes",
			reads: []string{"0.5", "0", "0", "0.4", "0", "0"},
			want:  []string{"0.5", "0.5", "0.5", "0.4", "0.4", "0.4"},
		},
		{
			name:  "first read of zero is trusted",
			reads: []string{"0", "0"},
			want:  []string{"0", "0"},
		},
		{
			name:  "absent product is trusted",
			reads: []string{"-1", "0"},
			found: []bool{true, false},
			want:  []string{"-1", "0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := NewPositionCache(3, quietLogger())
			for i, r := range tt.reads {
				found := true
				if tt.found != nil {
					found = tt.found[i]
				}
				got := pc.Observe(pc.Begin(), decimal.RequireFromString(r), found)
				assert.Equal(t, tt.want[i], got.String(), "read %d", i)
			}
		})
	}
}

func TestPositionCacheFillBeforeFirstReadIsIgnored(t *testing.T) {
	pc := NewPositionCache(0, quietLogger())
	_, known := pc.ApplyFill(decimal.RequireFromString("1"))
	assert.False(t, known)
	assert.True(t, pc.Fallback().IsZero())
}

func TestPositionCacheDropsReadsRacingAFill(t *testing.T) {
	pc := NewPositionCache(3, quietLogger())
	pc.Observe(pc.Begin(), decimal.RequireFromString("1"), true)

	token := pc.Begin()
	v, known := pc.ApplyFill(decimal.RequireFromString("0.5"))
	require.True(t, known)
	assert.Equal(t, "1.5", v.String())

	got := pc.Observe(token, decimal.RequireFromString("1"), true)
	assert.Equal(t, "1.5", got.String(), "a read started before the fill is stale")
}

func TestPositionCacheFillClearsStrikes(t *testing.T) {
	pc := NewPositionCache(3, quietLogger())
	pc.Observe(pc.Begin(), decimal.RequireFromString("0.5"), true)
	pc.Observe(pc.Begin(), decimal.Zero, true)
	require.Equal(t, 1, pc.Strikes())

	pc.ApplyFill(decimal.RequireFromString("-0.5"))
	assert.Zero(t, pc.Strikes())
	assert.True(t, pc.Fallback().IsZero())
}
