package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRiskGateCheckPosition(t *testing.T) {
	gate := NewRiskGate(RiskConfig{MaxExposure: d("200")})

	tests := []struct {
		name     string
		notional string
		equity   string
		gate     string
		backoff  time.Duration
	}{
		{"flat with equity", "0", "1000", "", 0},
		{"exactly at max exposure", "200", "1000", "", 0},
		{"above max exposure", "200.01", "1000", GateExposure, 5 * time.Second},
		{"zero equity", "0", "0", GateEquity, 10 * time.Second},
		{"negative equity", "10", "-5", GateEquity, 10 * time.Second},
		{"at leverage cap", "150", "30", GateLeverage, 10 * time.Second},
		{"just under leverage cap", "149.99", "30", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := gate.CheckPosition(d(tt.notional), d(tt.equity))
			assert.Equal(t, tt.gate == "", dec.Allowed)
			assert.Equal(t, tt.gate, dec.Gate)
			assert.Equal(t, tt.backoff, dec.Backoff)
			if !dec.Allowed {
				assert.NotEmpty(t, dec.Reason)
			}
		})
	}
}

func TestRiskGateCheckOrder(t *testing.T) {
	gate := NewRiskGate(RiskConfig{MaxExposure: d("200"), MaxLeverage: d("3")})

	assert.True(t, gate.CheckOrder(d("0.05"), d("3000"), d("50")).Allowed)

	dec := gate.CheckOrder(d("0.05"), d("3000"), d("50.01"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, GateOrderSize, dec.Gate)
	assert.Equal(t, 5*time.Second, dec.Backoff)
}

func TestRiskGateCustomLeverage(t *testing.T) {
	gate := NewRiskGate(RiskConfig{MaxExposure: d("1000"), MaxLeverage: d("2")})

	assert.False(t, gate.CheckPosition(d("200"), d("100")).Allowed)
	assert.True(t, gate.CheckPosition(d("199"), d("100")).Allowed)
}
