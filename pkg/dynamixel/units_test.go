package dynamixel

import (
	"math"
	"testing"
)

func TestRadiansToRaw(t *testing.T) {
	tests := []struct {
		rad  float64
		want int32
	}{
		{0, 2048},
		{math.Pi / 2, 3072},
		{-math.Pi / 2, 1024},
		{math.Pi, 4096},
		{0.0001, 2048}, // truncated
		{2 * math.Pi, 6144},
	}

	for _, tt := range tests {
		if got := RadiansToRaw(tt.rad); got != tt.want {
			t.Errorf("RadiansToRaw(%v) = %d, want %d", tt.rad, got, tt.want)
		}
	}
}

func TestRawToRadians(t *testing.T) {
	tests := []struct {
		raw  int32
		want float64
	}{
		{2048, 0},
		{3072, math.Pi / 2},
		{1024, -math.Pi / 2},
		{0, -math.Pi},
	}

	for _, tt := range tests {
		if got := RawToRadians(tt.raw); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("RawToRadians(%d) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestUnitRoundTrip(t *testing.T) {
	tick := 2 * math.Pi / TicksPerRevolution
	for _, rad := range []float64{0, 0.1, -0.1, 0.123456, -1.2, math.Pi / 2, -math.Pi / 2, math.Pi, -math.Pi} {
		got := RawToRadians(RadiansToRaw(rad))
		if math.Abs(got-rad) > tick {
			t.Errorf("round trip of %v = %v, more than one tick off", rad, got)
		}
	}
}

func TestRegisterAt(t *testing.T) {
	r, ok := RegisterAt(132)
	if !ok || r != PresentPosition {
		t.Errorf("RegisterAt(132) = %+v, %v", r, ok)
	}
	if _, ok := RegisterAt(1); ok {
		t.Error("RegisterAt(1) found a register")
	}
}
