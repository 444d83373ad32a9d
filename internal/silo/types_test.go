package silo

import (
	"testing"
	"time"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func TestSameValues(t *testing.T) {
	base := Reading{TempC: 21.5, RHPct: 60, Lux: fp(42), MQ2Raw: ip(180)}

	cases := []struct {
		name  string
		other Reading
		want  bool
	}{
		{"identical", Reading{TempC: 21.5, RHPct: 60, Lux: fp(42), MQ2Raw: ip(180)}, true},
		{"different id and timestamp ignored", Reading{ID: "x", Timestamp: time.Now(), TempC: 21.5, RHPct: 60, Lux: fp(42), MQ2Raw: ip(180)}, true},
		{"temp differs", Reading{TempC: 21.6, RHPct: 60, Lux: fp(42), MQ2Raw: ip(180)}, false},
		{"optional value differs", Reading{TempC: 21.5, RHPct: 60, Lux: fp(43), MQ2Raw: ip(180)}, false},
		{"nil vs value", Reading{TempC: 21.5, RHPct: 60, MQ2Raw: ip(180)}, false},
		{"flag appears", Reading{TempC: 21.5, RHPct: 60, Lux: fp(42), MQ2Raw: ip(180), LuminosityAlert: ip(0)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := base.SameValues(&tc.other); got != tc.want {
				t.Fatalf("SameValues = %v, want %v", got, tc.want)
			}
		})
	}

	if base.SameValues(nil) {
		t.Fatal("SameValues(nil) must be false")
	}
}

func TestBoundsCheck(t *testing.T) {
	b := &Bounds{SoftMin: fp(10), SoftMax: fp(30), HardMin: fp(0), HardMax: fp(40)}

	cases := []struct {
		v    float64
		want Severity
	}{
		{20, ""},
		{10, ""},
		{5, SeverityWarning},
		{35, SeverityWarning},
		{-1, SeverityCritical},
		{45, SeverityCritical},
	}
	for _, tc := range cases {
		if got := b.Check(tc.v); got != tc.want {
			t.Errorf("Check(%g) = %q, want %q", tc.v, got, tc.want)
		}
	}

	var none *Bounds
	if got := none.Check(99); got != "" {
		t.Errorf("nil bounds must never flag, got %q", got)
	}
	partial := &Bounds{HardMax: fp(40)}
	if got := partial.Check(50); got != SeverityCritical {
		t.Errorf("partial bounds Check(50) = %q, want critical", got)
	}
}
